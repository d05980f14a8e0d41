package pipeline

import "errors"

// Failure taxonomy. Stages wrap these sentinels so the transport layer can
// map them to status codes without inspecting stage internals.
var (
	// ErrValidation: malformed input caught before any I/O.
	ErrValidation = errors.New("validation error")

	// ErrSource: a source URL could not be fetched.
	ErrSource = errors.New("source error")

	// ErrUnsupportedMedia: a fetched file is corrupt, unsupported, or has no
	// determinable duration.
	ErrUnsupportedMedia = errors.New("unsupported media")

	// ErrDurationExceeded: the requested output would exceed the 2 hour cap.
	ErrDurationExceeded = errors.New("duration cap exceeded")

	// ErrTranscode: the transcoding engine failed or timed out.
	ErrTranscode = errors.New("transcode error")

	// ErrPublish: the finished output could not be uploaded.
	ErrPublish = errors.New("publish error")
)
