// Package job holds the durable record of asynchronous render work and the
// single-worker scheduler that drives it to a terminal state.
package job

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// maxErrorLen bounds the error message persisted with a failed job.
const maxErrorLen = 500

// Spec is the input payload of a longform render job.
type Spec struct {
	AudioURLs        []string `json:"audio_urls"`
	BackgroundSource string   `json:"background_source"`
	BackgroundURLs   []string `json:"background_urls"`
	Quality          string   `json:"quality"`
}

// Result is written exactly once, on the processing→completed transition.
type Result struct {
	URL            string  `json:"result_url"`
	Duration       float64 `json:"duration_seconds"`
	ProcessingTime float64 `json:"processing_time"`
}

type Job struct {
	ID        string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
	Spec      Spec
	Error     string
	Result    *Result
}

// truncateError bounds msg to maxErrorLen runes worth of bytes.
func truncateError(msg string) string {
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}
