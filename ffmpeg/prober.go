package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidMedia marks probe failures caused by the file itself: corrupt,
// unsupported, or missing a determinable duration. Distinct from transient
// execution trouble so callers can reject bad sources early.
type ErrInvalidMedia struct {
	Reason string
}

func (e *ErrInvalidMedia) Error() string {
	return "invalid media: " + e.Reason
}

// ProbeResult is what the prober extracts from a single file.
type ProbeResult struct {
	Duration float64
	HasAudio bool
}

// Prober wraps the external ffprobe binary.
type Prober struct {
	bin     string
	timeout time.Duration
	logger  *zap.Logger
}

func NewProber(bin string, timeout time.Duration, logger *zap.Logger) *Prober {
	return &Prober{bin: bin, timeout: timeout, logger: logger}
}

// Probe returns the duration and audio-stream presence of a local media file.
func (p *Prober) Probe(ctx context.Context, path string) (ProbeResult, error) {
	out, err := p.run(ctx, path,
		"-v", "error",
		"-show_entries", "format=duration:stream=codec_type",
		"-of", "default=noprint_wrappers=1",
	)
	if err != nil {
		return ProbeResult{}, err
	}

	res, ok := parseProbeOutput(out)
	if !ok {
		// Some containers report duration only at format level with nokey
		// output. Retry the narrow form before giving up.
		dur, derr := p.ProbeDuration(ctx, path)
		if derr != nil {
			return ProbeResult{}, derr
		}
		res.Duration = dur
	}
	return res, nil
}

// ProbeDuration returns only the container duration of a local media file.
func (p *Prober) ProbeDuration(ctx context.Context, path string) (float64, error) {
	out, err := p.run(ctx, path,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
	)
	if err != nil {
		return 0, err
	}
	return parseDuration(out)
}

func (p *Prober) run(ctx context.Context, path string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args = append(args, path)
	cmd := exec.CommandContext(ctx, p.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		p.logger.Warn("ffprobe failed", zap.String("path", path), zap.String("detail", tail(detail, 500)))
		return "", &ErrInvalidMedia{Reason: fmt.Sprintf("ffprobe failed: %s", tail(detail, 500))}
	}
	return stdout.String(), nil
}

// parseProbeOutput scans key=value probe output for the format duration and
// any audio stream. ok is false when no usable duration was found.
func parseProbeOutput(out string) (res ProbeResult, ok bool) {
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if v, found := strings.CutPrefix(line, "duration="); found {
			if d, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				res.Duration = d
				ok = true
			}
		}
		if line == "codec_type=audio" {
			res.HasAudio = true
		}
	}
	return res, ok
}

// parseDuration interprets nokey probe output. ffprobe reports "N/A" or an
// empty string for streams it cannot time; both are validation failures.
func parseDuration(out string) (float64, error) {
	raw := strings.TrimSpace(out)
	if raw == "" || strings.EqualFold(raw, "N/A") {
		return 0, &ErrInvalidMedia{Reason: "could not determine media duration"}
	}
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &ErrInvalidMedia{Reason: fmt.Sprintf("could not parse media duration from %q", raw)}
	}
	return d, nil
}
