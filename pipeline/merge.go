// Package pipeline orchestrates fetch, probe, graph construction, transcode
// and publish for both the synchronous merge path and asynchronous longform
// composition.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"clipforge/ffmpeg"
	"clipforge/storage"
)

// Fetcher retrieves a remote URL to a local path.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) error
}

// Prober extracts duration and stream layout from a local file.
type Prober interface {
	Probe(ctx context.Context, path string) (ffmpeg.ProbeResult, error)
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// Executor runs a built transcoding command under a stage timeout.
type Executor interface {
	Run(ctx context.Context, cmd ffmpeg.Command, timeout time.Duration) error
}

// MergeRequest is a validated synchronous merge specification.
type MergeRequest struct {
	VideoURLs   []string
	Quality     string
	AspectRatio string
}

// MergeResult is the synchronous merge response payload.
type MergeResult struct {
	URL            string
	Duration       float64
	ProcessingTime float64
	ClipsMerged    int
}

// Merger executes the synchronous merge pipeline sequentially within the
// caller's context: fetch xN, probe xN, cap check, build, transcode, publish.
type Merger struct {
	fetcher      Fetcher
	prober       Prober
	executor     Executor
	publisher    storage.Publisher
	encoderArgs  []string
	mergeTimeout time.Duration
	logger       *zap.Logger
}

func NewMerger(fetcher Fetcher, prober Prober, executor Executor, publisher storage.Publisher, encoderArgs []string, mergeTimeout time.Duration, logger *zap.Logger) *Merger {
	return &Merger{
		fetcher:      fetcher,
		prober:       prober,
		executor:     executor,
		publisher:    publisher,
		encoderArgs:  encoderArgs,
		mergeTimeout: mergeTimeout,
		logger:       logger,
	}
}

func (m *Merger) Merge(ctx context.Context, req MergeRequest) (*MergeResult, error) {
	start := time.Now()

	dims, err := ffmpeg.LookupDimensions(req.Quality, req.AspectRatio)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	tempDir, err := os.MkdirTemp("", "clipforge_merge_")
	if err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	clips := make([]ffmpeg.Clip, len(req.VideoURLs))
	for i, url := range req.VideoURLs {
		dest := filepath.Join(tempDir, fmt.Sprintf("clip_%d.mp4", i))
		if err := m.fetcher.Fetch(ctx, url, dest); err != nil {
			return nil, fmt.Errorf("%w: failed to download video from URL: %s", ErrSource, truncateURL(url))
		}
		clips[i].Path = dest
	}

	for i := range clips {
		res, err := m.prober.Probe(ctx, clips[i].Path)
		if err != nil {
			var invalid *ffmpeg.ErrInvalidMedia
			if errors.As(err, &invalid) {
				return nil, fmt.Errorf("%w: video at index %d is not a supported format", ErrUnsupportedMedia, i)
			}
			return nil, fmt.Errorf("probing video at index %d: %w", i, err)
		}
		clips[i].Duration = res.Duration
		clips[i].HasAudio = res.HasAudio
	}

	var total float64
	for _, c := range clips {
		total += c.Duration
	}
	if total > ffmpeg.MaxDurationSeconds {
		return nil, fmt.Errorf("%w: total duration (%ds) exceeds maximum of %ds",
			ErrDurationExceeded, int(total), int(ffmpeg.MaxDurationSeconds))
	}

	outputPath := filepath.Join(tempDir, "merged.mp4")
	cmd, err := ffmpeg.BuildMergeGraph(clips, dims, m.encoderArgs, outputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if err := m.executor.Run(ctx, cmd, m.mergeTimeout); err != nil {
		m.logger.Error("merge transcode failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrTranscode, err)
	}

	key := fmt.Sprintf("merged-%s/merged.mp4", uuid.New().String()[:12])
	url, err := m.publisher.Publish(ctx, outputPath, key)
	if err != nil {
		m.logger.Error("merge upload failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPublish, err)
	}

	return &MergeResult{
		URL:            url,
		Duration:       round2(cmd.Duration),
		ProcessingTime: round2(time.Since(start).Seconds()),
		ClipsMerged:    len(clips),
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func truncateURL(url string) string {
	if len(url) > 80 {
		return url[:80] + "..."
	}
	return url
}
