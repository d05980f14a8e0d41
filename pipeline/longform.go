package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"clipforge/ffmpeg"
	"clipforge/job"
	"clipforge/storage"
)

// Composer runs the longform pipeline for one claimed job: fetch audio,
// concatenate, probe, fetch backgrounds, build the slideshow or video-loop
// graph, transcode, publish. Longform output is always 16:9; only quality
// varies.
type Composer struct {
	fetcher         Fetcher
	prober          Prober
	executor        Executor
	publisher       storage.Publisher
	encoderArgs     []string
	concatTimeout   time.Duration
	longformTimeout time.Duration
	logger          *zap.Logger
}

func NewComposer(fetcher Fetcher, prober Prober, executor Executor, publisher storage.Publisher, encoderArgs []string, concatTimeout, longformTimeout time.Duration, logger *zap.Logger) *Composer {
	return &Composer{
		fetcher:         fetcher,
		prober:          prober,
		executor:        executor,
		publisher:       publisher,
		encoderArgs:     encoderArgs,
		concatTimeout:   concatTimeout,
		longformTimeout: longformTimeout,
		logger:          logger,
	}
}

func (c *Composer) Compose(ctx context.Context, j *job.Job) (*job.Result, error) {
	tempDir, err := os.MkdirTemp("", "clipforge_longform_")
	if err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	audioPath, audioDuration, err := c.prepareAudio(ctx, j.Spec.AudioURLs, tempDir)
	if err != nil {
		return nil, err
	}

	// The builders truncate output to this same bound; capping here keeps the
	// per-image split computed from the capped length.
	if audioDuration > ffmpeg.MaxDurationSeconds {
		audioDuration = ffmpeg.MaxDurationSeconds
	}

	dims, err := ffmpeg.LookupDimensions(j.Spec.Quality, "16:9")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	outputPath := filepath.Join(tempDir, "longform_output.mp4")
	var cmd ffmpeg.Command
	switch j.Spec.BackgroundSource {
	case "images":
		paths, err := c.fetchBackgrounds(ctx, j.Spec.BackgroundURLs, tempDir, "bg_%d.jpg")
		if err != nil {
			return nil, err
		}
		cmd, err = ffmpeg.BuildSlideshowGraph(paths, audioPath, dims, audioDuration, c.encoderArgs, outputPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	case "videos":
		paths, err := c.fetchBackgrounds(ctx, j.Spec.BackgroundURLs, tempDir, "bg_video_%d.mp4")
		if err != nil {
			return nil, err
		}
		videos := make([]ffmpeg.Clip, len(paths))
		for i, p := range paths {
			dur, err := c.prober.ProbeDuration(ctx, p)
			if err != nil {
				var invalid *ffmpeg.ErrInvalidMedia
				if errors.As(err, &invalid) {
					return nil, fmt.Errorf("%w: background video at index %d is not a supported format", ErrUnsupportedMedia, i)
				}
				return nil, fmt.Errorf("probing background video at index %d: %w", i, err)
			}
			videos[i] = ffmpeg.Clip{Path: p, Duration: dur}
		}
		cmd, err = ffmpeg.BuildVideoLoopGraph(videos, audioPath, dims, audioDuration, c.encoderArgs, outputPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown background source %q", ErrValidation, j.Spec.BackgroundSource)
	}

	if err := c.executor.Run(ctx, cmd, c.longformTimeout); err != nil {
		c.logger.Error("longform transcode failed", zap.String("job_id", j.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrTranscode, err)
	}

	key := fmt.Sprintf("longform-%s/longform_output.mp4", keyPrefix(j.ID))
	url, err := c.publisher.Publish(ctx, outputPath, key)
	if err != nil {
		c.logger.Error("longform upload failed", zap.String("job_id", j.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPublish, err)
	}

	return &job.Result{URL: url, Duration: round2(cmd.Duration)}, nil
}

// prepareAudio fetches every audio source, joins them losslessly with the
// concat demuxer, and probes the combined file for the authoritative total
// duration.
func (c *Composer) prepareAudio(ctx context.Context, urls []string, tempDir string) (string, float64, error) {
	paths := make([]string, len(urls))
	for i, url := range urls {
		dest := filepath.Join(tempDir, fmt.Sprintf("audio_%d.mp3", i))
		if err := c.fetcher.Fetch(ctx, url, dest); err != nil {
			return "", 0, fmt.Errorf("%w: failed to download audio from URL: %s", ErrSource, truncateURL(url))
		}
		paths[i] = dest
	}

	listPath := filepath.Join(tempDir, "audio_list.txt")
	var list strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&list, "file '%s'\n", p)
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return "", 0, fmt.Errorf("writing concat list: %w", err)
	}

	combined := filepath.Join(tempDir, "combined_audio.mp3")
	if err := c.executor.Run(ctx, ffmpeg.BuildAudioConcat(listPath, combined), c.concatTimeout); err != nil {
		return "", 0, fmt.Errorf("%w: audio concatenation failed: %v", ErrTranscode, err)
	}

	duration, err := c.prober.ProbeDuration(ctx, combined)
	if err != nil {
		var invalid *ffmpeg.ErrInvalidMedia
		if errors.As(err, &invalid) {
			return "", 0, fmt.Errorf("%w: combined audio has no determinable duration", ErrUnsupportedMedia)
		}
		return "", 0, fmt.Errorf("probing combined audio: %w", err)
	}
	return combined, duration, nil
}

func (c *Composer) fetchBackgrounds(ctx context.Context, urls []string, tempDir, pattern string) ([]string, error) {
	paths := make([]string, len(urls))
	for i, url := range urls {
		dest := filepath.Join(tempDir, fmt.Sprintf(pattern, i))
		if err := c.fetcher.Fetch(ctx, url, dest); err != nil {
			return nil, fmt.Errorf("%w: failed to download background from URL: %s", ErrSource, truncateURL(url))
		}
		paths[i] = dest
	}
	return paths, nil
}

func keyPrefix(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
