package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"clipforge/ffmpeg"
)

// mockFetcher writes a placeholder file for every URL except failURL.
type mockFetcher struct {
	failURL string
	fetched []string
}

func (m *mockFetcher) Fetch(ctx context.Context, url, dest string) error {
	if url == m.failURL {
		return errors.New("connection refused")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(dest, []byte("media"), 0o644); err != nil {
		return err
	}
	m.fetched = append(m.fetched, dest)
	return nil
}

// mockProber resolves probes by base filename.
type mockProber struct {
	results   map[string]ffmpeg.ProbeResult
	durations map[string]float64
	invalid   map[string]bool
}

func (m *mockProber) Probe(ctx context.Context, path string) (ffmpeg.ProbeResult, error) {
	base := filepath.Base(path)
	if m.invalid[base] {
		return ffmpeg.ProbeResult{}, &ffmpeg.ErrInvalidMedia{Reason: "bad file"}
	}
	res, ok := m.results[base]
	if !ok {
		return ffmpeg.ProbeResult{}, fmt.Errorf("unexpected probe of %s", base)
	}
	return res, nil
}

func (m *mockProber) ProbeDuration(ctx context.Context, path string) (float64, error) {
	base := filepath.Base(path)
	if m.invalid[base] {
		return 0, &ffmpeg.ErrInvalidMedia{Reason: "bad file"}
	}
	d, ok := m.durations[base]
	if !ok {
		return 0, fmt.Errorf("unexpected duration probe of %s", base)
	}
	return d, nil
}

// mockExecutor records every command and materializes its output file.
type mockExecutor struct {
	commands []ffmpeg.Command
	failErr  error
}

func (m *mockExecutor) Run(ctx context.Context, cmd ffmpeg.Command, timeout time.Duration) error {
	m.commands = append(m.commands, cmd)
	if m.failErr != nil {
		return m.failErr
	}
	return os.WriteFile(cmd.OutputPath, []byte("encoded"), 0o644)
}

type mockPublisher struct {
	url     string
	failErr error
	keys    []string
}

func (m *mockPublisher) Publish(ctx context.Context, localPath, key string) (string, error) {
	if m.failErr != nil {
		return "", m.failErr
	}
	m.keys = append(m.keys, key)
	return m.url, nil
}

func urls(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://example.com/clip_%d.mp4", i)
	}
	return out
}

func clipProbes(durations ...float64) map[string]ffmpeg.ProbeResult {
	probes := make(map[string]ffmpeg.ProbeResult)
	for i, d := range durations {
		probes[fmt.Sprintf("clip_%d.mp4", i)] = ffmpeg.ProbeResult{Duration: d, HasAudio: true}
	}
	return probes
}

func newTestMerger(fetcher *mockFetcher, prober *mockProber, executor *mockExecutor, publisher *mockPublisher) *Merger {
	return NewMerger(fetcher, prober, executor, publisher,
		[]string{"-c:v", "libx264"}, time.Hour, zap.NewNop())
}

func TestMerge_Success(t *testing.T) {
	fetcher := &mockFetcher{}
	prober := &mockProber{results: clipProbes(10, 8, 12)}
	executor := &mockExecutor{}
	publisher := &mockPublisher{url: "https://cdn.example.com/merged.mp4"}
	m := newTestMerger(fetcher, prober, executor, publisher)

	res, err := m.Merge(context.Background(), MergeRequest{
		VideoURLs:   urls(3),
		Quality:     "1080",
		AspectRatio: "16:9",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example.com/merged.mp4", res.URL)
	assert.InDelta(t, 29.0, res.Duration, 1e-9)
	assert.Equal(t, 3, res.ClipsMerged)
	assert.GreaterOrEqual(t, res.ProcessingTime, 0.0)

	require.Len(t, executor.commands, 1)
	assert.InDelta(t, 29.0, executor.commands[0].Duration, 1e-9)
	require.Len(t, publisher.keys, 1)
	assert.Contains(t, publisher.keys[0], "merged-")
}

func TestMerge_CleansUpTempFiles(t *testing.T) {
	fetcher := &mockFetcher{}
	prober := &mockProber{results: clipProbes(10, 8)}
	m := newTestMerger(fetcher, prober, &mockExecutor{}, &mockPublisher{url: "u"})

	_, err := m.Merge(context.Background(), MergeRequest{
		VideoURLs: urls(2), Quality: "720", AspectRatio: "1:1",
	})
	require.NoError(t, err)

	require.NotEmpty(t, fetcher.fetched)
	assert.NoDirExists(t, filepath.Dir(fetcher.fetched[0]))
}

func TestMerge_UnsupportedDimensions(t *testing.T) {
	m := newTestMerger(&mockFetcher{}, &mockProber{}, &mockExecutor{}, &mockPublisher{})

	_, err := m.Merge(context.Background(), MergeRequest{
		VideoURLs: urls(2), Quality: "480", AspectRatio: "16:9",
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMerge_FetchFailure(t *testing.T) {
	fetcher := &mockFetcher{failURL: "https://example.com/clip_1.mp4"}
	executor := &mockExecutor{}
	m := newTestMerger(fetcher, &mockProber{results: clipProbes(10, 8)}, executor, &mockPublisher{})

	_, err := m.Merge(context.Background(), MergeRequest{
		VideoURLs: urls(2), Quality: "1080", AspectRatio: "16:9",
	})
	assert.ErrorIs(t, err, ErrSource)
	assert.Empty(t, executor.commands)
}

func TestMerge_UnsupportedMedia(t *testing.T) {
	prober := &mockProber{
		results: clipProbes(10, 8),
		invalid: map[string]bool{"clip_1.mp4": true},
	}
	executor := &mockExecutor{}
	m := newTestMerger(&mockFetcher{}, prober, executor, &mockPublisher{})

	_, err := m.Merge(context.Background(), MergeRequest{
		VideoURLs: urls(2), Quality: "1080", AspectRatio: "16:9",
	})
	assert.ErrorIs(t, err, ErrUnsupportedMedia)
	assert.Contains(t, err.Error(), "index 1")
	assert.Empty(t, executor.commands)
}

func TestMerge_DurationCapRejectedBeforeTranscode(t *testing.T) {
	prober := &mockProber{results: clipProbes(3600, 3700)}
	executor := &mockExecutor{}
	m := newTestMerger(&mockFetcher{}, prober, executor, &mockPublisher{})

	_, err := m.Merge(context.Background(), MergeRequest{
		VideoURLs: urls(2), Quality: "1080", AspectRatio: "16:9",
	})
	assert.ErrorIs(t, err, ErrDurationExceeded)
	assert.Empty(t, executor.commands, "no transcode may be attempted past the cap")
}

func TestMerge_TranscodeFailure(t *testing.T) {
	executor := &mockExecutor{failErr: errors.New("ffmpeg failed: exit 1")}
	m := newTestMerger(&mockFetcher{}, &mockProber{results: clipProbes(10, 8)}, executor, &mockPublisher{})

	_, err := m.Merge(context.Background(), MergeRequest{
		VideoURLs: urls(2), Quality: "1080", AspectRatio: "16:9",
	})
	assert.ErrorIs(t, err, ErrTranscode)
}

func TestMerge_PublishFailure(t *testing.T) {
	publisher := &mockPublisher{failErr: errors.New("storage outage")}
	m := newTestMerger(&mockFetcher{}, &mockProber{results: clipProbes(10, 8)}, &mockExecutor{}, publisher)

	_, err := m.Merge(context.Background(), MergeRequest{
		VideoURLs: urls(2), Quality: "1080", AspectRatio: "16:9",
	})
	assert.ErrorIs(t, err, ErrPublish)
}
