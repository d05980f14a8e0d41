// Package media retrieves remote source files into request-scoped storage.
package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Fetcher streams remote media to local files without buffering whole bodies
// in memory. Every download is bounded by a per-file timeout and a size cap.
type Fetcher struct {
	client  *http.Client
	maxSize int64
	logger  *zap.Logger
}

func NewFetcher(timeout time.Duration, maxSize int64, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
		maxSize: maxSize,
		logger:  logger,
	}
}

// Fetch downloads url to dest, creating parent directories as needed.
// Non-2xx responses, transport failures, and oversized bodies all fail the
// fetch; the partial file is removed on every error path.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("fetching %s: unexpected status %s", url, resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}

	limited := &io.LimitedReader{R: resp.Body, N: f.maxSize + 1}
	written, err := io.Copy(out, limited)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	if written > f.maxSize {
		os.Remove(dest)
		return fmt.Errorf("fetching %s: body exceeds size limit of %d bytes", url, f.maxSize)
	}

	f.logger.Debug("fetched media", zap.String("url", url), zap.Int64("bytes", written))
	return nil
}
