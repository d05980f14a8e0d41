// Package storage publishes finished output files to the object store that
// hosts them for download.
package storage

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Publisher uploads a local file under a key and returns its public URL.
type Publisher interface {
	Publish(ctx context.Context, localPath, key string) (string, error)
}

// BucketPublisher uploads to an S3-compatible bucket over plain HTTP PUT with
// a bearer access key. The public URL is built from a separate base so the
// bucket can sit behind a CDN.
type BucketPublisher struct {
	endpoint   string
	bucket     string
	accessKey  string
	publicBase string
	client     *http.Client
	logger     *zap.Logger
}

func NewBucketPublisher(endpoint, bucket, accessKey, publicBase string, logger *zap.Logger) *BucketPublisher {
	if publicBase == "" {
		publicBase = strings.TrimSuffix(endpoint, "/") + "/" + bucket
	}
	return &BucketPublisher{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		bucket:     bucket,
		accessKey:  accessKey,
		publicBase: strings.TrimSuffix(publicBase, "/"),
		client:     http.DefaultClient,
		logger:     logger,
	}
}

func (p *BucketPublisher) Publish(ctx context.Context, localPath, key string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", localPath, err)
	}

	url := fmt.Sprintf("%s/%s/%s", p.endpoint, p.bucket, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, file)
	if err != nil {
		return "", fmt.Errorf("building upload request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "video/mp4")
	if p.accessKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.accessKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("uploading %s: unexpected status %s", key, resp.Status)
	}

	publicURL := p.publicBase + "/" + key
	p.logger.Info("published output",
		zap.String("key", key),
		zap.Int64("bytes", info.Size()),
		zap.String("url", publicURL))
	return publicURL, nil
}
