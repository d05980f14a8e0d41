package api

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lithammer/shortuuid/v4"
	"go.uber.org/zap"

	"clipforge/job"
	"clipforge/pipeline"
)

var urlPattern = regexp.MustCompile(`(?i)^https?://\S+$`)

// Merger is the synchronous merge pipeline.
type Merger interface {
	Merge(ctx context.Context, req pipeline.MergeRequest) (*pipeline.MergeResult, error)
}

// JobStore is the slice of the job store the API needs: it creates jobs and
// reads them back; only the worker mutates them.
type JobStore interface {
	Create(ctx context.Context, j *job.Job) error
	Get(ctx context.Context, id string) (*job.Job, error)
}

type Handler struct {
	merger Merger
	store  JobStore
	logger *zap.Logger
}

func NewHandler(merger Merger, store JobStore, logger *zap.Logger) *Handler {
	return &Handler{merger: merger, store: store, logger: logger}
}

type MergeRequest struct {
	VideoURLs   []string `json:"video_urls"`
	Quality     string   `json:"quality"`
	AspectRatio string   `json:"aspect_ratio"`
}

type MergeResponse struct {
	Success         bool    `json:"success"`
	MergedURL       string  `json:"merged_url"`
	DurationSeconds float64 `json:"duration_seconds"`
	ProcessingTime  float64 `json:"processing_time"`
	ClipsMerged     int     `json:"clips_merged"`
}

type RenderRequest struct {
	AudioURLs        []string `json:"audio_urls"`
	BackgroundSource string   `json:"background_source"`
	BackgroundURLs   []string `json:"background_urls"`
	Quality          string   `json:"quality"`
}

type RenderResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id"`
	Message   string `json:"message"`
}

type StatusResponse struct {
	RequestID    string `json:"request_id"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type ResultResponse struct {
	RequestID       string  `json:"request_id"`
	Status          string  `json:"status"`
	ResultURL       string  `json:"result_url"`
	DurationSeconds float64 `json:"duration_seconds"`
	ProcessingTime  float64 `json:"processing_time"`
}

func validURLs(urls []string) bool {
	for _, u := range urls {
		if !urlPattern.MatchString(strings.TrimSpace(u)) {
			return false
		}
	}
	return true
}

func trimURLs(urls []string) []string {
	out := make([]string, len(urls))
	for i, u := range urls {
		out[i] = strings.TrimSpace(u)
	}
	return out
}

// handleMerge runs the synchronous merge path inside the request context.
func (h *Handler) handleMerge(c *gin.Context) {
	var req MergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if len(req.VideoURLs) < 2 || len(req.VideoURLs) > 10 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Provide between 2 and 10 video URLs"})
		return
	}
	if !validURLs(req.VideoURLs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "All video URLs must be valid http(s) URLs"})
		return
	}
	if req.Quality == "" {
		req.Quality = "1080"
	}
	if req.AspectRatio == "" {
		req.AspectRatio = "16:9"
	}

	res, err := h.merger.Merge(c.Request.Context(), pipeline.MergeRequest{
		VideoURLs:   trimURLs(req.VideoURLs),
		Quality:     req.Quality,
		AspectRatio: req.AspectRatio,
	})
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, MergeResponse{
		Success:         true,
		MergedURL:       res.URL,
		DurationSeconds: res.Duration,
		ProcessingTime:  res.ProcessingTime,
		ClipsMerged:     res.ClipsMerged,
	})
}

// handleRender queues a longform render job and returns its id immediately.
func (h *Handler) handleRender(c *gin.Context) {
	var req RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if len(req.AudioURLs) < 1 || len(req.AudioURLs) > 30 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Provide between 1 and 30 audio URLs"})
		return
	}
	switch req.BackgroundSource {
	case "images":
		if len(req.BackgroundURLs) < 1 || len(req.BackgroundURLs) > 15 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "For images: provide between 1 and 15 URLs"})
			return
		}
	case "videos":
		if len(req.BackgroundURLs) < 1 || len(req.BackgroundURLs) > 5 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "For videos: provide between 1 and 5 URLs"})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "background_source must be 'images' or 'videos'"})
		return
	}
	if !validURLs(req.AudioURLs) || !validURLs(req.BackgroundURLs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "All URLs must be valid http(s) URLs"})
		return
	}
	if req.Quality == "" {
		req.Quality = "1080"
	}
	if req.Quality != "720" && req.Quality != "1080" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quality must be '720' or '1080'"})
		return
	}

	j := &job.Job{
		ID: "req_" + shortuuid.New(),
		Spec: job.Spec{
			AudioURLs:        trimURLs(req.AudioURLs),
			BackgroundSource: req.BackgroundSource,
			BackgroundURLs:   trimURLs(req.BackgroundURLs),
			Quality:          req.Quality,
		},
	}
	if err := h.store.Create(c.Request.Context(), j); err != nil {
		h.logger.Error("creating render job failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue render job"})
		return
	}

	c.JSON(http.StatusOK, RenderResponse{
		Success:   true,
		RequestID: j.ID,
		Message:   "Render job queued. Use the request_id to check status.",
	})
}

// handleStatus reports a job's current lifecycle state.
func (h *Handler) handleStatus(c *gin.Context) {
	j, ok := h.lookupJob(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, StatusResponse{
		RequestID:    j.ID,
		Status:       string(j.Status),
		CreatedAt:    j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    j.UpdatedAt.Format(time.RFC3339),
		ErrorMessage: j.Error,
	})
}

// handleResult returns the result payload for completed jobs only; any other
// state tells the caller whether to keep polling.
func (h *Handler) handleResult(c *gin.Context) {
	j, ok := h.lookupJob(c)
	if !ok {
		return
	}

	if j.Status != job.StatusCompleted || j.Result == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Job is not completed. Current status: " + string(j.Status),
		})
		return
	}

	c.JSON(http.StatusOK, ResultResponse{
		RequestID:       j.ID,
		Status:          string(j.Status),
		ResultURL:       j.Result.URL,
		DurationSeconds: j.Result.Duration,
		ProcessingTime:  j.Result.ProcessingTime,
	})
}

func (h *Handler) lookupJob(c *gin.Context) (*job.Job, bool) {
	j, err := h.store.Get(c.Request.Context(), c.Param("requestId"))
	if errors.Is(err, job.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return nil, false
	}
	if err != nil {
		h.logger.Error("reading job failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read job"})
		return nil, false
	}
	return j, true
}

// renderError maps pipeline failures onto API status codes: source errors are
// unprocessable, unsupported media and cap violations are bad requests, and
// processing or publishing trouble is a server error with engine output kept
// out of the response.
func (h *Handler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pipeline.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": userMessage(err, pipeline.ErrValidation)})
	case errors.Is(err, pipeline.ErrSource):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": userMessage(err, pipeline.ErrSource)})
	case errors.Is(err, pipeline.ErrUnsupportedMedia):
		c.JSON(http.StatusBadRequest, gin.H{"error": userMessage(err, pipeline.ErrUnsupportedMedia)})
	case errors.Is(err, pipeline.ErrDurationExceeded):
		c.JSON(http.StatusBadRequest, gin.H{"error": userMessage(err, pipeline.ErrDurationExceeded)})
	case errors.Is(err, pipeline.ErrPublish):
		h.logger.Error("publish failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to upload merged video"})
	default:
		h.logger.Error("merge failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Video processing failed"})
	}
}

// userMessage strips the taxonomy sentinel prefix from a wrapped error,
// leaving the human-readable detail.
func userMessage(err, sentinel error) string {
	return strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
}

func (h *Handler) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Video Merge API",
		"health":  "/health",
		"endpoints": gin.H{
			"merge":           "POST /api/v1/merge (requires X-API-Key)",
			"longform_render": "POST /api/v1/longform/render (requires X-API-Key)",
			"longform_status": "GET /api/v1/longform/status/:requestId (requires X-API-Key)",
			"longform_result": "GET /api/v1/longform/result/:requestId (requires X-API-Key)",
		},
	})
}
