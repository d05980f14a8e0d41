package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"clipforge/config"
	"clipforge/job"
	"clipforge/pipeline"
)

type mockMerger struct {
	result  *pipeline.MergeResult
	err     error
	lastReq pipeline.MergeRequest
}

func (m *mockMerger) Merge(ctx context.Context, req pipeline.MergeRequest) (*pipeline.MergeResult, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

type mockStore struct {
	jobs       map[string]*job.Job
	createFail error
}

func newMockStore() *mockStore {
	return &mockStore{jobs: make(map[string]*job.Job)}
}

func (m *mockStore) Create(ctx context.Context, j *job.Job) error {
	if m.createFail != nil {
		return m.createFail
	}
	j.Status = job.StatusPending
	j.CreatedAt = time.Now().UTC()
	j.UpdatedAt = j.CreatedAt
	m.jobs[j.ID] = j
	return nil
}

func (m *mockStore) Get(ctx context.Context, id string) (*job.Job, error) {
	j, ok := m.jobs[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	return j, nil
}

func setupRouter(merger Merger, store JobStore, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	if cfg == nil {
		cfg = &config.Config{}
	}
	return SetupRouter(merger, store, cfg, zap.NewNop())
}

func doJSON(router *gin.Engine, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	router.ServeHTTP(w, req)
	return w
}

func mergeBody(urlCount int) string {
	urls := make([]string, urlCount)
	for i := range urls {
		urls[i] = fmt.Sprintf(`"https://example.com/clip_%d.mp4"`, i)
	}
	return fmt.Sprintf(`{"video_urls": [%s]}`, joinStrings(urls))
}

func joinStrings(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

func TestHandleMerge_Success(t *testing.T) {
	merger := &mockMerger{result: &pipeline.MergeResult{
		URL:            "https://cdn.example.com/merged.mp4",
		Duration:       29.0,
		ProcessingTime: 12.34,
		ClipsMerged:    3,
	}}
	router := setupRouter(merger, newMockStore(), nil)

	w := doJSON(router, "POST", "/api/v1/merge", mergeBody(3))
	require.Equal(t, http.StatusOK, w.Code)

	var resp MergeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "https://cdn.example.com/merged.mp4", resp.MergedURL)
	assert.InDelta(t, 29.0, resp.DurationSeconds, 1e-9)
	assert.Equal(t, 3, resp.ClipsMerged)

	// Defaults applied when quality/aspect are omitted.
	assert.Equal(t, "1080", merger.lastReq.Quality)
	assert.Equal(t, "16:9", merger.lastReq.AspectRatio)
}

func TestHandleMerge_Validation(t *testing.T) {
	router := setupRouter(&mockMerger{}, newMockStore(), nil)

	cases := []struct {
		name string
		body string
	}{
		{"too few urls", mergeBody(1)},
		{"too many urls", mergeBody(11)},
		{"invalid url", `{"video_urls": ["https://example.com/a.mp4", "not a url"]}`},
		{"malformed json", `{"video_urls": `},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(router, "POST", "/api/v1/merge", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHandleMerge_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: failed to download video from URL: https://x", pipeline.ErrSource), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: video at index 1 is not a supported format", pipeline.ErrUnsupportedMedia), http.StatusBadRequest},
		{fmt.Errorf("%w: total duration (8000s) exceeds maximum of 7200s", pipeline.ErrDurationExceeded), http.StatusBadRequest},
		{fmt.Errorf("%w: ffmpeg failed: exit 1", pipeline.ErrTranscode), http.StatusInternalServerError},
		{fmt.Errorf("%w: storage outage", pipeline.ErrPublish), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		router := setupRouter(&mockMerger{err: tc.err}, newMockStore(), nil)
		w := doJSON(router, "POST", "/api/v1/merge", mergeBody(2))
		assert.Equal(t, tc.status, w.Code, "error: %v", tc.err)

		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp["error"])
		// Engine output never reaches the caller.
		assert.NotContains(t, resp["error"], "exit 1")
	}
}

func renderBody(audio, images int) string {
	audioURLs := make([]string, audio)
	for i := range audioURLs {
		audioURLs[i] = fmt.Sprintf(`"https://example.com/a_%d.mp3"`, i)
	}
	bgURLs := make([]string, images)
	for i := range bgURLs {
		bgURLs[i] = fmt.Sprintf(`"https://example.com/bg_%d.jpg"`, i)
	}
	return fmt.Sprintf(`{"audio_urls": [%s], "background_source": "images", "background_urls": [%s]}`,
		joinStrings(audioURLs), joinStrings(bgURLs))
}

func TestHandleRender_Success(t *testing.T) {
	store := newMockStore()
	router := setupRouter(&mockMerger{}, store, nil)

	w := doJSON(router, "POST", "/api/v1/longform/render", renderBody(2, 3))
	require.Equal(t, http.StatusOK, w.Code)

	var resp RenderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.RequestID)

	created, ok := store.jobs[resp.RequestID]
	require.True(t, ok)
	assert.Equal(t, job.StatusPending, created.Status)
	assert.Equal(t, "1080", created.Spec.Quality)
	assert.Len(t, created.Spec.AudioURLs, 2)
	assert.Len(t, created.Spec.BackgroundURLs, 3)
}

func TestHandleRender_Validation(t *testing.T) {
	router := setupRouter(&mockMerger{}, newMockStore(), nil)

	cases := []struct {
		name string
		body string
	}{
		{"no audio", renderBody(0, 3)},
		{"too many audio", renderBody(31, 3)},
		{"no backgrounds", renderBody(1, 0)},
		{"too many images", renderBody(1, 16)},
		{"bad source", `{"audio_urls": ["https://example.com/a.mp3"], "background_source": "slides", "background_urls": ["https://example.com/b.jpg"]}`},
		{"too many videos", `{"audio_urls": ["https://example.com/a.mp3"], "background_source": "videos", "background_urls": ["https://e.com/1.mp4","https://e.com/2.mp4","https://e.com/3.mp4","https://e.com/4.mp4","https://e.com/5.mp4","https://e.com/6.mp4"]}`},
		{"bad quality", `{"audio_urls": ["https://example.com/a.mp3"], "background_source": "images", "background_urls": ["https://e.com/b.jpg"], "quality": "480"}`},
		{"bad audio url", `{"audio_urls": ["ftp://example.com/a.mp3"], "background_source": "images", "background_urls": ["https://e.com/b.jpg"]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(router, "POST", "/api/v1/longform/render", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHandleStatus(t *testing.T) {
	store := newMockStore()
	router := setupRouter(&mockMerger{}, store, nil)

	now := time.Now().UTC()
	store.jobs["req_1"] = &job.Job{
		ID: "req_1", Status: job.StatusFailed, CreatedAt: now, UpdatedAt: now,
		Error: "transcode blew up",
	}

	w := doJSON(router, "GET", "/api/v1/longform/status/req_1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "req_1", resp.RequestID)
	assert.Equal(t, "failed", resp.Status)
	assert.Equal(t, "transcode blew up", resp.ErrorMessage)
	assert.Equal(t, now.Format(time.RFC3339), resp.CreatedAt)

	w = doJSON(router, "GET", "/api/v1/longform/status/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleResult(t *testing.T) {
	store := newMockStore()
	router := setupRouter(&mockMerger{}, store, nil)

	store.jobs["req_done"] = &job.Job{
		ID: "req_done", Status: job.StatusCompleted,
		Result: &job.Result{URL: "https://cdn.example.com/out.mp4", Duration: 3600, ProcessingTime: 240.5},
	}
	store.jobs["req_pending"] = &job.Job{ID: "req_pending", Status: job.StatusPending}
	store.jobs["req_processing"] = &job.Job{ID: "req_processing", Status: job.StatusProcessing}
	store.jobs["req_failed"] = &job.Job{ID: "req_failed", Status: job.StatusFailed, Error: "boom"}

	w := doJSON(router, "GET", "/api/v1/longform/result/req_done", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ResultResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://cdn.example.com/out.mp4", resp.ResultURL)
	assert.InDelta(t, 3600.0, resp.DurationSeconds, 1e-9)

	// Every non-completed state refuses a result payload and names the
	// current status so the caller knows whether to keep polling.
	for _, id := range []string{"req_pending", "req_processing", "req_failed"} {
		w := doJSON(router, "GET", "/api/v1/longform/result/"+id, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var errResp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
		assert.Contains(t, errResp["error"], string(store.jobs[id].Status))
		assert.NotContains(t, w.Body.String(), "result_url")
	}

	w = doJSON(router, "GET", "/api/v1/longform/result/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.Config{AuthEnable: true, AuthKey: "secret"}
	router := setupRouter(&mockMerger{}, newMockStore(), cfg)

	t.Run("missing key", func(t *testing.T) {
		w := doJSON(router, "GET", "/api/v1/longform/status/req_1", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong key", func(t *testing.T) {
		w := doJSON(router, "GET", "/api/v1/longform/status/req_1", "", "X-API-Key", "nope")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("correct key", func(t *testing.T) {
		w := doJSON(router, "GET", "/api/v1/longform/status/req_1", "", "X-API-Key", "secret")
		assert.Equal(t, http.StatusNotFound, w.Code) // past auth, job simply absent
	})

	t.Run("health bypasses auth", func(t *testing.T) {
		w := doJSON(router, "GET", "/health", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
