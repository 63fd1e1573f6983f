package http_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vectra/internal/config"
	httptransport "vectra/internal/http"
	"vectra/internal/infra"
	"vectra/internal/modules/feedback"
	"vectra/internal/modules/location"
)

type notFound struct{}

func (notFound) Resolve(context.Context, string) (location.Resolution, error) {
	return location.Resolution{}, location.ErrNotFound
}

type accept struct{}

func (accept) Submit(feedback.Feedback) error { return nil }

func newHandler() http.Handler {
	gin.SetMode(gin.TestMode)
	return httptransport.NewServer(httptransport.ServerDeps{
		Location: notFound{},
		Feedback: accept{},
		Env:      "test",
		Logger:   quietLogger(),
	}).Routes()
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRoutes_Health(t *testing.T) {
	w := get(newHandler(), "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","env":"test"}`, w.Body.String())
}

func TestRoutes_MountedTwice(t *testing.T) {
	h := newHandler()
	for _, p := range []string{"/resolve/dr5ru7v", "/api/v1/resolve/dr5ru7v"} {
		w := get(h, p)
		assert.Equal(t, http.StatusNotFound, w.Code, p)
		assert.JSONEq(t, `{"error":"location not resolved yet"}`, w.Body.String())
	}
	for _, p := range []string{"/feedback", "/api/v1/feedback"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, p, strings.NewReader(`{"address_id":"dr5ru7v","driver_id":"d"}`))
		req.Header.Set("Content-Type", "application/json")
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusAccepted, w.Code, p)
	}
}

func TestRoutes_Metrics(t *testing.T) {
	h := newHandler()
	get(h, "/resolve/dr5ru7v")
	w := get(h, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "vectra_http_requests_total")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func feedbackCfg() config.FeedbackConfig {
	return config.FeedbackConfig{Workers: 1, QueueSize: 16}
}

type driverTokens map[string]string

func (d driverTokens) VerifyIDToken(_ context.Context, raw string) (*infra.FirebaseToken, error) {
	uid, ok := d[raw]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return &infra.FirebaseToken{UID: uid}, nil
}

type recordingSubmitter struct {
	mu  sync.Mutex
	got []feedback.Feedback
}

func (r *recordingSubmitter) Submit(f feedback.Feedback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, f)
	return nil
}

func TestRoutes_AuthenticatedFeedback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sub := &recordingSubmitter{}
	h := httptransport.NewServer(httptransport.ServerDeps{
		Location: notFound{},
		Feedback: sub,
		Verifier: driverTokens{"tok-7": "drv-7"},
		Env:      "test",
		Logger:   quietLogger(),
	}).Routes()

	post := func(path, token, driver string) int {
		body := `{"address_id":"dr5ru7v","driver_id":"` + driver + `","is_np_ok":true,"is_ep_ok":true}`
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	for _, p := range []string{"/feedback", "/api/v1/feedback"} {
		assert.Equal(t, http.StatusUnauthorized, post(p, "", "drv-7"), p)
		assert.Equal(t, http.StatusUnauthorized, post(p, "stolen", "drv-7"), p)
		assert.Equal(t, http.StatusForbidden, post(p, "tok-7", "drv-8"), p)
		assert.Equal(t, http.StatusAccepted, post(p, "tok-7", "drv-7"), p)
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	require.Len(t, sub.got, 2, "only the matching driver's feedback is queued")
	for _, f := range sub.got {
		assert.Equal(t, "drv-7", f.DriverID)
	}

	// resolve stays open when feedback is authenticated
	assert.Equal(t, http.StatusNotFound, get(h, "/resolve/dr5ru7v").Code)
}
