package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, h *Handler, path string) (*httptest.ResponseRecorder, *Status) {
	t.Helper()

	engine := gin.New()
	engine.GET("/livez", h.Liveness)
	engine.GET("/readyz", h.Readiness)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

	var status Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	return w, &status
}

func TestLiveness(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	now := start
	h := NewHandler(WithClock(func() time.Time { return now }))
	h.AddCheck(CheckFunc("broken", func(context.Context) error { return errors.New("down") }))
	now = start.Add(90 * time.Second)

	w, status := serve(t, h, "/livez")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, StatusOK, status.Status)
	assert.Equal(t, "1m30s", status.Uptime)
	assert.Empty(t, status.Checks)
}

func TestReadiness(t *testing.T) {
	t.Parallel()

	h := NewHandler()
	h.AddCheck(CheckFunc("redis", func(context.Context) error { return nil }))

	w, status := serve(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, StatusOK, status.Status)
	require.Contains(t, status.Checks, "redis")
	assert.Equal(t, StatusOK, status.Checks["redis"].Status)

	h.AddCheck(CheckFunc("audit", func(context.Context) error { return errors.New("sink closed") }))

	w, status = serve(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, StatusError, status.Status)
	assert.Equal(t, StatusOK, status.Checks["redis"].Status)
	assert.Equal(t, "sink closed", status.Checks["audit"].Error)
	assert.Equal(t, []string{"audit", "redis"}, h.Names())
}

func TestReadiness_Timeout(t *testing.T) {
	t.Parallel()

	h := NewHandler(WithTimeout(20 * time.Millisecond))
	h.AddCheck(CheckFunc("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	w, status := serve(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"].Error)
}

func TestReadiness_NoChecks(t *testing.T) {
	t.Parallel()

	status := NewHandler().Run(context.Background())
	assert.Equal(t, StatusOK, status.Status)
	assert.Empty(t, status.Checks)
}
