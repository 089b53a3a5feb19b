package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vyrodovalexey/rosterguard/internal/audit"
	"github.com/vyrodovalexey/rosterguard/internal/authz"
	"github.com/vyrodovalexey/rosterguard/internal/config"
	"github.com/vyrodovalexey/rosterguard/internal/guard"
	"github.com/vyrodovalexey/rosterguard/internal/observability"
	"github.com/vyrodovalexey/rosterguard/internal/ratelimit"
	"github.com/vyrodovalexey/rosterguard/internal/role"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newTestServer(t *testing.T, mutate func(*config.Config), opts ...Option) *Server {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Tenants = []config.TenantConfig{{
		ID: "t1",
		Assignments: []role.AssignRequest{
			{UserID: "u1", RoleID: role.RoleManager},
			{UserID: "boss", RoleID: role.RoleOwner},
		},
	}}
	if mutate != nil {
		mutate(cfg)
	}

	clock := func() time.Time { return testNow }
	reg := observability.NewRegistry()
	svc, err := guard.New(context.Background(), cfg,
		guard.WithRegisterer(reg.Registerer()),
		guard.WithClock(clock),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	opts = append([]Option{WithMetricsHandler(reg.Handler()), WithClock(clock)}, opts...)
	return NewServer(svc, opts...)
}

func do(t *testing.T, s *Server, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	w := do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/livez", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/readyz", nil).Code)
}

func TestAuthorize(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)

	w := do(t, s, http.MethodPost, "/v1/authorize", authorizeRequest{
		UserID: "u1", TenantID: "t1", Permission: "schedules:create",
	})
	require.Equal(t, http.StatusOK, w.Code)
	d := decode[authz.Decision](t, w)
	assert.True(t, d.Allowed)
	assert.Equal(t, audit.ResultSuccess, d.Result)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	w = do(t, s, http.MethodPost, "/v1/authorize", authorizeRequest{
		UserID: "u1", TenantID: "t1", Permission: "employees:delete",
	})
	require.Equal(t, http.StatusOK, w.Code)
	d = decode[authz.Decision](t, w)
	assert.False(t, d.Allowed)
	assert.Equal(t, audit.ResultBlocked, d.Result)

	w = do(t, s, http.MethodPost, "/v1/authorize", map[string]string{"userId": "u1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/v1/audit?userId=u1&result=blocked", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[struct {
		Entries []audit.Entry `json:"entries"`
	}](t, w)
	require.Len(t, entries.Entries, 1)
	assert.Equal(t, "employees:delete", entries.Entries[0].Action)
	assert.NotEmpty(t, entries.Entries[0].IPAddress)
}

func TestAuditQueryValidation(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/v1/audit?since=yesterday", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/v1/audit?limit=-1", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/v1/audit?since=2026-03-01T00:00:00Z&limit=5", nil).Code)
}

func TestRateLimitEndpoints(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	body := rateLimitRequest{
		Resource:   "export",
		Identifier: "u1",
		Limit:      &limitDTO{Requests: 1, WindowSeconds: 60},
	}

	w := do(t, s, http.MethodPost, "/v1/ratelimit/check", body)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[ratelimit.Result](t, w)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.True(t, testNow.Add(time.Minute).Equal(res.ResetAt), res.ResetAt)

	w = do(t, s, http.MethodPost, "/v1/ratelimit/check", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[ratelimit.Result](t, w).Allowed)

	w = do(t, s, http.MethodGet, "/v1/ratelimit/status?resource=password_reset&identifier=nobody", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[ratelimit.Result](t, w)
	assert.Equal(t, 3, status.Remaining)

	w = do(t, s, http.MethodDelete, "/v1/ratelimit?resource=export&identifier=u1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	body.Limit = &limitDTO{Requests: 0, WindowSeconds: 60}
	w = do(t, s, http.MethodPost, "/v1/ratelimit/check", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/v1/ratelimit/status?resource=export", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.Limits = map[string]ratelimit.Limit{
			ratelimit.ResourceAPI: {Requests: 2, Window: time.Minute},
		}
	})

	for i := 0; i < 2; i++ {
		w := do(t, s, http.MethodGet, "/v1/permissions/matrix?tenantId=t1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get(HeaderRateLimitLimit))
	}

	w := do(t, s, http.MethodGet, "/v1/permissions/matrix?tenantId=t1", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get(HeaderRateLimitRemaining))
	assert.Equal(t, "60", w.Header().Get(HeaderRetryAfter))

	// Health checks are not rate limited.
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", nil).Code)
}

func TestPermissionEndpoints(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)

	w := do(t, s, http.MethodGet, "/v1/permissions/matrix?tenantId=t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	m := decode[authz.Matrix](t, w)
	assert.True(t, m.Allowed(role.RoleOwner, "tenant:delete"))

	w = do(t, s, http.MethodGet, "/v1/users/u1/permissions?tenantId=t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	perms := decode[struct {
		Permissions []string `json:"permissions"`
	}](t, w)
	assert.Contains(t, perms.Permissions, "schedules:create")

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/v1/users/u1/permissions", nil).Code)
}

func TestRoleEndpoints(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)

	w := do(t, s, http.MethodPost, "/v1/tenants/t1/roles", map[string]any{
		"id": "exporter", "level": 15, "permissions": []string{"exports:create"}, "actorId": "boss",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, s, http.MethodPost, "/v1/tenants/t1/roles", map[string]any{
		"id": "exporter", "level": 15, "permissions": []string{"exports:create"},
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, s, http.MethodPost, "/v1/tenants/t1/roles", map[string]any{
		"id": "broken", "level": 15, "permissions": []string{"exports"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/v1/tenants/t1/assignments", assignRequest{
		UserID: "u9", RoleID: role.RoleAdmin, AssignedBy: "u1",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, s, http.MethodPost, "/v1/tenants/t1/assignments", assignRequest{
		UserID: "u9", RoleID: "exporter", AssignedBy: "boss",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, s, http.MethodPost, "/v1/tenants/t1/assignments", assignRequest{UserID: "u9", RoleID: "ghost"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodDelete, "/v1/tenants/t1/assignments/u9/exporter?actorId=boss", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, s, http.MethodDelete, "/v1/tenants/t1/assignments/u9/exporter", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIKeyEndpoints(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)

	w := do(t, s, http.MethodPost, "/v1/apikeys", generateKeyRequest{
		Name:        "kiosk",
		UserID:      "u1",
		TenantID:    "t1",
		Permissions: []string{"schedules:read"},
		RateLimit:   &limitDTO{Requests: 1, WindowSeconds: 30},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[generateKeyResponse](t, w)
	assert.True(t, strings.HasPrefix(created.Secret, "rg_"))
	assert.Equal(t, 30, created.Key.RateLimit.WindowSeconds)
	assert.NotContains(t, w.Body.String(), "keyHash")

	w = do(t, s, http.MethodPost, "/v1/apikeys/authorize",
		keyAuthorizeRequest{Permission: "schedules:read"}, APIKeyHeader, created.Secret)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[authz.Decision](t, w).Allowed)
	assert.Equal(t, "1", w.Header().Get(HeaderRateLimitLimit))

	w = do(t, s, http.MethodPost, "/v1/apikeys/authorize",
		keyAuthorizeRequest{Permission: "schedules:read"}, "Authorization", "Bearer "+created.Secret)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get(HeaderRetryAfter))

	w = do(t, s, http.MethodGet, "/v1/apikeys?tenantId=t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), created.Key.ID)

	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, "/v1/apikeys/"+created.Key.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/v1/apikeys/missing", nil).Code)

	w = do(t, s, http.MethodPost, "/v1/apikeys/authorize",
		keyAuthorizeRequest{Permission: "schedules:read"}, APIKeyHeader, created.Secret)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, s, http.MethodPost, "/v1/apikeys/authorize", keyAuthorizeRequest{Permission: "schedules:read"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, s, http.MethodPost, "/v1/apikeys", generateKeyRequest{Name: "bad", UserID: "u1", TenantID: "t1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	do(t, s, http.MethodPost, "/v1/authorize", authorizeRequest{
		UserID: "u1", TenantID: "t1", Permission: "schedules:read",
	})

	w := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rosterguard_authz_decisions_total")
	assert.Contains(t, w.Body.String(), "rosterguard_ratelimit_checks_total")
}

func TestTracingMiddleware(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	s := newTestServer(t, nil, WithTracer(provider.Tracer(TracerName)))
	do(t, s, http.MethodGet, "/v1/permissions/matrix?tenantId=t1", nil)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /v1/permissions/matrix", spans[0].Name())
}

func TestRecovery(t *testing.T) {
	t.Parallel()

	r := gin.New()
	r.Use(recovery(observability.NopLogger()))
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Internal Server Error")
}

func TestRetryAfterSeconds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 60, retryAfterSeconds(time.Minute))
}
