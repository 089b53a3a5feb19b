package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/rosterguard/internal/observability"
)

// DefaultReadinessTimeout bounds a readiness check run.
const DefaultReadinessTimeout = 5 * time.Second

// Statuses reported by the health endpoints.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// HealthCheck is a named readiness check.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

type checkFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (f *checkFunc) Name() string                    { return f.name }
func (f *checkFunc) Check(ctx context.Context) error { return f.fn(ctx) }

// CheckFunc adapts fn to a HealthCheck called name.
func CheckFunc(name string, fn func(ctx context.Context) error) HealthCheck {
	return &checkFunc{name: name, fn: fn}
}

// Status is the body of a health response.
type Status struct {
	Status    string                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Uptime    string                  `json:"uptime,omitempty"`
	Checks    map[string]*CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// Handler serves the liveness and readiness endpoints.
type Handler struct {
	mu        sync.RWMutex
	checks    []HealthCheck
	logger    observability.Logger
	timeout   time.Duration
	startTime time.Time
	clock     func() time.Time
}

// Option is a functional option for Handler.
type Option func(*Handler)

// WithLogger sets the logger used for failed checks.
func WithLogger(logger observability.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithTimeout bounds the readiness checks.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithClock sets the clock.
func WithClock(clock func() time.Time) Option {
	return func(h *Handler) {
		h.clock = clock
	}
}

// NewHandler creates a handler running checks on readiness.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		logger:  observability.NopLogger(),
		timeout: DefaultReadinessTimeout,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.startTime = h.clock()
	return h
}

// AddCheck registers a readiness check.
func (h *Handler) AddCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// Names returns the registered check names, sorted.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checks))
	for _, c := range h.checks {
		names = append(names, c.Name())
	}
	sort.Strings(names)
	return names
}

// Liveness answers 200 while the process serves requests.
func (h *Handler) Liveness(c *gin.Context) {
	now := h.clock()
	c.JSON(http.StatusOK, &Status{
		Status:    StatusOK,
		Timestamp: now.UTC(),
		Uptime:    now.Sub(h.startTime).Round(time.Second).String(),
	})
}

// Readiness runs the checks and answers 503 when any fails.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	status := h.Run(ctx)
	code := http.StatusOK
	if status.Status != StatusOK {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// Run executes every check concurrently.
func (h *Handler) Run(ctx context.Context) *Status {
	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := &Status{
		Status:    StatusOK,
		Timestamp: h.clock().UTC(),
		Checks:    make(map[string]*CheckResult, len(checks)),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, check := range checks {
		wg.Add(1)
		go func(check HealthCheck) {
			defer wg.Done()

			start := time.Now()
			err := check.Check(ctx)
			duration := time.Since(start)

			result := &CheckResult{Status: StatusOK, Duration: duration.String()}
			if err != nil {
				result.Status = StatusError
				result.Error = err.Error()
				h.logger.Warn("health check failed",
					observability.String("check", check.Name()),
					observability.Error(err),
					observability.Duration("duration", duration),
				)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				status.Status = StatusError
			}
			status.Checks[check.Name()] = result
		}(check)
	}
	wg.Wait()
	return status
}
