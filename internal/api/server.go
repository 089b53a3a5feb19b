package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/rosterguard/internal/guard"
	"github.com/vyrodovalexey/rosterguard/internal/health"
	"github.com/vyrodovalexey/rosterguard/internal/observability"
	"github.com/vyrodovalexey/rosterguard/internal/ratelimit"
)

// APIKeyHeader carries the secret on key-authorized requests.
const APIKeyHeader = "X-API-Key"

// Server routes HTTP requests to a guard Service.
type Server struct {
	svc     *guard.Service
	engine  *gin.Engine
	health  *health.Handler
	logger  observability.Logger
	tracer  trace.Tracer
	metrics http.Handler
	keyFunc KeyFunc
	clock   func() time.Time
}

// Option is a functional option for Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithTracer sets the tracer of the request spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Server) {
		s.tracer = tracer
	}
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithKeyFunc sets how callers are identified for the api rate limit.
func WithKeyFunc(fn KeyFunc) Option {
	return func(s *Server) {
		s.keyFunc = fn
	}
}

// WithClock sets the clock used for Retry-After.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		s.clock = clock
	}
}

// NewServer creates a server over svc.
func NewServer(svc *guard.Service, opts ...Option) *Server {
	s := &Server{
		svc:     svc,
		logger:  observability.NopLogger(),
		keyFunc: ClientIPKey,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(TracerName)
	}

	s.health = health.NewHandler(health.WithLogger(s.logger), health.WithClock(s.clock))
	if s.svc.UsesRedis() {
		s.health.AddCheck(health.CheckFunc("redis", s.svc.Ping))
	}

	s.engine = gin.New()
	s.engine.Use(recovery(s.logger), requestLogging(s.logger), tracing(s.tracer))
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/livez", s.health.Liveness)
	s.engine.GET("/readyz", s.health.Readiness)
	s.engine.GET("/healthz", s.health.Readiness)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := s.engine.Group("/v1")
	v1.Use(s.rateLimit(ratelimit.ResourceAPI, s.keyFunc))

	v1.POST("/authorize", s.authorize)

	v1.POST("/ratelimit/check", s.checkRateLimit)
	v1.GET("/ratelimit/status", s.rateLimitStatus)
	v1.DELETE("/ratelimit", s.resetRateLimit)

	v1.GET("/audit", s.auditLogs)

	v1.GET("/permissions/matrix", s.permissionMatrix)
	v1.GET("/users/:userId/permissions", s.userPermissions)

	v1.POST("/tenants/:tenantId/roles", s.createRole)
	v1.POST("/tenants/:tenantId/assignments", s.assignRole)
	v1.DELETE("/tenants/:tenantId/assignments/:userId/:roleId", s.revokeRole)

	v1.POST("/apikeys", s.generateAPIKey)
	v1.GET("/apikeys", s.listAPIKeys)
	v1.DELETE("/apikeys/:id", s.revokeAPIKey)
	v1.POST("/apikeys/authorize", s.authorizeAPIKey)
}
