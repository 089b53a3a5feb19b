package api

import (
	"fmt"
	"math"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/rosterguard/internal/observability"
	"github.com/vyrodovalexey/rosterguard/internal/ratelimit"
)

const (
	// RequestIDHeader is the header carrying the request id.
	RequestIDHeader = "X-Request-ID"
	// RequestIDKey is the gin context key of the request id.
	RequestIDKey = "requestID"

	// TracerName is the name of the HTTP tracer.
	TracerName = "rosterguard/api"
)

// Rate limit headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// quietPaths are not logged per request.
var quietPaths = map[string]struct{}{
	"/healthz": {},
	"/livez":   {},
	"/readyz":  {},
	"/metrics": {},
}

// recovery turns panics into 500 responses.
func recovery(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					observability.Any("error", err),
					observability.String("method", c.Request.Method),
					observability.String("path", c.Request.URL.Path),
					observability.String("requestID", requestID(c)),
					observability.String("stack", string(debug.Stack())),
				)
				if span := trace.SpanFromContext(c.Request.Context()); span.IsRecording() {
					span.RecordError(fmt.Errorf("panic: %v", err))
					span.SetStatus(codes.Error, "panic")
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   "Internal Server Error",
					"message": "An unexpected error occurred",
				})
			}
		}()
		c.Next()
	}
}

// requestLogging assigns a request id and logs each completed request at a
// level chosen by its status.
func requestLogging(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()

		path := c.Request.URL.Path
		if _, ok := quietPaths[path]; ok {
			return
		}

		status := c.Writer.Status()
		fields := []observability.Field{
			observability.String("requestID", id),
			observability.String("method", c.Request.Method),
			observability.String("path", path),
			observability.Int("status", status),
			observability.Duration("latency", time.Since(start)),
			observability.String("clientIP", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, observability.String("errors", c.Errors.String()))
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request completed", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("request completed", fields...)
		default:
			logger.Info("request completed", fields...)
		}
	}
}

func requestID(c *gin.Context) string {
	if id, ok := c.Get(RequestIDKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// tracing starts a server span per request, continuing any propagated
// trace.
func tracing(tracer trace.Tracer) gin.HandlerFunc {
	propagator := otel.GetTextMapPropagator()
	return func(c *gin.Context) {
		ctx := propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Request.Method),
				attribute.String("http.route", route),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

// KeyFunc extracts the rate limit identifier of a request.
type KeyFunc func(c *gin.Context) string

// ClientIPKey identifies requests by client IP.
func ClientIPKey(c *gin.Context) string {
	return c.ClientIP()
}

// rateLimit counts each request against resource. Limiter errors let the
// request through.
func (s *Server) rateLimit(resource string, key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := s.svc.CheckRateLimit(c.Request.Context(), resource, key(c), nil)
		if err != nil {
			s.logger.Error("rate limit check failed",
				observability.String("resource", resource),
				observability.Error(err),
			)
			c.Next()
			return
		}

		s.setRateLimitHeaders(c, res)
		if !res.Allowed {
			s.abortRateLimited(c, res)
			return
		}
		c.Next()
	}
}

func (s *Server) setRateLimitHeaders(c *gin.Context, res *ratelimit.Result) {
	c.Header(HeaderRateLimitLimit, strconv.Itoa(res.Limit))
	c.Header(HeaderRateLimitRemaining, strconv.Itoa(res.Remaining))
	c.Header(HeaderRateLimitReset, strconv.FormatInt(res.ResetAt.Unix(), 10))
}

func (s *Server) abortRateLimited(c *gin.Context, res *ratelimit.Result) {
	retry := retryAfterSeconds(res.RetryAfter(s.clock()))
	c.Header(HeaderRetryAfter, strconv.Itoa(retry))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":       "Too Many Requests",
		"message":     "Rate limit exceeded",
		"retry_after": retry,
	})
}

// retryAfterSeconds rounds up so clients never retry early.
func retryAfterSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
