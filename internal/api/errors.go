package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/rosterguard/internal/apikey"
	"github.com/vyrodovalexey/rosterguard/internal/config"
	"github.com/vyrodovalexey/rosterguard/internal/guard"
	"github.com/vyrodovalexey/rosterguard/internal/observability"
	"github.com/vyrodovalexey/rosterguard/internal/permission"
	"github.com/vyrodovalexey/rosterguard/internal/ratelimit"
	"github.com/vyrodovalexey/rosterguard/internal/role"
)

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	var verrs config.ValidationErrors
	switch {
	case errors.Is(err, permission.ErrInvalidPermission),
		errors.Is(err, ratelimit.ErrInvalidLimit),
		errors.Is(err, role.ErrInvalidRole),
		errors.Is(err, role.ErrInvalidAssignment),
		errors.Is(err, role.ErrRoleCycle),
		errors.Is(err, apikey.ErrInvalidRequest),
		errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.Is(err, guard.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, role.ErrRoleNotFound),
		errors.Is(err, role.ErrAssignmentNotFound),
		errors.Is(err, apikey.ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, role.ErrRoleExists),
		errors.Is(err, apikey.ErrKeyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	s.failWithStatus(c, statusOf(err), err)
}

func (s *Server) failWithStatus(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			observability.String("requestID", requestID(c)),
			observability.Error(err),
		)
		message = "An unexpected error occurred"
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error":   http.StatusText(status),
		"message": message,
	})
}

// keyStatusOf maps API key validation errors to 401.
func keyStatusOf(err error) int {
	switch {
	case errors.Is(err, apikey.ErrKeyNotFound),
		errors.Is(err, apikey.ErrKeyRevoked),
		errors.Is(err, apikey.ErrKeyExpired):
		return http.StatusUnauthorized
	default:
		return statusOf(err)
	}
}
