package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/rosterguard/internal/apikey"
	"github.com/vyrodovalexey/rosterguard/internal/audit"
	"github.com/vyrodovalexey/rosterguard/internal/authz"
	"github.com/vyrodovalexey/rosterguard/internal/role"
)

var errMissingKey = errors.New("missing API key")

func (s *Server) authorize(c *gin.Context) {
	var req authorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.failWithStatus(c, http.StatusBadRequest, err)
		return
	}
	d := s.svc.Authorize(c.Request.Context(), &authz.Request{
		UserID:     req.UserID,
		TenantID:   req.TenantID,
		Permission: req.Permission,
		Resource:   req.Resource,
		ResourceID: req.ResourceID,
		Context:    req.Context,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	c.JSON(http.StatusOK, d)
}

func (s *Server) checkRateLimit(c *gin.Context) {
	var req rateLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.failWithStatus(c, http.StatusBadRequest, err)
		return
	}
	res, err := s.svc.CheckRateLimit(c.Request.Context(), req.Resource, req.Identifier, req.Limit.limit())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type rateLimitQuery struct {
	Resource   string `form:"resource" binding:"required"`
	Identifier string `form:"identifier" binding:"required"`
}

func (s *Server) rateLimitStatus(c *gin.Context) {
	var q rateLimitQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.failWithStatus(c, http.StatusBadRequest, err)
		return
	}
	res, err := s.svc.GetRateLimitStatus(c.Request.Context(), q.Resource, q.Identifier, nil)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) resetRateLimit(c *gin.Context) {
	var q rateLimitQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.failWithStatus(c, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.ResetRateLimit(c.Request.Context(), q.Resource, q.Identifier); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type auditQuery struct {
	UserID   string       `form:"userId"`
	TenantID string       `form:"tenantId"`
	Action   string       `form:"action"`
	Resource string       `form:"resource"`
	Result   audit.Result `form:"result"`
	Since    time.Time    `form:"since" time_format:"2006-01-02T15:04:05Z07:00"`
	Until    time.Time    `form:"until" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit    int          `form:"limit" binding:"min=0"`
}

func (s *Server) auditLogs(c *gin.Context) {
	var q auditQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.failWithStatus(c, http.StatusBadRequest, err)
		return
	}
	entries := s.svc.GetAuditLogs(audit.Filter{
		UserID:   q.UserID,
		TenantID: q.TenantID,
		Action:   q.Action,
		Resource: q.Resource,
		Result:   q.Result,
		Since:    q.Since,
		Until:    q.Until,
		Limit:    q.Limit,
	})
	if entries == nil {
		entries = []audit.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) permissionMatrix(c *gin.Context) {
	m, err := s.svc.GetPermissionMatrix(c.Request.Context(), c.Query("tenantId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) userPermissions(c *gin.Context) {
	tenantID := c.Query("tenantId")
	if tenantID == "" {
		s.failWithStatus(c, http.StatusBadRequest, errors.New("tenantId is required"))
		return
	}
	perms, err := s.svc.EffectivePermissions(c.Request.Context(), c.Param("userId"), tenantID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if perms == nil {
		perms = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"permissions": perms})
}

type createRoleRequest struct {
	role.Spec
	ActorID string `json:"actorId,omitempty"`
}

func (s *Server) createRole(c *gin.Context) {
	var req createRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.failWithStatus(c, http.StatusBadRequest, err)
		return
	}
	r, err := s.svc.CreateCustomRole(c.Request.Context(), c.Param("tenantId"), req.ActorID, req.Spec)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (s *Server) assignRole(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.failWithStatus(c, http.StatusBadRequest, err)
		return
	}
	a, err := s.svc.AssignRole(c.Request.Context(), role.AssignRequest{
		UserID:     req.UserID,
		RoleID:     req.RoleID,
		TenantID:   c.Param("tenantId"),
		AssignedBy: req.AssignedBy,
		ExpiresAt:  req.ExpiresAt,
		Conditions: req.Conditions,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (s *Server) revokeRole(c *gin.Context) {
	err := s.svc.RevokeRole(c.Request.Context(),
		c.Param("userId"), c.Param("roleId"), c.Param("tenantId"), c.Query("actorId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) generateAPIKey(c *gin.Context) {
	var req generateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.failWithStatus(c, http.StatusBadRequest, err)
		return
	}
	key, secret, err := s.svc.GenerateAPIKey(c.Request.Context(), apikey.GenerateRequest{
		Name:        req.Name,
		UserID:      req.UserID,
		TenantID:    req.TenantID,
		Permissions: req.Permissions,
		RateLimit:   req.RateLimit.limit(),
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, generateKeyResponse{Key: toKeyResponse(key), Secret: secret})
}

func (s *Server) listAPIKeys(c *gin.Context) {
	tenantID := c.Query("tenantId")
	if tenantID == "" {
		s.failWithStatus(c, http.StatusBadRequest, errors.New("tenantId is required"))
		return
	}
	keys, err := s.svc.ListAPIKeys(c.Request.Context(), tenantID)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]keyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, toKeyResponse(k))
	}
	c.JSON(http.StatusOK, gin.H{"keys": out})
}

func (s *Server) revokeAPIKey(c *gin.Context) {
	if err := s.svc.RevokeAPIKey(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) authorizeAPIKey(c *gin.Context) {
	secret := apiKeyFromRequest(c)
	if secret == "" {
		s.failWithStatus(c, http.StatusUnauthorized, errMissingKey)
		return
	}
	var req keyAuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.failWithStatus(c, http.StatusBadRequest, err)
		return
	}

	res, err := s.svc.AuthorizeAPIKey(c.Request.Context(), apikey.AuthorizeRequest{
		Secret:     secret,
		Permission: req.Permission,
		Resource:   req.Resource,
		ResourceID: req.ResourceID,
		Context:    req.Context,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		s.failWithStatus(c, keyStatusOf(err), err)
		return
	}

	s.setRateLimitHeaders(c, res.RateLimit)
	if !res.RateLimit.Allowed {
		s.abortRateLimited(c, res.RateLimit)
		return
	}
	c.JSON(http.StatusOK, res.Decision)
}

// apiKeyFromRequest reads the key from X-API-Key or a bearer token.
func apiKeyFromRequest(c *gin.Context) string {
	if key := c.GetHeader(APIKeyHeader); key != "" {
		return key
	}
	const bearer = "Bearer "
	if auth := c.GetHeader("Authorization"); len(auth) > len(bearer) && strings.EqualFold(auth[:len(bearer)], bearer) {
		return strings.TrimSpace(auth[len(bearer):])
	}
	return ""
}
