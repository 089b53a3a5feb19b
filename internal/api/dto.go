package api

import (
	"time"

	"github.com/vyrodovalexey/rosterguard/internal/apikey"
	"github.com/vyrodovalexey/rosterguard/internal/ratelimit"
)

type authorizeRequest struct {
	UserID     string         `json:"userId" binding:"required"`
	TenantID   string         `json:"tenantId" binding:"required"`
	Permission string         `json:"permission" binding:"required"`
	Resource   map[string]any `json:"resource,omitempty"`
	ResourceID string         `json:"resourceId,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

// limitDTO is a rate limit with the window in seconds.
type limitDTO struct {
	Requests      int `json:"requests"`
	WindowSeconds int `json:"windowSeconds"`
	Burst         int `json:"burst,omitempty"`
}

func (l *limitDTO) limit() *ratelimit.Limit {
	if l == nil {
		return nil
	}
	return &ratelimit.Limit{
		Requests: l.Requests,
		Window:   time.Duration(l.WindowSeconds) * time.Second,
		Burst:    l.Burst,
	}
}

func toLimitDTO(l *ratelimit.Limit) *limitDTO {
	if l == nil {
		return nil
	}
	return &limitDTO{Requests: l.Requests, WindowSeconds: int(l.Window / time.Second), Burst: l.Burst}
}

type rateLimitRequest struct {
	Resource   string    `json:"resource" binding:"required"`
	Identifier string    `json:"identifier" binding:"required"`
	Limit      *limitDTO `json:"limit,omitempty"`
}

type generateKeyRequest struct {
	Name        string     `json:"name"`
	UserID      string     `json:"userId"`
	TenantID    string     `json:"tenantId"`
	Permissions []string   `json:"permissions"`
	RateLimit   *limitDTO  `json:"rateLimit,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

type keyResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	UserID      string     `json:"userId"`
	TenantID    string     `json:"tenantId"`
	Prefix      string     `json:"prefix"`
	Permissions []string   `json:"permissions"`
	RateLimit   *limitDTO  `json:"rateLimit,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
	RevokedAt   *time.Time `json:"revokedAt,omitempty"`
}

func toKeyResponse(k *apikey.APIKey) keyResponse {
	return keyResponse{
		ID:          k.ID,
		Name:        k.Name,
		UserID:      k.UserID,
		TenantID:    k.TenantID,
		Prefix:      k.Prefix,
		Permissions: k.Permissions,
		RateLimit:   toLimitDTO(k.RateLimit),
		ExpiresAt:   k.ExpiresAt,
		Active:      k.Active,
		CreatedAt:   k.CreatedAt,
		LastUsedAt:  k.LastUsedAt,
		RevokedAt:   k.RevokedAt,
	}
}

type generateKeyResponse struct {
	Key    keyResponse `json:"key"`
	Secret string      `json:"secret"`
}

type keyAuthorizeRequest struct {
	Permission string         `json:"permission" binding:"required"`
	Resource   map[string]any `json:"resource,omitempty"`
	ResourceID string         `json:"resourceId,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

type assignRequest struct {
	UserID     string     `json:"userId" binding:"required"`
	RoleID     string     `json:"roleId" binding:"required"`
	AssignedBy string     `json:"assignedBy,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	Conditions []string   `json:"conditions,omitempty"`
}
