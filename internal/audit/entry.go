package audit

import (
	"strings"
	"time"
)

// Result is the outcome recorded for a decision.
type Result string

// Results.
const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultBlocked Result = "blocked"
)

// Entry is one audit record. Entries are never mutated once recorded.
type Entry struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	TenantID   string         `json:"tenantId,omitempty"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resourceId,omitempty"`
	OldValues  map[string]any `json:"oldValues,omitempty"`
	NewValues  map[string]any `json:"newValues,omitempty"`
	IPAddress  string         `json:"ipAddress,omitempty"`
	UserAgent  string         `json:"userAgent,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Result     Result         `json:"result"`
	Reason     string         `json:"reason,omitempty"`
	TraceID    string         `json:"traceId,omitempty"`
}

// Filter selects entries in Query. Zero fields match everything.
type Filter struct {
	UserID   string
	TenantID string
	// Action matches as a substring.
	Action   string
	Resource string
	Result   Result
	// Since and Until bound Timestamp inclusively.
	Since time.Time
	Until time.Time
	Limit int
}

func (f *Filter) matches(e *Entry) bool {
	switch {
	case f.UserID != "" && e.UserID != f.UserID:
		return false
	case f.TenantID != "" && e.TenantID != f.TenantID:
		return false
	case f.Action != "" && !strings.Contains(e.Action, f.Action):
		return false
	case f.Resource != "" && e.Resource != f.Resource:
		return false
	case f.Result != "" && e.Result != f.Result:
		return false
	case !f.Since.IsZero() && e.Timestamp.Before(f.Since):
		return false
	case !f.Until.IsZero() && e.Timestamp.After(f.Until):
		return false
	}
	return true
}
