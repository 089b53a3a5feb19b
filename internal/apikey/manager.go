package apikey

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/vyrodovalexey/rosterguard/internal/authz"
	"github.com/vyrodovalexey/rosterguard/internal/observability"
	"github.com/vyrodovalexey/rosterguard/internal/permission"
	"github.com/vyrodovalexey/rosterguard/internal/ratelimit"
	"github.com/vyrodovalexey/rosterguard/internal/role"
)

// Validation cache defaults.
const (
	DefaultCacheSize = 10000
	DefaultCacheTTL  = time.Minute
)

// CtxAPIKeyID is the condition context key holding the calling key's id.
const CtxAPIKeyID = "api_key_id"

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateRequest describes a key to issue.
type GenerateRequest struct {
	Name        string           `json:"name"`
	UserID      string           `json:"userId"`
	TenantID    string           `json:"tenantId"`
	Permissions []string         `json:"permissions"`
	RateLimit   *ratelimit.Limit `json:"rateLimit,omitempty"`
	ExpiresAt   *time.Time       `json:"expiresAt,omitempty"`
}

// AuthorizeRequest is a permission check made with a key.
type AuthorizeRequest struct {
	Secret     string
	Permission string
	Resource   map[string]any
	ResourceID string
	Context    map[string]any
	IPAddress  string
	UserAgent  string
}

// AuthorizeResult is the outcome of Authorize. Decision is nil when the
// request was rate limited.
type AuthorizeResult struct {
	Key       *APIKey
	RateLimit *ratelimit.Result
	Decision  *authz.Decision
}

// Allowed reports whether the request passed both the rate limit and the
// decision engine.
func (r *AuthorizeResult) Allowed() bool {
	return r.RateLimit != nil && r.RateLimit.Allowed && r.Decision != nil && r.Decision.Allowed
}

// Manager implements the API key lifecycle. It is safe for concurrent use.
type Manager struct {
	store    Store
	registry *permission.Registry
	engine   *authz.Engine
	limiter  *ratelimit.Limiter
	cache    *expirable.LRU[string, *APIKey]
	random   io.Reader
	clock    func() time.Time
	logger   observability.Logger
	metrics  *Metrics

	cacheSize int
	cacheTTL  time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithClock sets the time source.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithCache sizes the validation cache. A non-positive size disables it.
func WithCache(size int, ttl time.Duration) Option {
	return func(m *Manager) {
		m.cacheSize = size
		m.cacheTTL = ttl
	}
}

// WithRandom sets the entropy source for secrets.
func WithRandom(r io.Reader) Option {
	return func(m *Manager) {
		m.random = r
	}
}

// NewManager creates a key manager.
func NewManager(store Store, registry *permission.Registry, engine *authz.Engine,
	limiter *ratelimit.Limiter, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		registry:  registry,
		engine:    engine,
		limiter:   limiter,
		random:    rand.Reader,
		clock:     time.Now,
		logger:    observability.NopLogger(),
		cacheSize: DefaultCacheSize,
		cacheTTL:  DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics(nil)
	}
	if m.cacheSize > 0 {
		if m.cacheTTL <= 0 {
			m.cacheTTL = DefaultCacheTTL
		}
		m.cache = expirable.NewLRU[string, *APIKey](m.cacheSize, nil, m.cacheTTL)
	}
	return m
}

// Generate issues a key and returns its metadata and the secret. The
// secret is not recoverable afterwards.
func (m *Manager) Generate(ctx context.Context, req GenerateRequest) (*APIKey, string, error) {
	if err := m.validateRequest(req); err != nil {
		return nil, "", err
	}

	secret, err := m.newSecret()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate secret: %w", err)
	}

	key := &APIKey{
		ID:          uuid.NewString(),
		Name:        req.Name,
		UserID:      req.UserID,
		TenantID:    req.TenantID,
		Prefix:      secret[:displayLength],
		KeyHash:     HashKey(secret),
		Permissions: append([]string(nil), req.Permissions...),
		RateLimit:   req.RateLimit,
		ExpiresAt:   req.ExpiresAt,
		Active:      true,
		CreatedAt:   m.clock(),
	}
	if err := m.store.Create(ctx, key); err != nil {
		return nil, "", fmt.Errorf("failed to store API key: %w", err)
	}

	m.metrics.issuedTotal.Inc()
	m.logger.Info("API key issued",
		observability.String("key_id", key.ID),
		observability.String("tenant_id", key.TenantID),
		observability.String("user_id", key.UserID),
		observability.Strings("permissions", key.Permissions),
	)
	return key.Clone(), secret, nil
}

func (m *Manager) validateRequest(req GenerateRequest) error {
	var errs []error
	if strings.TrimSpace(req.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if req.UserID == "" {
		errs = append(errs, errors.New("userId is required"))
	}
	if req.TenantID == "" {
		errs = append(errs, errors.New("tenantId is required"))
	}
	if len(req.Permissions) == 0 {
		errs = append(errs, errors.New("at least one permission is required"))
	} else if err := m.registry.Validate(req.Permissions); err != nil {
		errs = append(errs, err)
	}
	if req.RateLimit != nil {
		if err := req.RateLimit.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(m.clock()) {
		errs = append(errs, errors.New("expiresAt must be in the future"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, errors.Join(errs...))
	}
	return nil
}

func (m *Manager) newSecret() (string, error) {
	var b strings.Builder
	b.Grow(len(KeyPrefix) + SecretLength)
	b.WriteString(KeyPrefix)
	limit := big.NewInt(int64(len(alphabet)))
	for i := 0; i < SecretLength; i++ {
		n, err := rand.Int(m.random, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Validate returns the active key for secret.
func (m *Manager) Validate(ctx context.Context, secret string) (*APIKey, error) {
	if !wellFormed(secret) {
		m.metrics.recordValidation("malformed")
		return nil, ErrKeyNotFound
	}

	hash := HashKey(secret)
	now := m.clock()

	if m.cache != nil {
		if key, ok := m.cache.Get(hash); ok {
			m.metrics.cacheHits.Inc()
			if key.Expired(now) {
				m.cache.Remove(hash)
				m.metrics.recordValidation("expired")
				return nil, ErrKeyExpired
			}
			if err := m.confirmActive(ctx, key); err != nil {
				m.cache.Remove(hash)
				return nil, err
			}
			m.metrics.recordValidation("valid")
			return key.Clone(), nil
		}
		m.metrics.cacheMisses.Inc()
	}

	key, err := m.store.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			m.metrics.recordValidation("not_found")
			return nil, ErrKeyNotFound
		}
		m.metrics.recordValidation("store_error")
		return nil, fmt.Errorf("failed to look up API key: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 {
		m.metrics.recordValidation("not_found")
		return nil, ErrKeyNotFound
	}

	switch {
	case !key.Active:
		m.metrics.recordValidation("revoked")
		return nil, ErrKeyRevoked
	case key.Expired(now):
		m.metrics.recordValidation("expired")
		return nil, ErrKeyExpired
	}

	if m.cache != nil {
		m.cache.Add(hash, key.Clone())
	}
	m.metrics.recordValidation("valid")
	return key, nil
}

// confirmActive checks a cached key against a shared store, where another
// process may have revoked it.
func (m *Manager) confirmActive(ctx context.Context, key *APIKey) error {
	shared, ok := m.store.(SharedStore)
	if !ok {
		return nil
	}
	revoked, err := shared.Revoked(ctx, key.ID)
	if err != nil {
		m.metrics.recordValidation("store_error")
		return fmt.Errorf("failed to look up API key: %w", err)
	}
	if revoked {
		m.metrics.recordValidation("revoked")
		return ErrKeyRevoked
	}
	return nil
}

func wellFormed(secret string) bool {
	if len(secret) != len(KeyPrefix)+SecretLength || !strings.HasPrefix(secret, KeyPrefix) {
		return false
	}
	for i := len(KeyPrefix); i < len(secret); i++ {
		if strings.IndexByte(alphabet, secret[i]) < 0 {
			return false
		}
	}
	return true
}

// Revoke marks a key inactive. Revoking a revoked key is a no-op.
func (m *Manager) Revoke(ctx context.Context, keyID string) error {
	key, changed, err := m.store.Revoke(ctx, keyID, m.clock())
	if err != nil {
		return err
	}
	if m.cache != nil {
		m.cache.Remove(key.KeyHash)
	}
	if !changed {
		return nil
	}

	m.metrics.revokedTotal.Inc()
	m.logger.Info("API key revoked",
		observability.String("key_id", key.ID),
		observability.String("tenant_id", key.TenantID),
	)
	return nil
}

// Get returns a key by id.
func (m *Manager) Get(ctx context.Context, keyID string) (*APIKey, error) {
	return m.store.Get(ctx, keyID)
}

// List returns the keys of a tenant.
func (m *Manager) List(ctx context.Context, tenantID string) ([]*APIKey, error) {
	return m.store.List(ctx, tenantID)
}

// Authorize validates secret, counts the request against the key's rate
// limit on the api resource and, when admitted, decides the permission
// with the key's permission set.
func (m *Manager) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	key, err := m.Validate(ctx, req.Secret)
	if err != nil {
		return nil, err
	}

	rl, err := m.limiter.Check(ctx, ratelimit.ResourceAPI, key.ID, key.RateLimit)
	if err != nil {
		return nil, err
	}
	res := &AuthorizeResult{Key: key, RateLimit: rl}
	if !rl.Allowed {
		m.logger.Debug("API key rate limited",
			observability.String("key_id", key.ID),
			observability.Time("reset_at", rl.ResetAt),
		)
		return res, nil
	}

	keyRole, err := key.Role()
	if err != nil {
		return nil, err
	}

	evalCtx := make(map[string]any, len(req.Context)+1)
	for k, v := range req.Context {
		evalCtx[k] = v
	}
	evalCtx[CtxAPIKeyID] = key.ID

	res.Decision = m.engine.AuthorizeRoles(ctx, &authz.Request{
		UserID:     key.UserID,
		TenantID:   key.TenantID,
		Permission: req.Permission,
		Resource:   req.Resource,
		ResourceID: req.ResourceID,
		Context:    evalCtx,
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
	}, []*role.Role{keyRole})

	if err := m.store.Touch(ctx, key.ID, m.clock()); err != nil {
		m.logger.Warn("failed to record API key use",
			observability.String("key_id", key.ID),
			observability.Error(err),
		)
	}
	return res, nil
}
