package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/rosterguard/internal/audit"
	"github.com/vyrodovalexey/rosterguard/internal/observability"
	"github.com/vyrodovalexey/rosterguard/internal/permission"
	"github.com/vyrodovalexey/rosterguard/internal/role"
)

// TracerName is the instrumentation name of decision spans.
const TracerName = "rosterguard/authz"

// ErrConditionsUnsupported indicates an assignment carrying CEL conditions
// evaluated by an engine without a compiler.
var ErrConditionsUnsupported = errors.New("assignment conditions require a compiler")

// Request is one authorization question.
type Request struct {
	UserID     string
	TenantID   string
	Permission string

	// Resource is the record being acted on. Conditions are checked against
	// it; a nil resource satisfies every condition.
	Resource   map[string]any
	ResourceID string

	// Context supplies values for condition placeholders. current_user and
	// tenant_id default to UserID and TenantID.
	Context map[string]any

	IPAddress string
	UserAgent string
}

// Decision is the outcome of a request.
type Decision struct {
	Allowed bool         `json:"allowed"`
	Result  audit.Result `json:"result"`
	Reason  string       `json:"reason"`

	// Role is the role whose grants admitted the request.
	Role string `json:"role,omitempty"`

	// AuditID is the id of the audit entry recorded for the decision.
	AuditID string `json:"auditId"`
}

// Engine evaluates authorization requests. It is safe for concurrent use.
type Engine struct {
	registry *permission.Registry
	resolver *role.Resolver
	compiler *role.Compiler
	recorder audit.Recorder
	clock    func() time.Time
	logger   observability.Logger
	metrics  *Metrics
	tracer   trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// WithClock sets the time source used for assignment expiry.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithTracer sets the tracer used for decision spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithCompiler enables CEL assignment conditions.
func WithCompiler(compiler *role.Compiler) Option {
	return func(e *Engine) {
		e.compiler = compiler
	}
}

// NewEngine creates a decision engine.
func NewEngine(registry *permission.Registry, resolver *role.Resolver, recorder audit.Recorder, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		resolver: resolver,
		recorder: recorder,
		clock:    time.Now,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(TracerName)
	}
	if e.recorder == nil {
		e.recorder = nopRecorder{}
	}
	return e
}

// Authorize decides req against the roles assigned to req.UserID in
// req.TenantID.
func (e *Engine) Authorize(ctx context.Context, req *Request) *Decision {
	return e.decide(ctx, req, nil)
}

// HasPermission reports whether req is allowed.
func (e *Engine) HasPermission(ctx context.Context, req *Request) bool {
	return e.Authorize(ctx, req).Allowed
}

// AuthorizeRoles decides req against an explicit role set instead of the
// user's assignments. Roles must be compiled.
func (e *Engine) AuthorizeRoles(ctx context.Context, req *Request, roles []*role.Role) *Decision {
	if roles == nil {
		roles = []*role.Role{}
	}
	return e.decide(ctx, req, roles)
}

type outcome struct {
	grant
	err error
}

func (e *Engine) decide(ctx context.Context, req *Request, explicit []*role.Role) *Decision {
	start := time.Now()
	if req == nil {
		req = &Request{}
	}

	ctx, span := e.tracer.Start(ctx, "authz.authorize",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("authz.user_id", req.UserID),
			attribute.String("authz.tenant_id", req.TenantID),
			attribute.String("authz.permission", req.Permission),
		),
	)
	defer span.End()

	out := e.safeEvaluate(ctx, req, explicit)

	d := &Decision{}
	switch {
	case out.err != nil:
		d.Result = audit.ResultFailure
		d.Reason = out.err.Error()
		span.RecordError(out.err)
		span.SetStatus(codes.Error, "evaluation failed")
		e.logger.Warn("authorization evaluation failed",
			observability.String("user_id", req.UserID),
			observability.String("tenant_id", req.TenantID),
			observability.String("permission", req.Permission),
			observability.Error(out.err),
		)
	case out.role != "":
		d.Allowed = true
		d.Result = audit.ResultSuccess
		d.Role = out.role
		d.Reason = fmt.Sprintf("granted by role %q (%s)", out.role, matchName(out.match))
	default:
		d.Result = audit.ResultBlocked
		d.Reason = "no role grants " + req.Permission
		if out.noRoles {
			d.Reason = "no active roles"
		}
	}

	resource, _, _ := strings.Cut(req.Permission, ":")
	entry := e.recorder.Record(ctx, audit.Entry{
		UserID:     req.UserID,
		TenantID:   req.TenantID,
		Action:     req.Permission,
		Resource:   resource,
		ResourceID: req.ResourceID,
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
		Result:     d.Result,
		Reason:     d.Reason,
	})
	d.AuditID = entry.ID

	e.metrics.recordDecision(d.Result, time.Since(start))
	span.SetAttributes(
		attribute.Bool("authz.allowed", d.Allowed),
		attribute.String("authz.result", string(d.Result)),
		attribute.String("authz.role", d.Role),
	)

	e.logger.Debug("authorization decision",
		observability.String("user_id", req.UserID),
		observability.String("tenant_id", req.TenantID),
		observability.String("permission", req.Permission),
		observability.Bool("allowed", d.Allowed),
		observability.String("reason", d.Reason),
	)
	return d
}

// safeEvaluate converts a panic anywhere in evaluation into a failure.
func (e *Engine) safeEvaluate(ctx context.Context, req *Request, explicit []*role.Role) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{err: fmt.Errorf("internal error: %v", r)}
		}
	}()
	g, err := e.evaluate(ctx, req, explicit)
	return outcome{grant: g, err: err}
}

func (e *Engine) evaluate(ctx context.Context, req *Request, explicit []*role.Role) (grant, error) {
	perm, err := e.registry.ParseKnown(req.Permission)
	if err != nil {
		return grant{}, err
	}

	now := e.clock()
	var bindings []role.Binding
	if explicit != nil {
		bindings = make([]role.Binding, 0, len(explicit))
		for _, r := range explicit {
			bindings = append(bindings, role.Binding{Role: r})
		}
	} else {
		bindings, err = e.resolver.Bindings(ctx, req.UserID, req.TenantID, now)
		if err != nil {
			return grant{}, err
		}
	}
	if len(bindings) == 0 {
		return grant{noRoles: true}, nil
	}

	w := &walker{
		resolver: e.resolver,
		tenantID: req.TenantID,
		perm:     perm,
		conds:    e.registry.Conditions(perm.String()),
		resource: req.Resource,
		ctx:      evaluationContext(req),
		done:     make(map[string]struct{}),
	}

	for _, b := range bindings {
		ok, err := e.assignmentApplies(b.Assignment, req, w.ctx, now)
		if err != nil {
			return grant{}, err
		}
		if !ok {
			continue
		}
		g, err := w.check(ctx, b.Role, nil)
		if err != nil {
			return grant{}, err
		}
		if g.role != "" {
			return g, nil
		}
	}
	return grant{}, nil
}

func (e *Engine) assignmentApplies(a role.Assignment, req *Request, evalCtx map[string]any, now time.Time) (bool, error) {
	if len(a.Conditions) == 0 {
		return true, nil
	}
	if e.compiler == nil {
		return false, fmt.Errorf("role %q: %w", a.RoleID, ErrConditionsUnsupported)
	}
	ok, err := e.compiler.Eval(a.Conditions, role.Activation{
		Resource: req.Resource,
		Context:  evalCtx,
		UserID:   req.UserID,
		TenantID: req.TenantID,
		Now:      now,
	})
	if err != nil {
		return false, fmt.Errorf("assignment of role %q: %w", a.RoleID, err)
	}
	return ok, nil
}

// evaluationContext copies req.Context and fills in the principal.
func evaluationContext(req *Request) map[string]any {
	ctx := make(map[string]any, len(req.Context)+2)
	for k, v := range req.Context {
		ctx[k] = v
	}
	if _, ok := ctx[permission.CtxCurrentUser]; !ok && req.UserID != "" {
		ctx[permission.CtxCurrentUser] = req.UserID
	}
	if _, ok := ctx[permission.CtxTenantID]; !ok && req.TenantID != "" {
		ctx[permission.CtxTenantID] = req.TenantID
	}
	return ctx
}

func matchName(m permission.Match) string {
	switch m {
	case permission.MatchGlobal:
		return "global wildcard"
	case permission.MatchExact:
		return "exact permission"
	case permission.MatchResource:
		return "resource wildcard"
	default:
		return "none"
	}
}

type nopRecorder struct{}

func (nopRecorder) Record(_ context.Context, e audit.Entry) audit.Entry { return e }
