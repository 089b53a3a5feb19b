package authz

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vyrodovalexey/rosterguard/internal/audit"
	"github.com/vyrodovalexey/rosterguard/internal/condition"
	"github.com/vyrodovalexey/rosterguard/internal/permission"
	"github.com/vyrodovalexey/rosterguard/internal/role"
)

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type fixture struct {
	engine  *Engine
	store   *role.MemoryStore
	log     *audit.Log
	metrics *Metrics
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWithRegistry(t, permission.NewDefaultRegistry(), opts...)
}

func newFixtureWithRegistry(t *testing.T, reg *permission.Registry, opts ...Option) *fixture {
	t.Helper()

	store := role.NewMemoryStore(role.SystemRoles(permission.NewDefaultRegistry()))
	log := audit.NewLog(nil, audit.WithMetrics(audit.NewMetrics(prometheus.NewRegistry())))
	t.Cleanup(func() { _ = log.Close() })

	compiler, err := role.NewCompiler(0)
	require.NoError(t, err)

	m := NewMetrics(prometheus.NewRegistry())
	opts = append([]Option{
		WithClock(func() time.Time { return testNow }),
		WithMetrics(m),
		WithCompiler(compiler),
	}, opts...)

	return &fixture{
		engine:  NewEngine(reg, role.NewResolver(store), log, opts...),
		store:   store,
		log:     log,
		metrics: m,
	}
}

func (f *fixture) assign(t *testing.T, userID, roleID, tenantID string, conds ...string) {
	t.Helper()
	require.NoError(t, f.store.SaveAssignment(context.Background(), role.Assignment{
		UserID:     userID,
		RoleID:     roleID,
		TenantID:   tenantID,
		AssignedAt: testNow,
		Conditions: conds,
	}))
}

func (f *fixture) saveRole(t *testing.T, r *role.Role) {
	t.Helper()
	if r.TenantID == "" {
		r.TenantID = "t1"
	}
	if r.Level == 0 {
		r.Level = 20
	}
	require.NoError(t, f.store.SaveRole(context.Background(), r))
}

func TestEngine_ManagerScenario(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.assign(t, "u1", role.RoleManager, "t1")
	ctx := context.Background()

	d := f.engine.Authorize(ctx, &Request{UserID: "u1", TenantID: "t1", Permission: "schedules:create"})
	assert.True(t, d.Allowed)
	assert.Equal(t, audit.ResultSuccess, d.Result)
	assert.Equal(t, role.RoleManager, d.Role)
	assert.Contains(t, d.Reason, "resource wildcard")

	assert.False(t, f.engine.HasPermission(ctx, &Request{UserID: "u1", TenantID: "t1", Permission: "employees:delete"}))

	entries := f.log.Query(audit.Filter{UserID: "u1"})
	require.Len(t, entries, 2)
	assert.Equal(t, "employees:delete", entries[0].Action)
	assert.Equal(t, audit.ResultBlocked, entries[0].Result)
	assert.Equal(t, "employees", entries[0].Resource)
	assert.Equal(t, audit.ResultSuccess, entries[1].Result)
	assert.Equal(t, d.AuditID, entries[1].ID)
}

func TestEngine_GlobalWildcardIsUnconditional(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.saveRole(t, &role.Role{ID: "superuser", Permissions: []string{"*"}})
	f.assign(t, "u1", "superuser", "t1")

	reg := permission.NewDefaultRegistry()
	for _, id := range reg.IDs() {
		d := f.engine.Authorize(context.Background(), &Request{
			UserID:     "u1",
			TenantID:   "t1",
			Permission: id,
			Resource:   map[string]any{"employeeId": "u1", "id": "someone-else", "status": "approved"},
		})
		assert.True(t, d.Allowed, id)
	}
}

func TestEngine_Conditions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.assign(t, "emp", role.RoleEmployee, "t1")
	f.assign(t, "mgr", role.RoleManager, "t1")
	f.saveRole(t, &role.Role{ID: "timekeeper", Permissions: []string{"timesheets:*"}})
	f.assign(t, "tk", "timekeeper", "t1")

	tests := []struct {
		name     string
		userID   string
		perm     string
		resource map[string]any
		context  map[string]any
		want     bool
	}{
		{name: "own shift", userID: "emp", perm: "shifts:read_own", resource: map[string]any{"employeeId": "emp"}, want: true},
		{name: "someone else's shift", userID: "emp", perm: "shifts:read_own", resource: map[string]any{"employeeId": "other"}},
		{name: "no resource", userID: "emp", perm: "shifts:read_own", want: true},
		{name: "draft timesheet", userID: "emp", perm: "timesheets:update_own",
			resource: map[string]any{"employeeId": "emp", "status": "draft"}, want: true},
		{name: "submitted timesheet", userID: "emp", perm: "timesheets:update_own",
			resource: map[string]any{"employeeId": "emp", "status": "submitted"}},
		{name: "approve other's time off", userID: "mgr", perm: "time_off:approve",
			resource: map[string]any{"employeeId": "emp"}, want: true},
		{name: "approve own time off", userID: "mgr", perm: "time_off:approve",
			resource: map[string]any{"employeeId": "mgr"}},
		{name: "explicit current user wins", userID: "mgr", perm: "time_off:approve",
			resource: map[string]any{"employeeId": "emp"}, context: map[string]any{"current_user": "emp"}},
		{name: "resource wildcard applies conditions", userID: "tk", perm: "timesheets:approve",
			resource: map[string]any{"employeeId": "tk"}},
		{name: "resource wildcard passes conditions", userID: "tk", perm: "timesheets:approve",
			resource: map[string]any{"employeeId": "emp"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := f.engine.Authorize(context.Background(), &Request{
				UserID:     tt.userID,
				TenantID:   "t1",
				Permission: tt.perm,
				Resource:   tt.resource,
				Context:    tt.context,
			})
			assert.Equal(t, tt.want, d.Allowed, d.Reason)
			if !tt.want {
				assert.Equal(t, audit.ResultBlocked, d.Result)
			}
		})
	}
}

func TestEngine_Inheritance(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.saveRole(t, &role.Role{ID: "c", Permissions: []string{"reports:export"}})
	f.saveRole(t, &role.Role{ID: "b", Permissions: []string{"locations:read"}, Inherits: []string{"c"}})
	f.saveRole(t, &role.Role{ID: "a", Permissions: []string{"departments:read"}, Inherits: []string{"b"}})
	f.assign(t, "u1", "a", "t1")

	d := f.engine.Authorize(context.Background(), &Request{UserID: "u1", TenantID: "t1", Permission: "reports:export"})
	assert.True(t, d.Allowed)
	assert.Equal(t, "c", d.Role)

	f.assign(t, "aud", role.RoleAuditor, "t1")
	assert.True(t, f.engine.HasPermission(context.Background(),
		&Request{UserID: "aud", TenantID: "t1", Permission: "schedules:read"}))
}

func TestEngine_InheritanceCycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.saveRole(t, &role.Role{ID: "ping", Permissions: []string{"departments:read"}, Inherits: []string{"pong"}})
	f.saveRole(t, &role.Role{ID: "pong", Permissions: []string{"locations:read"}, Inherits: []string{"ping"}})
	f.assign(t, "u1", "ping", "t1")
	ctx := context.Background()

	d := f.engine.Authorize(ctx, &Request{UserID: "u1", TenantID: "t1", Permission: "billing:manage"})
	assert.False(t, d.Allowed)
	assert.Equal(t, audit.ResultFailure, d.Result)
	assert.Contains(t, d.Reason, role.ErrRoleCycle.Error())

	d = f.engine.Authorize(ctx, &Request{UserID: "u1", TenantID: "t1", Permission: "locations:read"})
	assert.True(t, d.Allowed, "grants reached before the cycle still apply")
}

func TestEngine_DiamondIsNotACycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.saveRole(t, &role.Role{ID: "base", Permissions: []string{"departments:read"}})
	f.saveRole(t, &role.Role{ID: "left", Permissions: []string{"locations:read"}, Inherits: []string{"base"}})
	f.saveRole(t, &role.Role{ID: "right", Permissions: []string{"reports:read"}, Inherits: []string{"base"}})
	f.saveRole(t, &role.Role{ID: "top", Permissions: []string{"settings:read"}, Inherits: []string{"left", "right"}})
	f.assign(t, "u1", "top", "t1")
	ctx := context.Background()

	d := f.engine.Authorize(ctx, &Request{UserID: "u1", TenantID: "t1", Permission: "billing:manage"})
	assert.False(t, d.Allowed)
	assert.Equal(t, audit.ResultBlocked, d.Result)

	assert.True(t, f.engine.HasPermission(ctx, &Request{UserID: "u1", TenantID: "t1", Permission: "reports:read"}))
}

func TestEngine_MissingInheritedRoleFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.saveRole(t, &role.Role{ID: "orphan", Permissions: []string{"departments:read"}, Inherits: []string{"ghost"}})
	f.assign(t, "u1", "orphan", "t1")

	d := f.engine.Authorize(context.Background(), &Request{UserID: "u1", TenantID: "t1", Permission: "reports:read"})
	assert.False(t, d.Allowed)
	assert.Equal(t, audit.ResultFailure, d.Result)
	assert.Contains(t, d.Reason, role.ErrRoleNotFound.Error())
}

func TestEngine_ExpiredAssignment(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	expired := testNow.Add(-time.Minute)
	require.NoError(t, f.store.SaveAssignment(context.Background(), role.Assignment{
		UserID: "u1", RoleID: role.RoleOwner, TenantID: "t1", ExpiresAt: &expired,
	}))

	d := f.engine.Authorize(context.Background(), &Request{UserID: "u1", TenantID: "t1", Permission: "reports:read"})
	assert.False(t, d.Allowed)
	assert.Equal(t, audit.ResultBlocked, d.Result)
	assert.Equal(t, "no active roles", d.Reason)
}

func TestEngine_TenantIsolation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.assign(t, "u1", role.RoleOwner, "t1")

	assert.True(t, f.engine.HasPermission(context.Background(), &Request{UserID: "u1", TenantID: "t1", Permission: "billing:manage"}))
	assert.False(t, f.engine.HasPermission(context.Background(), &Request{UserID: "u1", TenantID: "t2", Permission: "billing:manage"}))
}

func TestEngine_InvalidPermissionFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.assign(t, "u1", role.RoleOwner, "t1")

	for _, perm := range []string{"", "bogus", "schedules:*", "*", "schedules:fly"} {
		d := f.engine.Authorize(context.Background(), &Request{UserID: "u1", TenantID: "t1", Permission: perm})
		assert.False(t, d.Allowed, perm)
		assert.Equal(t, audit.ResultFailure, d.Result, perm)
		assert.Contains(t, d.Reason, "invalid permission", perm)
	}
}

func TestEngine_ConditionErrorFailsClosed(t *testing.T) {
	t.Parallel()

	reg, err := permission.NewRegistry([]permission.Definition{
		{ID: "departments:read", Conditions: []condition.Condition{
			condition.New("employeeId", condition.In, "not-a-list"),
		}},
	})
	require.NoError(t, err)

	f := newFixtureWithRegistry(t, reg)
	f.assign(t, "u1", role.RoleViewer, "t1")

	d := f.engine.Authorize(context.Background(), &Request{
		UserID:     "u1",
		TenantID:   "t1",
		Permission: "departments:read",
		Resource:   map[string]any{"employeeId": "u1"},
	})
	assert.False(t, d.Allowed)
	assert.Equal(t, audit.ResultFailure, d.Result)
	assert.Contains(t, d.Reason, "employeeId")
}

func TestEngine_AssignmentConditions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.assign(t, "u1", role.RoleScheduler, "t1", `has(resource.location) && resource.location == "north"`)
	f.assign(t, "u2", role.RoleScheduler, "t1", `resource.location == "north"`)
	ctx := context.Background()

	north := map[string]any{"location": "north"}
	south := map[string]any{"location": "south"}

	assert.True(t, f.engine.HasPermission(ctx, &Request{UserID: "u1", TenantID: "t1", Permission: "schedules:publish", Resource: north}))
	assert.False(t, f.engine.HasPermission(ctx, &Request{UserID: "u1", TenantID: "t1", Permission: "schedules:publish", Resource: south}))
	assert.False(t, f.engine.HasPermission(ctx, &Request{UserID: "u1", TenantID: "t1", Permission: "schedules:publish"}))

	d := f.engine.Authorize(ctx, &Request{UserID: "u2", TenantID: "t1", Permission: "schedules:publish"})
	assert.False(t, d.Allowed)
	assert.Equal(t, audit.ResultFailure, d.Result)
}

func TestEngine_AssignmentConditionsWithoutCompiler(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithCompiler(nil))
	f.assign(t, "u1", role.RoleScheduler, "t1", `true`)

	d := f.engine.Authorize(context.Background(), &Request{UserID: "u1", TenantID: "t1", Permission: "schedules:read"})
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, ErrConditionsUnsupported.Error())
}

func TestEngine_AuthorizeRoles(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	key := &role.Role{ID: "apikey:k1", Permissions: []string{"reports:read", "exports:*"}}
	require.NoError(t, key.Compile())
	ctx := context.Background()

	req := &Request{UserID: "u1", TenantID: "t1", Permission: "exports:create"}
	assert.True(t, f.engine.AuthorizeRoles(ctx, req, []*role.Role{key}).Allowed)

	req.Permission = "reports:create"
	d := f.engine.AuthorizeRoles(ctx, req, []*role.Role{key})
	assert.False(t, d.Allowed)
	assert.Equal(t, audit.ResultBlocked, d.Result)

	d = f.engine.AuthorizeRoles(ctx, req, nil)
	assert.Equal(t, "no active roles", d.Reason)
}

type panickingStore struct {
	role.Store
}

func (panickingStore) ListAssignments(context.Context, string, string) ([]role.Assignment, error) {
	panic("store exploded")
}

func TestEngine_PanicBecomesFailure(t *testing.T) {
	t.Parallel()

	log := audit.NewLog(nil)
	t.Cleanup(func() { _ = log.Close() })
	engine := NewEngine(permission.NewDefaultRegistry(), role.NewResolver(panickingStore{}), log,
		WithMetrics(NewMetrics(prometheus.NewRegistry())))

	var d *Decision
	require.NotPanics(t, func() {
		d = engine.Authorize(context.Background(), &Request{UserID: "u1", TenantID: "t1", Permission: "reports:read"})
	})
	assert.False(t, d.Allowed)
	assert.Equal(t, audit.ResultFailure, d.Result)
	assert.Contains(t, d.Reason, "store exploded")
	assert.Equal(t, 1, log.Len())
}

func TestEngine_NilRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	d := f.engine.Authorize(context.Background(), nil)
	assert.False(t, d.Allowed)
	assert.Equal(t, audit.ResultFailure, d.Result)
}

func TestEngine_OneAuditEntryPerCall(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.assign(t, "u1", role.RoleManager, "t1")

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			perm := "schedules:read"
			if i%2 == 0 {
				perm = "billing:manage"
			}
			f.engine.Authorize(context.Background(), &Request{UserID: "u1", TenantID: "t1", Permission: perm})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 40, f.log.Len())
	assert.Len(t, f.log.Query(audit.Filter{Result: audit.ResultBlocked}), 20)
	assert.Equal(t, float64(20), testutil.ToFloat64(f.metrics.decisionsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(20), testutil.ToFloat64(f.metrics.decisionsTotal.WithLabelValues("blocked")))
}

func TestEngine_Span(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newFixture(t, WithTracer(tp.Tracer(TracerName)))
	f.assign(t, "u1", role.RoleViewer, "t1")

	d := f.engine.Authorize(context.Background(), &Request{UserID: "u1", TenantID: "t1", Permission: "reports:read"})
	require.True(t, d.Allowed)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "authz.authorize", spans[0].Name)

	attrs := make(map[string]string)
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "reports:read", attrs["authz.permission"])
	assert.Equal(t, "true", attrs["authz.allowed"])
	assert.Equal(t, "viewer", attrs["authz.role"])

	entries := f.log.Query(audit.Filter{})
	require.Len(t, entries, 1)
	assert.Equal(t, spans[0].SpanContext.TraceID().String(), entries[0].TraceID)
}
