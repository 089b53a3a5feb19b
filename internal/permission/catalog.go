package permission

import "github.com/vyrodovalexey/rosterguard/internal/condition"

// Resource types of the workforce-scheduling catalog.
const (
	ResourceEmployees    = "employees"
	ResourceSchedules    = "schedules"
	ResourceShifts       = "shifts"
	ResourceTimesheets   = "timesheets"
	ResourceTimeOff      = "time_off"
	ResourceAvailability = "availability"
	ResourceDepartments  = "departments"
	ResourceLocations    = "locations"
	ResourceReports      = "reports"
	ResourceCompliance   = "compliance"
	ResourceSettings     = "settings"
	ResourceUsers        = "users"
	ResourceRoles        = "roles"
	ResourceAudit        = "audit"
	ResourceAPIKeys      = "api_keys"
	ResourceIntegrations = "integrations"
	ResourceBilling      = "billing"
	ResourceTenant       = "tenant"
	ResourceExports      = "exports"
)

// Context keys injected by the decision engine.
const (
	CtxCurrentUser = "current_user"
	CtxTenantID    = "tenant_id"
)

var (
	ownRecord     = condition.New("employeeId", condition.Equals, "{"+CtxCurrentUser+"}")
	notOwnRecord  = condition.New("employeeId", condition.NotEquals, "{"+CtxCurrentUser+"}")
	ownProfile    = condition.New("id", condition.Equals, "{"+CtxCurrentUser+"}")
	editableSheet = condition.New("status", condition.In, []string{"draft", "rejected"})
)

func exact(resource string, actions ...string) []Definition {
	defs := make([]Definition, 0, len(actions))
	for _, a := range actions {
		defs = append(defs, Definition{ID: resource + ":" + a})
	}
	return defs
}

func conditional(id, description string, conds ...condition.Condition) Definition {
	return Definition{ID: id, Description: description, Conditions: conds}
}

// Catalog returns the built-in permission definitions.
func Catalog() []Definition {
	var defs []Definition
	add := func(d ...Definition) { defs = append(defs, d...) }

	add(exact(ResourceEmployees, "create", "read", "update", "delete", "invite")...)
	add(conditional("employees:read_own", "View your own employee profile", ownProfile))
	add(conditional("employees:update_own", "Edit your own contact details", ownProfile))

	add(exact(ResourceSchedules, "create", "read", "update", "delete", "publish")...)

	add(exact(ResourceShifts, "create", "read", "update", "delete", "assign")...)
	add(conditional("shifts:read_own", "View shifts assigned to you", ownRecord))
	add(conditional("shifts:swap", "Offer your own shift for swap", ownRecord))

	add(exact(ResourceTimesheets, "create", "read", "update", "delete")...)
	add(conditional("timesheets:read_own", "View your own timesheets", ownRecord))
	add(conditional("timesheets:update_own", "Edit your own draft or rejected timesheets", ownRecord, editableSheet))
	add(conditional("timesheets:approve", "Approve timesheets submitted by others", notOwnRecord))

	add(exact(ResourceTimeOff, "create", "read")...)
	add(conditional("time_off:read_own", "View your own time-off requests", ownRecord))
	add(conditional("time_off:approve", "Approve time-off requests submitted by others", notOwnRecord))
	add(conditional("time_off:cancel_own", "Cancel your own pending time-off requests", ownRecord,
		condition.New("status", condition.Equals, "pending")))

	add(exact(ResourceAvailability, "read", "update")...)
	add(conditional("availability:update_own", "Edit your own availability", ownRecord))

	add(exact(ResourceDepartments, "create", "read", "update", "delete")...)
	add(exact(ResourceLocations, "create", "read", "update", "delete")...)
	add(exact(ResourceReports, "create", "read", "export")...)
	add(exact(ResourceCompliance, "read", "manage")...)
	add(exact(ResourceSettings, "read", "update")...)
	add(exact(ResourceUsers, "create", "read", "update", "delete")...)
	add(exact(ResourceRoles, "create", "read", "update", "delete", "assign")...)
	add(exact(ResourceAudit, "read", "export")...)
	add(exact(ResourceAPIKeys, "create", "read", "revoke")...)
	add(exact(ResourceIntegrations, "read", "manage")...)
	add(exact(ResourceBilling, "read", "manage")...)
	add(exact(ResourceTenant, "read", "update", "delete")...)
	add(exact(ResourceExports, "create", "read")...)

	return defs
}

// NewDefaultRegistry builds a registry from Catalog.
func NewDefaultRegistry() *Registry {
	r, err := NewRegistry(Catalog())
	if err != nil {
		panic(err)
	}
	return r
}
