package role

import (
	"fmt"

	"github.com/vyrodovalexey/rosterguard/internal/permission"
)

// System role ids.
const (
	RoleOwner     = "owner"
	RoleAdmin     = "admin"
	RoleManager   = "manager"
	RoleScheduler = "scheduler"
	RoleAuditor   = "auditor"
	RoleEmployee  = "employee"
	RoleViewer    = "viewer"
)

// OwnerLevel is the highest level; custom roles must stay below it.
const OwnerLevel = 100

// SystemRoles returns the seeded roles. The owner and admin roles are built
// from the registry's resource types so they cover every catalog entry.
func SystemRoles(reg *permission.Registry) []*Role {
	var ownerPerms, adminPerms []string
	for _, res := range reg.Resources() {
		ownerPerms = append(ownerPerms, res+":*")
		switch res {
		case permission.ResourceBilling, permission.ResourceTenant:
			adminPerms = append(adminPerms, res+":read")
		default:
			adminPerms = append(adminPerms, res+":*")
		}
	}

	roles := []*Role{
		{
			ID:          RoleOwner,
			Name:        "Owner",
			Description: "Full control of the tenant, including billing",
			Level:       OwnerLevel,
			Permissions: ownerPerms,
		},
		{
			ID:          RoleAdmin,
			Name:        "Administrator",
			Description: "Manages the tenant except billing and tenant lifecycle",
			Level:       90,
			Permissions: adminPerms,
		},
		{
			ID:          RoleManager,
			Name:        "Manager",
			Description: "Runs schedules and approves team requests",
			Level:       70,
			Permissions: []string{
				"schedules:*",
				"shifts:*",
				"employees:read",
				"employees:update",
				"employees:invite",
				"timesheets:read",
				"timesheets:approve",
				"time_off:read",
				"time_off:approve",
				"availability:read",
				"availability:update",
				"departments:read",
				"locations:read",
				"reports:read",
				"reports:create",
				"compliance:read",
			},
		},
		{
			ID:          RoleScheduler,
			Name:        "Scheduler",
			Description: "Builds and publishes schedules",
			Level:       50,
			Permissions: []string{
				"schedules:create",
				"schedules:read",
				"schedules:update",
				"schedules:publish",
				"shifts:*",
				"employees:read",
				"availability:read",
				"time_off:read",
				"departments:read",
				"locations:read",
			},
		},
		{
			ID:          RoleAuditor,
			Name:        "Auditor",
			Description: "Read-only access plus the audit trail",
			Level:       30,
			Permissions: []string{
				"audit:read",
				"audit:export",
				"compliance:read",
			},
			Inherits: []string{RoleViewer},
		},
		{
			ID:          RoleEmployee,
			Name:        "Employee",
			Description: "Works shifts and manages their own records",
			Level:       10,
			Permissions: []string{
				"employees:read_own",
				"employees:update_own",
				"schedules:read",
				"shifts:read_own",
				"shifts:swap",
				"timesheets:create",
				"timesheets:read_own",
				"timesheets:update_own",
				"time_off:create",
				"time_off:read_own",
				"time_off:cancel_own",
				"availability:read",
				"availability:update_own",
			},
		},
		{
			ID:          RoleViewer,
			Name:        "Viewer",
			Description: "Read-only access to schedules and staff",
			Level:       5,
			Permissions: []string{
				"schedules:read",
				"shifts:read",
				"employees:read",
				"departments:read",
				"locations:read",
				"reports:read",
			},
		},
	}

	for _, r := range roles {
		r.IsSystemRole = true
		if err := reg.Validate(r.Permissions); err != nil {
			panic(fmt.Sprintf("system role %q: %v", r.ID, err))
		}
		if err := r.Compile(); err != nil {
			panic(err)
		}
	}
	return roles
}
