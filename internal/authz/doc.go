// Package authz answers whether a principal may perform a permission on a
// resource within a tenant.
//
// The Engine resolves the principal's active roles, matches the requested
// permission against each role's grants (global wildcard, exact permission,
// resource wildcard, then inherited roles), applies the permission's
// registered conditions and any CEL conditions attached to the role
// assignment, and records exactly one audit entry per decision.
//
// Decisions are total: internal errors, including panics, deny the request
// and are recorded as audit failures with a reason.
package authz
