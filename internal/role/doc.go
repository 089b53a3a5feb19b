// Package role models roles and tenant-scoped role assignments.
//
// System roles are seeded from the permission catalog; custom roles are
// created per tenant through Manager, which validates every permission and
// inheritance reference before anything is stored. Resolver answers which
// roles a user currently holds in a tenant.
package role
