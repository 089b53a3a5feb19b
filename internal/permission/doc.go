// Package permission holds the permission catalog and the parsed permission
// patterns granted by roles.
//
// Permission ids take one of three forms:
//
//	*                  global wildcard
//	resource:*         every action on one resource type
//	resource:action    a single catalog permission
//
// Ids are parsed once into a Pattern when roles are built; matching a
// request against a role's Set never re-splits strings.
package permission
