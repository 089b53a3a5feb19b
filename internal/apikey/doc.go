// Package apikey issues, validates and revokes tenant API keys.
//
// A key is an opaque secret ("rg_" followed by 32 alphanumerics). Only its
// SHA-256 hash is stored. Each key carries a permission set and an optional
// rate limit; Authorize checks the limit and then asks the decision engine
// with a role built from the key's permissions.
package apikey
