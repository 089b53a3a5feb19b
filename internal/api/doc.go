// Package api exposes the guard Service over HTTP using gin.
//
// Principals are identified by the request body; authenticating the
// caller is left to the hosting deployment.
package api
