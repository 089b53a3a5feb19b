// Package ratelimit enforces per-resource request quotas with a fixed-window
// counter.
//
// A window starts at the first request for a (resource, identifier) pair and
// lasts for the resource's configured window. Every call counts, including
// calls that are rejected, and a request is allowed while the count stays
// within the quota. Because windows are fixed, up to twice the quota can be
// admitted across a window boundary.
//
// Counters live in a store.Store: process memory by default, or Redis behind
// a circuit breaker when several instances must share one quota.
package ratelimit
