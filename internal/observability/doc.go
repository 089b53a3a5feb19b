// Package observability wires the structured logger and the OpenTelemetry
// tracer used across rosterguard.
//
// Every component accepts an observability.Logger and falls back to
// NopLogger when none is supplied, so packages can be constructed in tests
// without any logging setup.
package observability
