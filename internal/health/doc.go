// Package health serves liveness and readiness endpoints.
//
// Liveness only reports that the process is serving requests. Readiness
// runs every registered HealthCheck concurrently under a timeout and
// answers 503 when any of them fails, for example when the shared Redis
// client cannot be reached.
package health
