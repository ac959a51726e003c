// Package accounting provides the HTTP client for the remote usage accounting
// service, the system of record for per-user counters.
//
// The client implements entitlement.AccountingClient. Two endpoints are used:
// GET /v1/usage returns the caller's snapshot, POST /v1/usage/increment
// records consumption and returns the authoritative new total. Both carry a
// bearer token from the injected TokenSource; increments additionally carry a
// client-generated Idempotency-Key header so retries cannot double-count.
//
// All calls are wrapped in a sony/gobreaker circuit breaker: after repeated
// consecutive failures the breaker opens and calls fail fast with
// ErrServiceUnavailable until the backend recovers.
package accounting
