// Package usagestore persists per-workspace usage counters in
// PostgreSQL with Redis-backed idempotency replay for increments.
package usagestore
