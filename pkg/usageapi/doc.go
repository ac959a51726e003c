// Package usageapi exposes the usage accounting system of record over
// HTTP: snapshot reads and idempotent counter increments, authenticated
// by workspace-scoped bearer tokens.
package usageapi
