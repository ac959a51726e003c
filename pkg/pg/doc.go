// Package pg provides PostgreSQL connectivity helpers built on pgx:
// retried pool construction, goose migrations, and a health probe.
package pg
