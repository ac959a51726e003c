// Package httpserver runs an http.Server with graceful shutdown wired
// to context cancellation and process signals.
package httpserver
