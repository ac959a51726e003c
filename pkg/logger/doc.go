// Package logger builds slog loggers with environment-driven level and
// format selection. Services construct one logger at startup and pass it
// down; libraries accept *slog.Logger and never construct their own.
package logger
