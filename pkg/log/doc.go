// Package log provides structured logging for the map server using
// zerolog: one global Logger configured once at startup, plus
// WithComponent/WithBackend/WithWorker helpers for scoped child loggers.
//
// Console output is used by default for local development; JSON output is
// selected via Config.JSONOutput for production deployments where logs are
// shipped to a collector.
package log
