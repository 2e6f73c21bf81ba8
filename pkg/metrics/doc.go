// Package metrics defines the Prometheus metrics surface for the map
// server: request counters and latency histograms, per-worker client pool
// gauges, project cache visibility, and dispatcher promotion/demotion
// counters for the WmsOptimized policy.
//
// Metrics are updated inline by the packages that own the relevant state
// (pool on acquire/release, shim on request completion, dispatcher on
// promotion/demotion) rather than polled by a periodic collector, since
// every one of these values already changes at a well-defined call site.
//
// Handler exposes the registry over HTTP via promhttp. HealthHandler
// reports liveness from non-critical components only; ReadyHandler reports
// readiness from components registered critical (the catalog and each
// backend's worker pool) so a backend simply not being installed is a
// readiness concern, not grounds to consider the process itself broken.
package metrics
