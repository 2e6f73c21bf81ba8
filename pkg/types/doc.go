// Package types defines the domain model shared by the indexer, catalog,
// pool and dispatcher packages: discovered project files, the WMS services
// derived from them, and the request fingerprint used for dispatch affinity.
//
// These types are built once during indexing/catalog construction and are
// read-only afterward; callers needing mutable per-request or per-worker
// state define their own types in the owning package instead of growing
// this one into a shared god-package.
package types
