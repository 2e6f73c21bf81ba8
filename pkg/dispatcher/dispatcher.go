// Package dispatcher selects a worker index for an incoming WMS request.
// It models a closed set of policies sharing one Select(queryString) int
// entry point; the rolling-average promotion/demotion algorithm in
// wmsoptimized.go is this package's own design for the "wms_optimized"
// policy, since no working reference for it exists to follow.
package dispatcher

// Mode names one of the closed set of dispatch policies.
type Mode string

const (
	ModeRandom       Mode = "random"
	ModeRoundRobin   Mode = "round_robin"
	ModeWmsOptimized Mode = "wms_optimized"
)

// Dispatcher picks a worker index for a request's raw query string.
// Implementations never block: affinity is advisory, never a guarantee.
type Dispatcher interface {
	Select(queryString string) int
}

// PoolLoad is the read-only view of worker load the optimized dispatcher
// needs to break ties and pick an initial assignment. pkg/pool's WorkerPool
// implements this directly.
type PoolLoad interface {
	WorkerCount() int
	InUseCount(workerIdx int) int
}

// New builds the Dispatcher named by mode.
func New(mode Mode, load PoolLoad, cfg WmsOptimizedConfig) Dispatcher {
	switch mode {
	case ModeRoundRobin:
		return NewRoundRobin(load.WorkerCount())
	case ModeWmsOptimized:
		return NewWmsOptimized(load, cfg)
	default:
		return NewRandom(load.WorkerCount())
	}
}

// leastLoaded returns the worker index with the fewest in-use clients,
// lowest index winning ties.
func leastLoaded(load PoolLoad) int {
	best := 0
	bestLoad := load.InUseCount(0)
	for i := 1; i < load.WorkerCount(); i++ {
		if n := load.InUseCount(i); n < bestLoad {
			best = i
			bestLoad = n
		}
	}
	return best
}
