// Package mapservice wires the indexer, catalog, worker pools, dispatchers
// and request shim together into a single http.Handler serving the whole
// map server: one worker pool per located backend, one dispatcher per
// route suffix, indexing always complete before any worker spawns.
package mapservice

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/geoserve/mapserver/pkg/catalog"
	"github.com/geoserve/mapserver/pkg/config"
	"github.com/geoserve/mapserver/pkg/dispatcher"
	"github.com/geoserve/mapserver/pkg/events"
	"github.com/geoserve/mapserver/pkg/indexer"
	"github.com/geoserve/mapserver/pkg/metrics"
	"github.com/geoserve/mapserver/pkg/pool"
	"github.com/geoserve/mapserver/pkg/shim"
	"github.com/geoserve/mapserver/pkg/types"
)

// Service owns every running worker pool for the process lifetime and
// exposes one http.Handler serving all discovered WMS routes plus the
// metrics and health endpoints.
type Service struct {
	cfg     config.Config
	logger  zerolog.Logger
	broker  *events.Broker
	indexer *indexer.Indexer
	catalog *catalog.Catalog
	pools     map[types.BackendName]*pool.WorkerPool
	mux       *http.ServeMux
	watchStop chan struct{}
}

// New discovers backends and project files, spawns a worker pool per
// located backend, and builds the routed HTTP handler. Indexing always
// completes before any worker is spawned, so workers never observe a
// half-built inventory.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger, mockExePath string) (*Service, error) {
	cat := catalog.New(
		catalog.QgisBackend(""),
		catalog.UmnBackend(""),
		catalog.MockBackend(mockExePath),
	)

	ix := indexer.New(cfg.BaseDir, cat, logger)
	for _, override := range cfg.ProjectOverrides {
		suffix := strings.TrimPrefix(filepath.Ext(override), ".")
		backend, ok := cat.ForSuffix(suffix)
		if !ok {
			logger.Warn().Str("file", override).Str("suffix", suffix).Msg("project-file override names an unrecognized suffix, ignoring")
			continue
		}
		ix.SetBaseDirOverride(backend.Name, filepath.Dir(override))
	}

	inv, err := ix.Scan()
	if err != nil {
		metrics.RegisterCriticalComponent("catalog", false, err.Error())
		return nil, fmt.Errorf("initial project scan: %w", err)
	}
	metrics.RegisterCriticalComponent("catalog", true, "")

	broker := events.NewBroker()
	broker.Start()

	svc := &Service{
		cfg:       cfg,
		logger:    logger,
		broker:    broker,
		indexer:   ix,
		catalog:   cat,
		pools:     make(map[types.BackendName]*pool.WorkerPool),
		mux:       http.NewServeMux(),
		watchStop: make(chan struct{}),
	}

	targets := make(map[string]*shim.Target)

	for _, backend := range cat.Backends {
		if !cfg.BackendFilter(backend.Name) {
			continue
		}
		exe, err := backend.Locate()
		if err != nil {
			logger.Warn().Str("backend", string(backend.Name)).Err(err).Msg("backend not located, omitting from pool set")
			continue
		}

		wp := pool.New(pool.Config{
			Backend:        backend,
			Exe:            exe,
			BaseDir:        inv.BaseDirs[backend.Name],
			NumWorkers:     cfg.WorkerCount(runtime.NumCPU()),
			ClientPoolSize: cfg.ClientPoolSize,
			SocketDir:      socketDirFor(cfg.SocketDir, backend.Name),
			WaitTimeout:    cfg.WaitTimeout,
			RecycleAfter:   cfg.RecycleAfter,
		}, broker, logger)

		if err := wp.Start(ctx); err != nil {
			metrics.RegisterCriticalComponent(poolComponent(backend.Name), false, err.Error())
			logger.Error().Str("backend", string(backend.Name)).Err(err).Msg("failed to start worker pool, omitting backend")
			continue
		}
		metrics.RegisterCriticalComponent(poolComponent(backend.Name), true, "")
		svc.pools[backend.Name] = wp

		for _, suffix := range backend.ProjectSuffixes {
			d, opt := newDispatcher(cfg, wp)
			targets[suffix] = &shim.Target{Backend: backend.Name, Pool: wp, Dispatcher: d, Optimized: opt}
		}
	}

	// "pool" is a critical aggregate over every per-backend pool component
	// registered above: readiness requires at least one backend actually
	// serving requests, not merely that the backends which did start are
	// individually healthy.
	if len(svc.pools) == 0 {
		metrics.RegisterCriticalComponent("pool", false, "no backend worker pool started")
		logger.Warn().Msg("no backend worker pool started")
	} else {
		metrics.RegisterCriticalComponent("pool", true, "")
	}

	svc.mux.Handle("/wms/{suffix}/{project...}", shim.New(targets, logger))
	svc.mux.Handle("/metrics", metrics.Handler())
	svc.mux.HandleFunc("/healthz", metrics.HealthHandler())
	svc.mux.HandleFunc("/readyz", metrics.ReadyHandler())

	go func() {
		if err := ix.Watch(svc.watchStop); err != nil {
			logger.Warn().Err(err).Msg("live re-indexing unavailable")
		}
	}()

	return svc, nil
}

func newDispatcher(cfg config.Config, load dispatcher.PoolLoad) (dispatcher.Dispatcher, *dispatcher.WmsOptimized) {
	if cfg.DispatchMode == dispatcher.ModeWmsOptimized {
		opt := dispatcher.NewWmsOptimized(load, dispatcher.WmsOptimizedConfig{SlowThreshold: cfg.SlowThreshold})
		return opt, opt
	}
	return dispatcher.New(cfg.DispatchMode, load, dispatcher.WmsOptimizedConfig{}), nil
}

func socketDirFor(base string, backend types.BackendName) string {
	dir := filepath.Join(base, "mapserver-"+string(backend)+"-"+uuid.NewString()[:8])
	_ = os.MkdirAll(dir, 0o755)
	return dir
}

// poolComponent names the health component for a backend's worker pool.
func poolComponent(backend types.BackendName) string {
	return "pool:" + string(backend)
}

// Handler returns the composed http.Handler for the whole service.
func (s *Service) Handler() http.Handler { return s.mux }

// Inventory returns the discovered WMS service list.
func (s *Service) Inventory() types.Inventory { return s.indexer.Inventory() }

// Shutdown tears down the watcher, every worker pool, and the event broker.
func (s *Service) Shutdown() {
	close(s.watchStop)
	metrics.UpdateComponent("pool", false, "shutting down")
	for backend, wp := range s.pools {
		metrics.UpdateComponent(poolComponent(backend), false, "shutting down")
		wp.Stop()
	}
	s.broker.Stop()
}
