// Package pool implements the Process Pool and the per-worker Client Pool.
//
// A WorkerPool owns N Workers and N ClientPools, one-to-one, for a single
// backend. It spawns all N workers at startup, then runs a watchdog loop
// that respawns any worker whose process has died, always with a fresh
// socket path, updating the owning ClientPool's target before any new
// connection is dialed against it.
package pool

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/geoserve/mapserver/pkg/apperrors"
	"github.com/geoserve/mapserver/pkg/catalog"
	"github.com/geoserve/mapserver/pkg/events"
	"github.com/geoserve/mapserver/pkg/metrics"
	"github.com/geoserve/mapserver/pkg/worker"
)

// Config configures a WorkerPool for one backend.
type Config struct {
	Backend        catalog.Backend
	Exe            string
	Args           []string
	// BaseDir is the indexed base_dir for this backend, set as the
	// working directory of every spawned worker process.
	BaseDir          string
	NumWorkers       int
	ClientPoolSize   int
	SocketDir        string
	DialTimeout      time.Duration
	WaitTimeout      time.Duration
	RecycleAfter     int
	WatchdogInterval time.Duration
	ReadyTimeout     time.Duration
}

// WorkerPool supervises every worker process for one backend and the
// client pools talking to them.
type WorkerPool struct {
	cfg    Config
	broker *events.Broker
	logger zerolog.Logger

	mu          sync.RWMutex
	workers     []*worker.Worker
	clientPools []*ClientPool

	stopCh chan struct{}
}

// New builds an unstarted WorkerPool. Call Start to spawn workers.
func New(cfg Config, broker *events.Broker, logger zerolog.Logger) *WorkerPool {
	if cfg.WatchdogInterval == 0 {
		cfg.WatchdogInterval = 2 * time.Second
	}
	return &WorkerPool{
		cfg:    cfg,
		broker: broker,
		logger: logger.With().Str("backend", string(cfg.Backend.Name)).Logger(),
		stopCh: make(chan struct{}),
	}
}

// Start spawns NumWorkers worker processes concurrently and builds one
// ClientPool per worker. If any worker fails to spawn, every worker
// started so far is torn down and the first error is returned: a pool is
// either fully up or not running at all.
func (wp *WorkerPool) Start(ctx context.Context) error {
	n := wp.cfg.NumWorkers
	workers := make([]*worker.Worker, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			w := worker.New(worker.Config{
				Idx:          idx,
				Backend:      wp.cfg.Backend.Name,
				Exe:          wp.cfg.Exe,
				Args:         wp.cfg.Args,
				Env:          wp.cfg.Backend.Env,
				Dir:          wp.cfg.BaseDir,
				SocketDir:    wp.cfg.SocketDir,
				ReadyTimeout: wp.cfg.ReadyTimeout,
			}, wp.broker, wp.logger)

			if err := w.Spawn(ctx); err != nil {
				errs[idx] = apperrors.New(apperrors.KindSpawnFailed, fmt.Sprintf("worker %d", idx), err)
				return
			}
			workers[idx] = w
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			for _, w := range workers {
				if w != nil {
					w.Kill()
				}
			}
			return err
		}
	}

	clientPools := make([]*ClientPool, n)
	for i, w := range workers {
		clientPools[i] = NewClientPool(ClientPoolConfig{
			Backend:      wp.cfg.Backend.Name,
			WorkerIdx:    i,
			SocketPath:   w.SocketPath(),
			Size:         wp.cfg.ClientPoolSize,
			DialTimeout:  wp.cfg.DialTimeout,
			WaitTimeout:  wp.cfg.WaitTimeout,
			RecycleAfter: wp.cfg.RecycleAfter,
		}, wp.logger)
	}

	wp.mu.Lock()
	wp.workers = workers
	wp.clientPools = clientPools
	wp.mu.Unlock()

	metrics.WorkersAlive.WithLabelValues(string(wp.cfg.Backend.Name)).Set(float64(n))

	go wp.watchdog(ctx)

	wp.logger.Info().Int("workers", n).Msg("worker pool started")
	return nil
}

// NumWorkers returns the configured pool size.
func (wp *WorkerPool) NumWorkers() int { return wp.cfg.NumWorkers }

// WorkerCount satisfies dispatcher.PoolLoad.
func (wp *WorkerPool) WorkerCount() int { return wp.cfg.NumWorkers }

// InUseCount satisfies dispatcher.PoolLoad: the number of connections
// currently checked out of worker idx's client pool.
func (wp *WorkerPool) InUseCount(idx int) int {
	return wp.ClientPoolFor(idx).InUse()
}

// ClientPoolFor returns the ClientPool bound to worker idx.
func (wp *WorkerPool) ClientPoolFor(idx int) *ClientPool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.clientPools[idx]
}

// AliveCount returns how many workers are currently running.
func (wp *WorkerPool) AliveCount() int {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	n := 0
	for _, w := range wp.workers {
		if w.IsAlive() {
			n++
		}
	}
	return n
}

// Stop tears down the watchdog and every worker process.
func (wp *WorkerPool) Stop() {
	close(wp.stopCh)

	wp.mu.RLock()
	workers := wp.workers
	wp.mu.RUnlock()

	for _, w := range workers {
		w.Kill()
	}
}

func (wp *WorkerPool) watchdog(ctx context.Context) {
	ticker := time.NewTicker(wp.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			wp.checkWorkers(ctx)
		case <-wp.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (wp *WorkerPool) checkWorkers(ctx context.Context) {
	wp.mu.RLock()
	workers := append([]*worker.Worker(nil), wp.workers...)
	wp.mu.RUnlock()

	alive := 0
	for idx, w := range workers {
		if w.IsAlive() {
			alive++
			continue
		}
		wp.respawn(ctx, idx)
		wp.mu.RLock()
		respawned := wp.workers[idx].IsAlive()
		wp.mu.RUnlock()
		if respawned {
			alive++
		}
	}
	metrics.WorkersAlive.WithLabelValues(string(wp.cfg.Backend.Name)).Set(float64(alive))
}

func (wp *WorkerPool) respawn(ctx context.Context, idx int) {
	w := worker.New(worker.Config{
		Idx:          idx,
		Backend:      wp.cfg.Backend.Name,
		Exe:          wp.cfg.Exe,
		Args:         wp.cfg.Args,
		Env:          wp.cfg.Backend.Env,
		Dir:          wp.cfg.BaseDir,
		SocketDir:    wp.cfg.SocketDir,
		ReadyTimeout: wp.cfg.ReadyTimeout,
	}, wp.broker, wp.logger)

	if err := w.Spawn(ctx); err != nil {
		wp.logger.Error().Err(err).Int("worker", idx).Msg("failed to respawn worker")
		return
	}

	wp.mu.Lock()
	wp.workers[idx] = w
	wp.clientPools[idx].UpdateSocketPath(w.SocketPath())
	wp.mu.Unlock()

	metrics.WorkersRespawnedTotal.WithLabelValues(string(wp.cfg.Backend.Name)).Inc()
	wp.logger.Info().Int("worker", idx).Str("socket", w.SocketPath()).Msg("worker respawned")
}

func workerLabel(idx int) string {
	return strconv.Itoa(idx)
}
