package worker

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/geoserve/mapserver/pkg/events"
	"github.com/geoserve/mapserver/pkg/health"
	"github.com/geoserve/mapserver/pkg/types"
)

// State is the lifecycle state of a single FastCGI worker process.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateReady   State = "ready"
	StateDead    State = "dead"
)

// Config describes how to spawn one worker process for a backend.
type Config struct {
	// Idx is this worker's fixed slot index within its pool.
	Idx int
	// Backend names the backend family this worker serves ("qgis", "umn", "mock").
	Backend types.BackendName
	// Exe is the absolute path to the FastCGI executable.
	Exe string
	Args []string
	// Env holds backend-specific environment variables, merged over the
	// supervisor's own environment.
	Env map[string]string
	// Dir is the working directory the child process is started in, i.e.
	// the indexed base_dir for this backend. Left empty, the child
	// inherits the supervisor's own working directory.
	Dir string
	// SocketDir is the directory UNIX sockets are created in.
	SocketDir string
	// ReadyTimeout bounds how long Spawn waits for the socket to accept
	// connections before giving up.
	ReadyTimeout time.Duration
	// ReadyPollInterval is the polling interval used while waiting for
	// readiness.
	ReadyPollInterval time.Duration
}

// Worker supervises exactly one child FastCGI process bound to one UNIX
// socket. It owns the process and the socket for as long as the process
// lives; callers talk to the process through ClientConnections dialed
// against SocketPath, never through the Worker directly.
type Worker struct {
	idx     int
	backend types.BackendName
	exe     string
	args    []string
	env     map[string]string
	dir     string

	socketDir         string
	readyTimeout      time.Duration
	readyPollInterval time.Duration

	broker *events.Broker
	logger zerolog.Logger

	mu         sync.Mutex
	socketPath string
	ln         *net.UnixListener
	cmd        *exec.Cmd
	state      State
	pid        int
	exitErr    error
	waitDone   chan struct{}
}

// New constructs a Worker in StatePending. Call Spawn to start it.
func New(cfg Config, broker *events.Broker, logger zerolog.Logger) *Worker {
	readyTimeout := cfg.ReadyTimeout
	if readyTimeout == 0 {
		readyTimeout = 10 * time.Second
	}
	pollInterval := cfg.ReadyPollInterval
	if pollInterval == 0 {
		pollInterval = 50 * time.Millisecond
	}

	return &Worker{
		idx:               cfg.Idx,
		backend:           cfg.Backend,
		exe:               cfg.Exe,
		args:              cfg.Args,
		env:               cfg.Env,
		dir:               cfg.Dir,
		socketDir:         cfg.SocketDir,
		readyTimeout:      readyTimeout,
		readyPollInterval: pollInterval,
		broker:            broker,
		logger:            logger.With().Str("backend", string(cfg.Backend)).Int("worker", cfg.Idx).Logger(),
		state:             StatePending,
	}
}

// Idx returns this worker's fixed slot index.
func (w *Worker) Idx() int { return w.idx }

// SocketPath returns the UNIX socket path the worker process is currently
// bound to. It changes on every respawn.
func (w *Worker) SocketPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.socketPath
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Pid returns the child process id, or 0 if not running.
func (w *Worker) Pid() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pid
}

// Spawn binds a fresh socket, starts the child process with the bound
// socket handed off as its stdin, and blocks until the socket accepts
// connections or ReadyTimeout elapses. On failure the partially started
// process and socket are torn down before returning.
func (w *Worker) Spawn(ctx context.Context) error {
	socketPath := filepath.Join(w.socketDir, fmt.Sprintf("%s-%d-%s.sock", w.backend, w.idx, uuid.NewString()[:8]))
	_ = os.Remove(socketPath)

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		return fmt.Errorf("bind worker socket %s: %w", socketPath, err)
	}

	lf, err := ln.File()
	if err != nil {
		ln.Close()
		return fmt.Errorf("dup worker socket fd: %w", err)
	}

	cmd := exec.CommandContext(ctx, w.exe, w.args...)
	cmd.Stdin = lf
	cmd.Env = mergeEnv(os.Environ(), w.env)
	if w.dir != "" {
		cmd.Dir = w.dir
	}

	if err := cmd.Start(); err != nil {
		lf.Close()
		ln.Close()
		return fmt.Errorf("start worker process %s: %w", w.exe, err)
	}
	lf.Close()

	w.mu.Lock()
	w.socketPath = socketPath
	w.ln = ln
	w.cmd = cmd
	w.pid = cmd.Process.Pid
	w.state = StateRunning
	w.exitErr = nil
	w.waitDone = make(chan struct{})
	w.mu.Unlock()

	go w.reap()

	w.logger.Info().Str("socket", socketPath).Int("pid", cmd.Process.Pid).Msg("worker spawned")
	w.publish(events.EventWorkerSpawned, "spawned pid "+fmt.Sprint(cmd.Process.Pid))

	if err := w.waitReady(ctx); err != nil {
		w.Kill()
		return err
	}

	w.mu.Lock()
	w.state = StateReady
	w.mu.Unlock()
	w.publish(events.EventWorkerReady, "accepting connections")

	return nil
}

func (w *Worker) waitReady(ctx context.Context) error {
	checker := health.NewUnixSocketChecker(w.SocketPath()).WithTimeout(w.readyPollInterval)

	deadline := time.Now().Add(w.readyTimeout)
	for {
		result := checker.Check(ctx)
		if result.Healthy {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("worker socket %s not ready after %s: %s", w.SocketPath(), w.readyTimeout, result.Message)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.readyPollInterval):
		}
	}
}

// reap waits for the child to exit and records the result. It runs for the
// lifetime of every spawned process; pool watchdogs poll IsAlive rather
// than blocking on this goroutine directly.
func (w *Worker) reap() {
	w.mu.Lock()
	cmd := w.cmd
	done := w.waitDone
	w.mu.Unlock()
	if cmd == nil {
		return
	}

	err := cmd.Wait()
	close(done)

	w.mu.Lock()
	w.state = StateDead
	w.exitErr = err
	pid := w.pid
	ln := w.ln
	w.mu.Unlock()

	// The process is gone; drop the supervisor's own reference to the
	// listening socket so stray connection attempts fail fast instead of
	// hanging against a socket nothing will ever accept() on.
	if ln != nil {
		_ = ln.Close()
	}

	if err != nil {
		w.logger.Warn().Err(err).Int("pid", pid).Msg("worker process exited")
	} else {
		w.logger.Info().Int("pid", pid).Msg("worker process exited cleanly")
	}
	w.publish(events.EventWorkerDied, "process exited")
}

// IsAlive reports whether the worker's process has not yet exited.
func (w *Worker) IsAlive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == StateRunning || w.state == StateReady
}

// Kill terminates the child process, giving it graceful shutdown time
// before escalating to SIGKILL, then unlinks its socket.
func (w *Worker) Kill() {
	w.mu.Lock()
	cmd := w.cmd
	ln := w.ln
	done := w.waitDone
	w.mu.Unlock()

	if cmd != nil && cmd.Process != nil && done != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			_ = cmd.Process.Kill()
			<-done
		}
	}

	if ln != nil {
		_ = ln.Close()
	}

	w.mu.Lock()
	w.state = StateDead
	w.mu.Unlock()
}

func (w *Worker) publish(t events.EventType, msg string) {
	if w.broker == nil {
		return
	}
	w.broker.Publish(&events.Event{
		Type:      t,
		WorkerIdx: w.idx,
		Backend:   string(w.backend),
		Message:   msg,
	})
}

func mergeEnv(base []string, extra map[string]string) []string {
	out := make([]string, len(base), len(base)+len(extra))
	copy(out, base)
	for k, v := range extra {
		out = append(out, k+"="+v)
	}
	return out
}
