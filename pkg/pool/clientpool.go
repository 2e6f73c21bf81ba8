package pool

import (
	"context"
	"sync"
	"time"

	fcgiclient "github.com/tomasen/fcgi_client"
	"github.com/rs/zerolog"

	"github.com/geoserve/mapserver/pkg/apperrors"
	"github.com/geoserve/mapserver/pkg/metrics"
	"github.com/geoserve/mapserver/pkg/types"
)

// ClientConnection wraps one dialed FastCGI client connection to a worker's
// UNIX socket, tagged with the socket path it was dialed against so a
// respawn can be detected without a shared reference to the worker itself.
type ClientConnection struct {
	client     *fcgiclient.FCGIClient
	socketPath string
	useCount   int
	createdAt  time.Time
}

// Client returns the underlying FastCGI client for issuing a request.
func (c *ClientConnection) Client() *fcgiclient.FCGIClient { return c.client }

// ClientPoolConfig configures one worker's bounded connection pool.
type ClientPoolConfig struct {
	Backend      types.BackendName
	WorkerIdx    int
	SocketPath   string
	Size         int
	DialTimeout  time.Duration
	RecycleAfter int // close and redial after this many uses; 0 disables recycling
	WaitTimeout  time.Duration
}

// ClientPool is a bounded pool of ClientConnections to a single worker. It
// is owned exclusively by the WorkerPool slot for that worker: nothing
// outside pkg/pool holds a long-lived reference to a ClientPool.
type ClientPool struct {
	backend      types.BackendName
	workerIdx    int
	size         int
	dialTimeout  time.Duration
	recycleAfter int
	waitTimeout  time.Duration
	logger       zerolog.Logger

	mu         sync.Mutex
	socketPath string
	idle       []*ClientConnection
	inUse      int
	waiters    []chan *ClientConnection

	// dialFunc defaults to dialing a real FastCGI UNIX socket; tests
	// substitute a fake to exercise pool bookkeeping without a live backend.
	dialFunc func(socketPath string, timeout time.Duration) (*fcgiclient.FCGIClient, error)
}

// NewClientPool creates a pool bound to a worker's current socket path.
func NewClientPool(cfg ClientPoolConfig, logger zerolog.Logger) *ClientPool {
	waitTimeout := cfg.WaitTimeout
	if waitTimeout == 0 {
		waitTimeout = 10 * time.Second
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 3 * time.Second
	}

	return &ClientPool{
		backend:      cfg.Backend,
		workerIdx:    cfg.WorkerIdx,
		size:         cfg.Size,
		dialTimeout:  dialTimeout,
		recycleAfter: cfg.RecycleAfter,
		waitTimeout:  waitTimeout,
		logger:       logger.With().Str("backend", string(cfg.Backend)).Int("worker", cfg.WorkerIdx).Logger(),
		socketPath: cfg.SocketPath,
		dialFunc: func(socketPath string, timeout time.Duration) (*fcgiclient.FCGIClient, error) {
			return fcgiclient.DialTimeout("unix", socketPath, timeout)
		},
	}
}

// UpdateSocketPath is called by the watchdog after a respawn. Any idle
// connections dialed against the old socket are closed immediately rather
// than waited out, so a stale connection can never be handed to a caller.
func (p *ClientPool) UpdateSocketPath(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.socketPath = path
	stale := p.idle
	p.idle = nil
	for _, conn := range stale {
		closeConn(conn)
	}
}

// closeConn closes conn's FastCGI client, if it has one.
func closeConn(conn *ClientConnection) {
	if conn.client != nil {
		_ = conn.client.Close()
	}
}

// Acquire returns a connection to the worker, creating one if the pool has
// spare capacity, reusing an idle one, or waiting in FIFO order for one to
// be released. It returns apperrors.KindAcquireTimeout if ctx is done or
// WaitTimeout elapses first.
func (p *ClientPool) Acquire(ctx context.Context) (*ClientConnection, error) {
	timer := metrics.NewTimer()

	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.inUse++
		p.updateGaugesLocked()
		p.mu.Unlock()
		timer.ObserveDurationVec(metrics.FcgiClientWaitSeconds, string(p.backend))
		return conn, nil
	}

	if p.inUse < p.size {
		socketPath := p.socketPath
		p.inUse++
		p.updateGaugesLocked()
		p.mu.Unlock()

		conn, err := p.dial(socketPath)
		if err != nil {
			p.mu.Lock()
			p.inUse--
			p.updateGaugesLocked()
			p.mu.Unlock()
			return nil, err
		}
		timer.ObserveDurationVec(metrics.FcgiClientWaitSeconds, string(p.backend))
		return conn, nil
	}

	waitCh := make(chan *ClientConnection, 1)
	p.waiters = append(p.waiters, waitCh)
	p.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, p.waitTimeout)
	defer cancel()

	select {
	case conn := <-waitCh:
		timer.ObserveDurationVec(metrics.FcgiClientWaitSeconds, string(p.backend))
		return conn, nil
	case <-waitCtx.Done():
		p.removeWaiter(waitCh)
		return nil, apperrors.New(apperrors.KindAcquireTimeout, "timed out waiting for a FastCGI connection", waitCtx.Err())
	}
}

func (p *ClientPool) removeWaiter(target chan *ClientConnection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == target {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

func (p *ClientPool) dial(socketPath string) (*ClientConnection, error) {
	client, err := p.dialFunc(socketPath, p.dialTimeout)
	if err != nil {
		return nil, apperrors.New(apperrors.KindBackendTransportError, "dial worker socket", err)
	}
	return &ClientConnection{client: client, socketPath: socketPath, createdAt: time.Now()}, nil
}

// Release returns a connection to the pool, handing it directly to the
// oldest waiter if one is queued. A connection dialed against a socket
// path the pool has since moved on from (the worker was respawned while
// the connection was checked out) or one that has reached RecycleAfter
// uses is closed instead of reused.
func (p *ClientPool) Release(conn *ClientConnection) {
	conn.useCount++

	p.mu.Lock()
	stale := conn.socketPath != p.socketPath
	exhausted := p.recycleAfter > 0 && conn.useCount >= p.recycleAfter

	if stale || exhausted {
		p.inUse--
		p.updateGaugesLocked()
		p.mu.Unlock()
		closeConn(conn)
		return
	}

	if len(p.waiters) > 0 {
		next := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		next <- conn
		return
	}

	p.idle = append(p.idle, conn)
	p.inUse--
	p.updateGaugesLocked()
	p.mu.Unlock()
}

// Remove discards a connection unconditionally, e.g. after a transport
// error mid-request makes it unsafe to reuse.
func (p *ClientPool) Remove(conn *ClientConnection) {
	p.mu.Lock()
	p.inUse--
	p.updateGaugesLocked()
	p.mu.Unlock()
	closeConn(conn)
}

// InUse reports how many connections are currently checked out, used by the
// dispatcher's least-loaded selection.
func (p *ClientPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

func (p *ClientPool) updateGaugesLocked() {
	metrics.FcgiClientPoolAvailable.WithLabelValues(string(p.backend), workerLabel(p.workerIdx)).Set(float64(len(p.idle)))
	metrics.FcgiClientPoolInUse.WithLabelValues(string(p.backend), workerLabel(p.workerIdx)).Set(float64(p.inUse))
}
