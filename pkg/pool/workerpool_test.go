package pool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/geoserve/mapserver/pkg/catalog"
	"github.com/geoserve/mapserver/pkg/events"
	"github.com/geoserve/mapserver/pkg/types"
)

// A plain long-running process is enough to exercise worker pool bookkeeping:
// the listening socket is bound and owned by this process before the child
// is even started, so readiness polling succeeds regardless of whether the
// child itself ever calls accept() on it.
func newTestConfig(t *testing.T, numWorkers int, sleepArg string) Config {
	return Config{
		Backend:          catalog.Backend{Name: types.BackendMock},
		Exe:              "/bin/sleep",
		Args:             []string{sleepArg},
		NumWorkers:       numWorkers,
		ClientPoolSize:   2,
		SocketDir:        t.TempDir(),
		ReadyTimeout:     2 * time.Second,
		WatchdogInterval: 50 * time.Millisecond,
	}
}

func TestWorkerPool_StartSpawnsExactlyNWorkersWithOwnClientPools(t *testing.T) {
	cfg := newTestConfig(t, 3, "30")
	wp := New(cfg, events.NewBroker(), zerolog.Nop())

	err := wp.Start(context.Background())
	require.NoError(t, err)
	defer wp.Stop()

	require.Equal(t, 3, wp.NumWorkers())
	require.Equal(t, 3, wp.AliveCount())

	for i := 0; i < 3; i++ {
		require.NotNil(t, wp.ClientPoolFor(i))
	}
}

func TestWorkerPool_StartSetsWorkerCwdToBaseDir(t *testing.T) {
	dir := t.TempDir()

	cfg := Config{
		Backend:          catalog.Backend{Name: types.BackendMock},
		Exe:              "/bin/sh",
		Args:             []string{"-c", "pwd > cwd.txt; sleep 30"},
		BaseDir:          dir,
		NumWorkers:       1,
		ClientPoolSize:   1,
		SocketDir:        t.TempDir(),
		ReadyTimeout:     2 * time.Second,
		WatchdogInterval: 50 * time.Millisecond,
	}
	wp := New(cfg, events.NewBroker(), zerolog.Nop())

	require.NoError(t, wp.Start(context.Background()))
	defer wp.Stop()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "cwd.txt"))
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	got, err := os.ReadFile(filepath.Join(dir, "cwd.txt"))
	require.NoError(t, err)
	require.Equal(t, dir, strings.TrimSpace(string(got)))
}

func TestWorkerPool_WatchdogRespawnsDeadWorker(t *testing.T) {
	// A process that exits almost immediately simulates a crashed worker.
	cfg := newTestConfig(t, 1, "0")
	wp := New(cfg, events.NewBroker(), zerolog.Nop())

	err := wp.Start(context.Background())
	require.NoError(t, err)
	defer wp.Stop()

	originalSocket := wp.ClientPoolFor(0).socketPath

	require.Eventually(t, func() bool {
		return wp.ClientPoolFor(0).socketPath != originalSocket
	}, 2*time.Second, 50*time.Millisecond, "watchdog should respawn the dead worker onto a fresh socket")
}
