package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestLoadYAML_OverridesOnlySetFields(t *testing.T) {
	cfg := Default()
	cfg.ClientPoolSize = 4

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("num_workers: 6\n"), 0o644))

	require.NoError(t, cfg.LoadYAML(path))
	require.Equal(t, 6, cfg.NumWorkers)
	require.Equal(t, 4, cfg.ClientPoolSize) // untouched by the overlay
}

func TestLoadYAML_MissingFileIsNotAnError(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.LoadYAML(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestApplyEnv_OverridesFromRecognizedVars(t *testing.T) {
	t.Setenv("NUM_FCGI_PROCESSES", "8")
	t.Setenv("CLIENT_POOL_SIZE", "3")
	t.Setenv("WMS_BACKEND", "qgis")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())

	require.Equal(t, 8, cfg.NumWorkers)
	require.Equal(t, 3, cfg.ClientPoolSize)
	require.Equal(t, "qgis", cfg.WmsBackend)
}

func TestApplyEnv_InvalidNumericValueErrors(t *testing.T) {
	t.Setenv("NUM_FCGI_PROCESSES", "not-a-number")

	cfg := Default()
	require.Error(t, cfg.ApplyEnv())
}

func TestWorkerCount_FallsBackToLogicalCPUCount(t *testing.T) {
	cfg := Default()
	require.Equal(t, 4, cfg.WorkerCount(4))

	cfg.NumWorkers = 2
	require.Equal(t, 2, cfg.WorkerCount(4))
}

func TestApplyFlags_ProjectFileOverridesAccumulate(t *testing.T) {
	cmd := &cobra.Command{Run: func(*cobra.Command, []string) {}}
	cmd.Flags().StringArray("project-file", nil, "")
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().Bool("log-json", false, "")
	cmd.Flags().String("base-dir", "", "")
	cmd.Flags().Int("num-workers", 0, "")
	require.NoError(t, cmd.Flags().Set("project-file", "/data/ne/world.qgs"))
	require.NoError(t, cmd.Flags().Set("project-file", "/data/mapfiles/world.map"))

	cfg := Default()
	require.NoError(t, cfg.ApplyFlags(cmd))

	require.Equal(t, []string{"/data/ne/world.qgs", "/data/mapfiles/world.map"}, cfg.ProjectOverrides)
}

func TestLoadYAML_ProjectOverridesOverlay(t *testing.T) {
	cfg := Default()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("project_overrides:\n  - /data/ne/world.qgs\n"), 0o644))

	require.NoError(t, cfg.LoadYAML(path))
	require.Equal(t, []string{"/data/ne/world.qgs"}, cfg.ProjectOverrides)
}

func TestBackendFilter_EmptyAllowsEverything(t *testing.T) {
	cfg := Default()
	require.True(t, cfg.BackendFilter("qgis"))
	require.True(t, cfg.BackendFilter("mock"))

	cfg.WmsBackend = "mock"
	require.True(t, cfg.BackendFilter("mock"))
	require.False(t, cfg.BackendFilter("qgis"))
}
