// Package config loads server configuration from defaults, then an
// optional YAML file, then environment variables, then CLI flags, each
// layer overriding the last only where it sets a non-zero value. The
// recognized environment variables (NUM_FCGI_PROCESSES, CLIENT_POOL_SIZE,
// WMS_BACKEND) match the names a running WMS webserver process reads.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/geoserve/mapserver/pkg/dispatcher"
	"github.com/geoserve/mapserver/pkg/types"
)

// Config is the fully resolved server configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	BaseDir   string `yaml:"base_dir"`
	SocketDir string `yaml:"socket_dir"`
	ListenAddr string `yaml:"listen_addr"`

	// NumWorkers is the per-backend worker count; 0 means "logical CPU
	// count".
	NumWorkers     int    `yaml:"num_workers"`
	ClientPoolSize int    `yaml:"client_pool_size"`
	WaitTimeout    time.Duration `yaml:"wait_timeout"`
	RecycleAfter   int    `yaml:"recycle_after"`

	// WmsBackend restricts the active backend set to a single named
	// backend ("qgis", "umn", "mock"); empty means all located backends.
	WmsBackend string `yaml:"wms_backend"`

	// ProjectOverrides names specific project files. Each file's suffix
	// resolves to a backend, and that file's parent directory overrides
	// the scanned base_dir for that backend only.
	ProjectOverrides []string `yaml:"project_overrides"`

	DispatchMode  dispatcher.Mode `yaml:"dispatch_mode"`
	SlowThreshold time.Duration   `yaml:"slow_threshold"`
}

// Default returns the baseline configuration before any overrides.
func Default() Config {
	return Config{
		LogLevel:       "info",
		LogJSON:        false,
		BaseDir:        ".",
		SocketDir:      os.TempDir(),
		ListenAddr:     ":8080",
		NumWorkers:     0,
		ClientPoolSize: 4,
		WaitTimeout:    10 * time.Second,
		RecycleAfter:   0,
		DispatchMode:   dispatcher.ModeWmsOptimized,
		SlowThreshold:  time.Second,
	}
}

// LoadYAML merges a YAML file's contents over cfg. A missing file is not an
// error: the YAML layer is optional.
func (cfg *Config) LoadYAML(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	mergeNonZero(cfg, overlay)
	return nil
}

// ApplyEnv overlays recognized environment variables.
func (cfg *Config) ApplyEnv() error {
	if v := os.Getenv("NUM_FCGI_PROCESSES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("NUM_FCGI_PROCESSES invalid: %w", err)
		}
		cfg.NumWorkers = n
	}
	if v := os.Getenv("CLIENT_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CLIENT_POOL_SIZE invalid: %w", err)
		}
		cfg.ClientPoolSize = n
	}
	if v := os.Getenv("WMS_BACKEND"); v != "" {
		cfg.WmsBackend = v
	}
	return nil
}

// ApplyFlags overlays any flags the caller explicitly set on cmd, taking
// precedence over YAML and environment layers.
func (cfg *Config) ApplyFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()

	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.LogJSON, _ = flags.GetBool("log-json")
	}
	if flags.Changed("base-dir") {
		cfg.BaseDir, _ = flags.GetString("base-dir")
	}
	if flags.Changed("num-workers") {
		cfg.NumWorkers, _ = flags.GetInt("num-workers")
	}
	if flags.Changed("project-file") {
		cfg.ProjectOverrides, _ = flags.GetStringArray("project-file")
	}
	return nil
}

// WorkerCount resolves NumWorkers against the logical CPU count fallback.
func (cfg Config) WorkerCount(numCPU int) int {
	if cfg.NumWorkers > 0 {
		return cfg.NumWorkers
	}
	return numCPU
}

// BackendFilter reports whether backend should be included given
// WmsBackend's restriction, if any.
func (cfg Config) BackendFilter(backend types.BackendName) bool {
	return cfg.WmsBackend == "" || cfg.WmsBackend == string(backend)
}

// mergeNonZero copies every non-zero field of overlay into dst.
func mergeNonZero(dst *Config, overlay Config) {
	if overlay.LogLevel != "" {
		dst.LogLevel = overlay.LogLevel
	}
	if overlay.LogJSON {
		dst.LogJSON = overlay.LogJSON
	}
	if overlay.BaseDir != "" {
		dst.BaseDir = overlay.BaseDir
	}
	if overlay.SocketDir != "" {
		dst.SocketDir = overlay.SocketDir
	}
	if overlay.ListenAddr != "" {
		dst.ListenAddr = overlay.ListenAddr
	}
	if overlay.NumWorkers != 0 {
		dst.NumWorkers = overlay.NumWorkers
	}
	if overlay.ClientPoolSize != 0 {
		dst.ClientPoolSize = overlay.ClientPoolSize
	}
	if overlay.WaitTimeout != 0 {
		dst.WaitTimeout = overlay.WaitTimeout
	}
	if overlay.RecycleAfter != 0 {
		dst.RecycleAfter = overlay.RecycleAfter
	}
	if overlay.WmsBackend != "" {
		dst.WmsBackend = overlay.WmsBackend
	}
	if len(overlay.ProjectOverrides) > 0 {
		dst.ProjectOverrides = overlay.ProjectOverrides
	}
	if overlay.DispatchMode != "" {
		dst.DispatchMode = overlay.DispatchMode
	}
	if overlay.SlowThreshold != 0 {
		dst.SlowThreshold = overlay.SlowThreshold
	}
}
