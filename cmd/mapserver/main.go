// Command mapserver runs the WMS front door: it discovers project files
// under a base directory, spawns a FastCGI worker pool per located render
// backend, and serves /wms/{suffix}/{project...} over HTTP alongside
// /metrics, /healthz and /readyz.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/geoserve/mapserver/pkg/config"
	"github.com/geoserve/mapserver/pkg/log"
	"github.com/geoserve/mapserver/pkg/mapservice"
	"github.com/geoserve/mapserver/pkg/metrics"

	"encoding/json"
	"net/http"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "mapserver",
	Short:   "mapserver - FastCGI-backed WMS map server front door",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("mapserver version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("base-dir", ".", "Directory to scan for WMS project files")
	rootCmd.PersistentFlags().Int("num-workers", 0, "FastCGI worker processes per backend (0 = logical CPU count)")
	rootCmd.PersistentFlags().StringArray("project-file", nil, "Project file whose parent directory overrides the scanned base_dir for its backend (repeatable)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(inventoryCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
	metrics.SetVersion(Version)
}

// resolveConfig applies the default -> YAML -> env -> flags precedence
// chain shared by every subcommand that needs a fully resolved Config.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()

	if baseDir, _ := cmd.Flags().GetString("base-dir"); baseDir != "" {
		cfg.BaseDir = baseDir
	}

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := cfg.LoadYAML(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.ApplyFlags(cmd); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the WMS HTTP front door and its FastCGI worker pools",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return fmt.Errorf("resolve config: %w", err)
		}
		listenAddr, _ := cmd.Flags().GetString("listen")
		if listenAddr != "" {
			cfg.ListenAddr = listenAddr
		}
		mockExe, _ := cmd.Flags().GetString("mock-exe")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		svc, err := mapservice.New(ctx, cfg, log.Logger, mockExe)
		if err != nil {
			return fmt.Errorf("start map service: %w", err)
		}

		server := &http.Server{Addr: cfg.ListenAddr, Handler: svc.Handler()}

		go func() {
			log.Logger.Info().Str("addr", cfg.ListenAddr).Msg("mapserver listening")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Logger.Error().Err(err).Msg("http server exited")
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		log.Logger.Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.WaitTimeout)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)

		svc.Shutdown()
		log.Logger.Info().Msg("shutdown complete")
		return nil
	},
}

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Print the discovered WMS services as JSON and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return fmt.Errorf("resolve config: %w", err)
		}
		mockExe, _ := cmd.Flags().GetString("mock-exe")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		svc, err := mapservice.New(ctx, cfg, log.Logger, mockExe)
		if err != nil {
			return fmt.Errorf("start map service: %w", err)
		}
		defer svc.Shutdown()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(svc.Inventory())
	},
}

func init() {
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().String("mock-exe", "", "Path to the mock-fcgi-wms binary, enables the mock backend")

	inventoryCmd.Flags().String("mock-exe", "", "Path to the mock-fcgi-wms binary, enables the mock backend")
}
