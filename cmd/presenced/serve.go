package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds the whole graceful shutdown.
const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the presence daemon",
	Long: `Starts the presence manager with the backends named in the config file,
the optional Pub/Sub activity ingest, offline event publishing and BigQuery
audit, and the ops HTTP server (/healthz, /readyz, /metrics).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		if path == "" {
			path = os.Getenv("PRESENCE_CONFIG")
		}
		cfg, err := LoadConfig(path)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg.LogLevel, cfg.ServiceName)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("config", "c", "", "Path to the YAML config file (default $PRESENCE_CONFIG)")
}

func newLogger(level, service string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log_level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", service).Logger(), nil
}

// run starts the daemon and blocks until ctx is cancelled, then shuts it
// down.
func run(ctx context.Context, cfg *Config, logger zerolog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build presenced: %w", err)
	}

	// Components get a context that outlives the signal so shutdown can
	// drain them in order.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	if err := a.start(runCtx); err != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		_ = a.shutdown(shutdownCtx)
		return err
	}
	logger.Info().Str("http_port", a.server.GetHTTPPort()).Msg("presenced started.")

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	err = a.shutdown(shutdownCtx)
	cancel()
	if err != nil {
		logger.Error().Err(err).Msg("Shutdown completed with errors.")
		return err
	}
	logger.Info().Msg("presenced stopped.")
	return nil
}
