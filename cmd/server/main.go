/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the absence engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load configuration (YAML, .env, ABSENCE_* variables)
  3. Build the zap logger
  4. Open the configured store (memory, sqlite or postgres)
  5. Assemble audit sinks (log, store, kafka)
  6. Apply the policy catalog (store.seed_file), if configured
  7. Create API handler and router
  8. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (optional)
  -port    HTTP server port, overrides the config when set

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (shutdown_timeout)
  3. Drain and close the Kafka sink
  4. Close the store
  5. Exit

EXAMPLES:
  # In-memory store, secret from the environment
  ABSENCE_JWT_SECRET=dev-secret ./server

  # File config on another port
  ./server -config=./config.yaml -port=3000

SEE ALSO:
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
  - audit/: Event sinks
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/warp/absence-engine/api"
	"github.com/warp/absence-engine/audit"
	"github.com/warp/absence-engine/config"
	"github.com/warp/absence-engine/factory"
	"github.com/warp/absence-engine/generic/store"
	"github.com/warp/absence-engine/leave"
	"github.com/warp/absence-engine/store/postgres"
	"github.com/warp/absence-engine/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "Path to YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	backend, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore.Close()
	logger.Info("store ready", zap.String("driver", cfg.Store.Driver))

	sinks, kafkaSink := buildSinks(cfg.Audit, backend, logger)
	if kafkaSink != nil {
		defer func() {
			if err := kafkaSink.Close(); err != nil {
				logger.Error("failed to close kafka sink", zap.Error(err))
			}
		}()
	}

	if cfg.Store.SeedFile != "" {
		if err := seedCatalog(ctx, cfg.Store.SeedFile, backend, logger, leave.WithNotifier(sinks)); err != nil {
			return err
		}
	}

	handler := api.NewHandler(backend, logger, leave.WithNotifier(sinks))
	router := api.NewRouter(handler, api.RouterConfig{
		JWTSecret:      cfg.Auth.JWTSecret,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (api.Backend, io.Closer, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return store.NewTxMemory(), io.NopCloser(nil), nil
	}
}

// seedCatalog applies the policy catalog at path. Records that already
// exist are left alone.
func seedCatalog(ctx context.Context, path string, backend api.Backend, logger *zap.Logger, opts ...leave.Option) error {
	catalog, err := factory.LoadFile(path)
	if err != nil {
		return fmt.Errorf("load seed file: %w", err)
	}

	opts = append([]leave.Option{leave.WithLogger(logger)}, opts...)
	ctx = leave.ContextWithActor(ctx, "seed")
	res, err := catalog.Apply(ctx,
		leave.NewPolicyService(backend, opts...),
		leave.NewBalanceService(backend, opts...),
		"seed",
	)
	if err != nil {
		return fmt.Errorf("apply seed file %s: %w", path, err)
	}

	logger.Info("policy catalog applied",
		zap.String("path", path),
		zap.Int("policies_created", res.PoliciesCreated),
		zap.Int("policies_skipped", res.PoliciesSkipped),
		zap.Int("balances_opened", res.BalancesOpened),
		zap.Int("balances_skipped", res.BalancesSkipped),
	)
	return nil
}

// buildSinks returns the fanout the services notify, plus the Kafka sink
// when enabled so the caller can drain it on shutdown.
func buildSinks(cfg config.AuditConfig, backend api.Backend, logger *zap.Logger) (audit.Fanout, *audit.KafkaSink) {
	var (
		sinks     audit.Fanout
		kafkaSink *audit.KafkaSink
	)
	if cfg.Log {
		sinks = append(sinks, audit.NewLogSink(logger))
	}
	if cfg.Persist {
		sinks = append(sinks, audit.NewStoreSink(backend))
	}
	if cfg.Kafka.Enabled {
		kafkaSink = audit.NewKafkaSink(audit.KafkaConfig{
			Brokers:    cfg.Kafka.Brokers,
			Topic:      cfg.Kafka.Topic,
			BufferSize: cfg.Kafka.BufferSize,
			MaxRetries: cfg.Kafka.MaxRetries,
		}, logger)
		sinks = append(sinks, kafkaSink)
		logger.Info("kafka audit sink enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}
	return sinks, kafkaSink
}
