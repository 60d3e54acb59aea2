package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/formsink/formsink/internal/api"
	"github.com/formsink/formsink/internal/blob"
	"github.com/formsink/formsink/internal/bus"
	"github.com/formsink/formsink/internal/bus/natsbus"
	"github.com/formsink/formsink/internal/config"
	"github.com/formsink/formsink/internal/connector"
	"github.com/formsink/formsink/internal/ingest"
	"github.com/formsink/formsink/internal/models"
	"github.com/formsink/formsink/internal/orchestrator"
	"github.com/formsink/formsink/internal/persist"
	"github.com/formsink/formsink/internal/secrets"
	"github.com/formsink/formsink/internal/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "formsink",
		Short: "FormSink - Multi-tenant form submission ingestion and delivery pipeline",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(tenantCmd(&configPath))
	rootCmd.AddCommand(destinationCmd(&configPath))
	rootCmd.AddCommand(replayCmd(&configPath))
	rootCmd.AddCommand(statsCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the FormSink pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			blobs := blob.NewStore(afero.NewOsFs(), cfg.Blob.Dir)

			eventBus, err := setupBus(cfg.Bus, store, log)
			if err != nil {
				return fmt.Errorf("failed to setup event bus: %w", err)
			}
			defer eventBus.Close()

			writer := persist.NewWriter(store, log)
			if err := writer.Register(eventBus); err != nil {
				return fmt.Errorf("failed to register persistence writer: %w", err)
			}

			orch := orchestrator.New(store, cfg.Delivery.DestinationCacheTTL, log)
			if err := orch.Register(eventBus); err != nil {
				return fmt.Errorf("failed to register delivery orchestrator: %w", err)
			}

			registry := connector.NewRegistry()
			registry.Register(models.ProtocolWebhook, connector.NewWebhook(cfg.Delivery.Timeout))

			backoff := orchestrator.Backoff{Base: cfg.Delivery.BackoffBase, Cap: cfg.Delivery.BackoffCap}
			worker := orchestrator.NewWorker(store, blobs, registry, backoff, cfg.Delivery.Timeout, cfg.Delivery.MaxAttempts, log)
			pool := orchestrator.NewPool(store, worker, cfg.Delivery.Workers, cfg.Delivery.PollInterval, log)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			pool.Start(ctx)

			provider := secrets.NewCache(secrets.NewStoreProvider(store), cfg.Secrets.CacheTTL)
			gateway := ingest.NewHandler(cfg.Ingest, provider, blobs, eventBus, log)

			server := api.NewServer(cfg.Server, store, gateway, log)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Int("workers", cfg.Delivery.Workers).
				Str("bus", cfg.Bus.Driver).
				Str("storage", cfg.Storage.Driver).
				Msg("FormSink is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			pool.Stop()

			log.Info().Msg("FormSink stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()
			_ = store

			fmt.Println("migrations completed successfully")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("FormSink v%s\n", version)
		},
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func setupBus(cfg config.BusConfig, store storage.Storage, log zerolog.Logger) (bus.Bus, error) {
	switch cfg.Driver {
	case "memory":
		opts := bus.MemoryOptions{
			BufferSize:        cfg.BufferSize,
			MaxRedeliveries:   cfg.MaxRedeliveries,
			RedeliveryBackoff: cfg.RedeliveryBackoff,
		}
		return bus.NewMemory(opts, store, store, log), nil
	case "nats":
		ncfg := natsbus.Config{
			URL:               cfg.NATS.URL,
			Name:              cfg.NATS.Name,
			MaxReconnects:     cfg.NATS.MaxReconnects,
			ReconnectWait:     cfg.NATS.ReconnectWait,
			Timeout:           cfg.NATS.Timeout,
			MaxRedeliveries:   cfg.MaxRedeliveries,
			RedeliveryBackoff: cfg.RedeliveryBackoff,
		}
		log.Info().Str("url", ncfg.URL).Msg("using NATS event bus")
		return natsbus.Connect(ncfg, store, store, log)
	default:
		return nil, fmt.Errorf("unsupported bus driver: %s", cfg.Driver)
	}
}

func storeFromConfig(configPath string) (storage.Storage, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg.Logging)
	store, err := setupStorage(cfg.Storage, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, func() { store.Close() }, nil
}
