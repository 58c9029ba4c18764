package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/petrijr/durable"
	"github.com/petrijr/durable/internal/config"
	"github.com/petrijr/durable/internal/engine"
	"github.com/petrijr/durable/internal/patterns"
	"github.com/petrijr/durable/internal/persistence"
	"github.com/petrijr/durable/internal/server"
	"github.com/petrijr/durable/pkg/metrics"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "durabled",
		Short:         "Durable orchestration engine daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newRunCmd(&configPath))
	return root
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// openEngine builds the engine for the configured backend and returns a
// cleanup function closing both the engine and its backing store. The engine
// config is assembled here so every knob the file exposes (workers, logging,
// metrics) actually reaches the engine.
func openEngine(cfg config.Config, logger *slog.Logger) (durable.Engine, func() error, error) {
	observers := []durable.Observer{durable.NewLoggingObserver(logger)}
	if cfg.Metrics {
		observers = append(observers, metrics.NewPrometheusObserver(prometheus.DefaultRegisterer))
	}
	observer := durable.NewCompositeObserver(observers...)

	build := func(pers persistence.Persistence, closeStore func() error) (durable.Engine, func() error, error) {
		eng, err := engine.New(engine.Config{
			Persistence:     pers,
			Observer:        observer,
			ActivityWorkers: cfg.ActivityWorkers,
			Logger:          logger,
		})
		if err != nil {
			if closeStore != nil {
				closeStore()
			}
			return nil, nil, err
		}
		cleanup := func() error {
			err := eng.Close()
			if closeStore != nil {
				if sErr := closeStore(); err == nil {
					err = sErr
				}
			}
			return err
		}
		return eng, cleanup, nil
	}

	switch cfg.Storage {
	case config.StorageMemory:
		store := persistence.NewInMemoryStore()
		return build(persistence.Persistence{Instances: store, Entities: store}, nil)

	case config.StorageSQLite:
		db, err := sql.Open("sqlite", cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite database: %w", err)
		}
		store, err := persistence.NewSQLiteStore(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return build(persistence.Persistence{Instances: store, Entities: store}, db.Close)

	case config.StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := persistence.NewRedisStore(client, cfg.Redis.Prefix)
		return build(persistence.Persistence{Instances: store, Entities: store}, client.Close)
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the orchestration HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger, err := cfg.NewLogger()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			eng, cleanup, err := openEngine(cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := patterns.Register(eng); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			recovered, err := eng.RecoverInstances(ctx)
			if err != nil {
				return fmt.Errorf("recover instances: %w", err)
			}
			if recovered > 0 {
				logger.Info("recovered in-flight instances", slog.Int("count", recovered))
			}

			mux := http.NewServeMux()
			mux.Handle("/", server.New(eng, logger))
			if cfg.Metrics {
				mux.Handle("GET /metrics", promhttp.Handler())
			}

			srv := &http.Server{
				Addr:    cfg.Listen,
				Handler: mux,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", slog.String("addr", cfg.Listen), slog.String("storage", cfg.Storage))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func newRunCmd(configPath *string) *cobra.Command {
	var inputJSON string

	cmd := &cobra.Command{
		Use:   "run <orchestrator>",
		Short: "Run one orchestration to completion and print its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger, err := cfg.NewLogger()
			if err != nil {
				return err
			}

			eng, cleanup, err := openEngine(cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := patterns.Register(eng); err != nil {
				return err
			}

			var input any
			if inputJSON != "" {
				if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
					return fmt.Errorf("parse --input: %w", err)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			id, err := eng.Start(ctx, args[0], "", input)
			if err != nil {
				return err
			}

			inst, err := eng.WaitForCompletion(ctx, id)
			if err != nil {
				return err
			}

			switch inst.Status {
			case durable.StatusCompleted:
				out, err := json.MarshalIndent(inst.Output, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			default:
				return fmt.Errorf("instance %s ended %s: %s", inst.ID, inst.Status, inst.Fault)
			}
		},
	}

	cmd.Flags().StringVarP(&inputJSON, "input", "i", "", "orchestration input as JSON")
	return cmd
}
