// Command serverlessd is the daemon entrypoint: it wires the container
// engine adapter, warm pool, sandbox executor, metrics store, and runtime
// comparator behind the platform's HTTP/JSON surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oriys/serverlessd/internal/api"
	"github.com/oriys/serverlessd/internal/archive"
	"github.com/oriys/serverlessd/internal/comparator"
	"github.com/oriys/serverlessd/internal/config"
	"github.com/oriys/serverlessd/internal/engine"
	"github.com/oriys/serverlessd/internal/executor"
	"github.com/oriys/serverlessd/internal/logging"
	"github.com/oriys/serverlessd/internal/metrics"
	"github.com/oriys/serverlessd/internal/observability"
	"github.com/oriys/serverlessd/internal/pool"
	"github.com/oriys/serverlessd/internal/spec"
	"github.com/oriys/serverlessd/internal/store"
	"github.com/spf13/cobra"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:   "serverlessd",
		Short: "serverlessd - serverless function sandbox daemon",
		Long:  "Executes registered functions inside isolated containers and compares isolation runtimes",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a JSON config file (optional, env and flags override)")

	root.AddCommand(daemonCmd(), versionCmd(), applyCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the daemon version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("serverlessd dev")
		},
	}
}

func applyCmd() *cobra.Command {
	var pgDSN string

	cmd := &cobra.Command{
		Use:   "apply <manifest.yaml>",
		Short: "register or update functions from a YAML manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)
			if pgDSN != "" {
				cfg.Postgres.DSN = pgDSN
			}

			bundle, err := spec.ParseFile(args[0])
			if err != nil {
				return err
			}

			ctx := context.Background()
			db, err := store.Open(ctx, cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer db.Close()

			for _, m := range bundle.Functions {
				fn, err := m.ToFunction()
				if err != nil {
					return fmt.Errorf("manifest %q: %w", m.Name, err)
				}
				if _, getErr := db.Get(ctx, fn.Name); getErr == nil {
					if err := db.Update(ctx, fn); err != nil {
						return fmt.Errorf("update %q: %w", fn.Name, err)
					}
					fmt.Printf("updated %s\n", fn.Name)
					continue
				}
				if err := db.Create(ctx, fn); err != nil {
					return fmt.Errorf("create %q: %w", fn.Name, err)
				}
				fmt.Printf("created %s\n", fn.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pgDSN, "postgres-dsn", "", "Postgres connection string")
	return cmd
}

func daemonCmd() *cobra.Command {
	var (
		httpAddr  string
		pgDSN     string
		redisAddr string
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "run the execution daemon and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			} else {
				cfg = config.DefaultConfig()
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("http") {
				cfg.Daemon.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("postgres-dsn") {
				cfg.Postgres.DSN = pgDSN
			}
			if cmd.Flags().Changed("redis") {
				cfg.Redis.Addr = redisAddr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
			}

			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Daemon.LogLevel)
			if cfg.Daemon.ExecutionLogFile != "" {
				if err := logging.Default().SetOutput(cfg.Daemon.ExecutionLogFile); err != nil {
					logging.Op().Warn("cannot open execution log file", "path", cfg.Daemon.ExecutionLogFile, "err", err)
				} else {
					defer logging.Default().Close()
				}
			}

			ctx := context.Background()
			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			if cfg.Observability.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Observability.Metrics.Namespace)
			}

			db, err := store.Open(ctx, cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer db.Close()

			var metricsStore store.MetricsStore = db
			if cfg.Redis.Addr != "" {
				cached, err := store.NewCachedMetricsStore(ctx, db, cfg.Redis.Addr, cfg.Redis.TTL)
				if err != nil {
					logging.Op().Warn("redis cache unavailable, serving aggregates uncached", "err", err)
				} else {
					metricsStore = cached
				}
			}

			eng := engine.New()
			if err := eng.Ping(ctx); err != nil {
				logging.Op().Warn("container engine unreachable at startup", "err", err)
			}

			warmPool := pool.New(eng, cfg.Engine.ContainerPrefix, pool.Config{
				MaxSize:       cfg.Pool.MaxSize,
				InitialFill:   cfg.Pool.InitialFill,
				IdleTTL:       cfg.Pool.IdleTTL,
				SweepInterval: cfg.Pool.SweepInterval,
			})
			defer warmPool.Shutdown()

			exec := executor.New(eng, warmPool, metricsStore)
			if cfg.Archive.Bucket != "" {
				archiveStore, err := archive.New(ctx, archive.Config{
					Bucket:       cfg.Archive.Bucket,
					Region:       cfg.Archive.Region,
					Endpoint:     cfg.Archive.Endpoint,
					Prefix:       cfg.Archive.Prefix,
					UsePathStyle: cfg.Archive.UsePathStyle,
				})
				if err != nil {
					logging.Op().Warn("output archive unavailable, captures stay inline", "err", err)
				} else {
					exec.WithArchiver(archiveStore)
				}
			}
			cmp := comparator.New(exec, db)

			httpServer := api.Serve(cfg.Daemon.HTTPAddr, api.ServerConfig{
				Functions:  db,
				Metrics:    metricsStore,
				Exec:       exec,
				Comparator: cmp,
			})

			logging.Op().Info("serverlessd started",
				"http_addr", cfg.Daemon.HTTPAddr,
				"postgres", cfg.Postgres.DSN,
				"redis", cfg.Redis.Addr)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logging.Op().Info("shutdown signal received")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
				logging.Op().Warn("http shutdown error", "err", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", ":8080", "HTTP API listen address")
	cmd.Flags().StringVar(&pgDSN, "postgres-dsn", "", "Postgres connection string")
	cmd.Flags().StringVar(&redisAddr, "redis", "", "Redis address for aggregate caching (optional)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	return cmd
}
