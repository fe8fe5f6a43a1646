package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ehr/medhistory/internal/domain/insight"
	"github.com/ehr/medhistory/internal/platform/db"
	"github.com/ehr/medhistory/internal/platform/events"
	"github.com/ehr/medhistory/internal/platform/telemetry"
	"github.com/ehr/medhistory/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "medhistory-server",
		Short:        "Medical history ledger API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(workspaceCmd())
	rootCmd.AddCommand(rollupCmd())
	rootCmd.AddCommand(trendCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume workspace changes and regenerate insights",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, _, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, _, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})
	return cmd
}

func workspaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Manage doctor-patient workspaces",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workspace for a doctor and a patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctor, _ := cmd.Flags().GetString("doctor")
			patient, _ := cmd.Flags().GetString("patient")
			if doctor == "" || patient == "" {
				return fmt.Errorf("--doctor and --patient are required")
			}

			ctx := cmd.Context()
			_, pool, logger, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svcs := newServices(pgStores(pool), events.Nop{}, nil, insight.Config{}, nil, logger)
			ws, err := svcs.workspaces.Create(ctx, doctor, patient)
			if err != nil {
				return err
			}
			fmt.Println(ws.ID)
			return nil
		},
	}
	createCmd.Flags().String("doctor", "", "Doctor identity (token subject)")
	createCmd.Flags().String("patient", "", "Patient identity (token subject)")
	cmd.AddCommand(createCmd)
	return cmd
}

func rollupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "Maintain derived history summaries",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Recompute the summary of every workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, logger, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svcs := newServices(pgStores(pool), events.Nop{}, nil, insight.Config{}, nil, logger)
			n, err := svcs.rollup.RebuildAll(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Rebuilt %d summaries.\n", n)
			return nil
		},
	})
	return cmd
}

func trendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Maintain lab trend series",
	}
	rebuildCmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Recompute trend series from lab results",
		RunE: func(cmd *cobra.Command, args []string) error {
			wsFlag, _ := cmd.Flags().GetString("workspace")

			ctx := cmd.Context()
			_, pool, logger, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svcs := newServices(pgStores(pool), events.Nop{}, nil, insight.Config{}, nil, logger)
			var ids []uuid.UUID
			if wsFlag != "" {
				id, err := uuid.Parse(wsFlag)
				if err != nil {
					return fmt.Errorf("invalid --workspace: %w", err)
				}
				ids = append(ids, id)
			} else {
				all, err := svcs.workspaces.List(ctx)
				if err != nil {
					return err
				}
				for _, w := range all {
					ids = append(ids, w.ID)
				}
			}

			total := 0
			for _, id := range ids {
				n, err := svcs.trends.RebuildWorkspace(ctx, id)
				if err != nil {
					return fmt.Errorf("workspace %s: %w", id, err)
				}
				total += n
			}
			fmt.Printf("Rebuilt %d series across %d workspace(s).\n", total, len(ids))
			return nil
		},
	}
	rebuildCmd.Flags().String("workspace", "", "Limit the rebuild to one workspace id")
	cmd.AddCommand(rebuildCmd)
	return cmd
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func runServer() error {
	ctx := context.Background()
	cfg, pool, logger, err := connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	tp, err := telemetry.InitTracer(ctx, telemetry.TracingConfig{
		Enabled:        cfg.TracingEnabled,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       !cfg.IsProduction(),
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	reg := newRegistry()
	metrics := telemetry.NewCollector(serviceName, reg)
	metrics.RegisterPool(serviceName, pool)

	host, _ := os.Hostname()
	bus, checks, err := newBus(cfg, "api-"+host, metrics, logger)
	if err != nil {
		return fmt.Errorf("connect event bus: %w", err)
	}
	defer bus.Close()

	icfg := insightConfig(cfg)
	svcs := newServices(pgStores(pool), bus, newReasoner(cfg), icfg, metrics, logger)

	// Without Redis the API process is also the only consumer.
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	if cfg.RedisURL == "" {
		go func() {
			if err := insight.NewWorker(bus, svcs.insight, logger).Run(workerCtx); err != nil {
				logger.Error().Err(err).Msg("in-process insight worker stopped")
			}
		}()
	}

	e := newRouter(routerDeps{
		cfg:      cfg,
		svcs:     svcs,
		metrics:  metrics,
		gatherer: reg,
		tracer:   tp,
		logger:   logger,
		checks:   append([]db.Check{db.PoolCheck(pool)}, checks...),
	})

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stopWorker()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("tracer shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func runWorker() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, pool, logger, err := connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	if cfg.RedisURL == "" {
		return fmt.Errorf("worker needs REDIS_URL; without it the API server consumes changes in process")
	}

	metrics := telemetry.NewCollector(serviceName, newRegistry())
	host, _ := os.Hostname()
	bus, _, err := newBus(cfg, "worker-"+host, metrics, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	svcs := newServices(pgStores(pool), bus, newReasoner(cfg), insightConfig(cfg), metrics, logger)
	return insight.NewWorker(bus, svcs.insight, logger).Run(ctx)
}
