package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/nodeflow/internal/metrics"
	"github.com/rendis/nodeflow/internal/scheduler"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/definition"
	"github.com/rendis/nodeflow/pkg/mcp"
	"github.com/rendis/nodeflow/pkg/schema"
)

const shutdownTimeout = 10 * time.Second

type serveFlags struct {
	flows       string
	metricsAddr string
	noSchedule  bool
}

func newServeCmd(a *app) *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the flow catalog over MCP stdio and run scheduled flows",
		Long: `Loads every definition in the flows directory, starts the cron schedules
they declare and serves the catalog as MCP tools over stdin/stdout until
stdin closes or the process is interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			if flags.flows != "" {
				a.cfg.FlowsDir = flags.flows
			}
			if flags.metricsAddr != "" {
				a.cfg.MetricsAddr = flags.metricsAddr
			}
			return serve(cmd.Context(), a, !flags.noSchedule)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.flows, "flows", "", "Directory of flow definitions")
	f.StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9464")
	f.BoolVar(&flags.noSchedule, "no-schedule", false, "Do not start cron schedules")
	return cmd
}

func serve(ctx context.Context, a *app, schedule bool) error {
	logger := a.logger

	var journal store.Journal
	if a.cfg.Journal {
		j, err := a.openJournal(ctx)
		if err != nil {
			return err
		}
		journal = j
	}
	if a.cfg.MetricsAddr != "" {
		a.enableMetrics()
	}

	b, err := a.builder()
	if err != nil {
		return err
	}
	catalog := definition.NewCatalog(b)
	defer catalog.Close()

	loaded, err := catalog.LoadDir(a.cfg.FlowsDir)
	if err != nil {
		if len(loaded) == 0 {
			return err
		}
		logger.Warn("some flow definitions failed to load", slog.String("error", err.Error()))
	}
	logger.Info("flows loaded", slog.String("dir", a.cfg.FlowsDir), slog.Int("count", len(loaded)))

	if schedule {
		sched := scheduler.New(catalog, logger)
		defs := make([]*schema.FlowDefinition, 0, len(loaded))
		for _, built := range catalog.List() {
			defs = append(defs, built.Definition())
		}
		if _, err := sched.AddDefinitions(defs...); err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := sched.Stop(stopCtx); err != nil {
				logger.Warn("scheduler stop", slog.String("error", err.Error()))
			}
		}()
	}

	if a.registry != nil {
		srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: metricsMux(a), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", slog.String("addr", a.cfg.MetricsAddr))
	}

	srv := mcp.NewServer(mcp.Deps{
		Catalog: catalog,
		Journal: journal,
		Logger:  logger,
		Version: version,
	})
	logger.Info("starting MCP server over stdio")
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func metricsMux(a *app) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler(a.registry))
	return mux
}
