package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/metrics"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/definition"
	"github.com/rendis/nodeflow/pkg/flow"
)

// app carries the state shared by subcommands for one invocation.
type app struct {
	cfg     Config
	logger  *slog.Logger
	journal *store.LibSQLJournal

	registry *prometheus.Registry
	metrics  *metrics.Sink
}

func (a *app) init(cmd *cobra.Command, flags rootFlags) {
	a.cfg = loadConfig()
	if flags.logLevel != "" {
		a.cfg.LogLevel = flags.logLevel
	}
	if flags.logFormat != "" {
		a.cfg.LogFormat = flags.logFormat
	}
	if flags.dbPath != "" {
		a.cfg.DBPath = flags.dbPath
	}
	// stdout carries command output and the MCP transport
	a.logger = logging.New(cmd.ErrOrStderr(), a.cfg.LogLevel, a.cfg.LogFormat)
}

// openJournal opens the libSQL journal at the configured path, creating its
// directory when needed.
func (a *app) openJournal(ctx context.Context) (*store.LibSQLJournal, error) {
	if a.journal != nil {
		return a.journal, nil
	}
	if dir := filepath.Dir(a.cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}
	j, err := store.OpenLibSQL(ctx, "file:"+a.cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("journal opened", slog.String("path", a.cfg.DBPath))
	a.journal = j
	return j, nil
}

// enableMetrics builds a registry with the run metrics and the Go runtime
// and process collectors.
func (a *app) enableMetrics() {
	if a.registry != nil {
		return
	}
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.NewSink(a.registry)
}

func (a *app) sink() flow.EventSink {
	var sinks []flow.EventSink
	if a.journal != nil {
		sinks = append(sinks, a.journal)
	}
	if a.metrics != nil {
		sinks = append(sinks, a.metrics)
	}
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	default:
		return flow.MultiSink(sinks...)
	}
}

func (a *app) builder() (*definition.Builder, error) {
	opts := []flow.Option{
		flow.WithLogger(a.logger),
		flow.WithPoolSize(a.cfg.PoolSize),
	}
	if s := a.sink(); s != nil {
		opts = append(opts, flow.WithEventSink(s))
	}
	return definition.NewBuilder(nil, opts...)
}

func (a *app) close() error {
	if a.journal == nil {
		return nil
	}
	err := a.journal.Close()
	a.journal = nil
	return err
}
