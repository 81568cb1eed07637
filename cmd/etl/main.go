package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/case-rollup-etl/internal/adapter/chart"
	"github.com/couchcryptid/case-rollup-etl/internal/adapter/fsout"
	"github.com/couchcryptid/case-rollup-etl/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/case-rollup-etl/internal/adapter/kafka"
	"github.com/couchcryptid/case-rollup-etl/internal/adapter/spreadsheet"
	"github.com/couchcryptid/case-rollup-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/case-rollup-etl/internal/adapter/ssb"
	"github.com/couchcryptid/case-rollup-etl/internal/adapter/tabular"
	"github.com/couchcryptid/case-rollup-etl/internal/config"
	"github.com/couchcryptid/case-rollup-etl/internal/observability"
	"github.com/couchcryptid/case-rollup-etl/internal/pipeline"
	"github.com/couchcryptid/case-rollup-etl/internal/watch"
	"github.com/jonboulle/clockwork"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	population := ssb.NewCachedFetcher(
		ssb.NewClient(cfg.PopulationURL, cfg.PopulationTimeout, logger),
		cfg.PopulationCacheTTL,
		clock,
	)
	source := tabular.NewFileSource(
		cfg.CasesPath,
		cfg.LocationsPath,
		cfg.PopulationPath,
		population,
		tabular.PopulationOptions{CodeStrip: cfg.PopulationCodeStrip, CodeMarker: cfg.PopulationCodeMarker},
		logger,
	)
	aggregator := pipeline.NewAggregator(cfg.PopulationMinDate(), cfg.National(), cfg.SplitEnabled, logger)

	// Transactional sinks first; Kafka cannot be rolled back so it commits last.
	var charts fsout.ChartRenderer
	if cfg.ChartsEnabled {
		charts = chart.NewDefaultRenderer()
	}
	sinks := []pipeline.Sink{fsout.NewSink(cfg.OutputDir, spreadsheet.NewWriter(), charts, logger)}

	var store *sqlite.Store
	if cfg.SQLitePath != "" {
		store, err = sqlite.Open(cfg.SQLitePath, logger)
		if err != nil {
			logger.Error("failed to open sqlite store", "error", err)
			return 1
		}
		defer closeWith(logger, "sqlite store", store.Close)
		sinks = append(sinks, store)
		logger.Info("sqlite sink enabled", "path", cfg.SQLitePath)
	}
	if cfg.KafkaEnabled {
		writer := kafkaadapter.NewWriter(cfg, logger)
		defer closeWith(logger, "kafka writer", writer.Close)
		sinks = append(sinks, writer)
		logger.Info("kafka sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaSinkTopic)
	}

	p := pipeline.New(source, aggregator, sinks, logger, metrics, clock)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.WatchEnabled {
		if _, err := p.Run(ctx); err != nil {
			return 1
		}
		return 0
	}
	var status httpadapter.StatusProvider = p
	if store != nil {
		status = store.StatusWithHistory(p)
	}
	return watchMode(ctx, cfg, p, status, source, clock, logger)
}

// watchMode serves the HTTP endpoints and re-runs the batch whenever an
// input file changes, until a shutdown signal arrives.
func watchMode(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, status httpadapter.StatusProvider, source *tabular.FileSource, clock clockwork.Clock, logger *slog.Logger) int {
	w, err := watch.New(source.Paths(), cfg.WatchDebounce, clock, logger)
	if err != nil {
		logger.Error("failed to start watcher", "error", err)
		return 1
	}
	defer closeWith(logger, "watcher", w.Close)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, status, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// An initial run publishes current inputs; a failure here is retried on
	// the next change.
	_, _ = p.Run(ctx)

	if err := p.Watch(ctx, w.Triggers(ctx)); err != nil {
		logger.Error("watch error", "error", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
	return 0
}

func closeWith(logger *slog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Error("close error", "component", name, "error", err)
	}
}
