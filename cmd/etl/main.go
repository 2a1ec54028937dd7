package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/precip-grid-etl/internal/adapter/fieldcache"
	httpadapter "github.com/couchcryptid/precip-grid-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/precip-grid-etl/internal/adapter/kafka"
	"github.com/couchcryptid/precip-grid-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/precip-grid-etl/internal/config"
	"github.com/couchcryptid/precip-grid-etl/internal/observability"
	"github.com/couchcryptid/precip-grid-etl/internal/pipeline"
	"github.com/couchcryptid/precip-grid-etl/internal/source"
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

	store := fieldcache.New(netcdf.NewStore(), cfg.FieldCacheSize)
	metrics.FieldCacheEntries.Set(float64(cfg.FieldCacheSize))

	sources, err := buildSources(cfg, store)
	if err != nil {
		logger.Error("failed to configure sources", "error", err)
		return 1
	}

	// Result publishing is feature-flagged via NOTIFY_ENABLED.
	var notifier pipeline.Notifier
	if cfg.NotifyEnabled {
		n := kafkaadapter.NewNotifier(cfg.KafkaBrokers, cfg.KafkaResultsTopic, logger)
		defer func() {
			if err := n.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		notifier = n
		logger.Info("result notifications enabled", "topic", cfg.KafkaResultsTopic)
	} else {
		logger.Info("result notifications disabled")
	}

	seasons, err := cfg.SeasonDefinitions()
	if err != nil {
		logger.Error("invalid seasons", "error", err)
		return 1
	}

	p, err := pipeline.New(sources, store, notifier, pipeline.Options{
		ScratchDir:       cfg.ScratchDir,
		AggregatedDir:    cfg.AggregatedDir,
		Region:           cfg.Region(),
		YearStart:        cfg.YearStart,
		YearEnd:          cfg.YearEnd,
		Seasons:          seasons,
		TargetDataset:    cfg.TargetDataset,
		ReferenceDataset: cfg.ReferenceDataset,
		MDTol:            cfg.MDTol,
		ZeroTolerance:    cfg.ZeroTolerance,
		SubsetMargin:     cfg.SubsetMargin,
		Workers:          cfg.Workers,
	}, logger, metrics)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		return 1
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	summary, runErr := p.Run(ctx)
	if runErr != nil {
		logger.Error("pipeline error", "error", runErr)
	}
	fmt.Fprintln(os.Stdout, renderSummary(summary))

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	logger.Info("shutdown complete")

	if runErr != nil || summary.Failed() > 0 {
		return 1
	}
	return 0
}

func buildSources(cfg *config.Config, reader source.Reader) ([]source.Adapter, error) {
	var out []source.Adapter
	for _, name := range cfg.Datasets() {
		a, err := source.New(name, source.Settings{
			Dir:      cfg.NativeDir,
			Version:  cfg.DatasetVersions[name],
			Template: cfg.SourceTemplates[name],
			Variable: cfg.Variable,
			Reader:   reader,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
