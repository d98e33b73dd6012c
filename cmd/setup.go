package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wegman-software/osmriver/internal/cache"
	"github.com/wegman-software/osmriver/internal/config"
	"github.com/wegman-software/osmriver/internal/fetch"
	"github.com/wegman-software/osmriver/internal/logger"
	"github.com/wegman-software/osmriver/internal/metrics"
	"github.com/wegman-software/osmriver/internal/normalize"
	"github.com/wegman-software/osmriver/internal/pipeline"
	"github.com/wegman-software/osmriver/internal/sink"
	"github.com/wegman-software/osmriver/internal/sink/graphdb"
	"github.com/wegman-software/osmriver/internal/sink/parquet"
	"github.com/wegman-software/osmriver/internal/sink/postgis"
	"github.com/wegman-software/osmriver/internal/style"
	"github.com/wegman-software/osmriver/internal/tagscript"
)

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// resources collects everything a run opens so it can be released at once
type resources struct {
	closers []func() error
}

func (r *resources) add(fn func() error) {
	r.closers = append(r.closers, fn)
}

func (r *resources) Close() error {
	var err error
	for i := len(r.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, r.closers[i]())
	}
	return err
}

// loadFilter returns the waterway filter from STYLE_FILE or the river default
func loadFilter(cfg *config.Config) (*style.Filter, error) {
	sc := style.DefaultConfig()
	if cfg.StyleFile != "" {
		var err error
		sc, err = style.LoadConfig(cfg.StyleFile)
		if err != nil {
			return nil, err
		}
	}
	return style.NewFilter(sc.Waterways), nil
}

// loadNames returns the Lua name resolver, or nil for the plain name tag
func loadNames(cfg *config.Config, res *resources) (normalize.NameResolver, error) {
	if cfg.NameScript == "" {
		return nil, nil
	}
	rt, err := tagscript.Load(cfg.NameScript)
	if err != nil {
		return nil, err
	}
	res.add(func() error { rt.Close(); return nil })
	return rt, nil
}

// openCache opens CACHE_FILE, or returns nil when caching is off
func openCache(cfg *config.Config, res *resources) (fetch.Cache, error) {
	if cfg.CacheFile == "" {
		return nil, nil
	}
	c, err := cache.Open(cfg.CacheFile, cfg.CacheTTL)
	if err != nil {
		return nil, err
	}
	res.add(c.Close)
	if n, err := c.Purge(); err == nil && n > 0 {
		logger.Named("cache").Debug("Purged expired responses", zap.Int("count", n))
	}
	return c, nil
}

// remoteSource wires geocoder, fetcher and cache for the configured region
func remoteSource(cfg *config.Config, filter *style.Filter, res *resources) (*pipeline.RemoteSource, error) {
	c, err := openCache(cfg, res)
	if err != nil {
		return nil, err
	}
	return pipeline.NewRemoteSource(cfg, filter.Waterways(), c), nil
}

// openConsumers connects every enabled sink
func openConsumers(ctx context.Context, cfg *config.Config, res *resources) ([]sink.Consumer, error) {
	log := logger.Get()
	var consumers []sink.Consumer

	if !cfg.SkipSpatial {
		pool, err := postgis.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		res.add(func() error { pool.Close(); return nil })
		w, err := postgis.New(pool, postgis.Options{
			Schema:    cfg.DBSchema,
			Table:     cfg.DBTable,
			SRID:      cfg.SRID,
			BatchSize: cfg.BatchSize,
			Prune:     cfg.Prune,
		})
		if err != nil {
			return nil, err
		}
		consumers = append(consumers, w)
		log.Info("Spatial sink enabled",
			zap.String("table", cfg.DBSchema+"."+cfg.DBTable),
			zap.Int("srid", cfg.SRID))
	}

	if !cfg.SkipGraph {
		runner, err := graphdb.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		res.add(func() error { return runner.Close(context.Background()) })
		w, err := graphdb.New(runner, graphdb.Options{
			Graph:     cfg.GraphName,
			BatchSize: cfg.BatchSize,
			Prune:     cfg.Prune,
		})
		if err != nil {
			return nil, err
		}
		consumers = append(consumers, w)
		log.Info("Graph sink enabled", zap.String("graph", cfg.GraphName))
	}

	if cfg.ParquetFile != "" {
		path := cfg.ParquetFile
		if !filepath.IsAbs(path) && filepath.Dir(path) == "." && cfg.OutputDir != "" {
			path = filepath.Join(cfg.OutputDir, path)
		}
		w, err := parquet.New(path, cfg.SRID, cfg.BatchSize*20)
		if err != nil {
			return nil, err
		}
		consumers = append(consumers, w)
		log.Info("Parquet export enabled", zap.String("path", path))
	}

	if len(consumers) == 0 {
		log.Warn("No sinks enabled, only the snapshot will be written")
	}
	return consumers, nil
}

// runPipeline builds and runs a coordinator for src with the configured sinks
func runPipeline(ctx context.Context, cfg *config.Config, src pipeline.Source, filter *style.Filter, res *resources) (*pipeline.Report, error) {
	names, err := loadNames(cfg, res)
	if err != nil {
		return nil, err
	}
	consumers, err := openConsumers(ctx, cfg, res)
	if err != nil {
		return nil, err
	}

	collector := metrics.NewCollector(cfg.MetricsInterval, logger.Named("metrics"))
	mctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go collector.Start(mctx)

	coord := pipeline.NewCoordinator(src, pipeline.Options{
		Region:       cfg.Region,
		Tolerance:    cfg.Tolerance,
		Filter:       filter,
		Names:        names,
		Consumers:    consumers,
		SnapshotPath: cfg.SnapshotPath(),
		Force:        cfg.Force,
		Metrics:      collector,
	})
	report, err := coord.Run(ctx)
	if err != nil {
		return report, err
	}
	if report.Failed() {
		return report, fmt.Errorf("some records could not be written: %w", report.Err())
	}
	return report, nil
}
