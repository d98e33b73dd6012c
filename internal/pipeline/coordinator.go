package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/osmriver/internal/logger"
	"github.com/wegman-software/osmriver/internal/metrics"
	"github.com/wegman-software/osmriver/internal/network"
	"github.com/wegman-software/osmriver/internal/normalize"
	"github.com/wegman-software/osmriver/internal/sink"
	"github.com/wegman-software/osmriver/internal/snapshot"
	"github.com/wegman-software/osmriver/internal/style"
)

// Options holds the per-run settings of a Coordinator
type Options struct {
	Region       string
	Tolerance    float64
	Filter       *style.Filter
	Names        normalize.NameResolver // nil uses the name tag
	Consumers    []sink.Consumer
	SnapshotPath string // "" disables the snapshot and change detection
	Force        bool   // write even when the network is unchanged
	Metrics      *metrics.Collector
}

// Coordinator runs Fetch, Normalize, Build and Write for one region
type Coordinator struct {
	src  Source
	opts Options
}

// NewCoordinator creates a coordinator reading from src
func NewCoordinator(src Source, opts Options) *Coordinator {
	return &Coordinator{src: src, opts: opts}
}

// Run executes the pipeline. Only a failed load, an empty normalization or an
// invalid network stop the run with an error; everything else is collected
// in the report.
func (c *Coordinator) Run(ctx context.Context) (*Report, error) {
	log := logger.Named("pipeline")
	start := time.Now()
	report := &Report{Region: c.opts.Region, Source: c.src.Name()}

	end := c.stage("load")
	raw, err := c.src.Load(ctx)
	end()
	if err != nil {
		return nil, fmt.Errorf("failed to load OSM data: %w", err)
	}
	report.Raw = raw.Stats()
	log.Info("Loaded OSM data", zap.Int("ways", report.Raw.Ways), zap.Int("nodes", report.Raw.Nodes))

	end = c.stage("normalize")
	var nopts []normalize.Option
	if c.opts.Filter != nil {
		nopts = append(nopts, normalize.WithFilter(c.opts.Filter))
	}
	if c.opts.Names != nil {
		nopts = append(nopts, normalize.WithNameResolver(c.opts.Names))
	}
	segments, nreport := normalize.New(c.opts.Region, nopts...).Normalize(raw)
	end()
	report.Normalize = nreport
	if len(segments) == 0 {
		return report, ErrNoSegments
	}

	end = c.stage("build")
	net, breport := network.NewBuilder(c.opts.Tolerance).Build(c.opts.Region, segments)
	end()
	report.Build = breport
	if err := net.Validate(); err != nil {
		return report, fmt.Errorf("built network is inconsistent: %w", err)
	}
	report.Network = net.Stats()
	for _, w := range breport.Warnings {
		log.Debug("Name conflict", zap.String("detail", w.String()))
	}

	doc, err := snapshot.FromNetwork(net)
	if err != nil {
		return report, err
	}
	report.Fingerprint = doc.Fingerprint
	consumers, same := c.pending(doc)

	switch {
	case len(net.Edges) == 0:
		// writing (and pruning) an empty network would wipe the region
		report.Empty = true
		log.Warn("Built network has no edges, skipping writes",
			zap.Int("degenerate", len(breport.Skipped)))
	case same && len(consumers) == 0:
		report.Unchanged = true
		log.Info("Network unchanged since last snapshot, skipping writes",
			zap.String("fingerprint", doc.Fingerprint))
	default:
		end = c.stage("write")
		c.write(ctx, net, consumers, report)
		end()

		if c.opts.SnapshotPath != "" {
			if report.Failed() {
				log.Warn("Not saving snapshot because some writes failed")
			} else if err := snapshot.Save(c.opts.SnapshotPath, doc); err != nil {
				report.SinkFailures = append(report.SinkFailures,
					SinkFailure{Sink: "snapshot", Err: fmt.Errorf("snapshot: %w", err)})
			} else {
				report.SnapshotSaved = true
			}
		}
	}

	report.Duration = time.Since(start)
	if err := report.Err(); err != nil {
		log.Warn("Run finished with recoverable errors", zap.Error(err))
	}
	log.Info("Run complete", report.LogFields()...)
	if c.opts.Metrics != nil {
		c.opts.Metrics.LogSummary()
	}
	return report, nil
}

// pending returns the consumers that must write doc's network and records
// their targets in doc. same is true when the stored snapshot holds the same
// network; then only consumers whose target it does not list yet are
// returned, unless Force is set.
func (c *Coordinator) pending(doc *snapshot.Document) (consumers []sink.Consumer, same bool) {
	targets := make([]string, len(c.opts.Consumers))
	for i, consumer := range c.opts.Consumers {
		targets[i] = consumer.Target()
	}

	prev := c.previous()
	if prev == nil || prev.Fingerprint != doc.Fingerprint {
		doc.AddTargets(targets...)
		return c.opts.Consumers, false
	}

	doc.AddTargets(prev.Targets...)
	doc.AddTargets(targets...)
	if c.opts.Force {
		return c.opts.Consumers, false
	}

	missing := make(map[string]bool)
	for _, t := range prev.Missing(targets) {
		missing[t] = true
	}
	for _, consumer := range c.opts.Consumers {
		if missing[consumer.Target()] {
			consumers = append(consumers, consumer)
		}
	}
	if len(consumers) > 0 {
		logger.Named("pipeline").Info("Network unchanged, writing sinks the snapshot does not cover",
			zap.Strings("targets", prev.Missing(targets)))
	}
	return consumers, true
}

// previous loads the stored snapshot, or nil when there is none to compare
func (c *Coordinator) previous() *snapshot.Document {
	if c.opts.SnapshotPath == "" {
		return nil
	}
	prev, err := snapshot.Load(c.opts.SnapshotPath)
	if err != nil {
		logger.Named("pipeline").Warn("Ignoring unreadable snapshot",
			zap.String("path", c.opts.SnapshotPath), zap.Error(err))
		return nil
	}
	return prev
}

// write runs consumers concurrently. A failing sink does not stop the
// others. Reports keep consumer order.
func (c *Coordinator) write(ctx context.Context, net *network.Network, consumers []sink.Consumer, report *Report) {
	log := logger.Named("pipeline")
	results := make([]*sink.WriteReport, len(consumers))
	failures := make([]error, len(consumers))
	var g errgroup.Group

	for i, consumer := range consumers {
		i, consumer := i, consumer
		g.Go(func() error {
			wr, err := consumer.Consume(ctx, net)
			if err != nil {
				log.Error("Sink failed", zap.String("sink", consumer.Name()), zap.Error(err))
				failures[i] = err
				return nil
			}
			results[i] = wr
			return nil
		})
	}
	_ = g.Wait()

	for i, consumer := range consumers {
		if failures[i] != nil {
			report.SinkFailures = append(report.SinkFailures,
				SinkFailure{Sink: consumer.Name(), Err: fmt.Errorf("%s: %w", consumer.Name(), failures[i])})
			continue
		}
		report.Sinks = append(report.Sinks, results[i])
	}
}

func (c *Coordinator) stage(name string) func() {
	if c.opts.Metrics == nil {
		return func() {}
	}
	return c.opts.Metrics.Begin(name)
}
