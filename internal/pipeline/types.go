package pipeline

import (
	"errors"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wegman-software/osmriver/internal/network"
	"github.com/wegman-software/osmriver/internal/normalize"
	"github.com/wegman-software/osmriver/internal/osmdata"
	"github.com/wegman-software/osmriver/internal/sink"
)

// ErrNoSegments aborts a run whose input yields no river segments
var ErrNoSegments = errors.New("no river segments after normalization")

// SinkFailure records a sink that could not complete at all
type SinkFailure struct {
	Sink string
	Err  error
}

// Report summarizes one pipeline run
type Report struct {
	Region      string
	Source      string
	Raw         osmdata.Stats
	Normalize   *normalize.Report
	Build       *network.BuildReport
	Network     network.Stats
	Fingerprint string

	Unchanged     bool // network matched the previous snapshot, writes skipped
	Empty         bool // every segment was degenerate, writes skipped
	Sinks         []*sink.WriteReport
	SinkFailures  []SinkFailure
	SnapshotSaved bool

	Duration time.Duration
}

// Failed reports whether any record or sink failed to write
func (r *Report) Failed() bool {
	if len(r.SinkFailures) > 0 {
		return true
	}
	for _, s := range r.Sinks {
		if s.Failed > 0 {
			return true
		}
	}
	return false
}

// Err combines every recoverable problem of the run, or nil
func (r *Report) Err() error {
	var errs []error
	if r.Normalize != nil {
		errs = append(errs, r.Normalize.Skipped...)
		errs = append(errs, r.Normalize.Warnings...)
	}
	if r.Build != nil {
		errs = append(errs, r.Build.Skipped...)
	}
	for _, s := range r.Sinks {
		errs = append(errs, s.Err())
	}
	for _, f := range r.SinkFailures {
		errs = append(errs, f.Err)
	}
	return multierr.Combine(errs...)
}

// LogFields returns zap fields for the end-of-run summary
func (r *Report) LogFields() []zap.Field {
	fields := []zap.Field{
		zap.String("region", r.Region),
		zap.String("source", r.Source),
		zap.Int("ways", r.Raw.Ways),
		zap.Int("raw_nodes", r.Raw.Nodes),
	}
	if r.Normalize != nil {
		fields = append(fields,
			zap.Int("segments", r.Normalize.Normalized),
			zap.Int("filtered", r.Normalize.Filtered),
			zap.Int("skipped_ways", len(r.Normalize.Skipped)))
	}
	if r.Build != nil {
		fields = append(fields,
			zap.Int("duplicates", r.Build.Duplicates),
			zap.Int("name_conflicts", len(r.Build.Warnings)),
			zap.Int("degenerate", len(r.Build.Skipped)))
	}
	fields = append(fields,
		zap.Int("nodes", r.Network.Nodes),
		zap.Int("edges", r.Network.Edges),
		zap.Int("components", r.Network.Components),
		zap.Float64("length_km", float64(int64(r.Network.LengthM/100))/10),
		zap.String("fingerprint", r.Fingerprint),
		zap.Bool("unchanged", r.Unchanged),
		zap.Bool("empty", r.Empty),
		zap.Bool("snapshot_saved", r.SnapshotSaved),
		zap.Duration("duration", r.Duration.Round(time.Millisecond)))
	return fields
}
