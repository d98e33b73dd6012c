// Package sink defines the consumers a built network is written to and the
// pure projections they share.
package sink

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wegman-software/osmriver/internal/network"
)

// Consumer writes a finished network to one destination. Implementations
// must not modify the network.
type Consumer interface {
	Name() string
	// Target identifies the destination, e.g. "postgis:public.rivers", so a
	// snapshot can record which stores already hold a network.
	Target() string
	Consume(ctx context.Context, net *network.Network) (*WriteReport, error)
}

// WriteError is a single record rejected by a sink
type WriteError struct {
	Sink     string
	RecordID string
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: failed to write %s: %v", e.Sink, e.RecordID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// WriteReport summarizes one Consume call
type WriteReport struct {
	Sink     string
	Written  int
	Failed   int
	Pruned   int
	Errors   []error // *WriteError per rejected record
	Duration time.Duration
}

// Add records a rejected record
func (r *WriteReport) Add(err *WriteError) {
	r.Failed++
	r.Errors = append(r.Errors, err)
}

// Err combines the per-record errors, or nil
func (r *WriteReport) Err() error {
	return multierr.Combine(r.Errors...)
}

// LogFields returns zap fields summarizing the report
func (r *WriteReport) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("sink", r.Sink),
		zap.Int("written", r.Written),
		zap.Int("failed", r.Failed),
		zap.Int("pruned", r.Pruned),
		zap.Duration("duration", r.Duration.Round(time.Millisecond)),
	}
}
