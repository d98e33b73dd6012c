package sink

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/osmriver/internal/logger"
)

// WriteFunc writes a chunk of records in one round trip
type WriteFunc[T any] func(ctx context.Context, chunk []T) error

// UpsertChunked writes records in chunks of size. When a chunk fails it is
// retried one record at a time so a single bad record only costs itself;
// those failures are added to report. Only context cancellation aborts.
func UpsertChunked[T any](ctx context.Context, report *WriteReport, records []T, size int, id func(T) string, write WriteFunc[T]) error {
	log := logger.Get()
	if size < 1 {
		size = 1
	}
	tracker := newProgressTracker(len(records))
	done := 0

	for start := 0; start < len(records); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		if now := time.Now(); start > 0 && tracker.due(now) {
			p := tracker.calculate(done, now)
			log.Info("Write progress",
				zap.String("sink", report.Sink),
				zap.Int("done", p.Done),
				zap.Int("total", p.Total),
				zap.Float64("pct", float64(int(p.Percentage*10))/10),
				zap.String("rate", FormatThroughput(p.Throughput)),
				zap.String("eta", FormatETA(p.ETA)))
		}

		end := min(start+size, len(records))
		chunk := records[start:end]
		done = end

		err := write(ctx, chunk)
		if err == nil {
			report.Written += len(chunk)
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(chunk) == 1 {
			report.Add(&WriteError{Sink: report.Sink, RecordID: id(chunk[0]), Err: err})
			continue
		}

		log.Warn("Chunk write failed, retrying records individually",
			zap.String("sink", report.Sink),
			zap.Int("records", len(chunk)),
			zap.Error(err))

		for _, rec := range chunk {
			if err := write(ctx, []T{rec}); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				report.Add(&WriteError{Sink: report.Sink, RecordID: id(rec), Err: err})
				continue
			}
			report.Written++
		}
	}
	return nil
}
