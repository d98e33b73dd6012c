// Package postgis writes river edges to a PostGIS table with idempotent
// upserts keyed by edge id.
package postgis

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wegman-software/osmriver/internal/config"
	"github.com/wegman-software/osmriver/internal/logger"
	"github.com/wegman-software/osmriver/internal/network"
	"github.com/wegman-software/osmriver/internal/sink"
	"github.com/wegman-software/osmriver/internal/wkb"
)

// SinkName identifies this sink in reports and logs
const SinkName = "postgis"

// DB is the subset of *pgxpool.Pool the writer uses
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Options configures a Writer
type Options struct {
	Schema    string
	Table     string
	SRID      int
	BatchSize int
	Prune     bool // delete rows of the region that are not in the network
	SkipDDL   bool // assume the table exists
}

// Writer upserts edges into schema.table
type Writer struct {
	db   DB
	opts Options
	enc  *wkb.Encoder
	q    queries
}

// Connect opens a connection pool for the configured database
func Connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	return pool, nil
}

// New creates a writer on db
func New(db DB, opts Options) (*Writer, error) {
	if opts.Table == "" {
		return nil, fmt.Errorf("table name is required")
	}
	if opts.Schema == "" {
		opts.Schema = "public"
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 500
	}
	enc, err := wkb.NewEncoder(opts.SRID)
	if err != nil {
		return nil, err
	}
	return &Writer{db: db, opts: opts, enc: enc, q: buildQueries(opts.Schema, opts.Table, opts.SRID)}, nil
}

// Name implements sink.Consumer
func (w *Writer) Name() string { return SinkName }

// Target implements sink.Consumer
func (w *Writer) Target() string {
	return SinkName + ":" + w.opts.Schema + "." + w.opts.Table
}

// EnsureTable creates the PostGIS extension, schema, table and indexes if missing
func (w *Writer) EnsureTable(ctx context.Context) error {
	for _, stmt := range w.q.ddl {
		if _, err := w.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to prepare table: %w", err)
		}
	}
	return nil
}

// row is a spatial row with its geometry already encoded
type row struct {
	sink.SpatialRow
	geom []byte
}

// Consume implements sink.Consumer
func (w *Writer) Consume(ctx context.Context, net *network.Network) (*sink.WriteReport, error) {
	log := logger.Named(SinkName)
	start := time.Now()
	report := &sink.WriteReport{Sink: SinkName}

	if !w.opts.SkipDDL {
		if err := w.EnsureTable(ctx); err != nil {
			return nil, err
		}
	}

	spatial := sink.SpatialRows(net)
	rows := make([]row, 0, len(spatial))
	for _, r := range spatial {
		geom, err := w.enc.LineString(r.Geometry)
		if err != nil {
			report.Add(&sink.WriteError{Sink: SinkName, RecordID: r.EdgeID, Err: err})
			continue
		}
		rows = append(rows, row{SpatialRow: r, geom: geom})
	}

	err := sink.UpsertChunked(ctx, report, rows, w.opts.BatchSize,
		func(r row) string { return r.EdgeID },
		w.upsert)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert edges: %w", err)
	}

	if w.opts.Prune {
		pruned, err := w.prune(ctx, net)
		if err != nil {
			return nil, err
		}
		report.Pruned = pruned
	}

	report.Duration = time.Since(start)
	log.Info("Spatial write complete", report.LogFields()...)
	return report, nil
}

// upsert sends one chunk as a pipelined batch; the server runs it in a single
// implicit transaction so a failing row rejects the whole chunk
func (w *Writer) upsert(ctx context.Context, rows []row) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(w.q.upsert,
			r.EdgeID, r.Name, r.AltNames, r.Region, r.Waterway, r.SourceWays, r.LengthM, r.geom)
	}

	res := w.db.SendBatch(ctx, batch)
	for range rows {
		if _, err := res.Exec(); err != nil {
			res.Close()
			return err
		}
	}
	return res.Close()
}

func (w *Writer) prune(ctx context.Context, net *network.Network) (int, error) {
	tag, err := w.db.Exec(ctx, w.q.prune, net.Region, net.EdgeIDs())
	if err != nil {
		return 0, fmt.Errorf("failed to prune stale edges: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		logger.Named(SinkName).Info("Pruned stale edges", zap.String("region", net.Region), zap.Int64("rows", n))
	}
	return int(tag.RowsAffected()), nil
}
