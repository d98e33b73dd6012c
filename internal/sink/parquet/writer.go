// Package parquet exports network edges to a Parquet file with EWKB geometry.
package parquet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"go.uber.org/zap"

	"github.com/wegman-software/osmriver/internal/logger"
	"github.com/wegman-software/osmriver/internal/network"
	"github.com/wegman-software/osmriver/internal/sink"
	"github.com/wegman-software/osmriver/internal/wkb"
)

// SinkName identifies this sink in reports and logs
const SinkName = "parquet"

// Schema is the column layout of the edge file
var Schema = arrow.NewSchema([]arrow.Field{
	{Name: "edge_id", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "start_node", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "end_node", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "alt_names", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
	{Name: "region", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "waterway", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "source_ways", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64), Nullable: false},
	{Name: "length_m", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	{Name: "geom_wkb", Type: arrow.BinaryTypes.Binary, Nullable: false},
}, nil)

// Writer writes every edge of a network to one Parquet file
type Writer struct {
	path      string
	batchSize int
	enc       *wkb.Encoder
}

// New creates a writer for path storing geometry in srid
func New(path string, srid, batchSize int) (*Writer, error) {
	enc, err := wkb.NewEncoder(srid)
	if err != nil {
		return nil, err
	}
	if batchSize < 1 {
		batchSize = 10000
	}
	return &Writer{path: path, batchSize: batchSize, enc: enc}, nil
}

// Name implements sink.Consumer
func (w *Writer) Name() string { return SinkName }

// Target implements sink.Consumer
func (w *Writer) Target() string { return SinkName + ":" + w.path }

// Consume implements sink.Consumer. The file is written next to path and
// renamed into place when complete.
func (w *Writer) Consume(ctx context.Context, net *network.Network) (*sink.WriteReport, error) {
	start := time.Now()
	report := &sink.WriteReport{Sink: SinkName}

	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	tmpPath := w.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet file: %w", err)
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)
	fw, err := pqarrow.NewFileWriter(Schema, f, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	builder := array.NewRecordBuilder(memory.DefaultAllocator, Schema)
	defer builder.Release()

	pending := 0
	flush := func() error {
		if pending == 0 {
			return nil
		}
		rec := builder.NewRecord()
		defer rec.Release()
		pending = 0
		return fw.Write(rec)
	}

	fail := func(err error) (*sink.WriteReport, error) {
		fw.Close()
		os.Remove(tmpPath)
		return nil, err
	}

	for _, row := range sink.SpatialRows(net) {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		geom, err := w.enc.LineString(row.Geometry)
		if err != nil {
			report.Add(&sink.WriteError{Sink: SinkName, RecordID: row.EdgeID, Err: err})
			continue
		}
		edge := net.Edges[row.EdgeID]
		appendRow(builder, row, edge.Start, edge.End, geom)
		pending++
		report.Written++

		if pending >= w.batchSize {
			if err := flush(); err != nil {
				return fail(fmt.Errorf("failed to write parquet batch: %w", err))
			}
		}
	}
	if err := flush(); err != nil {
		return fail(fmt.Errorf("failed to write parquet batch: %w", err))
	}

	if err := fw.Close(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to close parquet writer: %w", err)
	}
	// fw.Close normally closes f already
	_ = f.Close()
	if err := os.Rename(tmpPath, w.path); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename parquet file: %w", err)
	}

	report.Duration = time.Since(start)
	logger.Named(SinkName).Info("Parquet export complete",
		append(report.LogFields(), zap.String("path", w.path))...)
	return report, nil
}

func appendRow(b *array.RecordBuilder, row sink.SpatialRow, startNode, endNode string, geom []byte) {
	b.Field(0).(*array.StringBuilder).Append(row.EdgeID)
	b.Field(1).(*array.StringBuilder).Append(startNode)
	b.Field(2).(*array.StringBuilder).Append(endNode)
	if row.Name != nil {
		b.Field(3).(*array.StringBuilder).Append(*row.Name)
	} else {
		b.Field(3).(*array.StringBuilder).AppendNull()
	}

	alt := b.Field(4).(*array.ListBuilder)
	if len(row.AltNames) == 0 {
		alt.AppendNull()
	} else {
		alt.Append(true)
		values := alt.ValueBuilder().(*array.StringBuilder)
		for _, n := range row.AltNames {
			values.Append(n)
		}
	}

	b.Field(5).(*array.StringBuilder).Append(row.Region)
	b.Field(6).(*array.StringBuilder).Append(row.Waterway)

	ways := b.Field(7).(*array.ListBuilder)
	ways.Append(true)
	wayValues := ways.ValueBuilder().(*array.Int64Builder)
	for _, id := range row.SourceWays {
		wayValues.Append(id)
	}

	b.Field(8).(*array.Float64Builder).Append(row.LengthM)
	b.Field(9).(*array.BinaryBuilder).Append(geom)
}
