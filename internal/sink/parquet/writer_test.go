package parquet

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/osmriver/internal/network"
	"github.com/wegman-software/osmriver/internal/normalize"
)

func TestConsumeWritesEdges(t *testing.T) {
	thames := "Thames"
	segs := []normalize.Segment{
		{WayID: 1, Coords: orb.LineString{{0, 0}, {1, 1}}, Name: &thames, Waterway: "river"},
		{WayID: 2, Coords: orb.LineString{{1, 1}, {2, 2}}, Waterway: "river"},
		{WayID: 3, Coords: orb.LineString{{2, 2}, {1, 1}}, Waterway: "river"},
	}
	net, _ := network.NewBuilder(1e-6).Build("London", segs)

	path := filepath.Join(t.TempDir(), "export", "edges.parquet")
	w, err := New(path, 4326, 1)
	require.NoError(t, err)

	report, err := w.Consume(context.Background(), net)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Written)
	assert.Equal(t, "parquet", w.Name())

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file renamed away")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	pf, err := file.NewParquetReader(f)
	require.NoError(t, err)
	defer pf.Close()

	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	require.NoError(t, err)

	tbl, err := reader.ReadTable(context.Background())
	require.NoError(t, err)
	defer tbl.Release()

	assert.Equal(t, int64(2), tbl.NumRows())
	assert.Len(t, tbl.Schema().Fields(), len(Schema.Fields()))

	ids := tbl.Column(0).Data().Chunk(0).(*array.String)
	assert.Equal(t, net.EdgeIDs()[0], ids.Value(0))

	nulls := 0
	for _, chunk := range tbl.Column(3).Data().Chunks() {
		nulls += chunk.NullN()
	}
	assert.Equal(t, 1, nulls, "the unnamed edge has a null name")
}

func TestNewRejectsUnsupportedSRID(t *testing.T) {
	_, err := New("x.parquet", 900913, 0)
	assert.Error(t, err)
}
