package osmdata

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const thamesJSON = `{
  "version": 0.6,
  "elements": [
    {"type": "node", "id": 1, "lat": 0, "lon": 0},
    {"type": "node", "id": 2, "lat": 1, "lon": 1},
    {"type": "node", "id": 3, "lat": 2, "lon": 2},
    {"type": "way", "id": 10, "nodes": [1, 2], "tags": {"waterway": "river", "name": "Thames"}},
    {"type": "way", "id": 11, "nodes": [2, 3], "tags": {"waterway": "river", "name": "Thames"}}
  ]
}`

func TestDecodeOverpass(t *testing.T) {
	data, err := DecodeOverpass(strings.NewReader(thamesJSON))
	require.NoError(t, err)

	require.Len(t, data.Ways, 2)
	assert.Len(t, data.Nodes, 3)
	assert.Equal(t, osm.WayID(10), data.Ways[0].ID)
	assert.Equal(t, []osm.NodeID{1, 2}, data.Ways[0].NodeIDs)
	assert.Equal(t, "river", data.Ways[0].Waterway())
	assert.Equal(t, "Thames", data.Ways[1].Tags.Find("name"))
	assert.Equal(t, RawNode{ID: 3, Lat: 2, Lon: 2}, data.Nodes[3])
}

func TestDecodeOverpassInlineGeometry(t *testing.T) {
	t.Run("with node ids", func(t *testing.T) {
		in := `{"elements":[{"type":"way","id":5,"nodes":[7,8],
			"geometry":[{"lat":51.5,"lon":-0.1},{"lat":51.6,"lon":-0.2}],
			"tags":{"waterway":"river"}}]}`
		data, err := DecodeOverpass(strings.NewReader(in))
		require.NoError(t, err)
		assert.Equal(t, RawNode{ID: 8, Lat: 51.6, Lon: -0.2}, data.Nodes[8])
	})

	t.Run("without node ids", func(t *testing.T) {
		in := `{"elements":[{"type":"way","id":5,
			"geometry":[{"lat":1,"lon":2},{"lat":3,"lon":4},{"lat":5,"lon":6}]}]}`
		data, err := DecodeOverpass(strings.NewReader(in))
		require.NoError(t, err)
		require.Len(t, data.Ways[0].NodeIDs, 3)
		for _, id := range data.Ways[0].NodeIDs {
			assert.Less(t, int64(id), int64(0))
			assert.Contains(t, data.Nodes, id)
		}
	})

	t.Run("null entry leaves node missing", func(t *testing.T) {
		in := `{"elements":[{"type":"way","id":5,"nodes":[7,8],
			"geometry":[{"lat":1,"lon":2},null]}]}`
		data, err := DecodeOverpass(strings.NewReader(in))
		require.NoError(t, err)
		assert.Contains(t, data.Nodes, osm.NodeID(7))
		assert.NotContains(t, data.Nodes, osm.NodeID(8))
	})
}

func TestDecodeOverpassErrors(t *testing.T) {
	_, err := DecodeOverpass(strings.NewReader("{not json"))
	assert.Error(t, err)

	_, err = DecodeOverpass(strings.NewReader(`{"remark":"runtime error: Query timed out","elements":[]}`))
	var remark *RemarkError
	require.True(t, errors.As(err, &remark))
	assert.Contains(t, remark.Remark, "timed out")
}

func TestEncodeOverpassRoundTrip(t *testing.T) {
	data, err := DecodeOverpass(strings.NewReader(thamesJSON))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, EncodeOverpass(&buf, data))

	again, err := DecodeOverpass(&buf)
	require.NoError(t, err)
	assert.Equal(t, data.Nodes, again.Nodes)
	require.Len(t, again.Ways, 2)
	assert.Equal(t, data.Ways[1].NodeIDs, again.Ways[1].NodeIDs)
	assert.Equal(t, data.Ways[1].Tags.Map(), again.Ways[1].Tags.Map())
}

func TestMerge(t *testing.T) {
	a := New()
	a.AddWay(RawWay{ID: 1})
	a.AddNode(RawNode{ID: 1, Lat: 1})

	b := New()
	b.AddWay(RawWay{ID: 1})
	b.AddWay(RawWay{ID: 2})
	b.AddNode(RawNode{ID: 1, Lat: 99})
	b.AddNode(RawNode{ID: 2})

	a.Merge(b)
	assert.Equal(t, Stats{Ways: 2, Nodes: 2}, a.Stats())
	assert.Equal(t, float64(1), a.Nodes[1].Lat, "existing nodes are kept")
}

func TestDetectFormat(t *testing.T) {
	tests := map[string]Format{
		"england.osm.pbf": FormatPBF,
		"thames.OSM":      FormatXML,
		"export.xml":      FormatXML,
		"overpass.json":   FormatJSON,
		"rivers.csv":      FormatUnknown,
	}
	for name, want := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, want, DetectFormat(name))
		})
	}
}

func TestReadFileXML(t *testing.T) {
	const doc = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6">
  <node id="1" lat="0" lon="0"/>
  <node id="2" lat="1" lon="1"/>
  <node id="3" lat="5" lon="5"/>
  <way id="10">
    <nd ref="1"/><nd ref="2"/>
    <tag k="waterway" v="river"/>
    <tag k="name" v="Thames"/>
  </way>
  <way id="11">
    <nd ref="2"/><nd ref="3"/>
    <tag k="highway" v="footway"/>
  </way>
</osm>`
	path := filepath.Join(t.TempDir(), "thames.osm")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	data, err := ReadFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, data.Ways, 1, "non-waterway ways are dropped")
	assert.Equal(t, osm.WayID(10), data.Ways[0].ID)
	assert.Len(t, data.Nodes, 2, "only referenced nodes are kept")
}

func TestReadFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thames.json")
	require.NoError(t, os.WriteFile(path, []byte(thamesJSON), 0644))

	data, err := ReadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, data.Ways, 2)
}

func TestReadFileUnsupported(t *testing.T) {
	_, err := ReadFile(context.Background(), "rivers.csv")
	assert.Error(t, err)
}
