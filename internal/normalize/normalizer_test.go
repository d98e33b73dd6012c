package normalize

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/osmriver/internal/osmdata"
	"github.com/wegman-software/osmriver/internal/style"
)

func river(id osm.WayID, name string, nodes ...osm.NodeID) osmdata.RawWay {
	tags := osm.Tags{{Key: "waterway", Value: "river"}}
	if name != "" {
		tags = append(tags, osm.Tag{Key: "name", Value: name})
	}
	return osmdata.RawWay{ID: id, NodeIDs: nodes, Tags: tags}
}

func fixture() *osmdata.RawData {
	data := osmdata.New()
	data.AddNode(osmdata.RawNode{ID: 1, Lat: 0, Lon: 0})
	data.AddNode(osmdata.RawNode{ID: 2, Lat: 1, Lon: 1})
	data.AddNode(osmdata.RawNode{ID: 3, Lat: 2, Lon: 2})
	return data
}

func TestNormalizeResolvesCoordinates(t *testing.T) {
	data := fixture()
	data.AddWay(river(10, "Thames", 1, 2))
	data.AddWay(river(11, "Thames", 2, 3))

	segs, report := New("London").Normalize(data)
	require.Len(t, segs, 2)

	assert.Equal(t, int64(10), segs[0].WayID)
	assert.Equal(t, orb.LineString{{0, 0}, {1, 1}}, segs[0].Coords)
	assert.Equal(t, "London", segs[0].Region)
	assert.Equal(t, "river", segs[0].Waterway)
	require.NotNil(t, segs[0].Name)
	assert.Equal(t, "Thames", *segs[0].Name)

	assert.Equal(t, 2, report.Ways)
	assert.Equal(t, 2, report.Normalized)
	assert.Empty(t, report.Skipped)
}

func TestNormalizeLonLatOrder(t *testing.T) {
	data := osmdata.New()
	data.AddNode(osmdata.RawNode{ID: 1, Lat: 51.5, Lon: -0.12})
	data.AddNode(osmdata.RawNode{ID: 2, Lat: 51.6, Lon: -0.2})
	data.AddWay(river(1, "", 1, 2))

	segs, _ := New("x").Normalize(data)
	require.Len(t, segs, 1)
	assert.Equal(t, -0.12, segs[0].Coords[0].Lon())
	assert.Equal(t, 51.5, segs[0].Coords[0].Lat())
	assert.Nil(t, segs[0].Name, "missing name is nil")
}

func TestNormalizeMissingNode(t *testing.T) {
	data := fixture()
	data.AddWay(river(10, "A", 1, 99, 2))
	data.AddWay(river(11, "B", 2, 3))

	segs, report := New("r").Normalize(data)
	require.Len(t, segs, 1, "batch continues after a dangling reference")
	assert.Equal(t, int64(11), segs[0].WayID)

	require.Len(t, report.Skipped, 1)
	var missing *MissingNodeError
	require.True(t, errors.As(report.Skipped[0], &missing))
	assert.Equal(t, osm.WayID(10), missing.WayID)
	assert.Equal(t, osm.NodeID(99), missing.NodeID)
}

func TestNormalizeFiltersNonWaterways(t *testing.T) {
	data := fixture()
	data.AddWay(osmdata.RawWay{ID: 1, NodeIDs: []osm.NodeID{1, 2}, Tags: osm.Tags{{Key: "highway", Value: "path"}}})
	data.AddWay(river(2, "", 1, 2))

	segs, report := New("r").Normalize(data)
	assert.Len(t, segs, 1)
	assert.Equal(t, 1, report.Filtered)
	assert.Empty(t, report.Skipped, "filtered ways are not errors")
}

func TestNormalizeStyleFilter(t *testing.T) {
	data := fixture()
	data.AddWay(river(1, "Thames", 1, 2))
	data.AddWay(osmdata.RawWay{ID: 2, NodeIDs: []osm.NodeID{2, 3}, Tags: osm.Tags{{Key: "waterway", Value: "ditch"}}})

	n := New("r", WithFilter(style.NewFilter(style.DefaultConfig().Waterways)))
	segs, report := n.Normalize(data)
	require.Len(t, segs, 1)
	assert.Equal(t, int64(1), segs[0].WayID)
	assert.Equal(t, 1, report.Filtered)
}

func TestNormalizePreservesOrderWithoutDedup(t *testing.T) {
	data := fixture()
	data.AddWay(river(30, "", 3, 2, 1))
	data.AddWay(river(20, "", 1, 2, 3))
	data.AddWay(river(20, "", 1, 2, 3))

	segs, _ := New("r").Normalize(data)
	require.Len(t, segs, 3)
	assert.Equal(t, []int64{30, 20, 20}, []int64{segs[0].WayID, segs[1].WayID, segs[2].WayID})
	assert.Equal(t, orb.LineString{{2, 2}, {1, 1}, {0, 0}}, segs[0].Coords, "digitization order is kept")
}

func TestNormalizeSingleNodeWayPassesThrough(t *testing.T) {
	data := fixture()
	data.AddWay(river(1, "", 1))

	segs, report := New("r").Normalize(data)
	require.Len(t, segs, 1, "degenerate geometry is the builder's concern")
	assert.Len(t, segs[0].Coords, 1)
	assert.Empty(t, report.Skipped)
}

type failingResolver struct{}

func (failingResolver) ResolveName(osm.Tags) (string, error) {
	return "", errors.New("script error")
}

type upperResolver struct{}

func (upperResolver) ResolveName(tags osm.Tags) (string, error) {
	return "RIVER " + tags.Find("name"), nil
}

func TestNormalizeNameResolver(t *testing.T) {
	data := fixture()
	data.AddWay(river(1, "Avon", 1, 2))

	segs, _ := New("r", WithNameResolver(upperResolver{})).Normalize(data)
	require.NotNil(t, segs[0].Name)
	assert.Equal(t, "RIVER Avon", *segs[0].Name)

	segs, report := New("r", WithNameResolver(failingResolver{})).Normalize(data)
	require.Len(t, segs, 1, "name failures do not drop the way")
	assert.Nil(t, segs[0].Name)
	require.Len(t, report.Warnings, 1)
	var nameErr *NameError
	assert.True(t, errors.As(report.Warnings[0], &nameErr))
}

func TestNormalizeNil(t *testing.T) {
	segs, report := New("r").Normalize(nil)
	assert.Empty(t, segs)
	assert.Equal(t, 0, report.Ways)
}
