package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/osmriver/internal/network"
	"github.com/wegman-software/osmriver/internal/normalize"
)

func build(t *testing.T, names ...string) *network.Network {
	t.Helper()
	var segs []normalize.Segment
	for i, n := range names {
		n := n
		x := float64(i)
		segs = append(segs, normalize.Segment{
			WayID:    int64(i + 1),
			Coords:   orb.LineString{{x, x}, {x + 1, x + 1}},
			Name:     &n,
			Waterway: "river",
			Region:   "test",
		})
	}
	net, _ := network.NewBuilder(1e-6).Build("test", segs)
	return net
}

func TestFromNetworkSorted(t *testing.T) {
	net := build(t, "Thames", "Thames", "Cherwell")
	doc, err := FromNetwork(net)
	require.NoError(t, err)

	assert.Equal(t, "test", doc.Region)
	assert.Len(t, doc.Nodes, 4)
	assert.Len(t, doc.Edges, 3)
	for i := 1; i < len(doc.Edges); i++ {
		assert.Less(t, doc.Edges[i-1].ID, doc.Edges[i].ID)
	}
	for i := 1; i < len(doc.Nodes); i++ {
		assert.Less(t, doc.Nodes[i-1].ID, doc.Nodes[i].ID)
	}
	assert.Len(t, doc.Fingerprint, 32)
	assert.NoError(t, doc.Verify())
}

func TestFingerprintStableAndSensitive(t *testing.T) {
	a, err := FromNetwork(build(t, "Thames", "Thames"))
	require.NoError(t, err)
	b, err := FromNetwork(build(t, "Thames", "Thames"))
	require.NoError(t, err)
	c, err := FromNetwork(build(t, "Thames", "Isis"))
	require.NoError(t, err)

	assert.Equal(t, a.Fingerprint, b.Fingerprint)
	assert.NotEqual(t, a.Fingerprint, c.Fingerprint)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	net := build(t, "Thames", "Thames")
	doc, err := FromNetwork(net)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "network.json")
	require.NoError(t, Save(path, doc))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, doc, loaded)
	assert.NoError(t, loaded.Verify())

	restored := loaded.Network()
	require.NoError(t, restored.Validate())
	assert.Equal(t, net.EdgeIDs(), restored.EdgeIDs())
	assert.Equal(t, net.NodeIDs(), restored.NodeIDs())
	for id, e := range net.Edges {
		assert.Equal(t, e.Coords, restored.Edges[id].Coords)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestLoadMissing(t *testing.T) {
	doc, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.NoError(t, err)
	assert.Nil(t, doc)
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestVerifyDetectsTampering(t *testing.T) {
	doc, err := FromNetwork(build(t, "Thames"))
	require.NoError(t, err)
	doc.Edges[0].SourceWays = []int64{42}
	assert.Error(t, doc.Verify())
}

func TestTargetsOutsideFingerprint(t *testing.T) {
	doc, err := FromNetwork(build(t, "Thames"))
	require.NoError(t, err)
	fp := doc.Fingerprint

	doc.AddTargets("postgis:public.rivers", "neo4j:rivers")
	doc.AddTargets("neo4j:rivers")
	assert.Equal(t, []string{"neo4j:rivers", "postgis:public.rivers"}, doc.Targets)
	assert.NoError(t, doc.Verify(), "targets do not change the fingerprint")
	assert.Equal(t, fp, doc.Fingerprint)

	assert.Equal(t, []string{"parquet:rivers.parquet"},
		doc.Missing([]string{"neo4j:rivers", "parquet:rivers.parquet"}))
	assert.Empty(t, doc.Missing([]string{"postgis:public.rivers"}))
}
