package sink

import (
	"github.com/paulmach/orb"

	"github.com/wegman-software/osmriver/internal/network"
)

// SpatialRow is one edge as a spatial table row
type SpatialRow struct {
	EdgeID     string
	Geometry   orb.LineString
	Name       *string
	AltNames   []string
	Region     string
	Waterway   string
	SourceWays []int64
	LengthM    float64
}

// SpatialRows projects every edge to a row, ordered by edge id. Node data is
// not consulted.
func SpatialRows(net *network.Network) []SpatialRow {
	rows := make([]SpatialRow, 0, len(net.Edges))
	for _, id := range net.EdgeIDs() {
		e := net.Edges[id]
		rows = append(rows, SpatialRow{
			EdgeID:     e.ID,
			Geometry:   e.Coords,
			Name:       e.Name,
			AltNames:   e.AltNames,
			Region:     net.Region,
			Waterway:   e.Waterway,
			SourceWays: e.SourceWays,
			LengthM:    e.Length(),
		})
	}
	return rows
}

// NodeUpsert creates or updates a graph node
type NodeUpsert struct {
	ID  string
	Lat float64
	Lon float64
}

// RelationshipUpsert creates or updates the relationship for an edge
type RelationshipUpsert struct {
	ID         string
	Start      string
	End        string
	Name       *string
	AltNames   []string
	Waterway   string
	SourceWays []int64
	LengthM    float64
}

// GraphBatch is the ordered set of graph mutations for a network. Nodes
// must be applied before relationships.
type GraphBatch struct {
	Region        string
	Nodes         []NodeUpsert
	Relationships []RelationshipUpsert
}

// GraphMutations projects the network to graph upserts sorted by id
func GraphMutations(net *network.Network) GraphBatch {
	batch := GraphBatch{
		Region:        net.Region,
		Nodes:         make([]NodeUpsert, 0, len(net.Nodes)),
		Relationships: make([]RelationshipUpsert, 0, len(net.Edges)),
	}
	for _, id := range net.NodeIDs() {
		n := net.Nodes[id]
		batch.Nodes = append(batch.Nodes, NodeUpsert{ID: n.ID, Lat: n.Coord.Lat(), Lon: n.Coord.Lon()})
	}
	for _, id := range net.EdgeIDs() {
		e := net.Edges[id]
		batch.Relationships = append(batch.Relationships, RelationshipUpsert{
			ID:         e.ID,
			Start:      e.Start,
			End:        e.End,
			Name:       e.Name,
			AltNames:   e.AltNames,
			Waterway:   e.Waterway,
			SourceWays: e.SourceWays,
			LengthM:    e.Length(),
		})
	}
	return batch
}
