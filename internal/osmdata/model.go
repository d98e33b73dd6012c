// Package osmdata holds the raw OSM records a river run starts from and the
// decoders that produce them (Overpass JSON, .osm XML, .osm.pbf).
package osmdata

import (
	"github.com/paulmach/osm"
)

// RawWay is a way as fetched, before node resolution
type RawWay struct {
	ID      osm.WayID
	NodeIDs []osm.NodeID
	Tags    osm.Tags
}

// Waterway returns the value of the waterway tag, or "" when absent
func (w RawWay) Waterway() string {
	return w.Tags.Find("waterway")
}

// RawNode is a node coordinate
type RawNode struct {
	ID  osm.NodeID
	Lat float64
	Lon float64
}

// RawData is the result of one fetch: ways in input order plus the nodes
// they reference, keyed by id
type RawData struct {
	Ways  []RawWay
	Nodes map[osm.NodeID]RawNode
}

// New returns an empty RawData
func New() *RawData {
	return &RawData{Nodes: make(map[osm.NodeID]RawNode)}
}

// AddWay appends a way
func (d *RawData) AddWay(w RawWay) {
	d.Ways = append(d.Ways, w)
}

// AddNode stores a node, replacing any earlier node with the same id
func (d *RawData) AddNode(n RawNode) {
	if d.Nodes == nil {
		d.Nodes = make(map[osm.NodeID]RawNode)
	}
	d.Nodes[n.ID] = n
}

// Merge adds the ways and nodes of other. Ways already present (by id) are
// not added twice, so overlapping tiles merge cleanly.
func (d *RawData) Merge(other *RawData) {
	if other == nil {
		return
	}
	seen := make(map[osm.WayID]struct{}, len(d.Ways))
	for _, w := range d.Ways {
		seen[w.ID] = struct{}{}
	}
	for _, w := range other.Ways {
		if _, ok := seen[w.ID]; ok {
			continue
		}
		seen[w.ID] = struct{}{}
		d.AddWay(w)
	}
	for id, n := range other.Nodes {
		if _, ok := d.Nodes[id]; !ok {
			d.AddNode(n)
		}
	}
}

// Stats summarizes the content of a RawData
type Stats struct {
	Ways  int
	Nodes int
}

// Stats returns counts of ways and nodes
func (d *RawData) Stats() Stats {
	return Stats{Ways: len(d.Ways), Nodes: len(d.Nodes)}
}
