// Package network merges normalized segments into a deduplicated river graph
// with deterministic node and edge ids.
package network

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"go.uber.org/multierr"
)

// Node is a junction or end point of the network
type Node struct {
	ID    string    `json:"id"`
	Coord orb.Point `json:"coord"`
	Edges []string  `json:"edges"` // sorted incident edge ids
}

// Edge is a deduplicated river segment between two nodes
type Edge struct {
	ID         string         `json:"id"`
	Start      string         `json:"start"`
	End        string         `json:"end"`
	Coords     orb.LineString `json:"coords"`
	Name       *string        `json:"name"`
	AltNames   []string       `json:"alt_names,omitempty"`
	Waterway   string         `json:"waterway,omitempty"`
	SourceWays []int64        `json:"source_ways"`
}

// IsLoop reports whether the edge starts and ends at the same node
func (e *Edge) IsLoop() bool {
	return e.Start == e.End
}

// Length returns the geodesic length of the edge in meters
func (e *Edge) Length() float64 {
	return geo.Length(e.Coords)
}

// NameOrEmpty returns the name or "" when unnamed
func (e *Edge) NameOrEmpty() string {
	if e.Name == nil {
		return ""
	}
	return *e.Name
}

// Network is the river graph of one region. It is not modified after Build
// returns.
type Network struct {
	Region    string
	Tolerance float64
	Nodes     map[string]*Node
	Edges     map[string]*Edge
}

// NodeIDs returns node ids in ascending order
func (n *Network) NodeIDs() []string {
	ids := make([]string, 0, len(n.Nodes))
	for id := range n.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EdgeIDs returns edge ids in ascending order
func (n *Network) EdgeIDs() []string {
	ids := make([]string, 0, len(n.Edges))
	for id := range n.Edges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks bidirectional referential integrity between nodes and edges
func (n *Network) Validate() error {
	var err error
	for _, id := range n.EdgeIDs() {
		e := n.Edges[id]
		for _, end := range []string{e.Start, e.End} {
			node, ok := n.Nodes[end]
			if !ok {
				err = multierr.Append(err, fmt.Errorf("edge %s references missing node %s", id, end))
				continue
			}
			if !contains(node.Edges, id) {
				err = multierr.Append(err, fmt.Errorf("node %s does not list incident edge %s", end, id))
			}
		}
	}
	for _, id := range n.NodeIDs() {
		node := n.Nodes[id]
		if len(node.Edges) == 0 {
			err = multierr.Append(err, fmt.Errorf("node %s has no incident edges", id))
		}
		for _, eid := range node.Edges {
			e, ok := n.Edges[eid]
			if !ok {
				err = multierr.Append(err, fmt.Errorf("node %s references missing edge %s", id, eid))
				continue
			}
			if e.Start != id && e.End != id {
				err = multierr.Append(err, fmt.Errorf("node %s lists edge %s which does not touch it", id, eid))
			}
		}
	}
	return err
}

// Components returns the number of connected components
func (n *Network) Components() int {
	parent := make(map[string]string, len(n.Nodes))
	var find func(string) string
	find = func(x string) string {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for id := range n.Nodes {
		parent[id] = id
	}

	components := len(n.Nodes)
	for _, e := range n.Edges {
		if _, ok := parent[e.Start]; !ok {
			continue
		}
		if _, ok := parent[e.End]; !ok {
			continue
		}
		a, b := find(e.Start), find(e.End)
		if a != b {
			parent[a] = b
			components--
		}
	}
	return components
}

// Stats summarizes the network size
type Stats struct {
	Nodes      int
	Edges      int
	SelfLoops  int
	Components int
	LengthM    float64
}

// Stats computes summary counts
func (n *Network) Stats() Stats {
	s := Stats{Nodes: len(n.Nodes), Edges: len(n.Edges), Components: n.Components()}
	for _, e := range n.Edges {
		if e.IsLoop() {
			s.SelfLoops++
		}
		s.LengthM += e.Length()
	}
	return s
}

func contains(sorted []string, s string) bool {
	i := sort.SearchStrings(sorted, s)
	return i < len(sorted) && sorted[i] == s
}
