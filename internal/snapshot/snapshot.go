// Package snapshot persists a built network as JSON for auditing and replay,
// and fingerprints it so unchanged runs can skip the sinks.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/paulmach/orb"
	"github.com/zeebo/xxh3"

	"github.com/wegman-software/osmriver/internal/network"
)

// Node is the JSON form of a network node
type Node struct {
	ID    string   `json:"id"`
	Lon   float64  `json:"lon"`
	Lat   float64  `json:"lat"`
	Edges []string `json:"edges"`
}

// Edge is the JSON form of a network edge
type Edge struct {
	ID         string       `json:"id"`
	Start      string       `json:"start"`
	End        string       `json:"end"`
	Name       *string      `json:"name"`
	AltNames   []string     `json:"alt_names,omitempty"`
	Waterway   string       `json:"waterway,omitempty"`
	SourceWays []int64      `json:"source_ways"`
	Coords     [][2]float64 `json:"coords"` // [lon, lat]
}

// Document is the snapshot file content. Nodes and edges are sorted by id so
// identical networks produce identical files. Targets lists the sink
// destinations that hold this network; it is not part of the fingerprint.
type Document struct {
	Region      string   `json:"region"`
	Tolerance   float64  `json:"tolerance"`
	Fingerprint string   `json:"fingerprint"`
	Targets     []string `json:"targets,omitempty"`
	Nodes       []Node   `json:"nodes"`
	Edges       []Edge   `json:"edges"`
}

// FromNetwork converts a network into a document and computes its fingerprint
func FromNetwork(net *network.Network) (*Document, error) {
	doc := &Document{
		Region:    net.Region,
		Tolerance: net.Tolerance,
		Nodes:     make([]Node, 0, len(net.Nodes)),
		Edges:     make([]Edge, 0, len(net.Edges)),
	}

	for _, id := range net.NodeIDs() {
		n := net.Nodes[id]
		doc.Nodes = append(doc.Nodes, Node{
			ID:    n.ID,
			Lon:   n.Coord.Lon(),
			Lat:   n.Coord.Lat(),
			Edges: append([]string(nil), n.Edges...),
		})
	}

	for _, id := range net.EdgeIDs() {
		e := net.Edges[id]
		coords := make([][2]float64, len(e.Coords))
		for i, p := range e.Coords {
			coords[i] = [2]float64{p.Lon(), p.Lat()}
		}
		doc.Edges = append(doc.Edges, Edge{
			ID:         e.ID,
			Start:      e.Start,
			End:        e.End,
			Name:       e.Name,
			AltNames:   e.AltNames,
			Waterway:   e.Waterway,
			SourceWays: e.SourceWays,
			Coords:     coords,
		})
	}

	fp, err := doc.computeFingerprint()
	if err != nil {
		return nil, err
	}
	doc.Fingerprint = fp
	return doc, nil
}

// Missing returns the targets not yet recorded in the document, in order
func (d *Document) Missing(targets []string) []string {
	have := make(map[string]bool, len(d.Targets))
	for _, t := range d.Targets {
		have[t] = true
	}
	var out []string
	for _, t := range targets {
		if !have[t] {
			out = append(out, t)
		}
	}
	return out
}

// AddTargets records targets, keeping the list sorted and unique
func (d *Document) AddTargets(targets ...string) {
	d.Targets = append(d.Targets, d.Missing(targets)...)
	sort.Strings(d.Targets)
	d.Targets = slices.Compact(d.Targets)
}

// computeFingerprint hashes the network content of the document
func (d *Document) computeFingerprint() (string, error) {
	clone := *d
	clone.Fingerprint = ""
	clone.Targets = nil
	b, err := json.Marshal(&clone)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	h := xxh3.Hash128(b)
	return fmt.Sprintf("%016x%016x", h.Hi, h.Lo), nil
}

// Verify recomputes the fingerprint and compares it with the stored one
func (d *Document) Verify() error {
	fp, err := d.computeFingerprint()
	if err != nil {
		return err
	}
	if fp != d.Fingerprint {
		return fmt.Errorf("snapshot fingerprint mismatch: stored %s, computed %s", d.Fingerprint, fp)
	}
	return nil
}

// Network rebuilds the in-memory network from the document
func (d *Document) Network() *network.Network {
	net := &network.Network{
		Region:    d.Region,
		Tolerance: d.Tolerance,
		Nodes:     make(map[string]*network.Node, len(d.Nodes)),
		Edges:     make(map[string]*network.Edge, len(d.Edges)),
	}
	for _, n := range d.Nodes {
		edges := append([]string(nil), n.Edges...)
		sort.Strings(edges)
		net.Nodes[n.ID] = &network.Node{ID: n.ID, Coord: orb.Point{n.Lon, n.Lat}, Edges: edges}
	}
	for _, e := range d.Edges {
		coords := make(orb.LineString, len(e.Coords))
		for i, c := range e.Coords {
			coords[i] = orb.Point{c[0], c[1]}
		}
		net.Edges[e.ID] = &network.Edge{
			ID:         e.ID,
			Start:      e.Start,
			End:        e.End,
			Coords:     coords,
			Name:       e.Name,
			AltNames:   e.AltNames,
			Waterway:   e.Waterway,
			SourceWays: e.SourceWays,
		}
	}
	return net
}

// Save writes the document atomically: a temp file in the same directory is
// renamed over path.
func Save(path string, doc *Document) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(append(b, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return nil
}

// Load reads a snapshot. A missing file returns (nil, nil).
func Load(path string) (*Document, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	return &doc, nil
}
