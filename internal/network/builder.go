package network

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"github.com/wegman-software/osmriver/internal/logger"
	"github.com/wegman-software/osmriver/internal/normalize"
)

// DegenerateSegmentError reports a segment with fewer than two points
type DegenerateSegmentError struct {
	WayID  int64
	Points int
}

func (e *DegenerateSegmentError) Error() string {
	return fmt.Sprintf("segment from way %d has %d point(s), need at least 2", e.WayID, e.Points)
}

// NameConflictWarning records a duplicate edge whose sources disagree on the
// river name. Kept stays the edge name; Other is added to its AltNames.
type NameConflictWarning struct {
	EdgeID string
	WayID  int64
	Kept   string
	Other  string
}

func (w NameConflictWarning) String() string {
	return fmt.Sprintf("edge %s: way %d names it %q, keeping %q", w.EdgeID, w.WayID, w.Other, w.Kept)
}

// BuildReport summarizes one Build call
type BuildReport struct {
	Segments   int
	Duplicates int // segments collapsed into an existing edge
	SelfLoops  int
	Skipped    []error // one *DegenerateSegmentError per excluded segment
	Warnings   []NameConflictWarning
}

// Builder merges segments into a Network
type Builder struct {
	tolerance float64
}

// NewBuilder creates a builder quantizing endpoints to tolerance degrees
func NewBuilder(tolerance float64) *Builder {
	return &Builder{tolerance: tolerance}
}

// candidate is an edge under construction
type candidate struct {
	edge    *Edge
	sources map[int64]struct{}
}

// Build merges segments into a network for region. Segments are processed
// in order; for duplicates the first one decides the coordinates and the
// primary name. Every edge is oriented along its canonical cell sequence, so
// Start, End and Coords do not depend on how a way was digitized.
func (b *Builder) Build(region string, segments []normalize.Segment) (*Network, *BuildReport) {
	log := logger.Get()
	report := &BuildReport{Segments: len(segments)}

	byCells := make(map[string]*candidate, len(segments))
	idOwner := make(map[string]string, len(segments))
	order := make([]*candidate, 0, len(segments))

	for _, seg := range segments {
		if len(seg.Coords) < 2 {
			err := &DegenerateSegmentError{WayID: seg.WayID, Points: len(seg.Coords)}
			log.Debug("Skipping segment", zap.Error(err))
			report.Skipped = append(report.Skipped, err)
			continue
		}

		cells, reversed := canonical(quantizeLine(seg.Coords, b.tolerance))
		key := string(encodeCells(cells))

		if c, ok := byCells[key]; ok {
			report.Duplicates++
			c.sources[seg.WayID] = struct{}{}
			if w, conflict := mergeName(c.edge, seg); conflict {
				report.Warnings = append(report.Warnings, w)
			}
			continue
		}

		id := edgeID([]byte(key), idOwner)
		idOwner[id] = key

		// edges run in canonical cell order so direction depends only on the id
		coords := make(orb.LineString, len(seg.Coords))
		copy(coords, seg.Coords)
		if reversed {
			coords.Reverse()
		}

		c := &candidate{
			edge: &Edge{
				ID:       id,
				Start:    NodeKey(coords[0], b.tolerance),
				End:      NodeKey(coords[len(coords)-1], b.tolerance),
				Coords:   coords,
				Name:     copyName(seg.Name),
				Waterway: seg.Waterway,
			},
			sources: map[int64]struct{}{seg.WayID: {}},
		}
		byCells[key] = c
		order = append(order, c)
	}

	net := &Network{
		Region:    region,
		Tolerance: b.tolerance,
		Nodes:     make(map[string]*Node),
		Edges:     make(map[string]*Edge, len(order)),
	}

	for _, c := range order {
		e := c.edge
		e.SourceWays = make([]int64, 0, len(c.sources))
		for id := range c.sources {
			e.SourceWays = append(e.SourceWays, id)
		}
		sort.Slice(e.SourceWays, func(i, j int) bool { return e.SourceWays[i] < e.SourceWays[j] })
		sort.Strings(e.AltNames)

		if e.IsLoop() {
			report.SelfLoops++
		}
		net.Edges[e.ID] = e

		for _, end := range []orb.Point{e.Coords[0], e.Coords[len(e.Coords)-1]} {
			cell := Quantize(end, b.tolerance)
			if _, ok := net.Nodes[cell.Key()]; !ok {
				net.Nodes[cell.Key()] = &Node{ID: cell.Key(), Coord: cell.Center(b.tolerance)}
			}
		}
	}

	// incident edges are attached only once every duplicate has been merged
	for _, e := range net.Edges {
		net.Nodes[e.Start].Edges = append(net.Nodes[e.Start].Edges, e.ID)
		if !e.IsLoop() {
			net.Nodes[e.End].Edges = append(net.Nodes[e.End].Edges, e.ID)
		}
	}
	for _, n := range net.Nodes {
		sort.Strings(n.Edges)
	}

	log.Debug("Built network",
		zap.String("region", region),
		zap.Int("segments", report.Segments),
		zap.Int("nodes", len(net.Nodes)),
		zap.Int("edges", len(net.Edges)),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("skipped", len(report.Skipped)))
	return net, report
}

// edgeID hashes the canonical cell sequence. On the unlikely event of a hash
// collision between different sequences a numeric suffix keeps ids unique.
func edgeID(canonicalCells []byte, owners map[string]string) string {
	h := xxh3.Hash128(canonicalCells)
	base := fmt.Sprintf("e%016x%016x", h.Hi, h.Lo)
	id := base
	for i := 1; ; i++ {
		owner, taken := owners[id]
		if !taken || owner == string(canonicalCells) {
			return id
		}
		id = fmt.Sprintf("%s-%d", base, i)
	}
}

// mergeName folds the name of a duplicate segment into the kept edge
func mergeName(e *Edge, seg normalize.Segment) (NameConflictWarning, bool) {
	if seg.Name == nil {
		return NameConflictWarning{}, false
	}
	if e.Name == nil {
		e.Name = copyName(seg.Name)
		return NameConflictWarning{}, false
	}
	if *e.Name == *seg.Name {
		return NameConflictWarning{}, false
	}
	if !containsUnsorted(e.AltNames, *seg.Name) {
		e.AltNames = append(e.AltNames, *seg.Name)
	}
	return NameConflictWarning{EdgeID: e.ID, WayID: seg.WayID, Kept: *e.Name, Other: *seg.Name}, true
}

func copyName(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func containsUnsorted(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
