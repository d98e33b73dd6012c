// Package normalize turns raw OSM ways into coordinate segments.
package normalize

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"go.uber.org/zap"

	"github.com/wegman-software/osmriver/internal/logger"
	"github.com/wegman-software/osmriver/internal/osmdata"
	"github.com/wegman-software/osmriver/internal/style"
)

// Segment is one river way with its node references resolved
type Segment struct {
	WayID    int64
	Coords   orb.LineString // lon/lat order
	Name     *string
	Waterway string
	Region   string
}

// MissingNodeError reports a way that references a node absent from the data
type MissingNodeError struct {
	WayID  osm.WayID
	NodeID osm.NodeID
}

func (e *MissingNodeError) Error() string {
	return fmt.Sprintf("way %d references missing node %d", e.WayID, e.NodeID)
}

// NameError reports a failure of the name resolver; the way is kept unnamed
type NameError struct {
	WayID osm.WayID
	Err   error
}

func (e *NameError) Error() string {
	return fmt.Sprintf("failed to resolve name of way %d: %v", e.WayID, e.Err)
}

func (e *NameError) Unwrap() error { return e.Err }

// NameResolver derives a river name from tags. An empty result means unnamed.
type NameResolver interface {
	ResolveName(tags osm.Tags) (string, error)
}

// NameTag resolves names from the plain name tag
type NameTag struct{}

func (NameTag) ResolveName(tags osm.Tags) (string, error) {
	return strings.TrimSpace(tags.Find("name")), nil
}

// Report summarizes one Normalize call
type Report struct {
	Ways       int     // ways seen
	Normalized int     // segments produced
	Filtered   int     // ways without a waterway tag or rejected by the style
	Skipped    []error // ways dropped, one *MissingNodeError each
	Warnings   []error // non-fatal problems such as *NameError
}

// Option configures a Normalizer
type Option func(*Normalizer)

// WithFilter restricts which waterways are kept
func WithFilter(f *style.Filter) Option {
	return func(n *Normalizer) { n.filter = f }
}

// WithNameResolver replaces the default name tag lookup
func WithNameResolver(r NameResolver) Option {
	return func(n *Normalizer) {
		if r != nil {
			n.names = r
		}
	}
}

// Normalizer resolves raw ways into segments for one region
type Normalizer struct {
	region string
	filter *style.Filter
	names  NameResolver
}

// New creates a Normalizer tagging every segment with region
func New(region string, opts ...Option) *Normalizer {
	n := &Normalizer{region: region, names: NameTag{}}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts ways in input order. Ways with dangling node references
// are skipped and reported; the rest of the batch continues.
func (n *Normalizer) Normalize(data *osmdata.RawData) ([]Segment, *Report) {
	log := logger.Get()
	report := &Report{}
	if data == nil {
		return nil, report
	}

	segments := make([]Segment, 0, len(data.Ways))
	for _, way := range data.Ways {
		report.Ways++

		waterway := way.Waterway()
		if waterway == "" || !n.filter.Match(way.Tags) {
			report.Filtered++
			continue
		}

		coords, err := resolve(way, data.Nodes)
		if err != nil {
			log.Debug("Skipping way", zap.Int64("way_id", int64(way.ID)), zap.Error(err))
			report.Skipped = append(report.Skipped, err)
			continue
		}

		seg := Segment{
			WayID:    int64(way.ID),
			Coords:   coords,
			Waterway: waterway,
			Region:   n.region,
		}

		name, err := n.names.ResolveName(way.Tags)
		if err != nil {
			report.Warnings = append(report.Warnings, &NameError{WayID: way.ID, Err: err})
		} else if name != "" {
			seg.Name = &name
		}

		segments = append(segments, seg)
	}
	report.Normalized = len(segments)

	log.Debug("Normalized ways",
		zap.Int("ways", report.Ways),
		zap.Int("segments", report.Normalized),
		zap.Int("filtered", report.Filtered),
		zap.Int("skipped", len(report.Skipped)))
	return segments, report
}

func resolve(way osmdata.RawWay, nodes map[osm.NodeID]osmdata.RawNode) (orb.LineString, error) {
	coords := make(orb.LineString, 0, len(way.NodeIDs))
	for _, id := range way.NodeIDs {
		node, ok := nodes[id]
		if !ok {
			return nil, &MissingNodeError{WayID: way.ID, NodeID: id}
		}
		coords = append(coords, orb.Point{node.Lon, node.Lat})
	}
	return coords, nil
}
