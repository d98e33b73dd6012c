package proj

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// SRID constants for supported projections
const (
	SRID4326 = 4326 // WGS84 (lon/lat)
	SRID3857 = 3857 // Web Mercator
)

// Transformer converts WGS84 geometry to the target SRID
type Transformer struct {
	TargetSRID int
	project    orb.Projection
}

// NewTransformer creates a transformer from 4326 to targetSRID
func NewTransformer(targetSRID int) (*Transformer, error) {
	switch targetSRID {
	case SRID4326:
		return &Transformer{TargetSRID: targetSRID}, nil
	case SRID3857:
		return &Transformer{TargetSRID: targetSRID, project: project.WGS84.ToMercator}, nil
	default:
		return nil, fmt.Errorf("unsupported target SRID: %d (only 4326 and 3857 supported)", targetSRID)
	}
}

// NeedsTransform returns true if transformation is required
func (t *Transformer) NeedsTransform() bool {
	return t.project != nil
}

// Point projects a single coordinate
func (t *Transformer) Point(p orb.Point) orb.Point {
	if t.project == nil {
		return p
	}
	return t.project(p)
}

// LineString returns a projected copy of ls; the input is left untouched
func (t *Transformer) LineString(ls orb.LineString) orb.LineString {
	if t.project == nil {
		return ls
	}
	return project.LineString(ls.Clone(), t.project)
}

// ParseSRID parses an SRID string such as "3857" or "EPSG:3857"
func ParseSRID(s string) (int, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	s = strings.TrimPrefix(s, "EPSG:")
	srid, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid SRID %q: %w", s, err)
	}
	if srid != SRID4326 && srid != SRID3857 {
		return 0, fmt.Errorf("unsupported SRID %d (only 4326 and 3857 supported)", srid)
	}
	return srid, nil
}
