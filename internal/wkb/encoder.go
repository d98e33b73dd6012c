// Package wkb encodes river geometry as PostGIS extended WKB, projecting it
// to the target SRID first.
package wkb

import (
	"encoding/binary"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"

	"github.com/wegman-software/osmriver/internal/proj"
)

// Encoder produces little-endian EWKB with an embedded SRID
type Encoder struct {
	srid int
	tr   *proj.Transformer
}

// NewEncoder creates an encoder for geometries stored in srid
func NewEncoder(srid int) (*Encoder, error) {
	tr, err := proj.NewTransformer(srid)
	if err != nil {
		return nil, err
	}
	return &Encoder{srid: srid, tr: tr}, nil
}

// SRID returns the encoder's SRID
func (e *Encoder) SRID() int {
	return e.srid
}

// LineString encodes a lon/lat line string
func (e *Encoder) LineString(ls orb.LineString) ([]byte, error) {
	b, err := ewkb.Marshal(e.tr.LineString(ls), e.srid, binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("failed to encode linestring: %w", err)
	}
	return b, nil
}

// Point encodes a lon/lat point
func (e *Encoder) Point(p orb.Point) ([]byte, error) {
	b, err := ewkb.Marshal(e.tr.Point(p), e.srid, binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("failed to encode point: %w", err)
	}
	return b, nil
}
