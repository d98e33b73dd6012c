package network

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Cell is a coordinate snapped to the tolerance grid
type Cell struct {
	X, Y int64 // lon, lat
}

// Quantize snaps p to the grid of size tolerance, rounding half up on each
// axis. Points exactly one tolerance apart always land in adjacent cells.
func Quantize(p orb.Point, tolerance float64) Cell {
	return Cell{
		X: int64(math.Floor(p.Lon()/tolerance + 0.5)),
		Y: int64(math.Floor(p.Lat()/tolerance + 0.5)),
	}
}

// Key is the node id of the cell
func (c Cell) Key() string {
	return fmt.Sprintf("%d:%d", c.X, c.Y)
}

// Center returns the coordinate at the centre of the cell
func (c Cell) Center(tolerance float64) orb.Point {
	return orb.Point{float64(c.X) * tolerance, float64(c.Y) * tolerance}
}

func (c Cell) compare(o Cell) int {
	switch {
	case c.X < o.X:
		return -1
	case c.X > o.X:
		return 1
	case c.Y < o.Y:
		return -1
	case c.Y > o.Y:
		return 1
	}
	return 0
}

// NodeKey quantizes p and returns its node id
func NodeKey(p orb.Point, tolerance float64) string {
	return Quantize(p, tolerance).Key()
}

// quantizeLine snaps every point of ls
func quantizeLine(ls orb.LineString, tolerance float64) []Cell {
	cells := make([]Cell, len(ls))
	for i, p := range ls {
		cells[i] = Quantize(p, tolerance)
	}
	return cells
}

// canonical returns the cell sequence in canonical orientation: the
// lexicographically smaller of cells and its reverse. The second result is
// true when the reverse was chosen.
func canonical(cells []Cell) ([]Cell, bool) {
	n := len(cells)
	for i := 0; i < n; i++ {
		switch cells[i].compare(cells[n-1-i]) {
		case -1:
			return cells, false
		case 1:
			rev := make([]Cell, n)
			for j := range cells {
				rev[j] = cells[n-1-j]
			}
			return rev, true
		}
	}
	// palindrome
	return cells, false
}

// encodeCells serializes cells for hashing and map keys
func encodeCells(cells []Cell) []byte {
	var buf bytes.Buffer
	buf.Grow(len(cells) * 16)
	var tmp [16]byte
	for _, c := range cells {
		binary.LittleEndian.PutUint64(tmp[0:8], uint64(c.X))
		binary.LittleEndian.PutUint64(tmp[8:16], uint64(c.Y))
		buf.Write(tmp[:])
	}
	return buf.Bytes()
}
