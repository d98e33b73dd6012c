package osmdata

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/paulmach/osm/osmxml"
	"go.uber.org/zap"

	"github.com/wegman-software/osmriver/internal/logger"
)

// Format identifies a local input file format
type Format int

const (
	FormatUnknown Format = iota
	FormatPBF
	FormatXML
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatPBF:
		return "pbf"
	case FormatXML:
		return "xml"
	case FormatJSON:
		return "json"
	default:
		return "unknown"
	}
}

// DetectFormat infers the format from the file name
func DetectFormat(path string) Format {
	p := strings.ToLower(path)
	switch {
	case strings.HasSuffix(p, ".pbf"):
		return FormatPBF
	case strings.HasSuffix(p, ".osm"), strings.HasSuffix(p, ".xml"):
		return FormatXML
	case strings.HasSuffix(p, ".json"):
		return FormatJSON
	default:
		return FormatUnknown
	}
}

// ReadFile loads waterway ways and the nodes they reference from a local file
func ReadFile(ctx context.Context, path string) (*RawData, error) {
	log := logger.Get()

	format := DetectFormat(path)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unsupported input file %s: expected .osm.pbf, .osm or .json", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	var data *RawData
	switch format {
	case FormatPBF:
		data, err = readPBF(ctx, f)
	case FormatXML:
		data, err = readXML(ctx, f)
	case FormatJSON:
		data, err = DecodeOverpass(f)
	}
	if err != nil {
		return nil, err
	}

	log.Info("Read input file",
		zap.String("path", path),
		zap.String("format", format.String()),
		zap.Int("ways", len(data.Ways)),
		zap.Int("nodes", len(data.Nodes)))
	return data, nil
}

// readPBF scans the file twice: ways first to learn which nodes are
// referenced by waterways, then nodes keeping only those.
func readPBF(ctx context.Context, f *os.File) (*RawData, error) {
	data := New()
	needed := make(map[osm.NodeID]struct{})

	scanner := osmpbf.New(ctx, f, runtime.NumCPU())
	scanner.SkipNodes = true
	scanner.SkipRelations = true
	for scanner.Scan() {
		w, ok := scanner.Object().(*osm.Way)
		if !ok || w.Tags.Find("waterway") == "" {
			continue
		}
		way := RawWay{ID: w.ID, NodeIDs: w.Nodes.NodeIDs(), Tags: w.Tags}
		for _, id := range way.NodeIDs {
			needed[id] = struct{}{}
		}
		data.AddWay(way)
	}
	err := scanner.Err()
	scanner.Close()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to scan ways: %w", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind input file: %w", err)
	}

	scanner = osmpbf.New(ctx, f, runtime.NumCPU())
	scanner.SkipWays = true
	scanner.SkipRelations = true
	defer scanner.Close()
	for scanner.Scan() {
		n, ok := scanner.Object().(*osm.Node)
		if !ok {
			continue
		}
		if _, want := needed[n.ID]; want {
			data.AddNode(RawNode{ID: n.ID, Lat: n.Lat, Lon: n.Lon})
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to scan nodes: %w", err)
	}

	return data, nil
}

// readXML does a single pass since nodes precede ways in .osm files;
// unreferenced nodes are dropped at the end.
func readXML(ctx context.Context, r io.Reader) (*RawData, error) {
	data := New()
	nodes := make(map[osm.NodeID]RawNode)

	scanner := osmxml.New(ctx, r)
	defer scanner.Close()
	for scanner.Scan() {
		switch o := scanner.Object().(type) {
		case *osm.Node:
			nodes[o.ID] = RawNode{ID: o.ID, Lat: o.Lat, Lon: o.Lon}
		case *osm.Way:
			if o.Tags.Find("waterway") == "" {
				continue
			}
			data.AddWay(RawWay{ID: o.ID, NodeIDs: o.Nodes.NodeIDs(), Tags: o.Tags})
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to scan osm xml: %w", err)
	}

	for _, w := range data.Ways {
		for _, id := range w.NodeIDs {
			if n, ok := nodes[id]; ok {
				data.AddNode(n)
			}
		}
	}
	return data, nil
}
