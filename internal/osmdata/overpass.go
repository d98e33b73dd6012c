package osmdata

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/paulmach/osm"
)

// overpassResponse mirrors the Overpass API JSON output format
type overpassResponse struct {
	Version   float64           `json:"version,omitempty"`
	Generator string            `json:"generator,omitempty"`
	Remark    string            `json:"remark,omitempty"`
	Elements  []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Lat      *float64          `json:"lat,omitempty"`
	Lon      *float64          `json:"lon,omitempty"`
	Nodes    []int64           `json:"nodes,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
	Geometry []*overpassPoint  `json:"geometry,omitempty"`
}

type overpassPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RemarkError is returned when Overpass reports a runtime error in the
// remark field of an otherwise successful response
type RemarkError struct {
	Remark string
}

func (e *RemarkError) Error() string {
	return fmt.Sprintf("overpass remark: %s", e.Remark)
}

// DecodeOverpass parses an Overpass JSON response.
//
// Ways carrying inline geometry (out geom) get their nodes synthesized from
// it. When the way has no node list, negative ids are assigned. A null entry
// in the geometry leaves the node missing so the normalizer reports it.
func DecodeOverpass(r io.Reader) (*RawData, error) {
	var resp overpassResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode overpass response: %w", err)
	}
	if resp.Remark != "" && len(resp.Elements) == 0 {
		return nil, &RemarkError{Remark: resp.Remark}
	}

	data := New()
	var synthetic osm.NodeID

	for _, el := range resp.Elements {
		switch el.Type {
		case "node":
			if el.Lat == nil || el.Lon == nil {
				continue
			}
			data.AddNode(RawNode{ID: osm.NodeID(el.ID), Lat: *el.Lat, Lon: *el.Lon})

		case "way":
			way := RawWay{
				ID:   osm.WayID(el.ID),
				Tags: tagsFromMap(el.Tags),
			}

			if len(el.Nodes) > 0 {
				way.NodeIDs = make([]osm.NodeID, len(el.Nodes))
				for i, id := range el.Nodes {
					way.NodeIDs[i] = osm.NodeID(id)
				}
			} else if len(el.Geometry) > 0 {
				way.NodeIDs = make([]osm.NodeID, len(el.Geometry))
				for i := range el.Geometry {
					synthetic--
					way.NodeIDs[i] = synthetic
				}
			}

			if len(el.Geometry) == len(way.NodeIDs) {
				for i, p := range el.Geometry {
					if p == nil {
						continue
					}
					id := way.NodeIDs[i]
					if _, ok := data.Nodes[id]; !ok {
						data.AddNode(RawNode{ID: id, Lat: p.Lat, Lon: p.Lon})
					}
				}
			}

			data.AddWay(way)
		}
	}

	return data, nil
}

// EncodeOverpass writes data in the Overpass JSON format: nodes sorted by id
// followed by ways in input order. The output round-trips through
// DecodeOverpass.
func EncodeOverpass(w io.Writer, data *RawData) error {
	resp := overpassResponse{
		Version:   0.6,
		Generator: "osmriver",
		Elements:  make([]overpassElement, 0, len(data.Nodes)+len(data.Ways)),
	}

	ids := make([]osm.NodeID, 0, len(data.Nodes))
	for id := range data.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		n := data.Nodes[id]
		lat, lon := n.Lat, n.Lon
		resp.Elements = append(resp.Elements, overpassElement{
			Type: "node",
			ID:   int64(id),
			Lat:  &lat,
			Lon:  &lon,
		})
	}

	for _, way := range data.Ways {
		el := overpassElement{
			Type:  "way",
			ID:    int64(way.ID),
			Nodes: make([]int64, len(way.NodeIDs)),
			Tags:  way.Tags.Map(),
		}
		for i, id := range way.NodeIDs {
			el.Nodes[i] = int64(id)
		}
		resp.Elements = append(resp.Elements, el)
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(&resp); err != nil {
		return fmt.Errorf("failed to encode overpass response: %w", err)
	}
	return nil
}

func tagsFromMap(m map[string]string) osm.Tags {
	if len(m) == 0 {
		return nil
	}
	tags := make(osm.Tags, 0, len(m))
	for k, v := range m {
		tags = append(tags, osm.Tag{Key: k, Value: v})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })
	return tags
}
