package osm

import (
	"math"
	"slices"

	"github.com/paulmach/osm"

	"github.com/azybler/ch_router/pkg/geo"
)

// way is a drivable way kept from the first pass.
type way struct {
	nodes    []osm.NodeID
	forward  bool
	backward bool
}

// edgeStats counts what edge building dropped.
type edgeStats struct {
	missing   int // way nodes without coordinates
	outside   int // way nodes outside the bounding box
	collapsed int // way nodes folded into edge shapes
}

// buildEdges turns ways into directed edges. A way is cut at every node
// that lacks coordinates or lies outside bbox. Without simplify every
// consecutive node pair becomes an edge; with it, edges run between
// junctions (nodes shared by several ways or repeated within one) and the
// nodes in between become shape points.
func buildEdges(ways []way, lat, lon map[osm.NodeID]float64, bbox BBox, simplify bool) ([]RawEdge, edgeStats) {
	var stats edgeStats

	var uses map[osm.NodeID]int
	if simplify {
		uses = make(map[osm.NodeID]int)
		for _, w := range ways {
			for _, id := range w.nodes {
				uses[id]++
			}
		}
	}

	var edges []RawEdge
	for _, w := range ways {
		from := -1 // index in w.nodes of the open edge's first node
		var dist float64
		var shapeLat, shapeLon []float64

		for i, id := range w.nodes {
			la, known := lat[id]
			lo := lon[id]
			inside := bbox.IsZero() || bbox.Contains(la, lo)
			if !known || !inside {
				if !known {
					stats.missing++
				} else {
					stats.outside++
				}
				// Close the open piece at the last usable node, whose
				// point is the final shape entry.
				if from >= 0 && i-1 > from {
					n := len(shapeLat) - 1
					edges = appendEdge(edges, w, w.nodes[from], w.nodes[i-1], dist, shapeLat[:n], shapeLon[:n])
					stats.collapsed--
				}
				from = -1
				continue
			}
			if from < 0 {
				from, dist = i, 0
				shapeLat, shapeLon = shapeLat[:0], shapeLon[:0]
				continue
			}

			prev := w.nodes[i-1]
			dist += geo.Haversine(lat[prev], lon[prev], la, lo)
			if simplify && i < len(w.nodes)-1 && uses[id] < 2 {
				shapeLat = append(shapeLat, la)
				shapeLon = append(shapeLon, lo)
				stats.collapsed++
				continue
			}

			edges = appendEdge(edges, w, w.nodes[from], id, dist, shapeLat, shapeLon)
			from, dist = i, 0
			shapeLat, shapeLon = shapeLat[:0], shapeLon[:0]
		}
	}
	return edges, stats
}

// appendEdge emits the allowed directions of one way piece. Reverse edges
// carry the shape in reverse order.
func appendEdge(edges []RawEdge, w way, a, b osm.NodeID, meters float64, shapeLat, shapeLon []float64) []RawEdge {
	weight := uint32(math.Round(meters * 1000))
	if weight == 0 {
		weight = 1
	}
	if w.forward {
		edges = append(edges, RawEdge{
			FromNodeID: a,
			ToNodeID:   b,
			Weight:     weight,
			ShapeLats:  cloneOrNil(shapeLat),
			ShapeLons:  cloneOrNil(shapeLon),
		})
	}
	if w.backward {
		rl, ro := cloneOrNil(shapeLat), cloneOrNil(shapeLon)
		slices.Reverse(rl)
		slices.Reverse(ro)
		edges = append(edges, RawEdge{
			FromNodeID: b,
			ToNodeID:   a,
			Weight:     weight,
			ShapeLats:  rl,
			ShapeLons:  ro,
		})
	}
	return edges
}

func cloneOrNil(s []float64) []float64 {
	if len(s) == 0 {
		return nil
	}
	return slices.Clone(s)
}
