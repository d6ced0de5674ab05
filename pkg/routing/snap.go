package routing

import (
	"errors"
	"math"

	"github.com/tidwall/rtree"

	"github.com/azybler/ch_router/pkg/geo"
	"github.com/azybler/ch_router/pkg/graph"
)

const maxSnapDistMeters = 500.0

// ErrPointTooFar is returned when the query point is too far from any road.
var ErrPointTooFar = errors.New("point too far from road")

// SnapResult represents a point snapped to a road segment.
type SnapResult struct {
	EdgeIdx uint32  // global edge id of an original (non-shortcut) edge
	NodeU   uint32  // source node of the edge
	NodeV   uint32  // target node of the edge
	Ratio   float64 // 0.0 = at NodeU, 1.0 = at NodeV, measured along the shape
	Dist    float64 // distance in meters from query point to snapped point
}

// piece is one straight part of an edge's drawn shape.
type piece struct {
	edge uint32
	part uint32
}

// Snapper finds the nearest road with an R-tree over every straight piece
// of every original edge. Shortcuts are never indexed.
type Snapper struct {
	tree  rtree.RTreeG[piece]
	tail  []uint32 // source node of every edge
	g     *graph.Graph
	edges int
}

// NewSnapper indexes every original edge of g.
func NewSnapper(g *graph.Graph) *Snapper {
	s := &Snapper{g: g, tail: make([]uint32, g.NumEdges)}
	var lats, lons []float64
	for u := uint32(0); u < g.NumNodes; u++ {
		start, end := g.EdgesFrom(u)
		for e := start; e < end; e++ {
			s.tail[e] = u
			if g.IsShortcut(e) {
				continue
			}
			s.edges++
			lats, lons = s.shape(e, lats[:0], lons[:0])
			for k := 1; k < len(lats); k++ {
				s.tree.Insert(
					[2]float64{math.Min(lats[k-1], lats[k]), math.Min(lons[k-1], lons[k])},
					[2]float64{math.Max(lats[k-1], lats[k]), math.Max(lons[k-1], lons[k])},
					piece{edge: e, part: uint32(k - 1)},
				)
			}
		}
	}
	return s
}

// shape appends the drawn points of e, endpoints included.
func (s *Snapper) shape(e uint32, lats, lons []float64) ([]float64, []float64) {
	g := s.g
	u, v := s.tail[e], g.Head[e]
	lats = append(lats, g.NodeLat[u])
	lons = append(lons, g.NodeLon[u])
	if g.GeoFirstOut != nil && e < uint32(len(g.GeoFirstOut)-1) {
		lats = append(lats, g.GeoShapeLat[g.GeoFirstOut[e]:g.GeoFirstOut[e+1]]...)
		lons = append(lons, g.GeoShapeLon[g.GeoFirstOut[e]:g.GeoFirstOut[e+1]]...)
	}
	return append(lats, g.NodeLat[v]), append(lons, g.NodeLon[v])
}

// Len returns the number of indexed edges.
func (s *Snapper) Len() int { return s.edges }

// Snap finds the nearest road segment to the given lat/lng.
func (s *Snapper) Snap(lat, lng float64) (SnapResult, error) {
	dLat, dLon := geo.Span(lat, maxSnapDistMeters)

	best := piece{edge: noEdge}
	bestDist, bestT := math.Inf(1), 0.0
	var lats, lons []float64
	s.tree.Search(
		[2]float64{lat - dLat, lng - dLon},
		[2]float64{lat + dLat, lng + dLon},
		func(_, _ [2]float64, p piece) bool {
			lats, lons = s.shape(p.edge, lats[:0], lons[:0])
			k := p.part
			d, t := geo.PointToSegmentDist(lat, lng, lats[k], lons[k], lats[k+1], lons[k+1])
			if d < bestDist {
				best, bestDist, bestT = p, d, t
			}
			return true
		},
	)

	if best.edge == noEdge || bestDist > maxSnapDistMeters {
		return SnapResult{}, ErrPointTooFar
	}
	lats, lons = s.shape(best.edge, lats[:0], lons[:0])
	return SnapResult{
		EdgeIdx: best.edge,
		NodeU:   s.tail[best.edge],
		NodeV:   s.g.Head[best.edge],
		Ratio:   alongRatio(lats, lons, best.part, bestT),
		Dist:    bestDist,
	}, nil
}

// alongRatio converts a position on one piece of a shape into a fraction of
// the whole shape's length.
func alongRatio(lats, lons []float64, part uint32, t float64) float64 {
	if len(lats) == 2 {
		return t
	}
	total := geo.PolylineLength(lats, lons)
	if total == 0 {
		return 0
	}
	before := geo.PolylineLength(lats[:part+1], lons[:part+1])
	segLen := geo.Haversine(lats[part], lons[part], lats[part+1], lons[part+1])
	return (before + t*segLen) / total
}

// nearest returns the endpoint of the snapped edge closer to the snapped
// point and the along-edge distance to it in millimetres.
func (r SnapResult) nearest(g *graph.Graph) (node uint32, offset float64) {
	w := float64(g.Weight[r.EdgeIdx])
	if r.Ratio <= 0.5 {
		return r.NodeU, math.Round(w * r.Ratio)
	}
	return r.NodeV, math.Round(w * (1 - r.Ratio))
}
