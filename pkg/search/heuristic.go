package search

import "github.com/azybler/ch_router/pkg/geo"

// Heuristic estimates the remaining cost between two positions.
type Heuristic interface {
	H(aLat, aLon, bLat, bLon float64) float64
	Mem() int
}

// ZeroHeuristic turns A* into Dijkstra.
type ZeroHeuristic struct{}

func (ZeroHeuristic) H(_, _, _, _ float64) float64 { return 0 }
func (ZeroHeuristic) Mem() int                     { return 0 }

// DefaultHeuristicScale keeps the great-circle estimate below road
// distances that were rounded to whole millimetres.
const DefaultHeuristicScale = 0.99

// GreatCircleHeuristic estimates cost as the haversine distance in
// millimetres times Scale. It is admissible for millimetre edge weights
// whenever Scale <= 1.
type GreatCircleHeuristic struct {
	Scale float64
}

// NewGreatCircleHeuristic returns a heuristic with the given scale, or
// DefaultHeuristicScale when scale is not positive.
func NewGreatCircleHeuristic(scale float64) *GreatCircleHeuristic {
	if scale <= 0 {
		scale = DefaultHeuristicScale
	}
	return &GreatCircleHeuristic{Scale: scale}
}

func (h *GreatCircleHeuristic) H(aLat, aLon, bLat, bLon float64) float64 {
	return geo.Haversine(aLat, aLon, bLat, bLon) * 1000 * h.Scale
}

func (h *GreatCircleHeuristic) Mem() int { return 8 }
