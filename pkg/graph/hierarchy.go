package graph

import "fmt"

// Hierarchy is a graph together with a node ranking. Every node's outgoing
// edges are ordered so that up-edges (head rank >= own rank) form a prefix
// and down-edges (head rank < own rank) a suffix starting at DownStart[u].
type Hierarchy struct {
	G         *Graph
	Rank      []uint32
	DownStart []uint32 // absolute edge id where u's down-suffix begins
}

// NewHierarchy sorts every node's out-edges into up-prefix and down-suffix
// and records the split. The graph is reordered in place: Head, Weight,
// Middle and geometry move together, so call it before any edge id is
// handed out. Equal-rank edges count as up.
func NewHierarchy(g *Graph, rank []uint32) (*Hierarchy, error) {
	if uint32(len(rank)) != g.NumNodes {
		return nil, fmt.Errorf("rank has %d entries, graph has %d nodes", len(rank), g.NumNodes)
	}

	perm := make([]uint32, 0, g.NumEdges)
	downStart := make([]uint32, g.NumNodes)
	for u := uint32(0); u < g.NumNodes; u++ {
		start, end := g.EdgesFrom(u)
		for e := start; e < end; e++ {
			if rank[g.Head[e]] >= rank[u] {
				perm = append(perm, e)
			}
		}
		downStart[u] = uint32(len(perm))
		for e := start; e < end; e++ {
			if rank[g.Head[e]] < rank[u] {
				perm = append(perm, e)
			}
		}
	}

	g.permuteEdges(perm)

	return &Hierarchy{G: g, Rank: rank, DownStart: downStart}, nil
}

// permuteEdges rewrites every per-edge array so that new edge i is old edge
// perm[i]. perm must only move edges within their source node's range.
func (g *Graph) permuteEdges(perm []uint32) {
	head := make([]uint32, len(perm))
	weight := make([]uint32, len(perm))
	var middle []int32
	if g.Middle != nil {
		middle = make([]int32, len(perm))
	}
	for i, old := range perm {
		head[i] = g.Head[old]
		weight[i] = g.Weight[old]
		if middle != nil {
			middle[i] = g.Middle[old]
		}
	}

	if g.GeoFirstOut != nil {
		geoFirstOut := make([]uint32, len(perm)+1)
		geoLat := make([]float64, 0, len(g.GeoShapeLat))
		geoLon := make([]float64, 0, len(g.GeoShapeLon))
		for i, old := range perm {
			geoFirstOut[i] = uint32(len(geoLat))
			s, e := g.GeoFirstOut[old], g.GeoFirstOut[old+1]
			geoLat = append(geoLat, g.GeoShapeLat[s:e]...)
			geoLon = append(geoLon, g.GeoShapeLon[s:e]...)
		}
		geoFirstOut[len(perm)] = uint32(len(geoLat))
		g.GeoFirstOut, g.GeoShapeLat, g.GeoShapeLon = geoFirstOut, geoLat, geoLon
	}

	g.Head, g.Weight, g.Middle = head, weight, middle
	g.BuildIncoming()
}

// NumNodes returns the number of nodes in the hierarchy.
func (h *Hierarchy) NumNodes() uint32 { return h.G.NumNodes }

// IsUp reports whether edge e, leaving node u, is an up-edge.
func (h *Hierarchy) IsUp(u, e uint32) bool { return e < h.DownStart[u] }

// IsDown reports whether edge e, leaving node u, is a down-edge.
func (h *Hierarchy) IsDown(u, e uint32) bool { return e >= h.DownStart[u] }

// UpEdges returns the edge range of u's up-prefix.
func (h *Hierarchy) UpEdges(u uint32) (start, end uint32) {
	return h.G.FirstOut[u], h.DownStart[u]
}

// DownEdges returns the edge range of u's down-suffix.
func (h *Hierarchy) DownEdges(u uint32) (start, end uint32) {
	return h.DownStart[u], h.G.FirstOut[u+1]
}

// Apex returns the node of maximum rank. On ties the first maximum in id
// order wins; ties reports how many nodes share that rank.
func (h *Hierarchy) Apex() (apex uint32, ties int) {
	if len(h.Rank) == 0 {
		return 0, 0
	}
	ties = 1
	for i := uint32(1); i < uint32(len(h.Rank)); i++ {
		switch {
		case h.Rank[i] > h.Rank[apex]:
			apex, ties = i, 1
		case h.Rank[i] == h.Rank[apex]:
			ties++
		}
	}
	return apex, ties
}

// Mem returns the approximate heap footprint in bytes.
func (h *Hierarchy) Mem() int {
	return h.G.Mem() + 4*(len(h.Rank)+len(h.DownStart))
}
