// Package graphtest builds small graphs and reference distances for tests.
package graphtest

import (
	"math"
	"math/rand"

	"github.com/azybler/ch_router/pkg/geo"
	"github.com/azybler/ch_router/pkg/graph"
)

// Line returns 0 - 1 - ... - n-1 with unit weights in both directions.
func Line(n uint32) *graph.Graph {
	var edges []graph.Edge
	for i := uint32(0); i+1 < n; i++ {
		edges = append(edges,
			graph.Edge{From: i, To: i + 1, Weight: 1},
			graph.Edge{From: i + 1, To: i, Weight: 1})
	}
	lat := make([]float64, n)
	lon := make([]float64, n)
	for i := range lat {
		lat[i] = 1.3
		lon[i] = 103.8 + float64(i)*0.001
	}
	return graph.FromEdges(n, edges, lat, lon)
}

// Random places n nodes in a small box near Singapore and adds m random
// directed edges. Weights are at least the great-circle distance in
// millimetres, so the great-circle heuristic stays admissible, plus up to
// 10 m of noise to keep ties rare. With bidirectional set every edge gets a
// reverse twin of equal weight.
func Random(rng *rand.Rand, n, m int, bidirectional bool) *graph.Graph {
	lat := make([]float64, n)
	lon := make([]float64, n)
	for i := range lat {
		lat[i] = 1.30 + rng.Float64()*0.05
		lon[i] = 103.80 + rng.Float64()*0.05
	}
	edges := make([]graph.Edge, 0, 2*m)
	for added := 0; added < m; {
		u, v := uint32(rng.Intn(n)), uint32(rng.Intn(n))
		if u == v {
			continue
		}
		d := geo.Haversine(lat[u], lon[u], lat[v], lon[v]) * 1000
		w := uint32(math.Ceil(d)) + 100 + uint32(rng.Intn(10000))
		edges = append(edges, graph.Edge{From: u, To: v, Weight: w})
		if bidirectional {
			edges = append(edges, graph.Edge{From: v, To: u, Weight: w})
		}
		added++
	}
	return graph.FromEdges(uint32(n), edges, lat, lon)
}

// Distances returns exact shortest distances from s, +Inf when unreachable.
// It is a deliberately naive O(n^2) Dijkstra.
func Distances(g *graph.Graph, s uint32) []float64 {
	dist := make([]float64, g.NumNodes)
	done := make([]bool, g.NumNodes)
	for i := range dist {
		dist[i] = math.Inf(1)
	}
	dist[s] = 0
	for {
		u := -1
		for i := range dist {
			if !done[i] && !math.IsInf(dist[i], 1) && (u < 0 || dist[i] < dist[u]) {
				u = i
			}
		}
		if u < 0 {
			return dist
		}
		done[u] = true
		start, end := g.EdgesFrom(uint32(u))
		for e := start; e < end; e++ {
			if nd := dist[u] + float64(g.Weight[e]); nd < dist[g.Head[e]] {
				dist[g.Head[e]] = nd
			}
		}
	}
}

// DownReachable returns every node reachable from v using only edges whose
// head has strictly lower rank than its tail, v included.
func DownReachable(h *graph.Hierarchy, v uint32) []uint32 {
	seen := map[uint32]bool{v: true}
	stack := []uint32{v}
	out := []uint32{v}
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		start, end := h.DownEdges(u)
		for e := start; e < end; e++ {
			w := h.G.Head[e]
			if !seen[w] {
				seen[w] = true
				out = append(out, w)
				stack = append(stack, w)
			}
		}
	}
	return out
}
