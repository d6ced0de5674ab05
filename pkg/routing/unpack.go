package routing

import "github.com/azybler/ch_router/pkg/graph"

const maxUnpackDepth = 200

const noEdge = ^uint32(0)

// unpackEdges replaces every shortcut in a path of global edge ids by the
// two edges it bypasses, recursively, and returns original edges only.
func unpackEdges(g *graph.Graph, tail, path []uint32) []uint32 {
	type item struct {
		edge  uint32
		depth int
	}

	var result []uint32
	var stack []item
	for _, top := range path {
		stack = append(stack[:0], item{edge: top})
		for len(stack) > 0 {
			it := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if !g.IsShortcut(it.edge) || it.depth > maxUnpackDepth {
				result = append(result, it.edge)
				continue
			}

			first, second := splitShortcut(g, tail[it.edge], it.edge)
			if first == noEdge {
				result = append(result, it.edge)
				continue
			}
			// Push the second half first so the first half pops first.
			stack = append(stack, item{second, it.depth + 1}, item{first, it.depth + 1})
		}
	}
	return result
}

// splitShortcut finds the edges u->m and m->v whose weights sum to the
// shortcut's weight.
func splitShortcut(g *graph.Graph, u, e uint32) (first, second uint32) {
	m := uint32(g.Middle[e])
	v := g.Head[e]
	w := g.Weight[e]

	us, ue := g.EdgesFrom(u)
	ms, me := g.EdgesFrom(m)
	for a := us; a < ue; a++ {
		if g.Head[a] != m || g.Weight[a] > w {
			continue
		}
		for b := ms; b < me; b++ {
			if g.Head[b] == v && g.Weight[a]+g.Weight[b] == w {
				return a, b
			}
		}
	}
	return noEdge, noEdge
}
