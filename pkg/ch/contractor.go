package ch

import (
	"container/heap"
	"log/slog"

	"github.com/azybler/ch_router/pkg/graph"
)

// adjEntry is one edge of the mutable adjacency lists; to is the far end
// in either direction.
type adjEntry struct {
	to     uint32
	weight uint32
}

type config struct {
	logger      *slog.Logger
	maxShortcut int
	maxSettled  int
	maxHops     int
}

// Option configures Contract.
type Option func(*config)

// WithLogger sets the progress logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithCoreLimit stops contraction once a single node would need more than
// limit shortcuts; the remaining nodes form an uncontracted core ranked in
// id order. Hierarchy searches are only exact without a core, so the
// default of 0 contracts every node.
func WithCoreLimit(limit int) Option {
	return func(c *config) { c.maxShortcut = limit }
}

// WithWitnessLimits bounds each witness search by settled nodes and hops.
func WithWitnessLimits(settled, hops int) Option {
	return func(c *config) {
		c.maxSettled = settled
		c.maxHops = hops
	}
}

// Contract performs Contraction Hierarchies preprocessing on the given graph
// and returns the augmented graph (original edges plus shortcuts) ordered
// into up/down halves by rank. g itself is not modified.
func Contract(g *graph.Graph, opts ...Option) (*graph.Hierarchy, error) {
	cfg := config{
		logger:     slog.Default(),
		maxSettled: defaultMaxSettled,
		maxHops:    defaultMaxHops,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	n := g.NumNodes
	if n == 0 {
		return graph.NewHierarchy(graph.FromEdges(0, nil, nil, nil), nil)
	}

	c := newContractor(g, cfg)
	cfg.logger.Info("starting contraction", "nodes", n)

	queue := make(priorityQueue, n)
	for v := range n {
		queue[v] = &pqEntry{node: v, priority: c.priority(v), index: int(v)}
	}
	heap.Init(&queue)

	for queue.Len() > 0 {
		entry := heap.Pop(&queue).(*pqEntry)
		v := entry.node

		// Lazy update: a node whose priority grew past the next candidate
		// goes back into the queue.
		if p := c.priority(v); p > entry.priority && queue.Len() > 0 && p > queue[0].priority {
			entry.priority = p
			heap.Push(&queue, entry)
			continue
		}

		shortcuts := c.shortcuts(v)
		if cfg.maxShortcut > 0 && len(shortcuts) > cfg.maxShortcut {
			cfg.logger.Warn("stopping contraction",
				"node", v, "shortcuts", len(shortcuts), "limit", cfg.maxShortcut, "core", n-c.order)
			break
		}
		c.contract(v, shortcuts)

		if c.order%logInterval(n-c.order) == 0 {
			cfg.logger.Info("contraction progress", "contracted", c.order, "nodes", n, "shortcuts", len(c.added))
		}
	}

	// Whatever is left forms the core, ranked above everything else in id
	// order.
	core := n - c.order
	for v := range n {
		if !c.done[v] {
			c.done[v] = true
			c.rank[v] = c.order
			c.order++
		}
	}

	cfg.logger.Info("contraction complete",
		"shortcuts", len(c.added),
		"ratio", float64(len(c.added))/float64(max(g.NumEdges, 1)),
		"core", core)

	return buildHierarchy(g, c.added, c.rank)
}

// contractor is the mutable state of one contraction run.
type contractor struct {
	out, in   [][]adjEntry
	done      []bool
	rank      []uint32
	neighbors []int // contracted neighbours per node
	level     []int
	order     uint32
	added     []graph.Edge
	ws        *witnessState
}

func newContractor(g *graph.Graph, cfg config) *contractor {
	n := g.NumNodes
	c := &contractor{
		out:       make([][]adjEntry, n),
		in:        make([][]adjEntry, n),
		done:      make([]bool, n),
		rank:      make([]uint32, n),
		neighbors: make([]int, n),
		level:     make([]int, n),
		ws:        newWitnessState(n),
	}
	c.ws.maxSettled, c.ws.maxHops = cfg.maxSettled, cfg.maxHops
	for u := range n {
		start, end := g.EdgesFrom(u)
		for e := start; e < end; e++ {
			v, w := g.Head[e], g.Weight[e]
			c.out[u] = append(c.out[u], adjEntry{to: v, weight: w})
			c.in[v] = append(c.in[v], adjEntry{to: u, weight: w})
		}
	}
	return c
}

// live returns the entries of adj whose far end is still uncontracted.
func (c *contractor) live(adj []adjEntry) []adjEntry {
	var res []adjEntry
	for _, e := range adj {
		if !c.done[e.to] {
			res = append(res, e)
		}
	}
	return res
}

// priority orders contraction, lowest first: the edge difference under the
// worst case of one shortcut per (in, out) pair, plus contracted
// neighbours and level.
func (c *contractor) priority(v uint32) int {
	in, out := 0, 0
	for _, e := range c.in[v] {
		if !c.done[e.to] {
			in++
		}
	}
	for _, e := range c.out[v] {
		if !c.done[e.to] {
			out++
		}
	}
	return in*out - (in + out) + 2*c.neighbors[v] + c.level[v]
}

// shortcuts returns the shortcuts contracting v would need. One bounded
// witness search per incoming neighbour serves all of its outgoing pairs.
func (c *contractor) shortcuts(v uint32) []shortcut {
	incoming, outgoing := c.live(c.in[v]), c.live(c.out[v])
	if len(incoming) == 0 || len(outgoing) == 0 {
		return nil
	}

	var res []shortcut
	for _, in := range incoming {
		var maxOut uint32
		for _, out := range outgoing {
			if out.to != in.to {
				maxOut = max(maxOut, out.weight)
			}
		}
		if maxOut == 0 {
			continue
		}

		batchWitnessSearch(c.ws, c.out, in.to, v, in.weight+maxOut, c.done)
		for _, out := range outgoing {
			if out.to == in.to {
				continue
			}
			// A witness no longer than the pair makes the shortcut redundant.
			if w := in.weight + out.weight; c.ws.dist[out.to] > w {
				res = append(res, shortcut{from: in.to, to: out.to, weight: w})
			}
		}
	}
	return res
}

// contract ranks v next, inserts its shortcuts and updates the neighbours'
// priority terms.
func (c *contractor) contract(v uint32, shortcuts []shortcut) {
	c.done[v] = true
	c.rank[v] = c.order
	c.order++

	for _, sc := range shortcuts {
		c.out[sc.from] = append(c.out[sc.from], adjEntry{to: sc.to, weight: sc.weight})
		c.in[sc.to] = append(c.in[sc.to], adjEntry{to: sc.from, weight: sc.weight})
		c.added = append(c.added, graph.Edge{From: sc.from, To: sc.to, Weight: sc.weight, Shortcut: true, Middle: v})
	}

	for _, adj := range [2][]adjEntry{c.out[v], c.in[v]} {
		for _, e := range adj {
			if !c.done[e.to] {
				c.neighbors[e.to]++
				c.level[e.to] = max(c.level[e.to], c.level[v]+1)
			}
		}
	}
}

// logInterval is more frequent as contraction approaches the end.
func logInterval(remaining uint32) uint32 {
	switch {
	case remaining < 1000:
		return 100
	case remaining < 10000:
		return 1000
	case remaining < 100000:
		return 10000
	default:
		return 50000
	}
}

type shortcut struct {
	from, to uint32
	weight   uint32
}

// buildHierarchy merges the original edges (with their geometry) and the
// shortcuts into one CSR graph and splits it by rank.
func buildHierarchy(orig *graph.Graph, shortcuts []graph.Edge, rank []uint32) (*graph.Hierarchy, error) {
	edges := make([]graph.Edge, 0, int(orig.NumEdges)+len(shortcuts))
	for u := uint32(0); u < orig.NumNodes; u++ {
		start, end := orig.EdgesFrom(u)
		for e := start; e < end; e++ {
			edge := graph.Edge{From: u, To: orig.Head[e], Weight: orig.Weight[e]}
			if orig.GeoFirstOut != nil {
				gs, ge := orig.GeoFirstOut[e], orig.GeoFirstOut[e+1]
				edge.ShapeLats = orig.GeoShapeLat[gs:ge]
				edge.ShapeLons = orig.GeoShapeLon[gs:ge]
			}
			edges = append(edges, edge)
		}
	}
	edges = append(edges, shortcuts...)

	lat := append([]float64(nil), orig.NodeLat...)
	lon := append([]float64(nil), orig.NodeLon...)
	aug := graph.FromEdges(orig.NumNodes, edges, lat, lon)
	if orig.ExtID != nil {
		aug.ExtID = append([]int64(nil), orig.ExtID...)
	}
	return graph.NewHierarchy(aug, rank)
}

// Priority queue implementation for contraction ordering.

type pqEntry struct {
	node     uint32
	priority int
	index    int
}

type priorityQueue []*pqEntry

func (pq priorityQueue) Len() int           { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool { return pq[i].priority < pq[j].priority }
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	entry := x.(*pqEntry)
	entry.index = len(*pq)
	*pq = append(*pq, entry)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*pq = old[:n-1]
	return entry
}
