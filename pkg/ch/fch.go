package ch

import (
	"github.com/azybler/ch_router/pkg/graph"
	"github.com/azybler/ch_router/pkg/search"
)

// FCHExpander is the forward-only hierarchy search policy: while the search
// is still climbing it may take any edge, and once it has stepped down it
// only keeps stepping down.
type FCHExpander struct {
	h *graph.Hierarchy
}

// NewFCHExpander creates the policy over h.
func NewFCHExpander(h *graph.Hierarchy) *FCHExpander {
	return &FCHExpander{h: h}
}

// UpTravel reports whether cur was reached by climbing (or is the start).
func UpTravel(h *graph.Hierarchy, cur, parent *search.Node) bool {
	return parent == nil || h.Rank[cur.ID] > h.Rank[parent.ID]
}

func (x *FCHExpander) Expand(cur, parent *search.Node, _ *search.ProblemInstance, buf []search.Successor) []search.Successor {
	g := x.h.G
	start, end := g.EdgesFrom(cur.ID)
	if !UpTravel(x.h, cur, parent) {
		start = x.h.DownStart[cur.ID]
	}
	for e := start; e < end; e++ {
		buf = append(buf, search.Successor{Node: g.Head[e], Cost: float64(g.Weight[e]), Edge: e})
	}
	return buf
}

func (x *FCHExpander) StartNode(pi *search.ProblemInstance) (uint32, error) {
	return x.h.G.ToInternal(pi.Start)
}

func (x *FCHExpander) TargetNode(pi *search.ProblemInstance) (uint32, error) {
	return x.h.G.ToInternal(pi.Target)
}

func (x *FCHExpander) Coordinates(id uint32) (lat, lon float64) { return x.h.G.Coordinates(id) }
func (x *FCHExpander) NumNodes() uint32                         { return x.h.G.NumNodes }
func (x *FCHExpander) Mem() int                                 { return 8 }
