// Package policy holds the hierarchy-aware expansion policies the search
// engine runs live queries with.
package policy

import (
	"context"

	"github.com/azybler/ch_router/pkg/ch"
	"github.com/azybler/ch_router/pkg/graph"
	"github.com/azybler/ch_router/pkg/labels"
	"github.com/azybler/ch_router/pkg/search"
)

// DownDFS is the rank-biased policy. A node reached by climbing (or the
// start) may take any edge. A node reached by stepping down only steps
// down further, and only through edges whose label can contain the target.
//
// A DownDFS caches the current target, so each engine needs its own
// instance; the label set itself is shared.
type DownDFS struct {
	h   *graph.Hierarchy
	set *labels.Set

	target    labels.Attrs
	hasTarget bool
}

// NewDownDFS computes the label set of h and returns a policy over it.
func NewDownDFS(ctx context.Context, h *graph.Hierarchy, cells []uint32, opts ...labels.Option) (*DownDFS, error) {
	set, err := labels.Build(ctx, h, cells, opts...)
	if err != nil {
		return nil, err
	}
	return NewDownDFSWithLabels(set), nil
}

// NewDownDFSWithLabels returns a policy over a prebuilt label set.
func NewDownDFSWithLabels(set *labels.Set) *DownDFS {
	return &DownDFS{h: set.Hierarchy(), set: set}
}

// Labels returns the label set the policy prunes with.
func (x *DownDFS) Labels() *labels.Set { return x.set }

func (x *DownDFS) Expand(cur, parent *search.Node, _ *search.ProblemInstance, buf []search.Successor) []search.Successor {
	g := x.h.G
	if ch.UpTravel(x.h, cur, parent) {
		start, end := g.EdgesFrom(cur.ID)
		for e := start; e < end; e++ {
			buf = append(buf, search.Successor{Node: g.Head[e], Cost: float64(g.Weight[e]), Edge: e})
		}
		return buf
	}

	start, end := x.h.DownEdges(cur.ID)
	for e := start; e < end; e++ {
		if x.hasTarget && !x.set.Label(e).Contains(x.target) {
			continue
		}
		buf = append(buf, search.Successor{Node: g.Head[e], Cost: float64(g.Weight[e]), Edge: e})
	}
	return buf
}

// StartNode resolves the start and forgets the previous query's target.
func (x *DownDFS) StartNode(pi *search.ProblemInstance) (uint32, error) {
	x.hasTarget = false
	return x.h.G.ToInternal(pi.Start)
}

// TargetNode resolves the target and caches the attributes labels are
// tested against.
func (x *DownDFS) TargetNode(pi *search.ProblemInstance) (uint32, error) {
	id, err := x.h.G.ToInternal(pi.Target)
	if err != nil {
		return 0, err
	}
	x.target = x.set.Attrs(id)
	x.hasTarget = true
	return id, nil
}

func (x *DownDFS) Coordinates(id uint32) (lat, lon float64) { return x.h.G.Coordinates(id) }
func (x *DownDFS) NumNodes() uint32                         { return x.h.G.NumNodes }

// Mem includes the shared label set.
func (x *DownDFS) Mem() int { return 64 + x.set.Mem() }
