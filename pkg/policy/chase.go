package policy

import (
	"fmt"

	"github.com/azybler/ch_router/pkg/graph"
	"github.com/azybler/ch_router/pkg/search"
)

// Phase is the pruning mode of a Chase policy.
type Phase uint8

const (
	// Phase1 admits every successor.
	Phase1 Phase = iota + 1
	// Phase2 rejects edges the arc filter rules out for the target.
	Phase2
)

func (p Phase) String() string {
	switch p {
	case Phase1:
		return "phase1"
	case Phase2:
		return "phase2"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// ArcFilter decides whether an edge can lie on a shortest path towards
// target. Prune must never reject such an edge.
type ArcFilter interface {
	Prune(edge, target uint32) bool
	Mem() int
}

// Chase is the two-phase policy over a plain graph in a fixed direction.
// Forward walks outgoing edges, Backward walks incoming edges so the search
// runs from the query start against edge direction.
type Chase struct {
	g      *graph.Graph
	filter ArcFilter
	dir    search.Direction

	phase     Phase
	target    uint32
	hasTarget bool
}

// NewChase returns a policy in Phase1. filter may be nil, in which case
// Phase2 prunes nothing.
func NewChase(g *graph.Graph, filter ArcFilter, dir search.Direction) *Chase {
	if dir == search.Backward && g.InFirstOut == nil {
		g.BuildIncoming()
	}
	return &Chase{g: g, filter: filter, dir: dir, phase: Phase1}
}

// BeginPhase2 switches the policy to pruning until the next query starts.
func (x *Chase) BeginPhase2() { x.phase = Phase2 }

// Phase returns the current mode.
func (x *Chase) Phase() Phase { return x.phase }

// Direction returns the traversal direction fixed at construction.
func (x *Chase) Direction() search.Direction { return x.dir }

// OnExpand begins phase 2 as soon as the start node is settled. Install it
// with search.WithOnExpand to prune every live query past its first step.
func (x *Chase) OnExpand(*search.Node) {
	if x.phase == Phase1 {
		x.BeginPhase2()
	}
}

func (x *Chase) Expand(cur, _ *search.Node, _ *search.ProblemInstance, buf []search.Successor) []search.Successor {
	g := x.g
	prune := x.phase == Phase2 && x.filter != nil && x.hasTarget
	if x.dir == search.Forward {
		start, end := g.EdgesFrom(cur.ID)
		for e := start; e < end; e++ {
			if prune && x.filter.Prune(e, x.target) {
				continue
			}
			buf = append(buf, search.Successor{Node: g.Head[e], Cost: float64(g.Weight[e]), Edge: e})
		}
		return buf
	}

	start, end := g.EdgesTo(cur.ID)
	for i := start; i < end; i++ {
		e := g.InEdge[i]
		if prune && x.filter.Prune(e, x.target) {
			continue
		}
		buf = append(buf, search.Successor{Node: g.InTail[i], Cost: float64(g.Weight[e]), Edge: e})
	}
	return buf
}

// StartNode resolves the start and resets the policy to Phase1.
func (x *Chase) StartNode(pi *search.ProblemInstance) (uint32, error) {
	x.phase = Phase1
	x.hasTarget = false
	return x.g.ToInternal(pi.Start)
}

// TargetNode resolves the target and resets the policy to Phase1.
func (x *Chase) TargetNode(pi *search.ProblemInstance) (uint32, error) {
	x.phase = Phase1
	id, err := x.g.ToInternal(pi.Target)
	if err != nil {
		return 0, err
	}
	x.target = id
	x.hasTarget = true
	return id, nil
}

func (x *Chase) Coordinates(id uint32) (lat, lon float64) { return x.g.Coordinates(id) }
func (x *Chase) NumNodes() uint32                         { return x.g.NumNodes }

func (x *Chase) Mem() int {
	if x.filter == nil {
		return 32
	}
	return 32 + x.filter.Mem()
}
