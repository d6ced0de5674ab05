package search

import "github.com/azybler/ch_router/pkg/graph"

// Filter may permanently discard a node on first sighting. Returning true
// drops the node.
type Filter interface {
	Filter(n *Node) bool
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(n *Node) bool

func (f FilterFunc) Filter(n *Node) bool { return f(n) }

// targetAware filters are told the resolved query before each search.
type targetAware interface {
	Prepare(pi *ProblemInstance)
}

// ComponentFilter discards nodes outside the target's weakly connected
// component. Such nodes can never lie on a path to the target.
type ComponentFilter struct {
	comp      []uint32
	target    uint32
	hasTarget bool
}

// NewComponentFilter labels g's components once.
func NewComponentFilter(g *graph.Graph) *ComponentFilter {
	return &ComponentFilter{comp: graph.ComponentIDs(g)}
}

func (f *ComponentFilter) Prepare(pi *ProblemInstance) {
	f.hasTarget = pi.HasTarget()
	f.target = pi.TargetID
}

func (f *ComponentFilter) Filter(n *Node) bool {
	return f.hasTarget && f.comp[n.ID] != f.comp[f.target]
}
