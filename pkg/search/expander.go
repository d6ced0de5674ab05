package search

import "github.com/azybler/ch_router/pkg/graph"

// Successor is one candidate produced by an expansion policy.
type Successor struct {
	Node uint32
	Cost float64
	Edge uint32 // global edge id
}

// Expander decides which successors of a node the engine may generate.
type Expander interface {
	// Expand appends the successors of cur to buf and returns it. parent is
	// nil for the start node.
	Expand(cur, parent *Node, pi *ProblemInstance, buf []Successor) []Successor
	// StartNode resolves pi.Start to an internal id.
	StartNode(pi *ProblemInstance) (uint32, error)
	// TargetNode resolves pi.Target to an internal id.
	TargetNode(pi *ProblemInstance) (uint32, error)
	Coordinates(id uint32) (lat, lon float64)
	NumNodes() uint32
	Mem() int
}

// Direction selects which adjacency an expander walks.
type Direction uint8

const (
	Forward  Direction = iota // outgoing edges
	Backward                  // incoming edges
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// GraphExpander generates every neighbour along the chosen direction. It is
// plain Dijkstra/A* with no hierarchy awareness.
type GraphExpander struct {
	g   *graph.Graph
	dir Direction
}

// NewGraphExpander creates a plain expander over g.
func NewGraphExpander(g *graph.Graph, dir Direction) *GraphExpander {
	if dir == Backward && g.InFirstOut == nil {
		g.BuildIncoming()
	}
	return &GraphExpander{g: g, dir: dir}
}

func (x *GraphExpander) Expand(cur, _ *Node, _ *ProblemInstance, buf []Successor) []Successor {
	g := x.g
	if x.dir == Forward {
		start, end := g.EdgesFrom(cur.ID)
		for e := start; e < end; e++ {
			buf = append(buf, Successor{Node: g.Head[e], Cost: float64(g.Weight[e]), Edge: e})
		}
		return buf
	}
	start, end := g.EdgesTo(cur.ID)
	for i := start; i < end; i++ {
		e := g.InEdge[i]
		buf = append(buf, Successor{Node: g.InTail[i], Cost: float64(g.Weight[e]), Edge: e})
	}
	return buf
}

func (x *GraphExpander) StartNode(pi *ProblemInstance) (uint32, error) {
	return x.g.ToInternal(pi.Start)
}

func (x *GraphExpander) TargetNode(pi *ProblemInstance) (uint32, error) {
	return x.g.ToInternal(pi.Target)
}

func (x *GraphExpander) Coordinates(id uint32) (lat, lon float64) { return x.g.Coordinates(id) }
func (x *GraphExpander) NumNodes() uint32                         { return x.g.NumNodes }
func (x *GraphExpander) Mem() int                                 { return 16 }
