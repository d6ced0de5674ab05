package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

var (
	// ErrInvalidStart is returned when the start id has no internal node.
	ErrInvalidStart = errors.New("search: invalid start node")
	// ErrInvalidTarget is returned when the target id has no internal node.
	ErrInvalidTarget = errors.New("search: invalid target node")
	// ErrNoPath is returned by Path when the frontier emptied first.
	ErrNoPath = errors.New("search: no path")
	// ErrCutoff is returned by Path when a cost or expansion limit fired
	// before the target was reached.
	ErrCutoff = errors.New("search: cutoff reached")
)

// Status is the outcome of one search episode.
type Status uint8

const (
	StatusFound Status = iota
	StatusNoPath
	StatusCutoff
	// StatusExhausted ends a target-less search that emptied its frontier.
	StatusExhausted
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNoPath:
		return "no-path"
	case StatusCutoff:
		return "cutoff"
	case StatusExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Result describes how a search ended. Target is set only for StatusFound.
type Result struct {
	Status Status
	Target *Node
	Cost   float64
}

// Stats are the counters of the last search.
type Stats struct {
	Expanded  uint64
	Generated uint64
	Touched   uint64
	HeapOps   uint64
	Elapsed   time.Duration
}

// Engine is a best-first search over an Expander with a pluggable
// Heuristic and optional Filter. One Engine serves any number of queries
// sequentially; it is not safe for concurrent use.
type Engine struct {
	heuristic Heuristic
	expander  Expander
	filter    Filter
	logger    *slog.Logger

	pool     *NodePool
	open     *PQueue
	searchID uint64
	succ     []Successor

	costCutoff float64
	expCutoff  uint64

	onRelax   func(n *Node)
	onNoRelax func(n, from *Node, edgeCost float64, edge uint32)
	onExpand  func(n *Node)

	stats Stats
}

// Option configures an Engine.
type Option func(*Engine)

// WithFilter installs a node filter consulted on first sighting.
func WithFilter(f Filter) Option { return func(e *Engine) { e.filter = f } }

// WithCostCutoff stops the search once the frontier minimum f exceeds c.
func WithCostCutoff(c float64) Option { return func(e *Engine) { e.costCutoff = c } }

// WithExpansionCutoff stops the search after n expansions.
func WithExpansionCutoff(n uint64) Option { return func(e *Engine) { e.expCutoff = n } }

// WithOnRelax is called whenever a node is generated or its g strictly improves.
func WithOnRelax(fn func(n *Node)) Option { return func(e *Engine) { e.onRelax = fn } }

// WithOnNoRelax is called when a frontier node is reached again without
// improvement. from is the node being expanded and edge the generating edge.
func WithOnNoRelax(fn func(n, from *Node, edgeCost float64, edge uint32)) Option {
	return func(e *Engine) { e.onNoRelax = fn }
}

// WithOnExpand is called right after a node is popped for expansion.
func WithOnExpand(fn func(n *Node)) Option { return func(e *Engine) { e.onExpand = fn } }

// WithLogger sets the logger used for per-search debug output.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// New creates an engine. The node pool is sized from the expander.
func New(h Heuristic, x Expander, opts ...Option) *Engine {
	e := &Engine{
		heuristic:  h,
		expander:   x,
		logger:     slog.Default(),
		pool:       NewNodePool(x.NumNodes()),
		open:       NewPQueue(1024),
		costCutoff: math.Inf(1),
		expCutoff:  math.MaxUint64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetCostCutoff replaces the cost cutoff for later searches. Pass
// math.Inf(1) to lift it.
func (e *Engine) SetCostCutoff(c float64) { e.costCutoff = c }

// SetExpansionCutoff replaces the expansion cutoff for later searches. Pass
// math.MaxUint64 to lift it.
func (e *Engine) SetExpansionCutoff(n uint64) { e.expCutoff = n }

// SetFilter replaces the successor filter; nil keeps every successor.
func (e *Engine) SetFilter(f Filter) { e.filter = f }

// SetOnRelax replaces the hook fired when a node is generated or its g
// strictly improves.
func (e *Engine) SetOnRelax(fn func(n *Node)) { e.onRelax = fn }

// SetOnExpand replaces the hook fired when a node is popped for expansion.
func (e *Engine) SetOnExpand(fn func(n *Node)) { e.onExpand = fn }

// SetOnNoRelax replaces the hook fired when an edge reaches a generated node
// without improving it.
func (e *Engine) SetOnNoRelax(fn func(n, from *Node, edgeCost float64, edge uint32)) {
	e.onNoRelax = fn
}

// Expander returns the engine's expansion policy.
func (e *Engine) Expander() Expander { return e.expander }

// Stats returns the counters of the last search.
func (e *Engine) Stats() Stats { return e.stats }

// Mem returns the footprint of the engine and everything it is composed of.
func (e *Engine) Mem() int {
	return e.open.Mem() + e.pool.Mem() + e.expander.Mem() + e.heuristic.Mem() + cap(e.succ)*16
}

// Node returns the state of id in the current episode, or nil if the last
// search never touched it.
func (e *Engine) Node(id uint32) *Node {
	n := e.pool.Get(id)
	if n == nil || n.SearchID != e.searchID || e.searchID == 0 {
		return nil
	}
	return n
}

// touch returns the node for id, resetting it if it belongs to an earlier
// episode.
func (e *Engine) touch(id uint32) *Node {
	n := e.pool.Generate(id)
	if n.SearchID != e.searchID {
		n.reset(e.searchID)
	}
	return n
}

// Search runs one episode to completion.
func (e *Engine) Search(pi *ProblemInstance) (Result, error) {
	return e.SearchContext(context.Background(), pi)
}

const ctxCheckInterval = 1024

// SearchContext is Search with cancellation checked every few expansions.
func (e *Engine) SearchContext(ctx context.Context, pi *ProblemInstance) (Result, error) {
	startID, err := e.expander.StartNode(pi)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidStart, err)
	}
	targetID := NoParent
	if pi.HasTarget() {
		if targetID, err = e.expander.TargetNode(pi); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
		}
	}

	e.searchID++
	pi.SearchID = e.searchID
	pi.StartID = startID
	pi.TargetID = targetID

	e.open.Clear()
	e.stats = Stats{}
	began := time.Now()
	defer func() { e.stats.Elapsed = time.Since(began) }()

	if ta, ok := e.filter.(targetAware); ok {
		ta.Prepare(pi)
	}

	var tLat, tLon float64
	if pi.HasTarget() {
		tLat, tLon = e.expander.Coordinates(targetID)
	}
	h := func(id uint32) float64 {
		if !pi.HasTarget() {
			return 0
		}
		lat, lon := e.expander.Coordinates(id)
		return e.heuristic.H(lat, lon, tLat, tLon)
	}

	start := e.touch(startID)
	start.G = 0
	start.F = h(startID)
	e.open.Push(start)
	e.stats.HeapOps++

	for e.open.Len() > 0 {
		e.stats.Touched++
		cur := e.open.Peek()
		if pi.HasTarget() && cur.ID == targetID {
			e.logger.Debug("search found target", "query", pi.String(), "cost", cur.G, "expanded", e.stats.Expanded)
			return Result{Status: StatusFound, Target: cur, Cost: cur.G}, nil
		}

		if cur.F > e.costCutoff || e.stats.Expanded >= e.expCutoff {
			e.logger.Debug("search cut off", "query", pi.String(), "f", cur.F, "expanded", e.stats.Expanded)
			return Result{Status: StatusCutoff, Cost: math.Inf(1)}, nil
		}

		if e.stats.Expanded%ctxCheckInterval == ctxCheckInterval-1 {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
		}

		e.open.Pop()
		e.stats.HeapOps++
		e.stats.Expanded++
		cur.Expanded = true
		if e.onExpand != nil {
			e.onExpand(cur)
		}

		var parent *Node
		if cur.Parent != NoParent {
			parent = e.pool.Get(cur.Parent)
		}
		e.succ = e.expander.Expand(cur, parent, pi, e.succ[:0])

		for _, s := range e.succ {
			e.stats.Touched++
			n := e.touch(s.Node)
			if n.Expanded {
				continue
			}

			g := cur.G + s.Cost
			if n.InOpen() {
				if g < n.G {
					n.F = g + (n.F - n.G)
					n.G = g
					n.Parent = cur.ID
					n.ParentEdge = s.Edge
					e.open.DecreaseKey(n)
					e.stats.HeapOps++
					if e.onRelax != nil {
						e.onRelax(n)
					}
				} else if e.onNoRelax != nil {
					e.onNoRelax(n, cur, s.Cost, s.Edge)
				}
				continue
			}

			n.G = g
			n.F = g + h(n.ID)
			n.Parent = cur.ID
			n.ParentEdge = s.Edge
			if e.filter != nil && e.filter.Filter(n) {
				continue
			}
			e.open.Push(n)
			e.stats.Generated++
			e.stats.HeapOps++
			if e.onRelax != nil {
				e.onRelax(n)
			}
		}
	}

	if !pi.HasTarget() {
		return Result{Status: StatusExhausted, Cost: math.Inf(1)}, nil
	}
	e.logger.Debug("search exhausted frontier", "query", pi.String(), "expanded", e.stats.Expanded)
	return Result{Status: StatusNoPath, Cost: math.Inf(1)}, nil
}

// Path runs a search and returns the node ids from start to target with the
// path cost. A miss is reported as ErrNoPath or ErrCutoff.
func (e *Engine) Path(pi *ProblemInstance) ([]uint32, float64, error) {
	return e.PathContext(context.Background(), pi)
}

// PathContext is Path with cancellation.
func (e *Engine) PathContext(ctx context.Context, pi *ProblemInstance) ([]uint32, float64, error) {
	res, err := e.SearchContext(ctx, pi)
	if err != nil {
		return nil, 0, err
	}
	switch res.Status {
	case StatusFound:
		return e.Trace(res.Target.ID), res.Cost, nil
	case StatusCutoff:
		return nil, 0, ErrCutoff
	default:
		return nil, 0, ErrNoPath
	}
}

// Trace follows parent references from id back to the start of the last
// search and returns the ids in start-to-id order.
func (e *Engine) Trace(id uint32) []uint32 {
	var path []uint32
	for n := e.Node(id); n != nil; {
		path = append(path, n.ID)
		if n.Parent == NoParent {
			break
		}
		n = e.pool.Get(n.Parent)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// TraceEdges returns the generating edge ids along the path to id, in
// start-to-id order.
func (e *Engine) TraceEdges(id uint32) []uint32 {
	var edges []uint32
	for n := e.Node(id); n != nil && n.Parent != NoParent; n = e.pool.Get(n.Parent) {
		edges = append(edges, n.ParentEdge)
	}
	for i, j := 0, len(edges)-1; i < j; i, j = i+1, j-1 {
		edges[i], edges[j] = edges[j], edges[i]
	}
	return edges
}
