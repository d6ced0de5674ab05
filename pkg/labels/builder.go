package labels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bits-and-blooms/bitset"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/azybler/ch_router/pkg/ch"
	"github.com/azybler/ch_router/pkg/graph"
	"github.com/azybler/ch_router/pkg/search"
)

// DefaultRefinementDegree is the out-degree above which WithRefinement
// callers usually rebuild a node's labels from a real search.
const DefaultRefinementDegree = 100

// ErrCellCount is returned when the partition does not cover every node.
var ErrCellCount = errors.New("labels: cell slice length differs from node count")

type config struct {
	logger       *slog.Logger
	tracer       trace.Tracer
	refineDegree int
}

// Option configures Build.
type Option func(*config)

// WithLogger sets the progress logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// WithTracer sets the tracer used for per-stage spans.
func WithTracer(t trace.Tracer) Option { return func(c *config) { c.tracer = t } }

// WithRefinement enables the refinement pass for every node with more than
// minDegree outgoing edges. A negative value disables it, which is the
// default.
func WithRefinement(minDegree int) Option {
	return func(c *config) { c.refineDegree = minDegree }
}

// builder carries the per-build scratch state between stages.
type builder struct {
	cfg   config
	h     *graph.Hierarchy
	set   *Set
	order []uint32 // node ids by descending rank
}

// Build computes the label set of h. cells is the partition cell of every
// node and may be nil.
func Build(ctx context.Context, h *graph.Hierarchy, cells []uint32, opts ...Option) (*Set, error) {
	cfg := config{
		logger:       slog.Default(),
		tracer:       otel.Tracer("github.com/azybler/ch_router/pkg/labels"),
		refineDegree: -1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	n := h.NumNodes()
	if cells != nil && uint32(len(cells)) != n {
		return nil, fmt.Errorf("%w: %d cells, %d nodes", ErrCellCount, len(cells), n)
	}

	ctx, span := cfg.tracer.Start(ctx, "labels.Build",
		trace.WithAttributes(
			attribute.Int("graph.nodes", int(n)),
			attribute.Int("graph.edges", int(h.G.NumEdges)),
		),
	)
	defer span.End()

	b := &builder{
		cfg: cfg,
		h:   h,
		set: &Set{
			h:      h,
			edges:  make([]Label, h.G.NumEdges),
			dfsID:  make([]int32, n),
			upApex: make([]uint32, n),
			cells:  cells,
		},
	}
	for i := range b.set.edges {
		b.set.edges[i] = NewLabel()
	}
	if n == 0 {
		return b.set, nil
	}

	b.order = make([]uint32, n)
	for i := range b.order {
		b.order[i] = uint32(i)
	}
	sort.SliceStable(b.order, func(i, j int) bool {
		return h.Rank[b.order[i]] > h.Rank[b.order[j]]
	})

	began := time.Now()
	b.selectApex()

	if err := b.firstMoves(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}
	closure := b.postorder(ctx)
	b.upClosure(ctx, closure)

	if cfg.refineDegree >= 0 {
		if err := b.refine(ctx); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	span.SetAttributes(attribute.Int("labels.apex", int(b.set.apex)))
	cfg.logger.Info("labels built",
		"nodes", n,
		"edges", h.G.NumEdges,
		"apex", b.set.apex,
		"mem_mb", b.set.Mem()/(1<<20),
		"elapsed", time.Since(began).Round(time.Millisecond))
	return b.set, nil
}

// selectApex picks the root of the labelling: the first node of maximum rank.
func (b *builder) selectApex() {
	apex, ties := b.h.Apex()
	if ties > 1 {
		b.cfg.logger.Warn("apex rank is not unique, using first maximum",
			"apex", apex, "rank", b.h.Rank[apex], "ties", ties)
	}
	b.set.apex = apex
}

// firstMoves runs Dijkstra from the apex and records, for every node, which
// apex edges start some shortest path to it.
func (b *builder) firstMoves(ctx context.Context) error {
	ctx, span := b.cfg.tracer.Start(ctx, "labels.firstMoves")
	defer span.End()

	g := b.h.G
	apex := b.set.apex
	first := g.FirstOut[apex]
	width := uint(g.OutDegree(apex))

	fm := make([]*bitset.BitSet, g.NumNodes)
	get := func(id uint32) *bitset.BitSet {
		if fm[id] == nil {
			fm[id] = bitset.New(width)
		}
		return fm[id]
	}
	full := get(apex)
	for i := uint(0); i < width; i++ {
		full.Set(i)
	}

	eng := search.New(search.ZeroHeuristic{}, ch.NewFCHExpander(b.h),
		search.WithLogger(b.cfg.logger),
		search.WithOnRelax(func(n *search.Node) {
			bs := get(n.ID)
			if n.Parent == apex {
				bs.ClearAll()
				bs.Set(uint(n.ParentEdge - first))
				return
			}
			fm[n.Parent].CopyFull(bs)
		}),
		search.WithOnNoRelax(func(n, from *search.Node, cost float64, edge uint32) {
			if from.G+cost != n.G {
				return
			}
			if from.ID == apex {
				get(n.ID).Set(uint(edge - first))
				return
			}
			get(n.ID).InPlaceUnion(fm[from.ID])
		}),
	)
	if _, err := eng.SearchContext(ctx, search.NewExhaustiveProblem(g.ToExternal(apex))); err != nil {
		return fmt.Errorf("first-move search: %w", err)
	}

	b.set.firstMove = fm
	st := eng.Stats()
	span.SetAttributes(attribute.Int64("search.expanded", int64(st.Expanded)))
	b.cfg.logger.Debug("first moves computed", "width", width, "expanded", st.Expanded)
	return nil
}

type dfsFrame struct {
	node uint32
	next uint32 // next down edge to try
}

// postorder numbers every node in DFS postorder over down edges and returns
// the down-closure label of every node. The DFS from the apex only steps
// into a node whose first-move bitset overlaps the current one; nodes it
// never reaches are numbered by unrestricted runs in descending rank order.
func (b *builder) postorder(ctx context.Context) []Label {
	_, span := b.cfg.tracer.Start(ctx, "labels.postorder")
	defer span.End()

	h, fm := b.h, b.set.firstMove
	n := h.NumNodes()
	visited := make([]bool, n)
	next := int32(0)
	var stack []dfsFrame

	run := func(root uint32, restricted bool) {
		visited[root] = true
		stack = append(stack[:0], dfsFrame{node: root, next: h.DownStart[root]})
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			u := top.node
			_, end := h.DownEdges(u)
			descended := false
			for top.next < end {
				w := h.G.Head[top.next]
				top.next++
				if visited[w] {
					continue
				}
				if restricted && (fm[w] == nil || fm[w].IntersectionCardinality(fm[u]) == 0) {
					continue
				}
				visited[w] = true
				stack = append(stack, dfsFrame{node: w, next: h.DownStart[w]})
				descended = true
				break
			}
			if descended {
				continue
			}
			b.set.dfsID[u] = next
			next++
			stack = stack[:len(stack)-1]
		}
	}

	run(b.set.apex, true)
	reached := next
	for _, v := range b.order {
		if !visited[v] {
			run(v, false)
		}
	}
	if int(reached) < int(n) {
		b.cfg.logger.Debug("postorder fallback numbered unreached nodes", "count", int(n)-int(reached))
	}

	// Ascending rank: every down edge points at a node whose closure is done.
	closure := make([]Label, n)
	for i := len(b.order) - 1; i >= 0; i-- {
		v := b.order[i]
		acc := NewLabel()
		acc.Grow(b.set.Attrs(v))
		start, end := h.DownEdges(v)
		for e := start; e < end; e++ {
			acc.Merge(&closure[h.G.Head[e]])
			b.set.edges[e] = acc.Clone()
		}
		closure[v] = acc
	}
	span.SetAttributes(attribute.Int("labels.restricted_reach", int(reached)))
	return closure
}

// upClosure computes every node's up-apex and widens each up edge (u, v)
// with the down-closure of up-apex(v).
func (b *builder) upClosure(ctx context.Context, closure []Label) {
	_, span := b.cfg.tracer.Start(ctx, "labels.upClosure")
	defer span.End()

	h := b.h
	up := b.set.upApex
	for _, u := range b.order {
		up[u] = u
		start, end := h.UpEdges(u)
		for e := start; e < end; e++ {
			v := h.G.Head[e]
			if h.Rank[v] > h.Rank[u] && h.Rank[up[v]] > h.Rank[up[u]] {
				up[u] = up[v]
			}
		}
	}
	for u := uint32(0); u < h.NumNodes(); u++ {
		start, end := h.UpEdges(u)
		for e := start; e < end; e++ {
			b.set.edges[e].Merge(&closure[up[h.G.Head[e]]])
		}
	}
}

// refine runs a search from every node of high out-degree and grows a label
// per down edge with every node settled through it. The result is merged
// into the structural label.
func (b *builder) refine(ctx context.Context) error {
	ctx, span := b.cfg.tracer.Start(ctx, "labels.refine",
		trace.WithAttributes(attribute.Int("labels.min_degree", b.cfg.refineDegree)))
	defer span.End()

	h := b.h
	g := h.G
	first := make([]uint32, g.NumNodes)
	var fresh []Label
	var src uint32

	eng := search.New(search.ZeroHeuristic{}, ch.NewFCHExpander(h),
		search.WithLogger(b.cfg.logger),
		search.WithOnRelax(func(n *search.Node) {
			if n.Parent == src {
				first[n.ID] = n.ParentEdge
				return
			}
			first[n.ID] = first[n.Parent]
		}),
		search.WithOnExpand(func(n *search.Node) {
			if n.ID == src {
				return
			}
			if e := first[n.ID]; h.IsDown(src, e) {
				fresh[e-h.DownStart[src]].Grow(b.set.Attrs(n.ID))
			}
		}),
	)

	refined := 0
	for u := uint32(0); u < g.NumNodes; u++ {
		if int(g.OutDegree(u)) <= b.cfg.refineDegree {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		src = u
		start, end := h.DownEdges(u)
		fresh = fresh[:0]
		for e := start; e < end; e++ {
			fresh = append(fresh, NewLabel())
		}
		if _, err := eng.SearchContext(ctx, search.NewExhaustiveProblem(g.ToExternal(u))); err != nil {
			return fmt.Errorf("refine node %d: %w", u, err)
		}
		for e := start; e < end; e++ {
			b.set.edges[e].Merge(&fresh[e-start])
		}
		refined++
		if refined%1000 == 0 {
			b.cfg.logger.Info("refinement progress", "refined", refined)
		}
	}
	span.SetAttributes(attribute.Int("labels.refined", refined))
	b.cfg.logger.Debug("refinement done", "refined", refined)
	return nil
}
