package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/azybler/ch_router/pkg/arcflags"
	"github.com/azybler/ch_router/pkg/graph"
	"github.com/azybler/ch_router/pkg/labels"
	"github.com/azybler/ch_router/pkg/policy"
	"github.com/azybler/ch_router/pkg/search"
)

var (
	// ErrNoRoute is returned when no route exists between the two points.
	ErrNoRoute = errors.New("no route found")
	// ErrSearchCutoff is returned when the configured search budget ran out
	// before the destination was settled.
	ErrSearchCutoff = errors.New("search budget exhausted")
	// ErrArcFlagsMismatch is returned by NewEngine when the arc flags were
	// not computed forward over the hierarchy's graph.
	ErrArcFlagsMismatch = errors.New("arc flags do not match the hierarchy")
)

// LatLng represents a geographic coordinate.
type LatLng struct {
	Lat float64
	Lng float64
}

// Segment represents a road segment in the route result.
type Segment struct {
	DistanceMeters float64
	Geometry       []LatLng
}

// RouteResult is the output of a route query.
type RouteResult struct {
	TotalDistanceMeters float64
	Segments            []Segment
	NodeCount           int    // original graph nodes on the path
	Expanded            uint64 // nodes the search expanded
	Elapsed             time.Duration
}

// Router is the interface for route queries.
type Router interface {
	Route(ctx context.Context, start, end LatLng) (*RouteResult, error)
}

// Engine implements Router over a contraction hierarchy with DFS-interval
// labels, or with arc flags when WithArcFlags is given. It is safe for
// concurrent use: each query borrows its own search engine from a pool.
type Engine struct {
	h       *graph.Hierarchy
	set     *labels.Set
	flags   *arcflags.Flags
	snapper *Snapper
	tail    []uint32
	engines sync.Pool

	logger     *slog.Logger
	tracer     trace.Tracer
	scale      float64
	expCutoff  uint64
	costCutoff float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the query logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithTracer sets the tracer for per-query spans.
func WithTracer(t trace.Tracer) Option { return func(e *Engine) { e.tracer = t } }

// WithHeuristicScale scales the great-circle lower bound. Values above 1
// trade optimality for speed.
func WithHeuristicScale(s float64) Option { return func(e *Engine) { e.scale = s } }

// WithExpansionCutoff bounds the nodes a single query may expand; 0 means
// unlimited.
func WithExpansionCutoff(n uint64) Option { return func(e *Engine) { e.expCutoff = n } }

// WithCostCutoff bounds the route cost in millimetres; 0 means unlimited.
func WithCostCutoff(mm float64) Option { return func(e *Engine) { e.costCutoff = mm } }

// WithArcFlags switches queries to the two-phase Chase policy pruned by
// forward arc flags computed over the hierarchy's graph.
func WithArcFlags(f *arcflags.Flags) Option { return func(e *Engine) { e.flags = f } }

// NewEngine creates a routing engine over a hierarchy and its labels.
func NewEngine(set *labels.Set, opts ...Option) (*Engine, error) {
	h := set.Hierarchy()
	h.G.Freeze()
	e := &Engine{
		h:       h,
		set:     set,
		snapper: NewSnapper(h.G),
		logger:  slog.Default(),
		tracer:  otel.Tracer("github.com/azybler/ch_router/pkg/routing"),
		scale:   search.DefaultHeuristicScale,
	}
	for _, opt := range opts {
		opt(e)
	}
	if f := e.flags; f != nil {
		if f.NumNodes() != h.G.NumNodes || f.Direction() != search.Forward {
			return nil, fmt.Errorf("%w: %s flags over %d nodes, hierarchy has %d",
				ErrArcFlagsMismatch, f.Direction(), f.NumNodes(), h.G.NumNodes)
		}
	}
	e.tail = e.snapper.tail
	e.engines.New = e.newSearch
	return e, nil
}

// newSearch builds one pooled search engine. With arc flags the Chase
// policy walks the whole hierarchy graph and prunes from the first
// expansion on; otherwise DownDFS prunes down-steps by label.
func (e *Engine) newSearch() any {
	so := []search.Option{search.WithLogger(e.logger)}
	if e.expCutoff > 0 {
		so = append(so, search.WithExpansionCutoff(e.expCutoff))
	}
	if e.costCutoff > 0 {
		so = append(so, search.WithCostCutoff(e.costCutoff))
	}
	heur := search.NewGreatCircleHeuristic(e.scale)
	if e.flags != nil {
		x := policy.NewChase(e.h.G, e.flags, search.Forward)
		return search.New(heur, x, append(so, search.WithOnExpand(x.OnExpand))...)
	}
	return search.New(heur, policy.NewDownDFSWithLabels(e.set), so...)
}

// Hierarchy returns the graph the engine routes on.
func (e *Engine) Hierarchy() *graph.Hierarchy { return e.h }

// Route computes the shortest path between two points.
func (e *Engine) Route(ctx context.Context, start, end LatLng) (*RouteResult, error) {
	ctx, span := e.tracer.Start(ctx, "routing.Route")
	defer span.End()

	res, err := e.route(ctx, start, end)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Float64("route.distance_m", res.TotalDistanceMeters),
		attribute.Int("route.nodes", res.NodeCount),
		attribute.Int64("search.expanded", int64(res.Expanded)),
	)
	return res, nil
}

func (e *Engine) route(ctx context.Context, start, end LatLng) (*RouteResult, error) {
	began := time.Now()
	g := e.h.G

	// Step 1: Snap points to nearest road segments.
	startSnap, err := e.snapper.Snap(start.Lat, start.Lng)
	if err != nil {
		return nil, err
	}
	endSnap, err := e.snapper.Snap(end.Lat, end.Lng)
	if err != nil {
		return nil, err
	}
	s, startOff := startSnap.nearest(g)
	t, endOff := endSnap.nearest(g)

	// Step 2: Hierarchy search on a pooled engine.
	eng := e.engines.Get().(*search.Engine)
	defer e.engines.Put(eng)

	res, err := eng.SearchContext(ctx, search.NewProblem(g.ToExternal(s), g.ToExternal(t)))
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	stats := eng.Stats()
	switch res.Status {
	case search.StatusFound:
	case search.StatusCutoff:
		return nil, ErrSearchCutoff
	default:
		return nil, ErrNoRoute
	}

	// Step 3: Unpack shortcuts into original edges.
	path := unpackEdges(g, e.tail, eng.TraceEdges(t))

	// Step 4: Build geometry from the edge sequence.
	mm := startOff + res.Cost + endOff
	total := mm / 1000.0
	geometry := e.buildGeometry(s, path)

	e.logger.Debug("route",
		"from", g.ToExternal(s),
		"to", g.ToExternal(t),
		"distance_m", math.Round(total),
		"expanded", stats.Expanded)

	return &RouteResult{
		TotalDistanceMeters: total,
		Segments: []Segment{
			{
				DistanceMeters: total,
				Geometry:       geometry,
			},
		},
		NodeCount: len(path) + 1,
		Expanded:  stats.Expanded,
		Elapsed:   time.Since(began),
	}, nil
}

// buildGeometry converts a sequence of original edges starting at node
// first into lat/lng coordinates, including intermediate shape points.
func (e *Engine) buildGeometry(first uint32, path []uint32) []LatLng {
	g := e.h.G
	geom := []LatLng{{Lat: g.NodeLat[first], Lng: g.NodeLon[first]}}

	for _, edge := range path {
		if g.GeoFirstOut != nil && edge < uint32(len(g.GeoFirstOut)-1) {
			for k := g.GeoFirstOut[edge]; k < g.GeoFirstOut[edge+1]; k++ {
				geom = append(geom, LatLng{Lat: g.GeoShapeLat[k], Lng: g.GeoShapeLon[k]})
			}
		}
		v := g.Head[edge]
		geom = append(geom, LatLng{Lat: g.NodeLat[v], Lng: g.NodeLon[v]})
	}
	return geom
}
