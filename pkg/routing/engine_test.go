package routing

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"testing"

	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azybler/ch_router/pkg/arcflags"
	"github.com/azybler/ch_router/pkg/ch"
	"github.com/azybler/ch_router/pkg/geo"
	"github.com/azybler/ch_router/pkg/graph"
	"github.com/azybler/ch_router/pkg/graph/graphtest"
	"github.com/azybler/ch_router/pkg/labels"
	osmparser "github.com/azybler/ch_router/pkg/osm"
	"github.com/azybler/ch_router/pkg/search"
)

var quiet = slog.New(slog.DiscardHandler)

var (
	testLat = map[osm.NodeID]float64{10: 1.300, 20: 1.300, 30: 1.300, 40: 1.301, 50: 1.301, 60: 1.301}
	testLon = map[osm.NodeID]float64{10: 103.800, 20: 103.801, 30: 103.802, 40: 103.800, 50: 103.801, 60: 103.802}
)

// roadWeight is the great-circle length of from->to in millimetres times
// factor, so the great-circle heuristic stays admissible.
func roadWeight(from, to osm.NodeID, factor uint32) uint32 {
	d := geo.Haversine(testLat[from], testLon[from], testLat[to], testLon[to])
	return uint32(math.Ceil(d*1000)) * factor
}

func twoWay(from, to osm.NodeID, factor uint32) []osmparser.RawEdge {
	w := roadWeight(from, to, factor)
	return []osmparser.RawEdge{
		{FromNodeID: from, ToNodeID: to, Weight: w},
		{FromNodeID: to, ToNodeID: from, Weight: w},
	}
}

// buildTestEngine creates a routing engine over a small grid.
//
//	0 ---1x--- 1 ---2x--- 2
//	|                     |
//	3x                   4x
//	|                     |
//	3 ---5x--- 4 ---6x--- 5
//
// All edges bidirectional. Weights are multiples of the straight-line length.
func buildTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	eng, err := NewEngine(buildTestLabels(t), append([]Option{WithLogger(quiet)}, opts...)...)
	require.NoError(t, err)
	return eng
}

// distBetween is the great-circle distance between two points in metres.
func distBetween(a, b LatLng) float64 {
	return geo.Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}

// gridPoints are the positions of the grid's corner nodes.
var gridPoints = []LatLng{
	{Lat: 1.300, Lng: 103.800},
	{Lat: 1.300, Lng: 103.802},
	{Lat: 1.301, Lng: 103.800},
	{Lat: 1.301, Lng: 103.802},
}

func buildTestLabels(t *testing.T) *labels.Set {
	t.Helper()
	var edges []osmparser.RawEdge
	edges = append(edges, twoWay(10, 20, 1)...)
	edges = append(edges, twoWay(20, 30, 2)...)
	edges = append(edges, twoWay(10, 40, 3)...)
	edges = append(edges, twoWay(30, 60, 4)...)
	edges = append(edges, twoWay(40, 50, 5)...)
	edges = append(edges, twoWay(50, 60, 6)...)

	g := graph.Build(&osmparser.ParseResult{Edges: edges, NodeLat: testLat, NodeLon: testLon})
	h, err := ch.Contract(g, ch.WithLogger(quiet))
	require.NoError(t, err)
	set, err := labels.Build(context.Background(), h, nil, labels.WithLogger(quiet))
	require.NoError(t, err)
	return set
}

func TestRouteEndToEnd(t *testing.T) {
	eng := buildTestEngine(t)

	start := LatLng{Lat: 1.300, Lng: 103.800} // node 0
	end := LatLng{Lat: 1.301, Lng: 103.802}   // node 5
	result, err := eng.Route(context.Background(), start, end)
	require.NoError(t, err)

	want := float64(roadWeight(10, 20, 1)+roadWeight(20, 30, 2)+roadWeight(30, 60, 4)) / 1000
	assert.InDelta(t, want, result.TotalDistanceMeters, 1e-9)
	assert.Equal(t, 4, result.NodeCount, "0 -> 1 -> 2 -> 5")
	assert.Positive(t, result.Expanded)

	require.Len(t, result.Segments, 1)
	geom := result.Segments[0].Geometry
	require.Len(t, geom, 4)
	assert.Less(t, distBetween(start, geom[0]), 0.01)
	assert.Less(t, distBetween(end, geom[len(geom)-1]), 0.01)
}

func TestRouteReverseDirection(t *testing.T) {
	eng := buildTestEngine(t)

	forward, err := eng.Route(context.Background(), LatLng{Lat: 1.300, Lng: 103.800}, LatLng{Lat: 1.301, Lng: 103.802})
	require.NoError(t, err)
	backward, err := eng.Route(context.Background(), LatLng{Lat: 1.301, Lng: 103.802}, LatLng{Lat: 1.300, Lng: 103.800})
	require.NoError(t, err)
	assert.InDelta(t, forward.TotalDistanceMeters, backward.TotalDistanceMeters, 1e-9)
}

func gridFlags(t *testing.T, set *labels.Set) *arcflags.Flags {
	t.Helper()
	flags, err := arcflags.Compute(context.Background(), set.Hierarchy().G, []uint32{0, 0, 1, 0, 1, 1}, search.Forward, arcflags.WithLogger(quiet))
	require.NoError(t, err)
	return flags
}

func TestRouteWithArcFlags(t *testing.T) {
	set := buildTestLabels(t)
	plain, err := NewEngine(set, WithLogger(quiet))
	require.NoError(t, err)
	flagged, err := NewEngine(set, WithLogger(quiet), WithArcFlags(gridFlags(t, set)))
	require.NoError(t, err)

	for _, a := range gridPoints {
		for _, b := range gridPoints {
			want, err := plain.Route(context.Background(), a, b)
			require.NoError(t, err)
			got, err := flagged.Route(context.Background(), a, b)
			require.NoError(t, err)
			assert.InDelta(t, want.TotalDistanceMeters, got.TotalDistanceMeters, 1e-9, "%v -> %v", a, b)
		}
	}
}

func TestRouteArcFlagsPrune(t *testing.T) {
	set := buildTestLabels(t)
	flags := gridFlags(t, set)
	for c := range flags.NumCells() {
		flags.Flagged(uint32(c)).Clear()
	}
	eng, err := NewEngine(set, WithLogger(quiet), WithArcFlags(flags))
	require.NoError(t, err)

	// With no edge flagged for any cell, every step is pruned.
	_, err = eng.Route(context.Background(), gridPoints[0], gridPoints[3])
	assert.ErrorIs(t, err, ErrNoRoute)

	res, err := eng.Route(context.Background(), gridPoints[0], gridPoints[0])
	require.NoError(t, err)
	assert.Zero(t, res.TotalDistanceMeters)
}

func TestNewEngineRejectsForeignArcFlags(t *testing.T) {
	set := buildTestLabels(t)

	small, err := arcflags.Compute(context.Background(), graphtest.Line(2), []uint32{0, 1}, search.Forward, arcflags.WithLogger(quiet))
	require.NoError(t, err)
	_, err = NewEngine(set, WithLogger(quiet), WithArcFlags(small))
	assert.ErrorIs(t, err, ErrArcFlagsMismatch)

	backward, err := arcflags.Compute(context.Background(), set.Hierarchy().G, []uint32{0, 0, 1, 0, 1, 1}, search.Backward, arcflags.WithLogger(quiet))
	require.NoError(t, err)
	_, err = NewEngine(set, WithLogger(quiet), WithArcFlags(backward))
	assert.ErrorIs(t, err, ErrArcFlagsMismatch)
}

func TestRoutePointTooFar(t *testing.T) {
	eng := buildTestEngine(t)
	_, err := eng.Route(context.Background(), LatLng{Lat: 10, Lng: 10}, LatLng{Lat: 1.301, Lng: 103.802})
	assert.ErrorIs(t, err, ErrPointTooFar)
}

func TestRouteCostCutoff(t *testing.T) {
	eng := buildTestEngine(t, WithCostCutoff(1))
	_, err := eng.Route(context.Background(), LatLng{Lat: 1.300, Lng: 103.800}, LatLng{Lat: 1.301, Lng: 103.802})
	assert.ErrorIs(t, err, ErrSearchCutoff)
}

func TestRouteDisconnected(t *testing.T) {
	lat := map[osm.NodeID]float64{1: 1.300, 2: 1.300, 3: 1.302, 4: 1.302}
	lon := map[osm.NodeID]float64{1: 103.800, 2: 103.801, 3: 103.800, 4: 103.801}
	g := graph.Build(&osmparser.ParseResult{
		Edges: []osmparser.RawEdge{
			{FromNodeID: 1, ToNodeID: 2, Weight: 120_000},
			{FromNodeID: 2, ToNodeID: 1, Weight: 120_000},
			{FromNodeID: 3, ToNodeID: 4, Weight: 120_000},
			{FromNodeID: 4, ToNodeID: 3, Weight: 120_000},
		},
		NodeLat: lat,
		NodeLon: lon,
	})
	h, err := ch.Contract(g, ch.WithLogger(quiet))
	require.NoError(t, err)
	set, err := labels.Build(context.Background(), h, nil, labels.WithLogger(quiet))
	require.NoError(t, err)
	eng, err := NewEngine(set, WithLogger(quiet))
	require.NoError(t, err)

	_, err = eng.Route(context.Background(), LatLng{Lat: 1.300, Lng: 103.800}, LatLng{Lat: 1.302, Lng: 103.801})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestRouteConcurrent(t *testing.T) {
	eng := buildTestEngine(t)
	want, err := eng.Route(context.Background(), LatLng{Lat: 1.300, Lng: 103.800}, LatLng{Lat: 1.301, Lng: 103.802})
	require.NoError(t, err)

	errs := make(chan error, 8)
	dists := make(chan float64, 8)
	for i := 0; i < 8; i++ {
		go func() {
			r, err := eng.Route(context.Background(), LatLng{Lat: 1.300, Lng: 103.800}, LatLng{Lat: 1.301, Lng: 103.802})
			errs <- err
			if err == nil {
				dists <- r.TotalDistanceMeters
			}
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-errs)
		assert.InDelta(t, want.TotalDistanceMeters, <-dists, 1e-9)
	}
}

func TestUnpackEdgesYieldsOriginalPath(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		rng := rand.New(rand.NewSource(seed))
		h, err := ch.Contract(graphtest.Random(rng, 40, 100, true), ch.WithLogger(quiet))
		require.NoError(t, err)
		g := h.G
		tail := NewSnapper(g).tail

		eng := search.New(search.ZeroHeuristic{}, ch.NewFCHExpander(h), search.WithLogger(quiet))
		for s := uint32(0); s < g.NumNodes; s += 3 {
			for tgt := uint32(0); tgt < g.NumNodes; tgt += 5 {
				res, err := eng.Search(search.NewProblem(int64(s), int64(tgt)))
				require.NoError(t, err)
				if res.Status != search.StatusFound || s == tgt {
					continue
				}

				path := unpackEdges(g, tail, eng.TraceEdges(tgt))
				require.NotEmpty(t, path)
				assert.Equal(t, s, tail[path[0]])
				assert.Equal(t, tgt, g.Head[path[len(path)-1]])

				var sum float64
				for i, e := range path {
					assert.False(t, g.IsShortcut(e), "seed %d edge %d is a shortcut", seed, e)
					if i > 0 {
						assert.Equal(t, g.Head[path[i-1]], tail[e], "seed %d path breaks at %d", seed, i)
					}
					sum += float64(g.Weight[e])
				}
				assert.Equal(t, res.Cost, sum, "seed %d %d->%d", seed, s, tgt)
			}
		}
	}
}

func TestSnapperNearestEndpoint(t *testing.T) {
	eng := buildTestEngine(t)
	g := eng.Hierarchy().G

	assert.Equal(t, 12, eng.snapper.Len())
	assert.Equal(t, int(g.NumEdges)-shortcutCount(g), eng.snapper.Len(), "shortcuts are not indexed")

	// A quarter of the way from node 0 to node 1.
	r, err := eng.snapper.Snap(1.300, 103.80025)
	require.NoError(t, err)
	assert.Less(t, r.Dist, 1.0)
	node, off := r.nearest(g)
	assert.Equal(t, int64(10), g.ToExternal(node))
	assert.InDelta(t, float64(g.Weight[r.EdgeIdx])/4, off, 2)
}

func shortcutCount(g *graph.Graph) int {
	n := 0
	for e := uint32(0); e < g.NumEdges; e++ {
		if g.IsShortcut(e) {
			n++
		}
	}
	return n
}

// bentGraph is one two-way road from (1.300, 103.800) north to the bend
// at (1.301, 103.800) and then east to (1.301, 103.801).
func bentGraph(t *testing.T) *Engine {
	t.Helper()
	lats := []float64{1.300, 1.301, 1.301}
	lons := []float64{103.800, 103.800, 103.801}
	w := uint32(math.Ceil(geo.PolylineLength(lats, lons) * 1000))
	g := graph.FromEdges(2, []graph.Edge{
		{From: 0, To: 1, Weight: w, ShapeLats: []float64{1.301}, ShapeLons: []float64{103.800}},
		{From: 1, To: 0, Weight: w, ShapeLats: []float64{1.301}, ShapeLons: []float64{103.800}},
	}, []float64{1.300, 1.301}, []float64{103.800, 103.801})
	h, err := ch.Contract(g, ch.WithLogger(quiet))
	require.NoError(t, err)
	set, err := labels.Build(context.Background(), h, nil, labels.WithLogger(quiet))
	require.NoError(t, err)
	eng, err := NewEngine(set, WithLogger(quiet))
	require.NoError(t, err)
	return eng
}

func TestSnapAlongShape(t *testing.T) {
	eng := bentGraph(t)
	g := eng.Hierarchy().G

	// Halfway along the east-west leg, far from the straight chord.
	r, err := eng.snapper.Snap(1.301, 103.8005)
	require.NoError(t, err)
	assert.Less(t, r.Dist, 0.5)
	if r.NodeU == 0 {
		assert.InDelta(t, 0.75, r.Ratio, 0.01)
	} else {
		assert.InDelta(t, 0.25, r.Ratio, 0.01)
	}
	node, off := r.nearest(g)
	assert.Equal(t, uint32(1), node)
	assert.InDelta(t, float64(g.Weight[r.EdgeIdx])/4, off, float64(g.Weight[r.EdgeIdx])/100)
}

func TestRouteGeometryFollowsShape(t *testing.T) {
	eng := bentGraph(t)
	res, err := eng.Route(context.Background(), LatLng{Lat: 1.300, Lng: 103.800}, LatLng{Lat: 1.301, Lng: 103.801})
	require.NoError(t, err)

	require.Len(t, res.Segments, 1)
	want := []LatLng{{Lat: 1.300, Lng: 103.800}, {Lat: 1.301, Lng: 103.800}, {Lat: 1.301, Lng: 103.801}}
	assert.Equal(t, want, res.Segments[0].Geometry)
	assert.InDelta(t, 222.4, res.TotalDistanceMeters, 0.5)
}
