package ch

import (
	"math"
	"math/rand"
	"testing"

	"github.com/paulmach/osm"

	"github.com/azybler/ch_router/pkg/graph"
	"github.com/azybler/ch_router/pkg/graph/graphtest"
	osmparser "github.com/azybler/ch_router/pkg/osm"
	"github.com/azybler/ch_router/pkg/search"
)

// buildTestGraph creates a small graph for testing:
//
//	0 ---100--- 1 ---200--- 2
//	|                       |
//	300                    400
//	|                       |
//	3 ---500--- 4 ---600--- 5
//
// All edges are bidirectional.
func buildTestGraph() *graph.Graph {
	result := &osmparser.ParseResult{
		Edges: []osmparser.RawEdge{
			// Row 1: 0-1-2
			{FromNodeID: 10, ToNodeID: 20, Weight: 100},
			{FromNodeID: 20, ToNodeID: 10, Weight: 100},
			{FromNodeID: 20, ToNodeID: 30, Weight: 200},
			{FromNodeID: 30, ToNodeID: 20, Weight: 200},
			// Columns: 0-3, 2-5
			{FromNodeID: 10, ToNodeID: 40, Weight: 300},
			{FromNodeID: 40, ToNodeID: 10, Weight: 300},
			{FromNodeID: 30, ToNodeID: 60, Weight: 400},
			{FromNodeID: 60, ToNodeID: 30, Weight: 400},
			// Row 2: 3-4-5
			{FromNodeID: 40, ToNodeID: 50, Weight: 500},
			{FromNodeID: 50, ToNodeID: 40, Weight: 500},
			{FromNodeID: 50, ToNodeID: 60, Weight: 600},
			{FromNodeID: 60, ToNodeID: 50, Weight: 600},
		},
		NodeLat: map[osm.NodeID]float64{10: 1.0, 20: 1.0, 30: 1.0, 40: 1.1, 50: 1.1, 60: 1.1},
		NodeLon: map[osm.NodeID]float64{10: 103.0, 20: 103.1, 30: 103.2, 40: 103.0, 50: 103.1, 60: 103.2},
	}
	return graph.Build(result)
}

// fchDistance runs the forward hierarchy search between internal ids.
func fchDistance(t *testing.T, h *graph.Hierarchy, source, target uint32) float64 {
	t.Helper()
	eng := search.New(search.ZeroHeuristic{}, NewFCHExpander(h))
	pi := search.NewProblem(h.G.ToExternal(source), h.G.ToExternal(target))
	res, err := eng.Search(pi)
	if err != nil {
		t.Fatalf("search %d->%d: %v", source, target, err)
	}
	if res.Status != search.StatusFound {
		return math.Inf(1)
	}
	return res.Cost
}

func TestContractSmallGraph(t *testing.T) {
	g := buildTestGraph()

	if g.NumNodes != 6 {
		t.Fatalf("test graph has %d nodes, want 6", g.NumNodes)
	}

	h, err := Contract(g)
	if err != nil {
		t.Fatalf("Contract: %v", err)
	}

	if h.NumNodes() != 6 {
		t.Fatalf("hierarchy has %d nodes, want 6", h.NumNodes())
	}

	// Verify ranks are a permutation of 0..5.
	rankSeen := make(map[uint32]bool)
	for _, r := range h.Rank {
		if r >= h.NumNodes() {
			t.Errorf("rank %d >= NumNodes %d", r, h.NumNodes())
		}
		rankSeen[r] = true
	}
	if len(rankSeen) != int(h.NumNodes()) {
		t.Errorf("ranks are not a permutation: saw %d unique values, want %d", len(rankSeen), h.NumNodes())
	}

	// Every original edge survives in the augmented graph.
	if h.G.NumEdges < g.NumEdges {
		t.Errorf("augmented graph has %d edges, original had %d", h.G.NumEdges, g.NumEdges)
	}
	// External ids survive.
	if h.G.ToExternal(0) != 10 {
		t.Errorf("ToExternal(0) = %d, want 10", h.G.ToExternal(0))
	}
}

func TestCHCorrectnessAllPairs(t *testing.T) {
	g := buildTestGraph()
	h, err := Contract(g)
	if err != nil {
		t.Fatalf("Contract: %v", err)
	}

	for s := uint32(0); s < g.NumNodes; s++ {
		want := graphtest.Distances(g, s)
		for d := uint32(0); d < g.NumNodes; d++ {
			if got := fchDistance(t, h, s, d); got != want[d] {
				t.Errorf("s=%d d=%d: CH=%v, Dijkstra=%v", s, d, got, want[d])
			}
		}
	}
}

func TestCHCorrectnessRandomGraphs(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 15; trial++ {
		g := graphtest.Random(rng, 30, 60, trial%2 == 0)
		h, err := Contract(g)
		if err != nil {
			t.Fatalf("Contract: %v", err)
		}
		for s := uint32(0); s < g.NumNodes; s += 3 {
			want := graphtest.Distances(g, s)
			for d := uint32(0); d < g.NumNodes; d++ {
				if got := fchDistance(t, h, s, d); got != want[d] {
					t.Errorf("trial %d s=%d d=%d: CH=%v, Dijkstra=%v", trial, s, d, got, want[d])
				}
			}
		}
	}
}

func TestShortcutsUnpackToTwoHalves(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	g := graphtest.Random(rng, 40, 100, true)
	h, err := Contract(g)
	if err != nil {
		t.Fatalf("Contract: %v", err)
	}
	ag := h.G

	hasEdge := func(u, v, w uint32) bool {
		start, end := ag.EdgesFrom(u)
		for e := start; e < end; e++ {
			if ag.Head[e] == v && ag.Weight[e] == w {
				return true
			}
		}
		return false
	}

	for u := uint32(0); u < ag.NumNodes; u++ {
		start, end := ag.EdgesFrom(u)
		for e := start; e < end; e++ {
			if !ag.IsShortcut(e) {
				continue
			}
			mid := uint32(ag.Middle[e])
			if h.Rank[mid] >= h.Rank[u] || h.Rank[mid] >= h.Rank[ag.Head[e]] {
				t.Errorf("shortcut %d->%d via %d: middle is not the lowest rank", u, ag.Head[e], mid)
			}
			found := false
			ms, me := ag.EdgesFrom(u)
			for first := ms; first < me && !found; first++ {
				if ag.Head[first] != mid || ag.Weight[first] >= ag.Weight[e] {
					continue
				}
				found = hasEdge(mid, ag.Head[e], ag.Weight[e]-ag.Weight[first])
			}
			if !found {
				t.Errorf("shortcut %d->%d via %d has no matching halves", u, ag.Head[e], mid)
			}
		}
	}
}

func TestContractEmptyGraph(t *testing.T) {
	result := &osmparser.ParseResult{
		Edges:   nil,
		NodeLat: map[osm.NodeID]float64{1: 1.0},
		NodeLon: map[osm.NodeID]float64{1: 103.0},
	}
	g := graph.Build(result)
	h, err := Contract(g)
	if err != nil {
		t.Fatalf("Contract: %v", err)
	}
	if h.NumNodes() != 0 {
		t.Errorf("NumNodes = %d, want 0", h.NumNodes())
	}
}

func TestContractLinearGraph(t *testing.T) {
	// Linear chain: 0 -> 1 -> 2 -> 3 -> 4 (all one-way)
	result := &osmparser.ParseResult{
		Edges: []osmparser.RawEdge{
			{FromNodeID: 1, ToNodeID: 2, Weight: 100},
			{FromNodeID: 2, ToNodeID: 3, Weight: 200},
			{FromNodeID: 3, ToNodeID: 4, Weight: 300},
			{FromNodeID: 4, ToNodeID: 5, Weight: 400},
		},
		NodeLat: map[osm.NodeID]float64{1: 1.0, 2: 1.1, 3: 1.2, 4: 1.3, 5: 1.4},
		NodeLon: map[osm.NodeID]float64{1: 103.0, 2: 103.1, 3: 103.2, 4: 103.3, 5: 103.4},
	}
	g := graph.Build(result)
	h, err := Contract(g, WithWitnessLimits(50, 3))
	if err != nil {
		t.Fatalf("Contract: %v", err)
	}

	// 0 -> 4 distance = 100+200+300+400 = 1000.
	if dist := fchDistance(t, h, 0, 4); dist != 1000 {
		t.Errorf("linear chain: CH=%v, want 1000", dist)
	}
	if dist := fchDistance(t, h, 4, 0); !math.IsInf(dist, 1) {
		t.Errorf("reverse of one-way chain should be unreachable, got %v", dist)
	}
}

func TestContractCoreLimitKeepsRanksAPermutation(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	g := graphtest.Random(rng, 40, 120, true)

	full, err := Contract(g)
	if err != nil {
		t.Fatalf("Contract: %v", err)
	}
	cored, err := Contract(g, WithCoreLimit(1))
	if err != nil {
		t.Fatalf("Contract with core: %v", err)
	}

	for name, h := range map[string]*graph.Hierarchy{"full": full, "core": cored} {
		seen := make([]bool, g.NumNodes)
		for v, r := range h.Rank {
			if r >= g.NumNodes || seen[r] {
				t.Fatalf("%s: rank %d of node %d is out of range or repeated", name, r, v)
			}
			seen[r] = true
		}
	}
	if cored.G.NumEdges > full.G.NumEdges {
		t.Errorf("core run added more shortcuts (%d edges) than a full run (%d)", cored.G.NumEdges, full.G.NumEdges)
	}
}
