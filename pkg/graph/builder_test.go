package graph

import (
	"testing"

	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	osmparser "github.com/azybler/ch_router/pkg/osm"
)

// assertCSR checks the structural invariants every CSR graph must hold.
func assertCSR(t *testing.T, g *Graph) {
	t.Helper()
	require.Len(t, g.FirstOut, int(g.NumNodes)+1)
	require.Len(t, g.Head, int(g.NumEdges))
	require.Len(t, g.GeoFirstOut, int(g.NumEdges)+1)
	assert.Equal(t, g.NumEdges, g.FirstOut[g.NumNodes])
	for i := uint32(1); i <= g.NumNodes; i++ {
		assert.LessOrEqual(t, g.FirstOut[i-1], g.FirstOut[i], "FirstOut[%d]", i)
	}
	for e, h := range g.Head {
		assert.Less(t, h, g.NumNodes, "Head[%d]", e)
	}
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name      string
		edges     []osmparser.RawEdge
		nodes     uint32
		outDegree []uint32
	}{
		{
			name: "triangle",
			edges: []osmparser.RawEdge{
				{FromNodeID: 100, ToNodeID: 200, Weight: 1000},
				{FromNodeID: 200, ToNodeID: 300, Weight: 2000},
				{FromNodeID: 300, ToNodeID: 100, Weight: 3000},
			},
			nodes:     3,
			outDegree: []uint32{1, 1, 1},
		},
		{
			name: "two-way pair",
			edges: []osmparser.RawEdge{
				{FromNodeID: 1, ToNodeID: 2, Weight: 500},
				{FromNodeID: 2, ToNodeID: 1, Weight: 500},
			},
			nodes:     2,
			outDegree: []uint32{1, 1},
		},
		{
			name: "star",
			edges: []osmparser.RawEdge{
				{FromNodeID: 10, ToNodeID: 40, Weight: 300},
				{FromNodeID: 10, ToNodeID: 20, Weight: 100},
				{FromNodeID: 10, ToNodeID: 30, Weight: 200},
				{FromNodeID: 20, ToNodeID: 10, Weight: 100},
			},
			nodes:     4,
			outDegree: []uint32{3, 1, 0, 0},
		},
		{
			name:  "empty",
			nodes: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lat := map[osm.NodeID]float64{}
			lon := map[osm.NodeID]float64{}
			for _, e := range tt.edges {
				lat[e.FromNodeID], lon[e.FromNodeID] = 1.0, 103.0
				lat[e.ToNodeID], lon[e.ToNodeID] = 1.0, 103.0
			}
			g := Build(&osmparser.ParseResult{Edges: tt.edges, NodeLat: lat, NodeLon: lon})

			assert.Equal(t, tt.nodes, g.NumNodes)
			assert.Equal(t, uint32(len(tt.edges)), g.NumEdges)
			if tt.nodes == 0 {
				return
			}
			assertCSR(t, g)
			for u, want := range tt.outDegree {
				assert.Equal(t, want, g.OutDegree(uint32(u)), "out-degree of %d", u)
			}
		})
	}
}

func TestBuildOrdersEdgesByTarget(t *testing.T) {
	g := Build(&osmparser.ParseResult{
		Edges: []osmparser.RawEdge{
			{FromNodeID: 10, ToNodeID: 40, Weight: 300},
			{FromNodeID: 10, ToNodeID: 20, Weight: 100},
			{FromNodeID: 10, ToNodeID: 30, Weight: 200},
		},
		NodeLat: map[osm.NodeID]float64{10: 1.0, 20: 1.1, 30: 1.2, 40: 1.3},
		NodeLon: map[osm.NodeID]float64{10: 103.0, 20: 103.1, 30: 103.2, 40: 103.3},
	})
	assert.Equal(t, []uint32{1, 2, 3}, g.Head)
	assert.Equal(t, []uint32{100, 200, 300}, g.Weight)
	assert.Equal(t, []int32{-1, -1, -1}, g.Middle)
}

func TestBuildExternalIDs(t *testing.T) {
	g := Build(&osmparser.ParseResult{
		Edges: []osmparser.RawEdge{
			{FromNodeID: 300, ToNodeID: 100, Weight: 700},
			{FromNodeID: 100, ToNodeID: 200, Weight: 500},
		},
		NodeLat: map[osm.NodeID]float64{100: 1.0, 200: 1.1, 300: 1.2},
		NodeLon: map[osm.NodeID]float64{100: 103.0, 200: 103.1, 300: 103.2},
	})

	for i, want := range []int64{100, 200, 300} {
		assert.Equal(t, want, g.ToExternal(uint32(i)))
		id, err := g.ToInternal(want)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), id)
	}
	_, err := g.ToInternal(999)
	assert.ErrorIs(t, err, ErrUnknownNode)

	lat, lon := g.Coordinates(2)
	assert.Equal(t, 1.2, lat)
	assert.Equal(t, 103.2, lon)
}

func TestToInternalWithoutExternalIDs(t *testing.T) {
	g := FromEdges(3, []Edge{{From: 0, To: 1, Weight: 1}}, nil, nil)

	id, err := g.ToInternal(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), id)
	assert.Equal(t, int64(2), g.ToExternal(2))

	for _, ext := range []int64{-1, 3} {
		_, err := g.ToInternal(ext)
		assert.ErrorIs(t, err, ErrUnknownNode, "ext %d", ext)
	}
}

func TestBuildIncomingAdjacency(t *testing.T) {
	g := FromEdges(3, []Edge{
		{From: 0, To: 2, Weight: 10},
		{From: 1, To: 2, Weight: 20},
		{From: 2, To: 0, Weight: 30},
	}, nil, nil)

	start, end := g.EdgesTo(2)
	require.Equal(t, uint32(2), end-start)
	for i := start; i < end; i++ {
		e := g.InEdge[i]
		assert.Equal(t, uint32(2), g.Head[e], "slot %d", i)
		tail := g.InTail[i]
		assert.True(t, e >= g.FirstOut[tail] && e < g.FirstOut[tail+1], "slot %d tail %d owns edge %d", i, tail, e)
	}
	assert.False(t, g.IsShortcut(0))
	assert.Positive(t, g.Mem())
}

func TestFromEdgesShortcutsAndShapes(t *testing.T) {
	g := FromEdges(3, []Edge{
		{From: 1, To: 2, Weight: 5, ShapeLats: []float64{7, 8}, ShapeLons: []float64{9, 10}},
		{From: 0, To: 2, Weight: 9, Shortcut: true, Middle: 1},
		{From: 0, To: 1, Weight: 4},
	}, nil, nil)
	assertCSR(t, g)

	// Edges of node 0 keep their input order: the shortcut first.
	assert.True(t, g.IsShortcut(0))
	assert.Equal(t, int32(1), g.Middle[0])
	assert.False(t, g.IsShortcut(1))
	assert.Equal(t, []uint32{0, 0, 0, 2}, g.GeoFirstOut)
	assert.Equal(t, []float64{7, 8}, g.GeoShapeLat)
}
