package graph

// UnionFind is a disjoint-set forest over node ids, merged by size.
type UnionFind struct {
	parent []uint32
	size   []uint32
}

// NewUnionFind returns n singleton sets.
func NewUnionFind(n uint32) *UnionFind {
	uf := &UnionFind{parent: make([]uint32, n), size: make([]uint32, n)}
	for i := range n {
		uf.parent[i], uf.size[i] = i, 1
	}
	return uf
}

// Find returns the root of x's set, halving the path on the way up.
func (uf *UnionFind) Find(x uint32) uint32 {
	for p := uf.parent[x]; p != x; p = uf.parent[x] {
		uf.parent[x] = uf.parent[p]
		x = uf.parent[x]
	}
	return x
}

// Union joins the sets of x and y and reports whether they were distinct.
func (uf *UnionFind) Union(x, y uint32) bool {
	rx, ry := uf.Find(x), uf.Find(y)
	if rx == ry {
		return false
	}
	if uf.size[rx] < uf.size[ry] {
		rx, ry = ry, rx
	}
	uf.parent[ry] = rx
	uf.size[rx] += uf.size[ry]
	return true
}

// Size returns the number of elements in x's set.
func (uf *UnionFind) Size(x uint32) uint32 { return uf.size[uf.Find(x)] }

// ComponentIDs labels every node with the representative of its weakly
// connected component (edges treated as undirected).
func ComponentIDs(g *Graph) []uint32 {
	uf := NewUnionFind(g.NumNodes)
	for u := uint32(0); u < g.NumNodes; u++ {
		start, end := g.EdgesFrom(u)
		for e := start; e < end; e++ {
			uf.Union(u, g.Head[e])
		}
	}

	comp := make([]uint32, g.NumNodes)
	for i := range comp {
		comp[i] = uf.Find(uint32(i))
	}
	return comp
}

// LargestComponent returns the node indices belonging to the largest
// weakly connected component (treating the directed graph as undirected).
func LargestComponent(g *Graph) []uint32 {
	if g.NumNodes == 0 {
		return nil
	}

	comp := ComponentIDs(g)
	size := make(map[uint32]uint32)
	for _, c := range comp {
		size[c]++
	}

	// Ties go to the component whose representative is seen first.
	bestRoot := comp[0]
	for _, c := range comp {
		if size[c] > size[bestRoot] {
			bestRoot = c
		}
	}

	nodes := make([]uint32, 0, size[bestRoot])
	for i, c := range comp {
		if c == bestRoot {
			nodes = append(nodes, uint32(i))
		}
	}
	return nodes
}

// FilterToComponent creates a new graph containing only the specified nodes.
// External ids survive the renumbering.
func FilterToComponent(g *Graph, nodes []uint32) *Graph {
	if len(nodes) == 0 {
		return &Graph{}
	}

	oldToNew := make(map[uint32]uint32, len(nodes))
	for newIdx, oldIdx := range nodes {
		oldToNew[oldIdx] = uint32(newIdx)
	}

	var edges []Edge
	for _, oldU := range nodes {
		start, end := g.EdgesFrom(oldU)
		for e := start; e < end; e++ {
			newV, ok := oldToNew[g.Head[e]]
			if !ok {
				continue
			}
			edge := Edge{From: oldToNew[oldU], To: newV, Weight: g.Weight[e]}
			if g.GeoFirstOut != nil {
				geoStart, geoEnd := g.GeoFirstOut[e], g.GeoFirstOut[e+1]
				if geoEnd > geoStart {
					edge.ShapeLats = append([]float64(nil), g.GeoShapeLat[geoStart:geoEnd]...)
					edge.ShapeLons = append([]float64(nil), g.GeoShapeLon[geoStart:geoEnd]...)
				}
			}
			edges = append(edges, edge)
		}
	}

	numNodes := uint32(len(nodes))
	nodeLat := make([]float64, numNodes)
	nodeLon := make([]float64, numNodes)
	var extID []int64
	if g.ExtID != nil {
		extID = make([]int64, numNodes)
	}
	for newIdx, oldIdx := range nodes {
		nodeLat[newIdx] = g.NodeLat[oldIdx]
		nodeLon[newIdx] = g.NodeLon[oldIdx]
		if extID != nil {
			extID[newIdx] = g.ExtID[oldIdx]
		}
	}

	out := FromEdges(numNodes, edges, nodeLat, nodeLon)
	out.ExtID = extID
	return out
}
