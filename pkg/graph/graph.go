package graph

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownNode is returned when an external node id has no internal mapping.
var ErrUnknownNode = errors.New("graph: unknown node")

// Graph represents a directed graph in CSR (Compressed Sparse Row) format.
//
// The global edge id FirstOut[u]+i is the identity of an edge everywhere in
// the router: labels, arc flags and search parents are all keyed by it.
type Graph struct {
	NumNodes uint32
	NumEdges uint32
	FirstOut []uint32  // len: NumNodes + 1; FirstOut[i]..FirstOut[i+1] are edges from node i
	Head     []uint32  // len: NumEdges; target node for each edge
	Weight   []uint32  // len: NumEdges; distance in millimeters
	Middle   []int32   // len: NumEdges or nil; -1 for original edges, else the contracted node
	NodeLat  []float64 // len: NumNodes
	NodeLon  []float64 // len: NumNodes
	ExtID    []int64   // len: NumNodes or nil; external (OSM) id of each node

	// Edge geometry: intermediate shape nodes for rendering.
	// GeoFirstOut[i]..GeoFirstOut[i+1] indexes into GeoShapeLat/Lon for edge i.
	GeoFirstOut []uint32  // len: NumEdges + 1
	GeoShapeLat []float64 // flattened intermediate lat coords
	GeoShapeLon []float64 // flattened intermediate lon coords

	// Incoming adjacency, built by BuildIncoming.
	// InFirstOut[v]..InFirstOut[v+1] are the incoming slots of v; InTail is
	// the source node of each slot and InEdge the global id of the outgoing
	// edge the slot mirrors.
	InFirstOut []uint32
	InTail     []uint32
	InEdge     []uint32

	extIndex map[int64]uint32
}

// Edge is a single directed edge used to assemble a Graph.
type Edge struct {
	From, To  uint32
	Weight    uint32
	Shortcut  bool
	Middle    uint32 // contracted node, only meaningful for shortcuts
	ShapeLats []float64
	ShapeLons []float64
}

// FromEdges builds a CSR graph over n nodes. Edges keep their relative order
// within each source node. lat/lon may be nil for abstract graphs.
func FromEdges(n uint32, edges []Edge, lat, lon []float64) *Graph {
	sorted := make([]Edge, len(edges))
	copy(sorted, edges)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].From < sorted[j].From
	})

	numEdges := uint32(len(sorted))
	firstOut := make([]uint32, n+1)
	head := make([]uint32, numEdges)
	weight := make([]uint32, numEdges)
	middle := make([]int32, numEdges)
	geoFirstOut := make([]uint32, numEdges+1)
	var geoShapeLat, geoShapeLon []float64

	for i, e := range sorted {
		head[i] = e.To
		weight[i] = e.Weight
		middle[i] = -1
		if e.Shortcut {
			middle[i] = int32(e.Middle)
		}
		geoFirstOut[i] = uint32(len(geoShapeLat))
		geoShapeLat = append(geoShapeLat, e.ShapeLats...)
		geoShapeLon = append(geoShapeLon, e.ShapeLons...)
		firstOut[e.From+1]++
	}
	geoFirstOut[numEdges] = uint32(len(geoShapeLat))

	for i := uint32(1); i <= n; i++ {
		firstOut[i] += firstOut[i-1]
	}

	if lat == nil {
		lat = make([]float64, n)
	}
	if lon == nil {
		lon = make([]float64, n)
	}

	g := &Graph{
		NumNodes:    n,
		NumEdges:    numEdges,
		FirstOut:    firstOut,
		Head:        head,
		Weight:      weight,
		Middle:      middle,
		NodeLat:     lat,
		NodeLon:     lon,
		GeoFirstOut: geoFirstOut,
		GeoShapeLat: geoShapeLat,
		GeoShapeLon: geoShapeLon,
	}
	g.BuildIncoming()
	return g
}

// EdgesFrom returns the range of edge indices for edges originating from node u.
func (g *Graph) EdgesFrom(u uint32) (start, end uint32) {
	return g.FirstOut[u], g.FirstOut[u+1]
}

// EdgesTo returns the range of incoming slots of node v.
func (g *Graph) EdgesTo(v uint32) (start, end uint32) {
	return g.InFirstOut[v], g.InFirstOut[v+1]
}

// OutDegree returns the number of outgoing edges of u.
func (g *Graph) OutDegree(u uint32) uint32 {
	return g.FirstOut[u+1] - g.FirstOut[u]
}

// IsShortcut reports whether edge e bypasses a contracted node.
func (g *Graph) IsShortcut(e uint32) bool {
	return g.Middle != nil && g.Middle[e] >= 0
}

// Coordinates returns the position of node id.
func (g *Graph) Coordinates(id uint32) (lat, lon float64) {
	return g.NodeLat[id], g.NodeLon[id]
}

// BuildIncoming (re)computes the incoming adjacency from the outgoing CSR.
func (g *Graph) BuildIncoming() {
	n := g.NumNodes
	inFirstOut := make([]uint32, n+1)
	for _, v := range g.Head {
		inFirstOut[v+1]++
	}
	for i := uint32(1); i <= n; i++ {
		inFirstOut[i] += inFirstOut[i-1]
	}

	inTail := make([]uint32, g.NumEdges)
	inEdge := make([]uint32, g.NumEdges)
	pos := make([]uint32, n)
	copy(pos, inFirstOut[:n])
	for u := uint32(0); u < n; u++ {
		start, end := g.EdgesFrom(u)
		for e := start; e < end; e++ {
			v := g.Head[e]
			inTail[pos[v]] = u
			inEdge[pos[v]] = e
			pos[v]++
		}
	}

	g.InFirstOut = inFirstOut
	g.InTail = inTail
	g.InEdge = inEdge
}

// ToInternal maps an external id to the internal node id. Graphs without
// external ids use the internal id as the external one.
func (g *Graph) ToInternal(ext int64) (uint32, error) {
	if g.ExtID == nil {
		if ext < 0 || ext >= int64(g.NumNodes) {
			return 0, fmt.Errorf("%w: %d", ErrUnknownNode, ext)
		}
		return uint32(ext), nil
	}
	if g.extIndex == nil {
		g.indexExternal()
	}
	id, ok := g.extIndex[ext]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownNode, ext)
	}
	return id, nil
}

// ToExternal maps an internal node id to its external id.
func (g *Graph) ToExternal(id uint32) int64 {
	if g.ExtID == nil {
		return int64(id)
	}
	return g.ExtID[id]
}

// indexExternal builds the external id lookup. Call it before sharing the
// graph between goroutines; ToInternal builds it lazily otherwise.
func (g *Graph) indexExternal() {
	idx := make(map[int64]uint32, len(g.ExtID))
	for i, ext := range g.ExtID {
		idx[ext] = uint32(i)
	}
	g.extIndex = idx
}

// Freeze prepares the lazily built lookup tables so the graph can be read
// concurrently.
func (g *Graph) Freeze() {
	if g.ExtID != nil && g.extIndex == nil {
		g.indexExternal()
	}
	if g.InFirstOut == nil {
		g.BuildIncoming()
	}
}

// Mem returns the approximate heap footprint of the graph in bytes.
func (g *Graph) Mem() int {
	return 4*(len(g.FirstOut)+len(g.Head)+len(g.Weight)+len(g.Middle)+
		len(g.GeoFirstOut)+len(g.InFirstOut)+len(g.InTail)+len(g.InEdge)) +
		8*(len(g.NodeLat)+len(g.NodeLon)+len(g.ExtID)+len(g.GeoShapeLat)+len(g.GeoShapeLon)) +
		12*len(g.extIndex)
}
