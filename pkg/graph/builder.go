package graph

import (
	"sort"

	"github.com/paulmach/osm"

	osmparser "github.com/azybler/ch_router/pkg/osm"
)

// Build creates a CSR Graph from parsed OSM edges. Internal ids are assigned
// in ascending OSM node id order; ExtID records the OSM id of every node.
func Build(result *osmparser.ParseResult) *Graph {
	edges := result.Edges
	if len(edges) == 0 {
		return &Graph{}
	}

	// Collect all unique node IDs referenced by edges.
	seen := make(map[osm.NodeID]struct{})
	var nodeIDs []osm.NodeID
	for i := range edges {
		for _, id := range [2]osm.NodeID{edges[i].FromNodeID, edges[i].ToNodeID} {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				nodeIDs = append(nodeIDs, id)
			}
		}
	}
	sort.Slice(nodeIDs, func(i, j int) bool { return nodeIDs[i] < nodeIDs[j] })

	nodeSet := make(map[osm.NodeID]uint32, len(nodeIDs))
	for i, id := range nodeIDs {
		nodeSet[id] = uint32(i)
	}
	numNodes := uint32(len(nodeIDs))

	compact := make([]Edge, len(edges))
	for i, e := range edges {
		compact[i] = Edge{
			From:      nodeSet[e.FromNodeID],
			To:        nodeSet[e.ToNodeID],
			Weight:    e.Weight,
			ShapeLats: e.ShapeLats,
			ShapeLons: e.ShapeLons,
		}
	}

	// Sort by (source, target) so the CSR is deterministic across runs.
	sort.Slice(compact, func(i, j int) bool {
		if compact[i].From != compact[j].From {
			return compact[i].From < compact[j].From
		}
		return compact[i].To < compact[j].To
	})

	nodeLat := make([]float64, numNodes)
	nodeLon := make([]float64, numNodes)
	extID := make([]int64, numNodes)
	for i, id := range nodeIDs {
		nodeLat[i] = result.NodeLat[id]
		nodeLon[i] = result.NodeLon[id]
		extID[i] = int64(id)
	}

	g := FromEdges(numNodes, compact, nodeLat, nodeLon)
	g.ExtID = extID
	return g
}
