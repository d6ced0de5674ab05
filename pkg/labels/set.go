package labels

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/azybler/ch_router/pkg/graph"
)

// Set is the complete label data of one hierarchy. It is read-only once
// built and safe for concurrent readers.
type Set struct {
	h      *graph.Hierarchy
	edges  []Label  // indexed by global edge id
	dfsID  []int32  // postorder id per node
	upApex []uint32 // highest-rank node reachable over up edges
	cells  []uint32 // partition cell per node, nil when unpartitioned
	apex   uint32

	// first-move bitsets from the apex, kept for inspection. Nil on a set
	// read back from disk.
	firstMove []*bitset.BitSet
}

// Hierarchy returns the hierarchy the labels were computed for.
func (s *Set) Hierarchy() *graph.Hierarchy { return s.h }

// Label returns the label of global edge e.
func (s *Set) Label(e uint32) *Label { return &s.edges[e] }

// Apex returns the root of the DFS labelling.
func (s *Set) Apex() uint32 { return s.apex }

// DFSID returns the postorder id of node id.
func (s *Set) DFSID(id uint32) int32 { return s.dfsID[id] }

// UpApex returns the highest-rank node reachable from id over up edges.
func (s *Set) UpApex(id uint32) uint32 { return s.upApex[id] }

// Cells returns the partition the labels were built with, or nil.
func (s *Set) Cells() []uint32 { return s.cells }

// FirstMove returns the first-move bitset of id, or nil when unknown.
func (s *Set) FirstMove(id uint32) *bitset.BitSet {
	if s.firstMove == nil {
		return nil
	}
	return s.firstMove[id]
}

// Attrs returns the attributes a label is tested against for node id.
func (s *Set) Attrs(id uint32) Attrs {
	lat, lon := s.h.G.Coordinates(id)
	a := Attrs{
		DFSID: s.dfsID[id],
		Rank:  int32(s.h.Rank[id]),
		Lat:   lat,
		Lon:   lon,
	}
	if s.cells != nil {
		a.Cell = s.cells[id]
		a.HasCell = true
	}
	return a
}

// Mem returns the approximate heap footprint of the labels in bytes. The
// hierarchy itself is not counted.
func (s *Set) Mem() int {
	n := 4*len(s.dfsID) + 4*len(s.upApex) + 4*len(s.cells)
	for i := range s.edges {
		n += s.edges[i].Mem()
	}
	for _, b := range s.firstMove {
		if b != nil {
			n += 24 + 8*len(b.Bytes())
		}
	}
	return n
}
