package search

import "math"

// NoParent marks a node without a predecessor (the start node, or a node not
// yet generated this episode). It doubles as the "no edge" marker.
const NoParent = ^uint32(0)

// Node is the per-episode search state of one graph node.
type Node struct {
	ID         uint32
	G          float64
	F          float64
	Parent     uint32 // node id of the predecessor, NoParent if none
	ParentEdge uint32 // global id of the edge that generated this node
	Expanded   bool
	SearchID   uint64

	heapIndex int
}

// InOpen reports whether the node currently sits in the frontier.
func (n *Node) InOpen() bool { return n.heapIndex >= 0 }

func (n *Node) reset(searchID uint64) {
	n.G = math.Inf(1)
	n.F = math.Inf(1)
	n.Parent = NoParent
	n.ParentEdge = NoParent
	n.Expanded = false
	n.SearchID = searchID
	n.heapIndex = -1
}

const (
	blockBits = 10
	blockSize = 1 << blockBits
	blockMask = blockSize - 1
)

// NodePool is an arena of search nodes indexed by node id. Blocks are
// allocated on first touch, so a search that visits a small region of a
// large graph only pays for that region.
type NodePool struct {
	blocks   [][]Node
	numNodes uint32
	live     int
}

// NewNodePool creates a pool able to hold numNodes nodes.
func NewNodePool(numNodes uint32) *NodePool {
	return &NodePool{
		blocks:   make([][]Node, (int(numNodes)+blockSize-1)/blockSize),
		numNodes: numNodes,
	}
}

// Generate returns the node for id, allocating its block if needed.
// A freshly allocated node carries SearchID 0, which never matches a live
// episode.
func (p *NodePool) Generate(id uint32) *Node {
	b := id >> blockBits
	if p.blocks[b] == nil {
		block := make([]Node, blockSize)
		base := b << blockBits
		for i := range block {
			block[i].ID = base + uint32(i)
			block[i].Parent = NoParent
			block[i].ParentEdge = NoParent
			block[i].heapIndex = -1
		}
		p.blocks[b] = block
		p.live++
	}
	return &p.blocks[b][id&blockMask]
}

// Get returns the node for id, or nil if its block was never allocated.
func (p *NodePool) Get(id uint32) *Node {
	if id >= p.numNodes {
		return nil
	}
	block := p.blocks[id>>blockBits]
	if block == nil {
		return nil
	}
	return &block[id&blockMask]
}

// Mem returns the pool's footprint in bytes.
func (p *NodePool) Mem() int {
	const nodeSize = 56
	return p.live*blockSize*nodeSize + len(p.blocks)*24
}
