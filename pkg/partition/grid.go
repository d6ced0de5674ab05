// Package partition assigns graph nodes to cells. Cells feed the partition
// bits of edge labels and the arc flags.
package partition

import (
	"fmt"
	"math"

	"github.com/azybler/ch_router/pkg/graph"
)

// MaxCells bounds rows*cols so cell ids stay small enough for compact
// bitmaps.
const MaxCells = 1 << 16

// Grid splits the bounding box of g's nodes into rows x cols equal cells
// and returns each node's cell id (row*cols + col).
func Grid(g *graph.Graph, rows, cols int) ([]uint32, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("partition: grid must be at least 1x1, got %dx%d", rows, cols)
	}
	if rows*cols > MaxCells {
		return nil, fmt.Errorf("partition: %d cells exceeds limit %d", rows*cols, MaxCells)
	}

	cells := make([]uint32, g.NumNodes)
	if g.NumNodes == 0 {
		return cells, nil
	}

	minLat, maxLat := math.Inf(1), math.Inf(-1)
	minLon, maxLon := math.Inf(1), math.Inf(-1)
	for i := uint32(0); i < g.NumNodes; i++ {
		minLat = math.Min(minLat, g.NodeLat[i])
		maxLat = math.Max(maxLat, g.NodeLat[i])
		minLon = math.Min(minLon, g.NodeLon[i])
		maxLon = math.Max(maxLon, g.NodeLon[i])
	}

	latSize := (maxLat - minLat) / float64(rows)
	lonSize := (maxLon - minLon) / float64(cols)
	for i := uint32(0); i < g.NumNodes; i++ {
		r := gridIndex(g.NodeLat[i]-minLat, latSize, rows)
		c := gridIndex(g.NodeLon[i]-minLon, lonSize, cols)
		cells[i] = uint32(r*cols + c)
	}
	return cells, nil
}

// gridIndex returns the integer cell index of an offset, clamped so the
// maximum coordinate falls into the last cell.
func gridIndex(offset, size float64, n int) int {
	if size <= 0 {
		return 0
	}
	idx := int(math.Floor(offset / size))
	return min(max(idx, 0), n-1)
}

// NumCells returns the number of distinct cell ids a cell array can hold.
func NumCells(cells []uint32) uint32 {
	var n uint32
	for _, c := range cells {
		n = max(n, c+1)
	}
	return n
}
