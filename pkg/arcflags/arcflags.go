// Package arcflags computes per-cell arc flags: for every partition cell,
// the set of edges that lie on some shortest path into (or out of) it.
package arcflags

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/azybler/ch_router/pkg/graph"
	"github.com/azybler/ch_router/pkg/partition"
	"github.com/azybler/ch_router/pkg/search"
)

// ErrCellCount is returned when the partition does not cover every node.
var ErrCellCount = errors.New("arcflags: cell slice length differs from node count")

// Flags holds one edge bitmap per cell. With Forward flags an edge is set
// for cell c when it lies on a shortest path to some node of c; with
// Backward flags, on a shortest path from some node of c.
type Flags struct {
	dir    search.Direction
	cells  []uint32
	byCell []*roaring.Bitmap
}

// Direction returns the direction the flags were computed for.
func (f *Flags) Direction() search.Direction { return f.dir }

// NumNodes returns the number of nodes the partition covers.
func (f *Flags) NumNodes() uint32 { return uint32(len(f.cells)) }

// NumCells returns the number of cells.
func (f *Flags) NumCells() int { return len(f.byCell) }

// Prune reports whether edge cannot lie on a shortest path towards target.
func (f *Flags) Prune(edge, target uint32) bool {
	return !f.byCell[f.cells[target]].Contains(edge)
}

// Flagged returns the edge set of cell c.
func (f *Flags) Flagged(c uint32) *roaring.Bitmap { return f.byCell[c] }

// Mem returns the approximate heap footprint in bytes.
func (f *Flags) Mem() int {
	n := 4 * len(f.cells)
	for _, bm := range f.byCell {
		n += int(bm.GetSizeInBytes())
	}
	return n
}

type config struct {
	logger  *slog.Logger
	workers int
}

// Option configures Compute.
type Option func(*config)

// WithLogger sets the progress logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// WithWorkers bounds the number of cells processed concurrently. Defaults
// to GOMAXPROCS.
func WithWorkers(n int) Option { return func(c *config) { c.workers = n } }

// Compute runs one exhaustive Dijkstra per boundary node of every cell.
// Forward flags search backwards from the cell's entry nodes, Backward
// flags search forwards from its exit nodes; an edge is flagged when it is
// tight on one of those trees or lies inside the cell.
func Compute(ctx context.Context, g *graph.Graph, cells []uint32, dir search.Direction, opts ...Option) (*Flags, error) {
	cfg := config{logger: slog.Default(), workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(&cfg)
	}
	if uint32(len(cells)) != g.NumNodes {
		return nil, fmt.Errorf("%w: %d cells, %d nodes", ErrCellCount, len(cells), g.NumNodes)
	}
	g.Freeze()

	numCells := partition.NumCells(cells)
	members := make([][]uint32, numCells)
	for v, c := range cells {
		members[c] = append(members[c], uint32(v))
	}

	f := &Flags{dir: dir, cells: cells, byCell: make([]*roaring.Bitmap, numCells)}
	began := time.Now()

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(cfg.workers, 1))
	for c := range members {
		eg.Go(func() error {
			bm, err := computeCell(ctx, g, cells, uint32(c), members[c], dir)
			if err != nil {
				return fmt.Errorf("cell %d: %w", c, err)
			}
			f.byCell[c] = bm
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	cfg.logger.Info("arc flags computed",
		"cells", numCells,
		"direction", dir.String(),
		"mem_mb", f.Mem()/(1<<20),
		"elapsed", time.Since(began).Round(time.Millisecond))
	return f, nil
}

// boundary reports whether v has an edge crossing into (Forward) or out of
// (Backward) its cell.
func boundary(g *graph.Graph, cells []uint32, v uint32, dir search.Direction) bool {
	if dir == search.Forward {
		start, end := g.EdgesTo(v)
		for i := start; i < end; i++ {
			if cells[g.InTail[i]] != cells[v] {
				return true
			}
		}
		return false
	}
	start, end := g.EdgesFrom(v)
	for e := start; e < end; e++ {
		if cells[g.Head[e]] != cells[v] {
			return true
		}
	}
	return false
}

func computeCell(ctx context.Context, g *graph.Graph, cells []uint32, c uint32, members []uint32, dir search.Direction) (*roaring.Bitmap, error) {
	bm := roaring.New()
	for _, u := range members {
		start, end := g.EdgesFrom(u)
		for e := start; e < end; e++ {
			if cells[g.Head[e]] == c {
				bm.Add(e)
			}
		}
	}

	treeDir := search.Backward
	if dir == search.Backward {
		treeDir = search.Forward
	}
	eng := search.New(search.ZeroHeuristic{}, search.NewGraphExpander(g, treeDir),
		search.WithLogger(slog.New(slog.DiscardHandler)))

	for _, b := range members {
		if !boundary(g, cells, b, dir) {
			continue
		}
		if _, err := eng.SearchContext(ctx, search.NewExhaustiveProblem(g.ToExternal(b))); err != nil {
			return nil, err
		}
		for u := uint32(0); u < g.NumNodes; u++ {
			nu := eng.Node(u)
			if nu == nil || !nu.Expanded {
				continue
			}
			start, end := g.EdgesFrom(u)
			for e := start; e < end; e++ {
				nv := eng.Node(g.Head[e])
				if nv == nil || !nv.Expanded {
					continue
				}
				w := float64(g.Weight[e])
				// Backward tree: G is the distance to b. Forward: from b.
				if (treeDir == search.Backward && nu.G == w+nv.G) ||
					(treeDir == search.Forward && nu.G+w == nv.G) {
					bm.Add(e)
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	bm.RunOptimize()
	return bm, nil
}
