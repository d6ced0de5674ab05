package labels

import (
	"errors"
	"fmt"
)

// ErrInvalidLabels is wrapped by every consistency failure Validate reports.
var ErrInvalidLabels = errors.New("labels: inconsistent label set")

// Validate checks the set against its hierarchy: postorder ids are a
// permutation of 0..n-1 and every down edge's label contains every node
// reachable from its head by stepping down. It walks the full down closure
// of every edge and is meant for tests and debug tooling.
func (s *Set) Validate() error {
	h := s.h
	n := h.NumNodes()

	seen := make([]bool, n)
	for v, id := range s.dfsID {
		if id < 0 || uint32(id) >= n || seen[id] {
			return fmt.Errorf("%w: node %d has postorder id %d", ErrInvalidLabels, v, id)
		}
		seen[id] = true
	}

	mark := make([]uint32, n)
	stamp := uint32(0)
	var stack []uint32
	for u := uint32(0); u < n; u++ {
		start, end := h.DownEdges(u)
		for e := start; e < end; e++ {
			stamp++
			l := &s.edges[e]
			stack = append(stack[:0], h.G.Head[e])
			mark[h.G.Head[e]] = stamp
			for len(stack) > 0 {
				v := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if !l.Contains(s.Attrs(v)) {
					return fmt.Errorf("%w: edge %d (%d->%d) misses node %d", ErrInvalidLabels, e, u, h.G.Head[e], v)
				}
				ds, de := h.DownEdges(v)
				for f := ds; f < de; f++ {
					if w := h.G.Head[f]; mark[w] != stamp {
						mark[w] = stamp
						stack = append(stack, w)
					}
				}
			}
		}
	}
	return nil
}
