package ch

// Default witness search limits. Hitting a limit only ever adds shortcuts,
// never drops a needed one.
const (
	defaultMaxSettled = 500
	defaultMaxHops    = 5
)

const unreached = ^uint32(0)

type witnessItem struct {
	node uint32
	dist uint32
	hops int
}

// witnessHeap is a concrete-typed binary min-heap with hole-sift.
type witnessHeap []witnessItem

func (h *witnessHeap) push(it witnessItem) {
	*h = append(*h, it)
	items := *h
	i := len(items) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if it.dist >= items[parent].dist {
			break
		}
		items[i] = items[parent]
		i = parent
	}
	items[i] = it
}

func (h *witnessHeap) pop() witnessItem {
	items := *h
	top := items[0]
	last := len(items) - 1
	it := items[last]
	items = items[:last]
	*h = items

	i := 0
	for {
		child := 2*i + 1
		if child >= last {
			break
		}
		if right := child + 1; right < last && items[right].dist < items[child].dist {
			child = right
		}
		if it.dist <= items[child].dist {
			break
		}
		items[i] = items[child]
		i = child
	}
	if last > 0 {
		items[i] = it
	}
	return top
}

// witnessState holds reusable state for batch witness searches. Distances
// are reset through the touched list so a search costs only what it visits.
type witnessState struct {
	dist       []uint32
	touched    []uint32
	heap       witnessHeap
	maxSettled int
	maxHops    int
}

func newWitnessState(numNodes uint32) *witnessState {
	dist := make([]uint32, numNodes)
	for i := range dist {
		dist[i] = unreached
	}
	return &witnessState{
		dist:       dist,
		heap:       make(witnessHeap, 0, 256),
		maxSettled: defaultMaxSettled,
		maxHops:    defaultMaxHops,
	}
}

func (ws *witnessState) reset() {
	for _, n := range ws.touched {
		ws.dist[n] = unreached
	}
	ws.touched = ws.touched[:0]
	ws.heap = ws.heap[:0]
}

// batchWitnessSearch runs one bounded Dijkstra from source that avoids the
// node being contracted. The caller reads ws.dist for every outgoing
// neighbour, so one search serves all (in, out) pairs of a given in-edge.
func batchWitnessSearch(ws *witnessState, outAdj [][]adjEntry, source, excluded uint32, maxWeight uint32, contracted []bool) {
	ws.reset()

	ws.dist[source] = 0
	ws.touched = append(ws.touched, source)
	ws.heap.push(witnessItem{node: source})

	settled := 0
	for len(ws.heap) > 0 {
		cur := ws.heap.pop()
		if cur.dist > ws.dist[cur.node] {
			continue // stale
		}

		settled++
		if settled >= ws.maxSettled {
			break
		}
		if cur.dist > maxWeight || cur.hops >= ws.maxHops {
			continue
		}

		for _, e := range outAdj[cur.node] {
			if e.to == excluded || contracted[e.to] {
				continue
			}
			nd := cur.dist + e.weight
			if nd > maxWeight || nd >= ws.dist[e.to] {
				continue
			}
			if ws.dist[e.to] == unreached {
				ws.touched = append(ws.touched, e.to)
			}
			ws.dist[e.to] = nd
			ws.heap.push(witnessItem{node: e.to, dist: nd, hops: cur.hops + 1})
		}
	}
}
