package search

// PQueue is an indexed binary min-heap of search nodes ordered by F, with
// larger G preferred among equal F. Each node remembers its heap slot, which
// gives O(1) contains and O(log n) decrease-key.
type PQueue struct {
	items []*Node
}

// NewPQueue creates a queue with the given initial capacity.
func NewPQueue(capacity int) *PQueue {
	return &PQueue{items: make([]*Node, 0, capacity)}
}

func (q *PQueue) Len() int { return len(q.items) }

// Contains reports whether n is in the queue.
func (q *PQueue) Contains(n *Node) bool {
	return n.heapIndex >= 0 && n.heapIndex < len(q.items) && q.items[n.heapIndex] == n
}

// Push inserts n.
func (q *PQueue) Push(n *Node) {
	q.items = append(q.items, n)
	q.siftUp(len(q.items) - 1)
}

// Peek returns the minimum node without removing it.
func (q *PQueue) Peek() *Node {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Pop removes and returns the minimum node.
func (q *PQueue) Pop() *Node {
	top := q.items[0]
	last := len(q.items) - 1
	q.items[0] = q.items[last]
	q.items[last] = nil
	q.items = q.items[:last]
	if last > 0 {
		q.siftDown(0)
	}
	top.heapIndex = -1
	return top
}

// DecreaseKey restores heap order after n's F was lowered.
func (q *PQueue) DecreaseKey(n *Node) {
	q.siftUp(n.heapIndex)
}

// Clear empties the queue, detaching every node it held.
func (q *PQueue) Clear() {
	for i, n := range q.items {
		n.heapIndex = -1
		q.items[i] = nil
	}
	q.items = q.items[:0]
}

// Mem returns the queue's footprint in bytes.
func (q *PQueue) Mem() int { return cap(q.items) * 8 }

func less(a, b *Node) bool {
	if a.F != b.F {
		return a.F < b.F
	}
	return a.G > b.G
}

// siftUp uses hole-sift: the floating node is written once at the end.
func (q *PQueue) siftUp(i int) {
	n := q.items[i]
	for i > 0 {
		parent := (i - 1) / 2
		if !less(n, q.items[parent]) {
			break
		}
		q.items[i] = q.items[parent]
		q.items[i].heapIndex = i
		i = parent
	}
	q.items[i] = n
	n.heapIndex = i
}

func (q *PQueue) siftDown(i int) {
	size := len(q.items)
	n := q.items[i]
	for {
		child := 2*i + 1
		if child >= size {
			break
		}
		if right := child + 1; right < size && less(q.items[right], q.items[child]) {
			child = right
		}
		if !less(q.items[child], n) {
			break
		}
		q.items[i] = q.items[child]
		q.items[i].heapIndex = i
		i = child
	}
	q.items[i] = n
	n.heapIndex = i
}
