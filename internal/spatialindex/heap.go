package spatialindex

import "container/heap"

// Candidate is one query result: the composite key of a live object and its
// distance (meaning depends on query: geographic-3D for sphere/knn,
// horizontal for cylinder) from the query anchor.
type Candidate struct {
	Key      string
	Distance float64
}

// candidateHeap is a bounded max-heap over Candidate.Distance: the root is
// always the worst (largest-distance) candidate currently retained, so a
// new, closer candidate can displace it in O(log limit) once the heap is
// full. Draining it with heap.Pop repeatedly and reversing yields ascending
// order - the same push-while-under-limit / swap-worst / pop-and-reverse
// shape the original top-k selection uses.
type candidateHeap []Candidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].Distance > h[j].Distance }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(Candidate)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// topK keeps the limit closest candidates seen via push, in ascending
// order once drain is called.
type topK struct {
	limit int
	h     candidateHeap
}

func newTopK(limit int) *topK {
	return &topK{limit: limit, h: make(candidateHeap, 0, limit)}
}

func (t *topK) push(c Candidate) {
	if t.limit <= 0 {
		return
	}
	if t.h.Len() < t.limit {
		heap.Push(&t.h, c)
		return
	}
	if c.Distance < t.h[0].Distance {
		heap.Pop(&t.h)
		heap.Push(&t.h, c)
	}
}

// drain empties the heap into ascending-by-distance order.
func (t *topK) drain() []Candidate {
	n := t.h.Len()
	out := make([]Candidate, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = heap.Pop(&t.h).(Candidate)
	}
	return out
}
