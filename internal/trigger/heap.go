package trigger

import "container/heap"

// dueHeap orders pending occurrences by (dueAt, seq). The seq tie-break
// keeps fire order deterministic within a process run when two jobs share
// a due instant.
type dueHeap []entry

var _ heap.Interface = (*dueHeap)(nil)

func (h dueHeap) Len() int { return len(h) }

func (h dueHeap) Less(i, j int) bool {
	if !h[i].dueAt.Equal(h[j].dueAt) {
		return h[i].dueAt.Before(h[j].dueAt)
	}
	return h[i].seq < h[j].seq
}

func (h dueHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *dueHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *dueHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}

func (h *dueHeap) pushEntry(e entry) { heap.Push(h, e) }

func (h *dueHeap) popEntry() entry { return heap.Pop(h).(entry) }

func (h dueHeap) peek() entry { return h[0] }
