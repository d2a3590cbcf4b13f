package mux

import "container/heap"

// timeoutEntry is one fd's armed deadline, kept in a container/heap
// min-heap: O(log n) arm/rearm/cancel instead of an O(n) rescan on
// every change.
type timeoutEntry struct {
	fd       int
	deadline float64
	index    int // heap.Interface bookkeeping
}

type timeoutHeap []*timeoutEntry

func (h timeoutHeap) Len() int            { return len(h) }
func (h timeoutHeap) Less(i, j int) bool  { return h[i].deadline < h[j].deadline }
func (h timeoutHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timeoutHeap) Push(x interface{}) {
	e := x.(*timeoutEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timeoutHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// timeoutTable indexes timeoutHeap entries by fd so ChangeTimeout and
// Detach can find and fix an entry in O(log n) instead of scanning.
type timeoutTable struct {
	heap    timeoutHeap
	byFD    map[int]*timeoutEntry
}

func newTimeoutTable() *timeoutTable {
	return &timeoutTable{byFD: make(map[int]*timeoutEntry)}
}

// Set arms or updates fd's deadline. deadline <= 0 clears it.
func (t *timeoutTable) Set(fd int, deadline float64) {
	e, ok := t.byFD[fd]
	if deadline <= 0 {
		if ok {
			heap.Remove(&t.heap, e.index)
			delete(t.byFD, fd)
		}
		return
	}
	if ok {
		e.deadline = deadline
		heap.Fix(&t.heap, e.index)
		return
	}
	e = &timeoutEntry{fd: fd, deadline: deadline}
	heap.Push(&t.heap, e)
	t.byFD[fd] = e
}

// Remove clears fd's timer, if any.
func (t *timeoutTable) Remove(fd int) {
	t.Set(fd, 0)
}

// Min returns the smallest deadline and true, or (0, false) if empty.
func (t *timeoutTable) Min() (float64, bool) {
	if len(t.heap) == 0 {
		return 0, false
	}
	return t.heap[0].deadline, true
}

// PopExpired removes and returns every entry whose deadline is <= now,
// in deadline order: an earlier deadline always fires before a later one.
// Entries with equal deadlines come out in no defined order.
func (t *timeoutTable) PopExpired(now float64) []int {
	var expired []int
	for len(t.heap) > 0 && t.heap[0].deadline <= now {
		e := heap.Pop(&t.heap).(*timeoutEntry)
		delete(t.byFD, e.fd)
		expired = append(expired, e.fd)
	}
	return expired
}
