package pool

// reorderHeap is a container/heap min-heap of results keyed by input index.
type reorderHeap[R any] struct {
	items []Indexed[R]
}

func newReorderHeap[R any](capacity int) *reorderHeap[R] {
	return &reorderHeap[R]{
		items: make([]Indexed[R], 0, capacity),
	}
}

func (h *reorderHeap[R]) Len() int {
	return len(h.items)
}

func (h *reorderHeap[R]) Less(i, j int) bool {
	return h.items[i].Index < h.items[j].Index
}

func (h *reorderHeap[R]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *reorderHeap[R]) Push(x any) {
	h.items = append(h.items, x.(Indexed[R]))
}

func (h *reorderHeap[R]) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	var zero Indexed[R]
	old[n-1] = zero
	h.items = old[0 : n-1]
	return item
}

// peek returns the smallest index held. The heap must not be empty.
func (h *reorderHeap[R]) peek() int {
	return h.items[0].Index
}
