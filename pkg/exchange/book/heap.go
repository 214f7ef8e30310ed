package book

import "github.com/holiman/uint256"

// maxPriceHeap implements heap.Interface over bid prices (highest on top).
// Use container/heap to manipulate it (Init, Push, Pop, Remove).
type maxPriceHeap []*uint256.Int

func (h maxPriceHeap) Len() int           { return len(h) }
func (h maxPriceHeap) Less(i, j int) bool { return h[i].Gt(h[j]) } // max heap
func (h maxPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *maxPriceHeap) Push(x interface{}) {
	*h = append(*h, x.(*uint256.Int))
}

func (h *maxPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// Peek returns the top price without removing it, or nil when empty.
func (h maxPriceHeap) Peek() *uint256.Int {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// minPriceHeap implements heap.Interface over ask prices (lowest on top).
type minPriceHeap []*uint256.Int

func (h minPriceHeap) Len() int           { return len(h) }
func (h minPriceHeap) Less(i, j int) bool { return h[i].Lt(h[j]) } // min heap
func (h minPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *minPriceHeap) Push(x interface{}) {
	*h = append(*h, x.(*uint256.Int))
}

func (h *minPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// Peek returns the top price without removing it, or nil when empty.
func (h minPriceHeap) Peek() *uint256.Int {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}
