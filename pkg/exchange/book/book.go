// Package book holds resting orders for one (base, quote) trading pair.
// Best prices are heap-tracked per side; orders at the same price queue
// FIFO so matching honors price-time priority.
//
// The book owns the order lifecycle: Remaining only ever decreases here,
// and an order that reaches zero Remaining or is removed goes inactive for
// good. The matching engine drives fills; the book never moves funds.
package book

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/umix-labs/umix-core/pkg/exchange/types"
)

// priceKey is the canonical 32-byte form of a price, usable as a map key.
type priceKey [32]byte

func keyOf(p *uint256.Int) priceKey {
	return priceKey(p.Bytes32())
}

type Book struct {
	mu sync.RWMutex

	// Heap-based best price tracking (O(1) peek)
	bidHeap *maxPriceHeap
	askHeap *minPriceHeap

	// Price level queues (FIFO matching at each price)
	bids map[priceKey][]*types.Order
	asks map[priceKey][]*types.Order

	// Order index for O(1) lookup and cancellation
	orders map[uint64]*types.Order
}

func New() *Book {
	bidHeap := &maxPriceHeap{}
	askHeap := &minPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)

	return &Book{
		bidHeap: bidHeap,
		askHeap: askHeap,
		bids:    make(map[priceKey][]*types.Order),
		asks:    make(map[priceKey][]*types.Order),
		orders:  make(map[uint64]*types.Order),
	}
}

func (b *Book) sideLevels(s types.Side) map[priceKey][]*types.Order {
	if s == types.Buy {
		return b.bids
	}
	return b.asks
}

// Add rests an active order in the book.
func (b *Book) Add(o *types.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()

	levels := b.sideLevels(o.Side)
	pk := keyOf(o.Price)
	if len(levels[pk]) == 0 {
		// New price level, add to the side's heap.
		if o.Side == types.Buy {
			heap.Push(b.bidHeap, new(uint256.Int).Set(o.Price))
		} else {
			heap.Push(b.askHeap, new(uint256.Int).Set(o.Price))
		}
	}
	levels[pk] = append(levels[pk], o)
	b.orders[o.ID] = o
}

// Get returns the live order with the given ID, or nil. The caller must
// not mutate the result; use Reduce/Remove for lifecycle changes.
func (b *Book) Get(id uint64) *types.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.orders[id]
}

// BestBid returns a copy of the highest resting bid price.
func (b *Book) BestBid() (*uint256.Int, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p := b.bidHeap.Peek()
	if p == nil {
		return nil, false
	}
	return new(uint256.Int).Set(p), true
}

// BestAsk returns a copy of the lowest resting ask price.
func (b *Book) BestAsk() (*uint256.Int, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p := b.askHeap.Peek()
	if p == nil {
		return nil, false
	}
	return new(uint256.Int).Set(p), true
}

// FirstAt returns the earliest-placed order resting at the given price on
// the given side, or nil if the level is empty.
func (b *Book) FirstAt(side types.Side, price *uint256.Int) *types.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	level := b.sideLevels(side)[keyOf(price)]
	if len(level) == 0 {
		return nil
	}
	return level[0]
}

// Reduce decrements an order's remaining amount after a fill. When the
// remainder reaches zero the order is deactivated and unlinked from its
// level — terminal, it can never match or cancel again.
func (b *Book) Reduce(id uint64, qty *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[id]
	if !ok {
		return
	}

	o.Remaining.Sub(o.Remaining, qty)
	if o.Remaining.IsZero() {
		o.Active = false
		b.unlink(o)
	}
}

// Remove takes an order out of the book (cancellation). Returns the order
// with Active already flipped false, or nil if it was not resting.
func (b *Book) Remove(id uint64) *types.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[id]
	if !ok {
		return nil
	}
	o.Active = false
	b.unlink(o)
	return o
}

// unlink removes the order from its FIFO level and drops the price level
// from the heap when it empties. Assumes b.mu is held.
func (b *Book) unlink(o *types.Order) {
	levels := b.sideLevels(o.Side)
	pk := keyOf(o.Price)
	level := levels[pk]
	for i, cur := range level {
		if cur.ID == o.ID {
			levels[pk] = append(level[:i], level[i+1:]...)
			break
		}
	}
	if len(levels[pk]) == 0 {
		delete(levels, pk)
		b.removeFromHeap(o.Side, o.Price)
	}
	delete(b.orders, o.ID)
}

// removeFromHeap drops a price level from the side's heap (O(N) worst
// case, but levels are few).
func (b *Book) removeFromHeap(side types.Side, price *uint256.Int) {
	if side == types.Buy {
		for i := 0; i < b.bidHeap.Len(); i++ {
			if (*b.bidHeap)[i].Eq(price) {
				heap.Remove(b.bidHeap, i)
				return
			}
		}
		return
	}
	for i := 0; i < b.askHeap.Len(); i++ {
		if (*b.askHeap)[i].Eq(price) {
			heap.Remove(b.askHeap, i)
			return
		}
	}
}

// Active returns snapshot copies of all resting orders on a side, best
// price first, time priority within a level.
func (b *Book) Active(side types.Side) []*types.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	levels := b.sideLevels(side)

	prices := make([]*uint256.Int, 0, len(levels))
	seen := make(map[priceKey]struct{}, len(levels))
	for pk, level := range levels {
		if len(level) == 0 {
			continue
		}
		if _, dup := seen[pk]; !dup {
			seen[pk] = struct{}{}
			prices = append(prices, new(uint256.Int).Set(level[0].Price))
		}
	}

	// Best price first: descending for bids, ascending for asks.
	sortPrices(prices, side == types.Buy)

	var out []*types.Order
	for _, p := range prices {
		for _, o := range levels[keyOf(p)] {
			out = append(out, o.Copy())
		}
	}
	return out
}

// Count returns the number of resting orders on a side.
func (b *Book) Count(side types.Side) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, level := range b.sideLevels(side) {
		n += len(level)
	}
	return n
}

// sortPrices sorts in place, descending when desc is true.
func sortPrices(prices []*uint256.Int, desc bool) {
	sort.Slice(prices, func(i, j int) bool {
		if desc {
			return prices[i].Gt(prices[j])
		}
		return prices[i].Lt(prices[j])
	})
}
