// Package types holds the data model shared by the vault, order book,
// trade log, and perpetual swaps manager: orders, trades, positions, the
// error taxonomy, and the fixed-point arithmetic helpers.
package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Side is the direction of an order.
type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Order is a resting limit order. Price is fixed-point with 6 decimals
// (quote units per 1.0 base), Amount and Remaining are base smallest units.
// CreatedAt is the placement sequence number assigned by the matching
// engine; it breaks price ties (earlier sequence matches first).
type Order struct {
	ID         uint64         `json:"id"`
	Trader     common.Address `json:"trader"`
	BaseToken  common.Address `json:"baseToken"`
	QuoteToken common.Address `json:"quoteToken"`
	Price      *uint256.Int   `json:"price"`
	Amount     *uint256.Int   `json:"amount"`
	Remaining  *uint256.Int   `json:"remainingAmount"`
	Side       Side           `json:"side"`
	CreatedAt  uint64         `json:"createdAt"`
	Active     bool           `json:"isActive"`
}

// Filled returns how much of the order has been executed.
func (o *Order) Filled() *uint256.Int {
	return new(uint256.Int).Sub(o.Amount, o.Remaining)
}

// Copy returns a deep copy so query snapshots cannot alias book state.
func (o *Order) Copy() *Order {
	cp := *o
	cp.Price = new(uint256.Int).Set(o.Price)
	cp.Amount = new(uint256.Int).Set(o.Amount)
	cp.Remaining = new(uint256.Int).Set(o.Remaining)
	return &cp
}

// Trade is an immutable record of an executed fill. Created only by the
// matching engine, never mutated or deleted afterwards.
type Trade struct {
	ID          uint64         `json:"id"`
	Buyer       common.Address `json:"buyer"`
	Seller      common.Address `json:"seller"`
	Price       *uint256.Int   `json:"price"`
	Amount      *uint256.Int   `json:"amount"`
	BuyOrderID  uint64         `json:"buyOrderId"`
	SellOrderID uint64         `json:"sellOrderId"`
	Timestamp   int64          `json:"timestamp"`
}

// Copy returns a deep copy of the trade record.
func (t *Trade) Copy() *Trade {
	cp := *t
	cp.Price = new(uint256.Int).Set(t.Price)
	cp.Amount = new(uint256.Int).Set(t.Amount)
	return &cp
}

// Position is an open perpetual-swap position. Margin is quote units held
// by the vault against the trader for as long as the position is open.
type Position struct {
	Trader     common.Address `json:"trader"`
	Size       *uint256.Int   `json:"size"`
	EntryPrice *uint256.Int   `json:"entryPrice"`
	Margin     *uint256.Int   `json:"lockedMargin"`
	IsLong     bool           `json:"isLong"`
	OpenedAt   int64          `json:"openedAt"`
}

// Copy returns a deep copy of the position.
func (p *Position) Copy() *Position {
	cp := *p
	cp.Size = new(uint256.Int).Set(p.Size)
	cp.EntryPrice = new(uint256.Int).Set(p.EntryPrice)
	cp.Margin = new(uint256.Int).Set(p.Margin)
	return &cp
}

// SignedOrder is the typed payload a trader signs for off-book settlement.
// The field set and ordering match the EIP-712 Order struct bound to the
// matcher's domain; Nonce is single-use per trader.
type SignedOrder struct {
	Trader     common.Address `json:"trader"`
	BaseToken  common.Address `json:"baseToken"`
	QuoteToken common.Address `json:"quoteToken"`
	Price      *uint256.Int   `json:"price"`
	Amount     *uint256.Int   `json:"amount"`
	Nonce      *uint256.Int   `json:"nonce"`
	IsBuy      bool           `json:"isBuy"`
}

// Statistics is the aggregate query surface over current exchange state.
type Statistics struct {
	ActiveBuyOrders  int          `json:"activeBuyOrders"`
	ActiveSellOrders int          `json:"activeSellOrders"`
	TotalTrades      uint64       `json:"totalTrades"`
	Volume           *uint256.Int `json:"volume"`
}
