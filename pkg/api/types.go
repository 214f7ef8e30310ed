package api

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/umix-labs/umix-core/pkg/exchange/types"
)

// Request and response types for REST endpoints and WebSocket messages.
// Prices and amounts travel as decimal strings; 256-bit values do not fit
// JSON numbers.

// ==============================
// REST Request Types
// ==============================

// DepositRequest is the payload for POST /api/v1/deposit (and withdraw).
type DepositRequest struct {
	Trader string `json:"trader"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// PlaceOrderRequest is the payload for POST /api/v1/orders.
type PlaceOrderRequest struct {
	Trader string `json:"trader"`
	Side   string `json:"side"` // "buy" or "sell"
	Price  string `json:"price"`
	Amount string `json:"amount"`
}

// CancelOrderRequest is the payload for POST /api/v1/orders/cancel.
type CancelOrderRequest struct {
	Trader  string `json:"trader"`
	OrderID uint64 `json:"orderId"`
}

// SignedOrderPayload mirrors the EIP-712 Order struct plus its signature.
type SignedOrderPayload struct {
	Trader     string `json:"trader"`
	BaseToken  string `json:"baseToken"`
	QuoteToken string `json:"quoteToken"`
	Price      string `json:"price"`
	Amount     string `json:"amount"`
	Nonce      string `json:"nonce"`
	IsBuy      bool   `json:"isBuy"`
	Signature  string `json:"signature"` // 65-byte hex, 0x-prefixed
}

// ExecuteTradeRequest is the payload for POST /api/v1/trades/execute.
type ExecuteTradeRequest struct {
	Buy  SignedOrderPayload `json:"buy"`
	Sell SignedOrderPayload `json:"sell"`
}

// OpenPositionRequest is the payload for POST /api/v1/positions/open.
type OpenPositionRequest struct {
	Trader     string `json:"trader"`
	Size       string `json:"size"`
	EntryPrice string `json:"entryPrice"`
	IsLong     bool   `json:"isLong"`
	Margin     string `json:"margin"`
}

// ClosePositionRequest is the payload for POST /api/v1/positions/close.
// An empty ExitPrice settles at the oracle mark price.
type ClosePositionRequest struct {
	Trader    string `json:"trader"`
	ExitPrice string `json:"exitPrice,omitempty"`
}

// AdminRequest authorizes privileged operations by caller address.
type AdminRequest struct {
	Caller string `json:"caller"`
	Token  string `json:"token,omitempty"`
	Amount string `json:"amount,omitempty"`
	Trader string `json:"trader,omitempty"`
	Price  string `json:"price,omitempty"`
}

// ==============================
// REST Response Types
// ==============================

// OrderInfo is the wire form of a limit order.
type OrderInfo struct {
	ID        uint64 `json:"id"`
	Trader    string `json:"trader"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Amount    string `json:"amount"`
	Remaining string `json:"remainingAmount"`
	CreatedAt uint64 `json:"createdAt"`
	Active    bool   `json:"isActive"`
}

// TradeInfo is the wire form of an executed trade.
type TradeInfo struct {
	ID          uint64 `json:"id"`
	Buyer       string `json:"buyer"`
	Seller      string `json:"seller"`
	Price       string `json:"price"`
	Amount      string `json:"amount"`
	BuyOrderID  uint64 `json:"buyOrderId"`
	SellOrderID uint64 `json:"sellOrderId"`
	Timestamp   int64  `json:"timestamp"`
}

// PositionInfo is the wire form of an open perpetual position.
type PositionInfo struct {
	Trader     string `json:"trader"`
	Size       string `json:"size"`
	EntryPrice string `json:"entryPrice"`
	Margin     string `json:"lockedMargin"`
	IsLong     bool   `json:"isLong"`
	OpenedAt   int64  `json:"openedAt"`
}

// OrderbookSnapshot is both sides of the book, best price first.
type OrderbookSnapshot struct {
	Bids      []OrderInfo `json:"bids"`
	Asks      []OrderInfo `json:"asks"`
	Timestamp int64       `json:"timestamp"`
}

// BalanceResponse reports a trader's free balance for one token.
type BalanceResponse struct {
	Trader  string `json:"trader"`
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

// StatisticsResponse is the aggregate counters endpoint payload.
type StatisticsResponse struct {
	ActiveBuyOrders  int    `json:"activeBuyOrders"`
	ActiveSellOrders int    `json:"activeSellOrders"`
	TotalTrades      uint64 `json:"totalTrades"`
	Volume           string `json:"volume"`
}

// PayoutResponse reports the settlement of a closed position.
type PayoutResponse struct {
	Trader string `json:"trader"`
	Payout string `json:"payout"`
}

// StatusResponse is a generic acknowledgement.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by a client to manage channel subscriptions.
// Channels: "trades", "orders", "positions", "balances".
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSMessage wraps every broadcast payload with its channel and kind.
type WSMessage struct {
	Channel string      `json:"channel"`
	Type    string      `json:"type"`
	Data    interface{} `json:"data"`
}

// ==============================
// Converters
// ==============================

func orderInfo(o *types.Order) OrderInfo {
	return OrderInfo{
		ID:        o.ID,
		Trader:    o.Trader.Hex(),
		Side:      o.Side.String(),
		Price:     o.Price.Dec(),
		Amount:    o.Amount.Dec(),
		Remaining: o.Remaining.Dec(),
		CreatedAt: o.CreatedAt,
		Active:    o.Active,
	}
}

func tradeInfo(t *types.Trade) TradeInfo {
	return TradeInfo{
		ID:          t.ID,
		Buyer:       t.Buyer.Hex(),
		Seller:      t.Seller.Hex(),
		Price:       t.Price.Dec(),
		Amount:      t.Amount.Dec(),
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Timestamp:   t.Timestamp,
	}
}

func positionInfo(p *types.Position) PositionInfo {
	return PositionInfo{
		Trader:     p.Trader.Hex(),
		Size:       p.Size.Dec(),
		EntryPrice: p.EntryPrice.Dec(),
		Margin:     p.Margin.Dec(),
		IsLong:     p.IsLong,
		OpenedAt:   p.OpenedAt,
	}
}

// parseAmount parses a positive decimal string into a uint256.
func parseAmount(field, s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing %s", field)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return v, nil
}
