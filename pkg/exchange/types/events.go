package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Notification payloads emitted on state changes. Consumed by the API
// websocket hub and any indexing pipeline; subscribers must drain their
// channels promptly.

type DepositedEvent struct {
	Trader common.Address `json:"trader"`
	Token  common.Address `json:"token"`
	Amount *uint256.Int   `json:"amount"`
}

type WithdrawnEvent struct {
	Trader common.Address `json:"trader"`
	Token  common.Address `json:"token"`
	Amount *uint256.Int   `json:"amount"`
}

type OrderPlacedEvent struct {
	Order *Order `json:"order"`
}

type OrderCancelledEvent struct {
	OrderID uint64         `json:"orderId"`
	Trader  common.Address `json:"trader"`
}

type TradeExecutedEvent struct {
	Trade *Trade `json:"trade"`
}

type PositionOpenedEvent struct {
	Position *Position `json:"position"`
}

type PositionClosedEvent struct {
	Trader    common.Address `json:"trader"`
	ExitPrice *uint256.Int   `json:"exitPrice"`
	Payout    *uint256.Int   `json:"payout"`
}
