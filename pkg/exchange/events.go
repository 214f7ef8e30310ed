package exchange

import (
	"github.com/ethereum/go-ethereum/event"

	"github.com/umix-labs/umix-core/pkg/exchange/types"
)

// Event feeds, one per notification kind. Subscribers (the API websocket
// hub, an indexer) get every state change; use buffered channels and
// drain promptly, feed delivery waits for all current subscribers.
type feeds struct {
	deposited       event.Feed
	withdrawn       event.Feed
	orderPlaced     event.Feed
	orderCancelled  event.Feed
	tradeExecuted   event.Feed
	positionOpened  event.Feed
	positionClosed  event.Feed
}

// SubscribeDeposited delivers DepositedEvent notifications to ch.
func (x *Exchange) SubscribeDeposited(ch chan<- types.DepositedEvent) event.Subscription {
	return x.feeds.deposited.Subscribe(ch)
}

// SubscribeWithdrawn delivers WithdrawnEvent notifications to ch.
func (x *Exchange) SubscribeWithdrawn(ch chan<- types.WithdrawnEvent) event.Subscription {
	return x.feeds.withdrawn.Subscribe(ch)
}

// SubscribeOrderPlaced delivers OrderPlacedEvent notifications to ch.
func (x *Exchange) SubscribeOrderPlaced(ch chan<- types.OrderPlacedEvent) event.Subscription {
	return x.feeds.orderPlaced.Subscribe(ch)
}

// SubscribeOrderCancelled delivers OrderCancelledEvent notifications to ch.
func (x *Exchange) SubscribeOrderCancelled(ch chan<- types.OrderCancelledEvent) event.Subscription {
	return x.feeds.orderCancelled.Subscribe(ch)
}

// SubscribeTradeExecuted delivers TradeExecutedEvent notifications to ch.
func (x *Exchange) SubscribeTradeExecuted(ch chan<- types.TradeExecutedEvent) event.Subscription {
	return x.feeds.tradeExecuted.Subscribe(ch)
}

// SubscribePositionOpened delivers PositionOpenedEvent notifications to ch.
func (x *Exchange) SubscribePositionOpened(ch chan<- types.PositionOpenedEvent) event.Subscription {
	return x.feeds.positionOpened.Subscribe(ch)
}

// SubscribePositionClosed delivers PositionClosedEvent notifications to ch.
func (x *Exchange) SubscribePositionClosed(ch chan<- types.PositionClosedEvent) event.Subscription {
	return x.feeds.positionClosed.Subscribe(ch)
}
