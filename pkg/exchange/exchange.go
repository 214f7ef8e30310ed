// Package exchange is the settlement core: one facade owning the vault,
// the order book, the trade log, and the perpetual swaps manager. Every
// mutating operation runs under the engine lock, so state changes form a
// single total order and each operation is atomic against that order.
package exchange

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/umix-labs/umix-core/pkg/crypto"
	"github.com/umix-labs/umix-core/pkg/exchange/book"
	"github.com/umix-labs/umix-core/pkg/exchange/perps"
	"github.com/umix-labs/umix-core/pkg/exchange/tradelog"
	"github.com/umix-labs/umix-core/pkg/exchange/types"
	"github.com/umix-labs/umix-core/pkg/exchange/vault"
	"github.com/umix-labs/umix-core/pkg/util"
)

// escrowAccount is the internal vault account holding funds reserved by
// resting orders. Funds move trader -> escrow at placement and escrow ->
// counterparty (or back to the trader) at fill or cancel, so the vault's
// custody total is conserved by every book operation. Quote conversions
// floor, so the engine tracks the exact quote reserved per buy order and
// refunds whatever is left when the order leaves the book; nothing is
// stranded in this account.
var escrowAccount = common.BytesToAddress([]byte("umix/book-escrow"))

// Config carries everything the engine needs at construction.
type Config struct {
	DataDir    string
	Admin      common.Address
	BaseToken  common.Address
	QuoteToken common.Address
	Domain     crypto.Domain
	Bridge     vault.TokenBridge
	Oracle     perps.PriceOracle
	Clock      util.Clock
	Logger     *zap.SugaredLogger
}

// Exchange wires the custody ledger, the book, the trade log, and the
// swaps manager together and is the only component that moves funds in
// response to order flow.
type Exchange struct {
	mu sync.RWMutex

	vault  *vault.Vault
	book   *book.Book
	trades *tradelog.Log
	perps  *perps.Manager
	oracle perps.PriceOracle

	signer    *crypto.TypedSigner
	recoverer crypto.Recoverer

	admin      common.Address
	baseToken  common.Address
	quoteToken common.Address

	seq     uint64                  // order ID and placement sequence, monotone
	escrows map[uint64]*uint256.Int // quote still reserved per open buy order
	nonces  map[common.Address]map[[32]byte]struct{}
	paused  bool

	clock util.Clock
	feeds feeds
	log   *zap.SugaredLogger
}

// New opens (or creates) an exchange with vault and trade log state under
// cfg.DataDir. The book is rebuilt empty: resting orders do not survive a
// restart, balances and the trade record do.
func New(cfg Config) (*Exchange, error) {
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Bridge == nil {
		cfg.Bridge = vault.NoopBridge{}
	}

	v, err := vault.New(filepath.Join(cfg.DataDir, "vault"), cfg.Admin, cfg.Bridge)
	if err != nil {
		return nil, err
	}
	trades, err := tradelog.Open(filepath.Join(cfg.DataDir, "trades"))
	if err != nil {
		v.Close()
		return nil, err
	}

	x := &Exchange{
		vault:      v,
		book:       book.New(),
		trades:     trades,
		oracle:     cfg.Oracle,
		signer:     crypto.NewTypedSigner(cfg.Domain),
		recoverer:  crypto.ECDSARecoverer{},
		admin:      cfg.Admin,
		baseToken:  cfg.BaseToken,
		quoteToken: cfg.QuoteToken,
		escrows:    make(map[uint64]*uint256.Int),
		nonces:     make(map[common.Address]map[[32]byte]struct{}),
		clock:      cfg.Clock,
		log:        cfg.Logger,
	}
	x.perps = perps.New(v, cfg.Oracle, cfg.QuoteToken, cfg.Admin, cfg.Clock)
	return x, nil
}

// Close releases the underlying databases.
func (x *Exchange) Close() error {
	if err := x.vault.Close(); err != nil {
		x.trades.Close()
		return err
	}
	return x.trades.Close()
}

// Vault exposes the custody ledger for direct queries.
func (x *Exchange) Vault() *vault.Vault { return x.vault }

// TypedSigner exposes the engine's EIP-712 domain for off-book signing.
func (x *Exchange) TypedSigner() *crypto.TypedSigner { return x.signer }

// Deposit moves amount token from the trader's external wallet into
// custody.
func (x *Exchange) Deposit(trader, token common.Address, amount *uint256.Int) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.paused {
		return types.ErrPaused
	}
	if err := x.vault.Deposit(trader, token, amount); err != nil {
		return err
	}

	x.log.Infow("deposit", "trader", trader.Hex(), "token", token.Hex(), "amount", amount.Dec())
	x.feeds.deposited.Send(types.DepositedEvent{Trader: trader, Token: token, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// Withdraw releases amount token from the trader's free balance back to
// their external wallet. Funds reserved by resting orders or locked as
// margin are not free and cannot be withdrawn.
func (x *Exchange) Withdraw(trader, token common.Address, amount *uint256.Int) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.paused {
		return types.ErrPaused
	}
	if err := x.vault.Withdraw(trader, token, amount); err != nil {
		return err
	}

	x.log.Infow("withdraw", "trader", trader.Hex(), "token", token.Hex(), "amount", amount.Dec())
	x.feeds.withdrawn.Send(types.WithdrawnEvent{Trader: trader, Token: token, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// PlaceBuyOrder places a limit buy for amount base at price, matching
// immediately against resting asks at or below price and resting any
// remainder. The full cost (price * amount, quote units) is reserved up
// front.
func (x *Exchange) PlaceBuyOrder(trader common.Address, price, amount *uint256.Int) (*types.Order, error) {
	return x.placeOrder(trader, types.Buy, price, amount)
}

// PlaceSellOrder places a limit sell for amount base at price, matching
// immediately against resting bids at or above price and resting any
// remainder. The base amount is reserved up front.
func (x *Exchange) PlaceSellOrder(trader common.Address, price, amount *uint256.Int) (*types.Order, error) {
	return x.placeOrder(trader, types.Sell, price, amount)
}

func (x *Exchange) placeOrder(trader common.Address, side types.Side, price, amount *uint256.Int) (*types.Order, error) {
	if types.IsZero(price) {
		return nil, types.ErrZeroPrice
	}
	if types.IsZero(amount) {
		return nil, types.ErrZeroAmount
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.paused {
		return nil, types.ErrPaused
	}

	// Reserve the order's full worth in escrow. For buys this also proves
	// price * amount fits, so fill settlement cannot overflow later.
	reserved, err := x.reserve(trader, side, price, amount)
	if err != nil {
		return nil, err
	}

	x.seq++
	o := &types.Order{
		ID:         x.seq,
		Trader:     trader,
		BaseToken:  x.baseToken,
		QuoteToken: x.quoteToken,
		Price:      new(uint256.Int).Set(price),
		Amount:     new(uint256.Int).Set(amount),
		Remaining:  new(uint256.Int).Set(amount),
		Side:       side,
		CreatedAt:  x.seq,
		Active:     true,
	}
	if side == types.Buy {
		x.escrows[o.ID] = reserved
	}

	if err := x.match(o); err != nil {
		// Fills settled before the failure stand (funds already moved and
		// logged, or the log write itself failed and the engine is out of
		// sync with storage); refund the escrow behind the unfilled rest so
		// the taker is not left funding a dead order.
		if rerr := x.releaseEscrow(o); rerr != nil {
			x.log.Warnw("escrow release after failed match", "id", o.ID, "err", rerr)
		}
		return nil, err
	}
	if o.Remaining.IsZero() {
		o.Active = false
		if err := x.releaseEscrow(o); err != nil {
			return nil, err
		}
	} else {
		x.book.Add(o)
	}

	x.log.Infow("order placed",
		"id", o.ID, "trader", trader.Hex(), "side", side.String(),
		"price", price.Dec(), "amount", amount.Dec(), "remaining", o.Remaining.Dec())
	x.feeds.orderPlaced.Send(types.OrderPlacedEvent{Order: o.Copy()})
	return o.Copy(), nil
}

// reserve moves the order's worth from the trader's free balance into the
// escrow account. For buys it returns the quote amount reserved; the
// caller records it so the unspent part can be refunded exactly.
func (x *Exchange) reserve(trader common.Address, side types.Side, price, amount *uint256.Int) (*uint256.Int, error) {
	if side == types.Buy {
		cost, err := types.QuoteAmount(price, amount)
		if err != nil {
			return nil, err
		}
		if cost.IsZero() {
			// Price * amount rounds to nothing; the order could never settle.
			return nil, types.ErrZeroAmount
		}
		if err := x.vault.Transfer(x.quoteToken, trader, escrowAccount, cost); err != nil {
			return nil, err
		}
		return cost, nil
	}
	return nil, x.vault.Transfer(x.baseToken, trader, escrowAccount, amount)
}

// releaseEscrow refunds whatever escrow still backs the order to its
// owner: the tracked quote remainder for buys (including sub-unit amounts
// left by flooring), the unfilled base amount for sells. Called when an
// order leaves the book for any reason.
func (x *Exchange) releaseEscrow(o *types.Order) error {
	if o.Side == types.Buy {
		left := x.escrows[o.ID]
		delete(x.escrows, o.ID)
		if left == nil || left.IsZero() {
			return nil
		}
		return x.vault.Transfer(x.quoteToken, escrowAccount, o.Trader, left)
	}
	return x.vault.Transfer(x.baseToken, escrowAccount, o.Trader, o.Remaining)
}

// match crosses the taker against the opposite side of the book until its
// price no longer crosses or it is filled. Each fill settles at the maker
// price (resting order sets the price). Assumes x.mu is held.
func (x *Exchange) match(taker *types.Order) error {
	for !taker.Remaining.IsZero() {
		var best *uint256.Int
		var ok bool
		if taker.Side == types.Buy {
			best, ok = x.book.BestAsk()
			if !ok || best.Gt(taker.Price) {
				return nil
			}
		} else {
			best, ok = x.book.BestBid()
			if !ok || best.Lt(taker.Price) {
				return nil
			}
		}

		maker := x.book.FirstAt(taker.Side.Opposite(), best)
		if maker == nil {
			return nil
		}

		qty := new(uint256.Int).Set(taker.Remaining)
		if maker.Remaining.Lt(qty) {
			qty.Set(maker.Remaining)
		}

		if err := x.settleFill(taker, maker, best, qty); err != nil {
			return err
		}
		x.book.Reduce(maker.ID, qty)
		if maker.Remaining.IsZero() {
			if err := x.releaseEscrow(maker); err != nil {
				return err
			}
		}
		taker.Remaining.Sub(taker.Remaining, qty)
	}
	return nil
}

// settleFill moves escrowed funds for a fill of qty at price and records
// the trade. Both legs were escrowed at placement, so the transfers out of
// escrow cannot come up short. Assumes x.mu is held.
func (x *Exchange) settleFill(taker, maker *types.Order, price, qty *uint256.Int) error {
	buy, sell := taker, maker
	if taker.Side == types.Sell {
		buy, sell = maker, taker
	}

	quote, err := types.QuoteAmount(price, qty)
	if err != nil {
		return err
	}

	if err := x.vault.Transfer(x.quoteToken, escrowAccount, sell.Trader, quote); err != nil {
		return fmt.Errorf("fill settlement (quote leg): %w", err)
	}
	if err := x.vault.Transfer(x.baseToken, escrowAccount, buy.Trader, qty); err != nil {
		return fmt.Errorf("fill settlement (base leg): %w", err)
	}
	spent := new(uint256.Int).Set(quote)

	// A buy taker escrowed at its own limit price but fills at the maker
	// price; refund the difference.
	if buy == taker && buy.Price.Gt(price) {
		reserved, err := types.QuoteAmount(buy.Price, qty)
		if err != nil {
			return err
		}
		refund := new(uint256.Int).Sub(reserved, quote)
		if !refund.IsZero() {
			if err := x.vault.Transfer(x.quoteToken, escrowAccount, buy.Trader, refund); err != nil {
				return fmt.Errorf("fill settlement (price improvement refund): %w", err)
			}
			spent.Add(spent, refund)
		}
	}
	if esc, ok := x.escrows[buy.ID]; ok {
		esc.Sub(esc, spent)
	}

	trade := &types.Trade{
		Buyer:       buy.Trader,
		Seller:      sell.Trader,
		Price:       new(uint256.Int).Set(price),
		Amount:      new(uint256.Int).Set(qty),
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		Timestamp:   x.clock.Now().UnixMilli(),
	}
	if _, err := x.trades.Append(trade); err != nil {
		return err
	}

	x.log.Infow("trade executed",
		"id", trade.ID, "buyer", trade.Buyer.Hex(), "seller", trade.Seller.Hex(),
		"price", price.Dec(), "amount", qty.Dec())
	x.feeds.tradeExecuted.Send(types.TradeExecutedEvent{Trade: trade.Copy()})
	return nil
}

// CancelOrder removes the trader's resting order and refunds the escrow
// still backing its unfilled remainder. Fails with ErrOrderNotActive for
// filled, cancelled, or unknown orders and ErrNotOrderOwner when the
// caller did not place it.
func (x *Exchange) CancelOrder(trader common.Address, id uint64) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.paused {
		return types.ErrPaused
	}

	o := x.book.Get(id)
	if o == nil || !o.Active {
		return fmt.Errorf("%w: order %d", types.ErrOrderNotActive, id)
	}
	if o.Trader != trader {
		return fmt.Errorf("%w: order %d", types.ErrNotOrderOwner, id)
	}

	x.book.Remove(id)
	if err := x.releaseEscrow(o); err != nil {
		return err
	}

	x.log.Infow("order cancelled", "id", id, "trader", trader.Hex())
	x.feeds.orderCancelled.Send(types.OrderCancelledEvent{OrderID: id, Trader: trader})
	return nil
}

// Pause stops all mutating operations until Resume. Admin-only.
func (x *Exchange) Pause(caller common.Address) error {
	if caller != x.admin {
		return types.ErrNotAuthorized
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.paused = true
	x.log.Warnw("exchange paused", "by", caller.Hex())
	return nil
}

// Resume lifts a pause. Admin-only.
func (x *Exchange) Resume(caller common.Address) error {
	if caller != x.admin {
		return types.ErrNotAuthorized
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.paused = false
	x.log.Warnw("exchange resumed", "by", caller.Hex())
	return nil
}

// Paused reports whether the exchange is currently halted.
func (x *Exchange) Paused() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.paused
}

// EmergencyWithdraw drains amount token from custody to the admin. Works
// while paused; that is its purpose.
func (x *Exchange) EmergencyWithdraw(caller, token common.Address, amount *uint256.Int) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.vault.EmergencyWithdraw(caller, token, amount)
}

// BalanceOf returns the trader's free vault balance for token.
func (x *Exchange) BalanceOf(token, trader common.Address) *uint256.Int {
	return x.vault.BalanceOf(token, trader)
}

// GetOrder returns a copy of a resting order, or nil.
func (x *Exchange) GetOrder(id uint64) *types.Order {
	x.mu.RLock()
	defer x.mu.RUnlock()

	o := x.book.Get(id)
	if o == nil {
		return nil
	}
	return o.Copy()
}

// ActiveBuyOrders returns resting bids, best price first, FIFO within a
// level.
func (x *Exchange) ActiveBuyOrders() []*types.Order {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.book.Active(types.Buy)
}

// ActiveSellOrders returns resting asks, best price first, FIFO within a
// level.
func (x *Exchange) ActiveSellOrders() []*types.Order {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.book.Active(types.Sell)
}

// RecentTrades returns up to limit most recent trades, oldest first.
func (x *Exchange) RecentTrades(limit int) []*types.Trade {
	return x.trades.Recent(limit)
}

// Statistics returns aggregate counters over current exchange state.
func (x *Exchange) Statistics() types.Statistics {
	x.mu.RLock()
	defer x.mu.RUnlock()

	return types.Statistics{
		ActiveBuyOrders:  x.book.Count(types.Buy),
		ActiveSellOrders: x.book.Count(types.Sell),
		TotalTrades:      x.trades.Count(),
		Volume:           x.trades.Volume(),
	}
}
