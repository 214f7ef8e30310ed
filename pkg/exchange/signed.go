package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/umix-labs/umix-core/pkg/exchange/types"
)

// ExecuteTrade settles a matched pair of signed orders directly from the
// traders' free balances, bypassing the book. Anyone may submit the pair;
// authorization comes from the EIP-712 signatures, and each order's nonce
// is consumed on success so the pair cannot be replayed.
//
// The fill is the smaller of the two amounts at the agreed (equal) price.
// Token pairs are taken from the orders themselves, so off-book
// settlement is not restricted to the book's market.
func (x *Exchange) ExecuteTrade(buy, sell *types.SignedOrder, buySig, sellSig []byte) (*types.Trade, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.paused {
		return nil, types.ErrPaused
	}

	if !buy.IsBuy || sell.IsBuy {
		return nil, types.ErrSideMismatch
	}
	if buy.BaseToken != sell.BaseToken || buy.QuoteToken != sell.QuoteToken {
		return nil, types.ErrTokenMismatch
	}
	if !buy.Price.Eq(sell.Price) {
		return nil, types.ErrPriceMismatch
	}
	if types.IsZero(buy.Price) {
		return nil, types.ErrZeroPrice
	}
	if types.IsZero(buy.Amount) || types.IsZero(sell.Amount) {
		return nil, types.ErrZeroAmount
	}

	if err := x.verifySignature(buy, buySig); err != nil {
		return nil, err
	}
	if err := x.verifySignature(sell, sellSig); err != nil {
		return nil, err
	}

	if x.nonceUsed(buy.Trader, buy.Nonce) || x.nonceUsed(sell.Trader, sell.Nonce) {
		return nil, types.ErrNonceUsed
	}

	fill := new(uint256.Int).Set(buy.Amount)
	if sell.Amount.Lt(fill) {
		fill.Set(sell.Amount)
	}
	quote, err := types.QuoteAmount(buy.Price, fill)
	if err != nil {
		return nil, err
	}
	if quote.IsZero() {
		return nil, types.ErrZeroAmount
	}

	// Settle both legs from free balances. If the base leg fails after the
	// quote leg applied, reverse the quote leg so the pair is all-or-nothing.
	if err := x.vault.Transfer(buy.QuoteToken, buy.Trader, sell.Trader, quote); err != nil {
		return nil, fmt.Errorf("buyer quote leg: %w", err)
	}
	if err := x.vault.Transfer(buy.BaseToken, sell.Trader, buy.Trader, fill); err != nil {
		if undoErr := x.vault.Transfer(buy.QuoteToken, sell.Trader, buy.Trader, quote); undoErr != nil {
			return nil, fmt.Errorf("seller base leg failed (%v) and rollback failed: %w", err, undoErr)
		}
		return nil, fmt.Errorf("seller base leg: %w", err)
	}

	x.consumeNonce(buy.Trader, buy.Nonce)
	x.consumeNonce(sell.Trader, sell.Nonce)

	// Off-book fills carry zero order IDs; they never touched the book.
	trade := &types.Trade{
		Buyer:     buy.Trader,
		Seller:    sell.Trader,
		Price:     new(uint256.Int).Set(buy.Price),
		Amount:    fill,
		Timestamp: x.clock.Now().UnixMilli(),
	}
	if _, err := x.trades.Append(trade); err != nil {
		return nil, err
	}

	x.log.Infow("signed trade executed",
		"id", trade.ID, "buyer", buy.Trader.Hex(), "seller", sell.Trader.Hex(),
		"price", buy.Price.Dec(), "amount", fill.Dec())
	x.feeds.tradeExecuted.Send(types.TradeExecutedEvent{Trade: trade.Copy()})
	return trade.Copy(), nil
}

func (x *Exchange) verifySignature(order *types.SignedOrder, sig []byte) error {
	signer, err := x.signer.RecoverOrderSigner(order, sig, x.recoverer)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidSignature, err)
	}
	if signer != order.Trader {
		return fmt.Errorf("%w: signed by %s, order names %s",
			types.ErrInvalidSignature, signer.Hex(), order.Trader.Hex())
	}
	return nil
}

// NonceUsed reports whether the trader has already consumed the nonce.
func (x *Exchange) NonceUsed(trader common.Address, nonce *uint256.Int) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.nonceUsed(trader, nonce)
}

func (x *Exchange) nonceUsed(trader common.Address, nonce *uint256.Int) bool {
	_, used := x.nonces[trader][nonce.Bytes32()]
	return used
}

func (x *Exchange) consumeNonce(trader common.Address, nonce *uint256.Int) {
	byTrader, ok := x.nonces[trader]
	if !ok {
		byTrader = make(map[[32]byte]struct{})
		x.nonces[trader] = byTrader
	}
	byTrader[nonce.Bytes32()] = struct{}{}
}
