package exchange

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"github.com/umix-labs/umix-core/pkg/crypto"
	"github.com/umix-labs/umix-core/pkg/exchange/types"
)

type signedPair struct {
	buy, sell       *types.SignedOrder
	buySig, sellSig []byte
}

// newSignedPair funds two fresh keys and signs a matched buy/sell pair:
// buyer takes `amount` base at `p`, seller offers the same.
func newSignedPair(t *testing.T, x *Exchange, p, amount *uint256.Int, nonce uint64) (*crypto.Signer, *crypto.Signer, signedPair) {
	t.Helper()

	buyer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}
	seller, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}

	pair := makePair(t, x, buyer, seller, p, amount, nonce)
	return buyer, seller, pair
}

func makePair(t *testing.T, x *Exchange, buyer, seller *crypto.Signer, p, amount *uint256.Int, nonce uint64) signedPair {
	t.Helper()

	buy := &types.SignedOrder{
		Trader:     buyer.Address(),
		BaseToken:  weth,
		QuoteToken: usdc,
		Price:      new(uint256.Int).Set(p),
		Amount:     new(uint256.Int).Set(amount),
		Nonce:      u(nonce),
		IsBuy:      true,
	}
	sell := &types.SignedOrder{
		Trader:     seller.Address(),
		BaseToken:  weth,
		QuoteToken: usdc,
		Price:      new(uint256.Int).Set(p),
		Amount:     new(uint256.Int).Set(amount),
		Nonce:      u(nonce),
		IsBuy:      false,
	}

	buySig, err := x.TypedSigner().SignOrder(buyer, buy)
	if err != nil {
		t.Fatalf("signing buy failed: %v", err)
	}
	sellSig, err := x.TypedSigner().SignOrder(seller, sell)
	if err != nil {
		t.Fatalf("signing sell failed: %v", err)
	}
	return signedPair{buy: buy, sell: sell, buySig: buySig, sellSig: sellSig}
}

func TestExecuteTradeSettles(t *testing.T) {
	x := newTestExchange(t)

	buyer, seller, pair := newSignedPair(t, x, price(100), u(5), 1)
	deposit(t, x, buyer.Address(), usdc, 1000)
	deposit(t, x, seller.Address(), weth, 5)

	trade, err := x.ExecuteTrade(pair.buy, pair.sell, pair.buySig, pair.sellSig)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if !trade.Amount.Eq(u(5)) || !trade.Price.Eq(price(100)) {
		t.Errorf("trade = %+v, want 5 at 100.0", trade)
	}
	if got := x.BalanceOf(usdc, buyer.Address()); !got.Eq(u(500)) {
		t.Errorf("buyer quote = %s, want 500", got.Dec())
	}
	if got := x.BalanceOf(weth, buyer.Address()); !got.Eq(u(5)) {
		t.Errorf("buyer base = %s, want 5", got.Dec())
	}
	if got := x.BalanceOf(usdc, seller.Address()); !got.Eq(u(500)) {
		t.Errorf("seller quote = %s, want 500", got.Dec())
	}
	if got := x.BalanceOf(weth, seller.Address()); !got.IsZero() {
		t.Errorf("seller base = %s, want 0", got.Dec())
	}
	// Off-book fills never touched the book.
	if trade.BuyOrderID != 0 || trade.SellOrderID != 0 {
		t.Errorf("off-book trade carries order IDs %d/%d", trade.BuyOrderID, trade.SellOrderID)
	}
}

func TestExecuteTradePartialAmounts(t *testing.T) {
	x := newTestExchange(t)

	buyer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	seller, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	deposit(t, x, buyer.Address(), usdc, 10_000)
	deposit(t, x, seller.Address(), weth, 3)

	pair := makePair(t, x, buyer, seller, price(100), u(10), 1)
	pair.sell.Amount = u(3)
	sellSig, err := x.TypedSigner().SignOrder(seller, pair.sell)
	if err != nil {
		t.Fatalf("re-signing sell failed: %v", err)
	}

	trade, err := x.ExecuteTrade(pair.buy, pair.sell, pair.buySig, sellSig)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	// Fill is the smaller amount.
	if !trade.Amount.Eq(u(3)) {
		t.Errorf("fill = %s, want 3", trade.Amount.Dec())
	}
	if got := x.BalanceOf(usdc, buyer.Address()); !got.Eq(u(9700)) {
		t.Errorf("buyer quote = %s, want 9700", got.Dec())
	}
}

func TestExecuteTradeReplayRejected(t *testing.T) {
	x := newTestExchange(t)

	buyer, seller, pair := newSignedPair(t, x, price(100), u(1), 7)
	deposit(t, x, buyer.Address(), usdc, 1000)
	deposit(t, x, seller.Address(), weth, 10)

	if _, err := x.ExecuteTrade(pair.buy, pair.sell, pair.buySig, pair.sellSig); err != nil {
		t.Fatalf("first execute failed: %v", err)
	}
	if _, err := x.ExecuteTrade(pair.buy, pair.sell, pair.buySig, pair.sellSig); !errors.Is(err, types.ErrNonceUsed) {
		t.Errorf("replay accepted: %v", err)
	}

	// A fresh nonce from the same signers settles fine.
	pair2 := makePair(t, x, buyer, seller, price(100), u(1), 8)
	if _, err := x.ExecuteTrade(pair2.buy, pair2.sell, pair2.buySig, pair2.sellSig); err != nil {
		t.Errorf("fresh nonce rejected: %v", err)
	}
}

func TestExecuteTradeBadSignature(t *testing.T) {
	x := newTestExchange(t)

	buyer, seller, pair := newSignedPair(t, x, price(100), u(1), 1)
	deposit(t, x, buyer.Address(), usdc, 1000)
	deposit(t, x, seller.Address(), weth, 10)

	// Swap the signatures: each recovers the wrong trader.
	if _, err := x.ExecuteTrade(pair.buy, pair.sell, pair.sellSig, pair.buySig); !errors.Is(err, types.ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}

	// Tampering with a signed field breaks recovery.
	pair.buy.Amount = u(1000)
	if _, err := x.ExecuteTrade(pair.buy, pair.sell, pair.buySig, pair.sellSig); !errors.Is(err, types.ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature after tamper, got %v", err)
	}
}

func TestExecuteTradeMismatches(t *testing.T) {
	x := newTestExchange(t)

	buyer, seller, pair := newSignedPair(t, x, price(100), u(1), 1)
	deposit(t, x, buyer.Address(), usdc, 1000)
	deposit(t, x, seller.Address(), weth, 10)

	// Two buys.
	if _, err := x.ExecuteTrade(pair.buy, pair.buy, pair.buySig, pair.buySig); !errors.Is(err, types.ErrSideMismatch) {
		t.Errorf("expected ErrSideMismatch, got %v", err)
	}

	// Disagreeing prices.
	sell2 := *pair.sell
	sell2.Price = price(101)
	sellSig2, err := x.TypedSigner().SignOrder(seller, &sell2)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := x.ExecuteTrade(pair.buy, &sell2, pair.buySig, sellSig2); !errors.Is(err, types.ErrPriceMismatch) {
		t.Errorf("expected ErrPriceMismatch, got %v", err)
	}

	// Different base token.
	sell3 := *pair.sell
	sell3.BaseToken = usdc
	sellSig3, err := x.TypedSigner().SignOrder(seller, &sell3)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := x.ExecuteTrade(pair.buy, &sell3, pair.buySig, sellSig3); !errors.Is(err, types.ErrTokenMismatch) {
		t.Errorf("expected ErrTokenMismatch, got %v", err)
	}
}

func TestExecuteTradeInsufficientBuyerFunds(t *testing.T) {
	x := newTestExchange(t)

	buyer, seller, pair := newSignedPair(t, x, price(100), u(5), 1)
	deposit(t, x, buyer.Address(), usdc, 100) // needs 500
	deposit(t, x, seller.Address(), weth, 5)

	if _, err := x.ExecuteTrade(pair.buy, pair.sell, pair.buySig, pair.sellSig); !errors.Is(err, types.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	// Nothing moved and the nonces are still spendable.
	if got := x.BalanceOf(usdc, buyer.Address()); !got.Eq(u(100)) {
		t.Errorf("buyer quote = %s, want 100", got.Dec())
	}
	if x.NonceUsed(pair.buy.Trader, pair.buy.Nonce) {
		t.Error("failed execution consumed a nonce")
	}
}

func TestExecuteTradeSellerShortRollsBack(t *testing.T) {
	x := newTestExchange(t)

	buyer, seller, pair := newSignedPair(t, x, price(100), u(5), 1)
	deposit(t, x, buyer.Address(), usdc, 1000)
	deposit(t, x, seller.Address(), weth, 2) // short of the 5 promised

	if _, err := x.ExecuteTrade(pair.buy, pair.sell, pair.buySig, pair.sellSig); !errors.Is(err, types.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	// The buyer's quote leg was reversed.
	if got := x.BalanceOf(usdc, buyer.Address()); !got.Eq(u(1000)) {
		t.Errorf("buyer quote = %s, want 1000 after rollback", got.Dec())
	}
	if got := x.BalanceOf(usdc, seller.Address()); !got.IsZero() {
		t.Errorf("seller kept %s quote from a failed trade", got.Dec())
	}
}

func TestExecuteTradeWhilePaused(t *testing.T) {
	x := newTestExchange(t)

	buyer, seller, pair := newSignedPair(t, x, price(100), u(1), 1)
	deposit(t, x, buyer.Address(), usdc, 1000)
	deposit(t, x, seller.Address(), weth, 10)

	if err := x.Pause(admin); err != nil {
		t.Fatal(err)
	}
	if _, err := x.ExecuteTrade(pair.buy, pair.sell, pair.buySig, pair.sellSig); !errors.Is(err, types.ErrPaused) {
		t.Errorf("expected ErrPaused, got %v", err)
	}
}
