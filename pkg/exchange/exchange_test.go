package exchange

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/umix-labs/umix-core/pkg/crypto"
	"github.com/umix-labs/umix-core/pkg/exchange/perps"
	"github.com/umix-labs/umix-core/pkg/exchange/types"
)

var (
	admin = common.HexToAddress("0xAD00000000000000000000000000000000000000")
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	carol = common.HexToAddress("0xCC00000000000000000000000000000000000000")
	weth  = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	usdc  = common.HexToAddress("0x0000000000000000000000000000000000000c01")
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time                         { return c.t }
func (c fixedClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

// price returns n.0 in 6-decimal fixed point.
func price(n uint64) *uint256.Int { return uint256.NewInt(n * 1_000_000) }

func newTestExchange(t *testing.T) *Exchange {
	t.Helper()

	x, err := New(Config{
		DataDir:    t.TempDir(),
		Admin:      admin,
		BaseToken:  weth,
		QuoteToken: usdc,
		Domain:     crypto.DefaultDomain(31337, common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")),
		Oracle:     perps.NewStaticOracle(price(100)),
		Clock:      fixedClock{t: time.UnixMilli(1_700_000_000_000)},
	})
	if err != nil {
		t.Fatalf("failed to create exchange: %v", err)
	}
	t.Cleanup(func() {
		x.Close()
	})
	return x
}

func deposit(t *testing.T, x *Exchange, trader, token common.Address, amount uint64) {
	t.Helper()
	if err := x.Deposit(trader, token, u(amount)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
}

func TestPlaceAndMatchFull(t *testing.T) {
	x := newTestExchange(t)
	deposit(t, x, alice, usdc, 1000)
	deposit(t, x, bob, weth, 10)

	// Bob offers 10 base at 100.0; Alice lifts 1.
	sell, err := x.PlaceSellOrder(bob, price(100), u(10))
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	buy, err := x.PlaceBuyOrder(alice, price(100), u(1))
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	if !buy.Remaining.IsZero() {
		t.Errorf("buy remaining = %s, want 0", buy.Remaining.Dec())
	}
	if buy.Active {
		t.Error("fully filled buy still marked active")
	}
	if got := x.BalanceOf(usdc, alice); !got.Eq(u(900)) {
		t.Errorf("alice quote = %s, want 900", got.Dec())
	}
	if got := x.BalanceOf(weth, alice); !got.Eq(u(1)) {
		t.Errorf("alice base = %s, want 1", got.Dec())
	}
	if got := x.BalanceOf(usdc, bob); !got.Eq(u(100)) {
		t.Errorf("bob quote = %s, want 100", got.Dec())
	}
	// Bob's unfilled 9 base stays escrowed behind his resting order.
	if got := x.BalanceOf(weth, bob); !got.IsZero() {
		t.Errorf("bob free base = %s, want 0", got.Dec())
	}

	rest := x.GetOrder(sell.ID)
	if rest == nil || !rest.Remaining.Eq(u(9)) {
		t.Fatalf("resting sell = %+v, want remaining 9", rest)
	}

	trades := x.RecentTrades(10)
	if len(trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(trades))
	}
	tr := trades[0]
	if tr.Buyer != alice || tr.Seller != bob || !tr.Price.Eq(price(100)) || !tr.Amount.Eq(u(1)) {
		t.Errorf("trade record wrong: %+v", tr)
	}
	if tr.BuyOrderID != buy.ID || tr.SellOrderID != sell.ID {
		t.Errorf("trade order IDs = %d/%d, want %d/%d", tr.BuyOrderID, tr.SellOrderID, buy.ID, sell.ID)
	}
}

func TestPriceTimePriority(t *testing.T) {
	x := newTestExchange(t)
	deposit(t, x, alice, weth, 30)
	deposit(t, x, bob, weth, 10)
	deposit(t, x, carol, usdc, 100_000)

	// Asks at 101, 99, 100 from alice; one more at 99 from bob, placed later.
	x.PlaceSellOrder(alice, price(101), u(10))
	first99, _ := x.PlaceSellOrder(alice, price(99), u(10))
	x.PlaceSellOrder(alice, price(100), u(10))
	second99, _ := x.PlaceSellOrder(bob, price(99), u(10))

	// Carol crosses the whole book.
	buy, err := x.PlaceBuyOrder(carol, price(101), u(40))
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if !buy.Remaining.IsZero() {
		t.Fatalf("buy remaining = %s, want 0", buy.Remaining.Dec())
	}

	trades := x.RecentTrades(10)
	if len(trades) != 4 {
		t.Fatalf("got %d trades, want 4", len(trades))
	}
	wantPrices := []uint64{99, 99, 100, 101}
	for i, want := range wantPrices {
		if !trades[i].Price.Eq(price(want)) {
			t.Errorf("trade %d price = %s, want %d.0", i, trades[i].Price.Dec(), want)
		}
	}
	// Time priority at 99: alice's earlier ask fills before bob's.
	if trades[0].SellOrderID != first99.ID || trades[1].SellOrderID != second99.ID {
		t.Errorf("FIFO violated at 99 level: %d then %d", trades[0].SellOrderID, trades[1].SellOrderID)
	}

	// Carol paid maker prices, not her limit: 10*(99+99+100+101) = 3990.
	if got := x.BalanceOf(usdc, carol); !got.Eq(u(100_000 - 3990)) {
		t.Errorf("carol quote = %s, want %d", got.Dec(), 100_000-3990)
	}
	if got := x.BalanceOf(weth, carol); !got.Eq(u(40)) {
		t.Errorf("carol base = %s, want 40", got.Dec())
	}
}

func TestPartialFillRestsRemainder(t *testing.T) {
	x := newTestExchange(t)
	deposit(t, x, alice, usdc, 10_000)
	deposit(t, x, bob, weth, 3)

	x.PlaceSellOrder(bob, price(100), u(3))
	buy, err := x.PlaceBuyOrder(alice, price(100), u(10))
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	if !buy.Remaining.Eq(u(7)) {
		t.Errorf("buy remaining = %s, want 7", buy.Remaining.Dec())
	}
	bids := x.ActiveBuyOrders()
	if len(bids) != 1 || bids[0].ID != buy.ID {
		t.Fatalf("remainder not resting: %v", bids)
	}
	// 1000 total cost reserved; 300 settled, 700 still escrowed.
	if got := x.BalanceOf(usdc, alice); !got.Eq(u(9000)) {
		t.Errorf("alice quote = %s, want 9000", got.Dec())
	}
}

func TestNoMatchAcrossSpread(t *testing.T) {
	x := newTestExchange(t)
	deposit(t, x, alice, usdc, 10_000)
	deposit(t, x, bob, weth, 10)

	x.PlaceSellOrder(bob, price(101), u(10))
	buy, err := x.PlaceBuyOrder(alice, price(100), u(10))
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	if !buy.Remaining.Eq(u(10)) {
		t.Errorf("orders crossed a spread: remaining %s", buy.Remaining.Dec())
	}
	if len(x.RecentTrades(10)) != 0 {
		t.Error("trade executed across the spread")
	}
}

func TestCancelRefundsEscrow(t *testing.T) {
	x := newTestExchange(t)
	deposit(t, x, alice, usdc, 1000)

	buy, err := x.PlaceBuyOrder(alice, price(100), u(5))
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if got := x.BalanceOf(usdc, alice); !got.Eq(u(500)) {
		t.Fatalf("alice quote after placement = %s, want 500", got.Dec())
	}

	if err := x.CancelOrder(alice, buy.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if got := x.BalanceOf(usdc, alice); !got.Eq(u(1000)) {
		t.Errorf("alice quote after cancel = %s, want 1000", got.Dec())
	}

	// Terminal: a cancelled order cannot be cancelled again.
	if err := x.CancelOrder(alice, buy.ID); !errors.Is(err, types.ErrOrderNotActive) {
		t.Errorf("expected ErrOrderNotActive, got %v", err)
	}
}

func TestFilledBuyRefundsRoundingRemainder(t *testing.T) {
	x := newTestExchange(t)
	deposit(t, x, alice, usdc, 10)
	deposit(t, x, bob, weth, 1_000_000)

	// At one raw quote unit per whole base, each half fill floors to zero
	// quote while the placement reserved a full unit.
	x.PlaceSellOrder(bob, u(1), u(500_000))
	x.PlaceSellOrder(bob, u(1), u(500_000))
	buy, err := x.PlaceBuyOrder(alice, u(1), u(1_000_000))
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if !buy.Remaining.IsZero() || buy.Active {
		t.Fatalf("buy not terminal: remaining %s, active %v", buy.Remaining.Dec(), buy.Active)
	}

	// The unspent reservation comes back; nothing stays in escrow.
	if got := x.BalanceOf(usdc, alice); !got.Eq(u(10)) {
		t.Errorf("alice quote = %s, want 10", got.Dec())
	}
	if got := x.BalanceOf(usdc, escrowAccount); !got.IsZero() {
		t.Errorf("escrow quote = %s, want 0", got.Dec())
	}
	if got := x.BalanceOf(weth, alice); !got.Eq(u(1_000_000)) {
		t.Errorf("alice base = %s, want 1000000", got.Dec())
	}
}

func TestCancelAuthorization(t *testing.T) {
	x := newTestExchange(t)
	deposit(t, x, alice, usdc, 1000)

	buy, err := x.PlaceBuyOrder(alice, price(100), u(5))
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if err := x.CancelOrder(bob, buy.ID); !errors.Is(err, types.ErrNotOrderOwner) {
		t.Errorf("expected ErrNotOrderOwner, got %v", err)
	}
}

func TestFilledOrderIsTerminal(t *testing.T) {
	x := newTestExchange(t)
	deposit(t, x, alice, usdc, 1000)
	deposit(t, x, bob, weth, 5)

	sell, err := x.PlaceSellOrder(bob, price(100), u(5))
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if _, err := x.PlaceBuyOrder(alice, price(100), u(5)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	if err := x.CancelOrder(bob, sell.ID); !errors.Is(err, types.ErrOrderNotActive) {
		t.Errorf("cancelled a fully filled order: %v", err)
	}
}

func TestInsufficientBalanceRejectsOrder(t *testing.T) {
	x := newTestExchange(t)
	deposit(t, x, alice, usdc, 100)

	// Cost 500 against balance 100.
	if _, err := x.PlaceBuyOrder(alice, price(100), u(5)); !errors.Is(err, types.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if len(x.ActiveBuyOrders()) != 0 {
		t.Error("rejected order still resting")
	}
}

func TestCustodyConservedThroughMatching(t *testing.T) {
	x := newTestExchange(t)
	deposit(t, x, alice, usdc, 10_000)
	deposit(t, x, bob, weth, 50)

	x.PlaceSellOrder(bob, price(100), u(20))
	x.PlaceBuyOrder(alice, price(101), u(30))
	if _, err := x.PlaceSellOrder(bob, price(90), u(10)); err != nil {
		t.Fatalf("sell failed: %v", err)
	}

	if got := x.Vault().CustodyOf(usdc); !got.Eq(u(10_000)) {
		t.Errorf("quote custody = %s, want 10000", got.Dec())
	}
	if got := x.Vault().CustodyOf(weth); !got.Eq(u(50)) {
		t.Errorf("base custody = %s, want 50", got.Dec())
	}

	// Every quote unit is either free, escrowed, or settled to bob.
	free := new(uint256.Int).Add(x.BalanceOf(usdc, alice), x.BalanceOf(usdc, bob))
	total := free.Add(free, x.BalanceOf(usdc, escrowAccount))
	if !total.Eq(u(10_000)) {
		t.Errorf("quote balances sum to %s, want 10000", total.Dec())
	}
}

func TestPauseGatesMutations(t *testing.T) {
	x := newTestExchange(t)
	deposit(t, x, alice, usdc, 1000)

	if err := x.Pause(alice); !errors.Is(err, types.ErrNotAuthorized) {
		t.Fatalf("non-admin paused the exchange: %v", err)
	}
	if err := x.Pause(admin); err != nil {
		t.Fatalf("pause failed: %v", err)
	}

	if err := x.Deposit(alice, usdc, u(1)); !errors.Is(err, types.ErrPaused) {
		t.Errorf("deposit while paused: %v", err)
	}
	if _, err := x.PlaceBuyOrder(alice, price(100), u(1)); !errors.Is(err, types.ErrPaused) {
		t.Errorf("order while paused: %v", err)
	}
	if err := x.Withdraw(alice, usdc, u(1)); !errors.Is(err, types.ErrPaused) {
		t.Errorf("withdraw while paused: %v", err)
	}

	// Emergency withdrawal stays available while paused.
	if err := x.EmergencyWithdraw(admin, usdc, u(100)); err != nil {
		t.Errorf("emergency withdraw while paused failed: %v", err)
	}

	if err := x.Resume(admin); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if err := x.Deposit(alice, usdc, u(1)); err != nil {
		t.Errorf("deposit after resume failed: %v", err)
	}
}

func TestStatistics(t *testing.T) {
	x := newTestExchange(t)
	deposit(t, x, alice, usdc, 10_000)
	deposit(t, x, bob, weth, 20)

	x.PlaceSellOrder(bob, price(100), u(10))
	x.PlaceBuyOrder(alice, price(100), u(4))
	x.PlaceBuyOrder(alice, price(99), u(5))

	stats := x.Statistics()
	if stats.ActiveBuyOrders != 1 || stats.ActiveSellOrders != 1 {
		t.Errorf("active orders = %d/%d, want 1/1", stats.ActiveBuyOrders, stats.ActiveSellOrders)
	}
	if stats.TotalTrades != 1 {
		t.Errorf("total trades = %d, want 1", stats.TotalTrades)
	}
	if !stats.Volume.Eq(u(4)) {
		t.Errorf("volume = %s, want 4", stats.Volume.Dec())
	}
}

func TestOrderEvents(t *testing.T) {
	x := newTestExchange(t)
	deposit(t, x, alice, usdc, 1000)

	placed := make(chan types.OrderPlacedEvent, 1)
	sub := x.SubscribeOrderPlaced(placed)
	defer sub.Unsubscribe()

	buy, err := x.PlaceBuyOrder(alice, price(100), u(1))
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	select {
	case ev := <-placed:
		if ev.Order.ID != buy.ID {
			t.Errorf("event order ID = %d, want %d", ev.Order.ID, buy.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("no OrderPlaced event delivered")
	}
}
