// Package perps manages leveraged perpetual-swap positions settled
// against the custody ledger. It owns position lifecycle exclusively but
// routes every balance effect through the vault; it never touches
// balances directly.
package perps

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/umix-labs/umix-core/pkg/exchange/types"
	"github.com/umix-labs/umix-core/pkg/exchange/vault"
	"github.com/umix-labs/umix-core/pkg/util"
)

// PriceOracle supplies the external mark price. The manager only consumes
// prices; construction, staleness policy, and caching live outside the
// core. One synchronous fetch per close or liquidation call.
type PriceOracle interface {
	Price() (*uint256.Int, error)
}

// StaticOracle returns a fixed price. Devnet and test helper.
type StaticOracle struct {
	mu sync.Mutex
	p  *uint256.Int
}

func NewStaticOracle(p *uint256.Int) *StaticOracle {
	return &StaticOracle{p: new(uint256.Int).Set(p)}
}

func (o *StaticOracle) Price() (*uint256.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return new(uint256.Int).Set(o.p), nil
}

func (o *StaticOracle) SetPrice(p *uint256.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.p = new(uint256.Int).Set(p)
}

// marginAccount is the internal vault account holding margin locked by
// open positions. Margin moves trader -> margin account at open and back
// (less losses) at close; lost margin accumulates here. Profit beyond the
// locked margin is credited unbacked, and the vault caps withdrawals at
// its custody total.
var marginAccount = common.BytesToAddress([]byte("umix/perps-escrow"))

// Manager opens and closes leveraged positions for one market (one quote
// token). One open position per trader: margin moves from the trader's
// quote balance into the margin account at open, so it cannot be
// withdrawn while the position lives, and is settled back with PnL at
// close.
//
// Losses are bounded at the locked margin. When a loss exceeds margin the
// trader receives zero and the shortfall is not collected from other
// balances; liquidation incentives and socialized loss are outside this
// core.
type Manager struct {
	mu         sync.Mutex
	vault      *vault.Vault
	oracle     PriceOracle
	quoteToken common.Address
	owner      common.Address // gates Liquidate
	clock      util.Clock
	positions  map[common.Address]*types.Position
}

// New creates a manager settling against v in quoteToken units. The owner
// address is the only caller allowed to force liquidations.
func New(v *vault.Vault, oracle PriceOracle, quoteToken, owner common.Address, clock util.Clock) *Manager {
	return &Manager{
		vault:      v,
		oracle:     oracle,
		quoteToken: quoteToken,
		owner:      owner,
		clock:      clock,
		positions:  make(map[common.Address]*types.Position),
	}
}

// OpenPosition locks margin from the trader's quote balance and records
// the position. Fails with ErrPositionAlreadyOpen when the trader already
// holds one, and with ErrInsufficientBalance when free balance is below
// margin. Rejects sizes and prices whose product cannot be settled
// without overflow, so every later close is arithmetically safe.
func (m *Manager) OpenPosition(trader common.Address, size, entryPrice *uint256.Int, isLong bool, margin *uint256.Int) (*types.Position, error) {
	if types.IsZero(size) || types.IsZero(margin) {
		return nil, types.ErrZeroAmount
	}
	if types.IsZero(entryPrice) {
		return nil, types.ErrZeroPrice
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, open := m.positions[trader]; open {
		return nil, fmt.Errorf("%w: trader %s", types.ErrPositionAlreadyOpen, trader.Hex())
	}

	// Notional must fit the settlement arithmetic.
	if _, err := types.CheckedMul(entryPrice, size); err != nil {
		return nil, err
	}

	if err := m.vault.Transfer(m.quoteToken, trader, marginAccount, margin); err != nil {
		return nil, err
	}

	pos := &types.Position{
		Trader:     trader,
		Size:       new(uint256.Int).Set(size),
		EntryPrice: new(uint256.Int).Set(entryPrice),
		Margin:     new(uint256.Int).Set(margin),
		IsLong:     isLong,
		OpenedAt:   m.clock.Now().UnixMilli(),
	}
	m.positions[trader] = pos

	return pos.Copy(), nil
}

// ClosePosition settles the trader's position at exitPrice and clears the
// record. A nil exitPrice means "fetch from the oracle". Returns the
// quote amount credited back to the trader: margin plus PnL, floored at
// zero when the loss exceeds margin.
func (m *Manager) ClosePosition(trader common.Address, exitPrice *uint256.Int) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, open := m.positions[trader]
	if !open {
		return nil, fmt.Errorf("%w: trader %s", types.ErrNoOpenPosition, trader.Hex())
	}

	if exitPrice == nil {
		p, err := m.oracle.Price()
		if err != nil {
			return nil, fmt.Errorf("oracle price fetch failed: %w", err)
		}
		exitPrice = p
	}
	if exitPrice.IsZero() {
		return nil, types.ErrZeroPrice
	}

	payout, err := settlementAmount(pos, exitPrice)
	if err != nil {
		return nil, err
	}

	if err := m.settle(trader, pos, payout); err != nil {
		return nil, err
	}

	delete(m.positions, trader)
	return payout, nil
}

// settle pays the close amount: the margin portion comes back out of the
// margin account, profit beyond it is credited unbacked, and any lost
// margin stays behind in the margin account.
func (m *Manager) settle(trader common.Address, pos *types.Position, payout *uint256.Int) error {
	fromMargin := new(uint256.Int).Set(payout)
	if fromMargin.Gt(pos.Margin) {
		fromMargin.Set(pos.Margin)
	}
	if err := m.vault.Transfer(m.quoteToken, marginAccount, trader, fromMargin); err != nil {
		return err
	}
	if payout.Gt(pos.Margin) {
		profit := new(uint256.Int).Sub(payout, pos.Margin)
		return m.vault.Credit(m.quoteToken, trader, profit)
	}
	return nil
}

// Liquidate force-closes an underwater position at markPrice. Owner-only.
// Fails unless the loss has consumed the entire margin; the trader
// receives nothing and the position is cleared.
func (m *Manager) Liquidate(caller, trader common.Address, markPrice *uint256.Int) error {
	if caller != m.owner {
		return types.ErrNotAuthorized
	}
	if types.IsZero(markPrice) {
		return types.ErrZeroPrice
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pos, open := m.positions[trader]
	if !open {
		return fmt.Errorf("%w: trader %s", types.ErrNoOpenPosition, trader.Hex())
	}

	payout, err := settlementAmount(pos, markPrice)
	if err != nil {
		return err
	}
	if !payout.IsZero() {
		return fmt.Errorf("position for %s is not liquidatable: equity %s remains", trader.Hex(), payout.Dec())
	}

	delete(m.positions, trader)
	return nil
}

// GetPosition returns a copy of the trader's open position, or nil.
func (m *Manager) GetPosition(trader common.Address) *types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, open := m.positions[trader]
	if !open {
		return nil
	}
	return pos.Copy()
}

// HasPosition reports whether the trader holds an open position.
func (m *Manager) HasPosition(trader common.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, open := m.positions[trader]
	return open
}

// settlementAmount computes margin + PnL at exitPrice, floored at zero.
// PnL magnitude is |exit - entry| * size / PriceScale; the sign depends
// on direction and side. Multiplication before division, overflow
// rejected.
func settlementAmount(pos *types.Position, exitPrice *uint256.Int) (*uint256.Int, error) {
	gain := pos.IsLong == exitPrice.Gt(pos.EntryPrice)
	if exitPrice.Eq(pos.EntryPrice) {
		return new(uint256.Int).Set(pos.Margin), nil
	}

	diff := new(uint256.Int)
	if exitPrice.Gt(pos.EntryPrice) {
		diff.Sub(exitPrice, pos.EntryPrice)
	} else {
		diff.Sub(pos.EntryPrice, exitPrice)
	}

	pnl, err := types.QuoteAmount(diff, pos.Size)
	if err != nil {
		return nil, err
	}

	if gain {
		return types.CheckedAdd(pos.Margin, pnl)
	}
	if pnl.Gt(pos.Margin) {
		// Loss beyond margin: bounded at zero, shortfall not collected.
		return uint256.NewInt(0), nil
	}
	return new(uint256.Int).Sub(pos.Margin, pnl), nil
}
