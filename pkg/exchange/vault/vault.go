// Package vault implements the custody ledger. It is the only component
// allowed to change a trader's spendable balance; the matching engine and
// the perpetual swaps manager route every balance effect through it.
package vault

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/umix-labs/umix-core/pkg/exchange/types"
)

// Vault tracks per-(token, trader) balances plus a per-token custody total
// (everything ever received minus everything released externally). The sum
// of trader balances for a token never exceeds its custody total: balances
// are only created by Deposit and only destroyed by Withdraw, while Credit
// and Debit move value between traders without touching custody.
//
// Uses an in-memory cache with Pebble persistence, loading lazily per key.
type Vault struct {
	mu       sync.RWMutex
	admin    common.Address
	bridge   TokenBridge
	balances map[common.Address]map[common.Address]*uint256.Int // token -> trader -> balance
	custody  map[common.Address]*uint256.Int                    // token -> custody total
	store    *Store
}

// New opens (or creates) a vault backed by a Pebble database at dbPath.
// The admin address gates EmergencyWithdraw; the bridge performs external
// token movement for Deposit/Withdraw.
func New(dbPath string, admin common.Address, bridge TokenBridge) (*Vault, error) {
	store, err := NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault store: %w", err)
	}

	return &Vault{
		admin:    admin,
		bridge:   bridge,
		balances: make(map[common.Address]map[common.Address]*uint256.Int),
		custody:  make(map[common.Address]*uint256.Int),
		store:    store,
	}, nil
}

// Close closes the underlying database.
func (v *Vault) Close() error {
	return v.store.Close()
}

// Admin returns the address allowed to call EmergencyWithdraw.
func (v *Vault) Admin() common.Address {
	return v.admin
}

// balanceLocked returns the cached balance for (token, trader), loading
// from Pebble on first touch. Assumes v.mu is held.
func (v *Vault) balanceLocked(token, trader common.Address) *uint256.Int {
	byTrader, ok := v.balances[token]
	if !ok {
		byTrader = make(map[common.Address]*uint256.Int)
		v.balances[token] = byTrader
	}
	if bal, ok := byTrader[trader]; ok {
		return bal
	}

	bal, err := v.store.LoadBalance(token, trader)
	if err != nil {
		// Treat an unreadable record as zero; the store error is rare
		// (corruption) and a zero balance fails safe on debit.
		bal = uint256.NewInt(0)
	}
	byTrader[trader] = bal
	return bal
}

// custodyLocked returns the cached custody total for token. Assumes v.mu
// is held.
func (v *Vault) custodyLocked(token common.Address) *uint256.Int {
	if c, ok := v.custody[token]; ok {
		return c
	}
	c, err := v.store.LoadCustody(token)
	if err != nil {
		c = uint256.NewInt(0)
	}
	v.custody[token] = c
	return c
}

// Deposit commits an external transfer of amount token from trader into
// custody. The bridge transfer happens first; if it fails the ledger is
// untouched and the caller sees ErrInsufficientTransfer.
func (v *Vault) Deposit(trader, token common.Address, amount *uint256.Int) error {
	if types.IsZero(amount) {
		return types.ErrZeroAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.bridge.TransferIn(token, trader, amount); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInsufficientTransfer, err)
	}

	bal := v.balanceLocked(token, trader)
	newBal, err := types.CheckedAdd(bal, amount)
	if err != nil {
		return err
	}
	cus := v.custodyLocked(token)
	newCus, err := types.CheckedAdd(cus, amount)
	if err != nil {
		return err
	}

	v.balances[token][trader] = newBal
	v.custody[token] = newCus

	if err := v.store.SaveBalance(token, trader, newBal); err != nil {
		return err
	}
	return v.store.SaveCustody(token, newCus)
}

// Withdraw releases amount token from the trader's balance to the outside.
// The ledger decrement happens before the external transfer is issued
// (checks, then effects, then external call) so a reentrant caller cannot
// double-withdraw; if the bridge transfer fails the decrement is rolled
// back and the error returned, leaving state unchanged overall.
//
// Both the trader's balance and the custody total must cover the amount.
// Settlement can credit balances beyond what custody backs (a perpetual
// position closing at a profit); such balance is withdrawable only up to
// the custody total, never by wrapping it below zero.
func (v *Vault) Withdraw(trader, token common.Address, amount *uint256.Int) error {
	if types.IsZero(amount) {
		return types.ErrZeroAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	bal := v.balanceLocked(token, trader)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", types.ErrInsufficientBalance, bal.Dec(), amount.Dec())
	}
	cus := v.custodyLocked(token)
	if cus.Lt(amount) {
		return fmt.Errorf("%w: custody holds %s, requested %s", types.ErrInsufficientBalance, cus.Dec(), amount.Dec())
	}

	newBal := new(uint256.Int).Sub(bal, amount)
	newCus := new(uint256.Int).Sub(cus, amount)
	v.balances[token][trader] = newBal
	v.custody[token] = newCus

	if err := v.bridge.TransferOut(token, trader, amount); err != nil {
		// All-or-nothing: undo the decrement before surfacing the failure.
		v.balances[token][trader] = bal
		v.custody[token] = new(uint256.Int).Add(newCus, amount)
		return fmt.Errorf("withdraw transfer failed: %w", err)
	}

	if err := v.store.SaveBalance(token, trader, newBal); err != nil {
		return err
	}
	return v.store.SaveCustody(token, newCus)
}

// Credit increases a trader's balance without an external transfer.
// Internal-only: used by the matching engine and the swaps manager to move
// value already held in custody.
func (v *Vault) Credit(token, trader common.Address, amount *uint256.Int) error {
	if types.IsZero(amount) {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	return v.creditLocked(token, trader, amount)
}

func (v *Vault) creditLocked(token, trader common.Address, amount *uint256.Int) error {
	bal := v.balanceLocked(token, trader)
	newBal, err := types.CheckedAdd(bal, amount)
	if err != nil {
		return err
	}
	v.balances[token][trader] = newBal
	return v.store.SaveBalance(token, trader, newBal)
}

// Debit decreases a trader's balance without an external transfer. Fails
// with ErrInsufficientBalance rather than letting a balance go negative.
func (v *Vault) Debit(token, trader common.Address, amount *uint256.Int) error {
	if types.IsZero(amount) {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	return v.debitLocked(token, trader, amount)
}

func (v *Vault) debitLocked(token, trader common.Address, amount *uint256.Int) error {
	bal := v.balanceLocked(token, trader)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", types.ErrInsufficientBalance, bal.Dec(), amount.Dec())
	}
	newBal := new(uint256.Int).Sub(bal, amount)
	v.balances[token][trader] = newBal
	return v.store.SaveBalance(token, trader, newBal)
}

// Transfer atomically debits from and credits to under one lock hold.
// Fails before any change if the sender's balance is short, so a failed
// transfer is never half-applied.
func (v *Vault) Transfer(token, from, to common.Address, amount *uint256.Int) error {
	if types.IsZero(amount) {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.debitLocked(token, from, amount); err != nil {
		return err
	}
	return v.creditLocked(token, to, amount)
}

// EmergencyWithdraw is the privileged escape hatch. It bypasses per-trader
// accounting but can never release more than the vault's custody total for
// the token. Only the admin may call it.
func (v *Vault) EmergencyWithdraw(caller, token common.Address, amount *uint256.Int) error {
	if caller != v.admin {
		return types.ErrNotAuthorized
	}
	if types.IsZero(amount) {
		return types.ErrZeroAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	cus := v.custodyLocked(token)
	if cus.Lt(amount) {
		return fmt.Errorf("%w: custody %s, requested %s", types.ErrInsufficientBalance, cus.Dec(), amount.Dec())
	}

	newCus := new(uint256.Int).Sub(cus, amount)
	v.custody[token] = newCus

	if err := v.bridge.TransferOut(token, v.admin, amount); err != nil {
		v.custody[token] = cus
		return fmt.Errorf("emergency transfer failed: %w", err)
	}

	return v.store.SaveCustody(token, newCus)
}

// BalanceOf returns a copy of the trader's balance for token.
func (v *Vault) BalanceOf(token, trader common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Set(v.balanceLocked(token, trader))
}

// CustodyOf returns a copy of the custody total for token.
func (v *Vault) CustodyOf(token common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(uint256.Int).Set(v.custodyLocked(token))
}
