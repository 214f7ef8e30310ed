package vault

import (
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Store provides Pebble-based persistence for balances and custody totals.
// Thread-safe: all operations go through the Vault's mutex.
type Store struct {
	db *pebble.DB
}

// NewStore opens a Pebble database at the given path.
func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(64 << 20),
		MemTableSize:          32 << 20,
		L0CompactionThreshold: 2,
		L0StopWritesThreshold: 12,
		MaxOpenFiles:          1000,
		BytesPerSync:          512 << 10,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveBalance persists a (token, trader) balance.
func (s *Store) SaveBalance(token, trader common.Address, amount *uint256.Int) error {
	if err := s.db.Set(balanceKey(token, trader), amount.Bytes(), pebble.Sync); err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

// LoadBalance loads a (token, trader) balance.
// Returns zero if no balance has been recorded.
func (s *Store) LoadBalance(token, trader common.Address) (*uint256.Int, error) {
	data, closer, err := s.db.Get(balanceKey(token, trader))
	if err == pebble.ErrNotFound {
		return uint256.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	defer closer.Close()

	return new(uint256.Int).SetBytes(data), nil
}

// SaveCustody persists a token's custody total.
func (s *Store) SaveCustody(token common.Address, amount *uint256.Int) error {
	if err := s.db.Set(custodyKey(token), amount.Bytes(), pebble.Sync); err != nil {
		return fmt.Errorf("failed to save custody total: %w", err)
	}
	return nil
}

// LoadCustody loads a token's custody total.
// Returns zero if the token has never been deposited.
func (s *Store) LoadCustody(token common.Address) (*uint256.Int, error) {
	data, closer, err := s.db.Get(custodyKey(token))
	if err == pebble.ErrNotFound {
		return uint256.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get custody total: %w", err)
	}
	defer closer.Close()

	return new(uint256.Int).SetBytes(data), nil
}

// SumBalances scans all balances of a token and returns their sum.
// Used by audit tooling to verify the custody invariant.
func (s *Store) SumBalances(token common.Address) (*uint256.Int, error) {
	prefix := balancePrefix(token)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	sum := uint256.NewInt(0)
	for iter.First(); iter.Valid(); iter.Next() {
		v := new(uint256.Int).SetBytes(iter.Value())
		if _, overflow := sum.AddOverflow(sum, v); overflow {
			return nil, fmt.Errorf("balance sum overflow for token %s", token.Hex())
		}
	}

	return sum, nil
}
