// Package tradelog keeps the append-only record of executed trades.
// Records are write-once: after Append returns, a trade's fields never
// change and it never disappears from the log.
package tradelog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/holiman/uint256"

	"github.com/umix-labs/umix-core/pkg/exchange/types"
)

const (
	prefixTrade = "trade:"
	keyVolume   = "meta:volume"
)

// Log is the append-only trade record with an in-memory index and Pebble
// persistence. The sequence number doubles as the trade ID.
type Log struct {
	mu     sync.RWMutex
	db     *pebble.DB
	trades []*types.Trade
	volume *uint256.Int // cumulative traded base volume
}

// Open opens (or creates) a trade log at dbPath and replays any persisted
// trades into the in-memory index.
func Open(dbPath string) (*Log, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open trade log at %s: %w", dbPath, err)
	}

	l := &Log{db: db, volume: uint256.NewInt(0)}
	if err := l.replay(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

func (l *Log) replay() error {
	prefix := []byte(prefixTrade)
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	upper[len(upper)-1]++

	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return fmt.Errorf("failed to create trade iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var t types.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			return fmt.Errorf("corrupt trade record %q: %w", iter.Key(), err)
		}
		l.trades = append(l.trades, &t)
	}

	data, closer, err := l.db.Get([]byte(keyVolume))
	if err == nil {
		l.volume.SetBytes(data)
		closer.Close()
	} else if err != pebble.ErrNotFound {
		return fmt.Errorf("failed to load volume counter: %w", err)
	}

	return nil
}

// tradeKey encodes the sequence number big-endian so Pebble iterates in
// append order.
func tradeKey(seq uint64) []byte {
	key := make([]byte, len(prefixTrade)+8)
	copy(key, prefixTrade)
	binary.BigEndian.PutUint64(key[len(prefixTrade):], seq)
	return key
}

// Append assigns the next sequence number to the trade, persists it, and
// adds its amount to the cumulative volume. The returned ID is the
// sequence number. The log takes ownership of the record; callers must
// not mutate it afterwards.
func (l *Log) Append(t *types.Trade) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t.ID = uint64(len(l.trades)) + 1

	newVolume, err := types.CheckedAdd(l.volume, t.Amount)
	if err != nil {
		return 0, err
	}

	data, err := json.Marshal(t)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal trade: %w", err)
	}

	batch := l.db.NewBatch()
	if err := batch.Set(tradeKey(t.ID), data, nil); err != nil {
		return 0, err
	}
	if err := batch.Set([]byte(keyVolume), newVolume.Bytes(), nil); err != nil {
		return 0, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to commit trade: %w", err)
	}

	l.trades = append(l.trades, t)
	l.volume = newVolume
	return t.ID, nil
}

// Recent returns copies of the most recent trades, oldest first, at most
// limit entries. A limit of zero or beyond the log size returns everything.
func (l *Log) Recent(limit int) []*types.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.trades)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]*types.Trade, 0, limit)
	for _, t := range l.trades[n-limit:] {
		out = append(out, t.Copy())
	}
	return out
}

// Count returns the total number of trades ever recorded.
func (l *Log) Count() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.trades))
}

// Volume returns a copy of the cumulative traded base volume.
func (l *Log) Volume() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(uint256.Int).Set(l.volume)
}
