package tradelog

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/umix-labs/umix-core/pkg/exchange/types"
)

var (
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

func newTestLog(t *testing.T) *Log {
	t.Helper()

	l, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open trade log: %v", err)
	}
	t.Cleanup(func() {
		l.Close()
	})
	return l
}

func trade(price, amount uint64) *types.Trade {
	return &types.Trade{
		Buyer:     alice,
		Seller:    bob,
		Price:     uint256.NewInt(price),
		Amount:    uint256.NewInt(amount),
		Timestamp: 1000,
	}
}

func TestAppendAssignsSequentialIDs(t *testing.T) {
	l := newTestLog(t)

	for i := 1; i <= 3; i++ {
		id, err := l.Append(trade(100, 10))
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
		if id != uint64(i) {
			t.Errorf("trade id = %d, want %d", id, i)
		}
	}
	if got := l.Count(); got != 3 {
		t.Errorf("count = %d, want 3", got)
	}
}

func TestVolumeAccumulates(t *testing.T) {
	l := newTestLog(t)

	l.Append(trade(100, 10))
	l.Append(trade(101, 5))

	if got := l.Volume(); !got.Eq(uint256.NewInt(15)) {
		t.Errorf("volume = %s, want 15", got.Dec())
	}
}

func TestRecentLimit(t *testing.T) {
	l := newTestLog(t)

	for i := uint64(1); i <= 5; i++ {
		l.Append(trade(100+i, 1))
	}

	recent := l.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("got %d trades, want 2", len(recent))
	}
	// Oldest first within the window: IDs 4 and 5.
	if recent[0].ID != 4 || recent[1].ID != 5 {
		t.Errorf("recent IDs = %d, %d, want 4, 5", recent[0].ID, recent[1].ID)
	}

	if got := l.Recent(0); len(got) != 5 {
		t.Errorf("Recent(0) returned %d trades, want all 5", len(got))
	}
}

func TestRecentReturnsCopies(t *testing.T) {
	l := newTestLog(t)
	l.Append(trade(100, 10))

	snapshot := l.Recent(1)
	snapshot[0].Amount.SetUint64(999)

	if got := l.Recent(1)[0].Amount; !got.Eq(uint256.NewInt(10)) {
		t.Error("mutating a query result changed the log")
	}
}

func TestReplayAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	l, err := Open(dir)
	if err != nil {
		t.Fatalf("failed to open trade log: %v", err)
	}
	l.Append(trade(100, 10))
	l.Append(trade(200, 20))
	if err := l.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	l2, err := Open(dir)
	if err != nil {
		t.Fatalf("failed to reopen trade log: %v", err)
	}
	t.Cleanup(func() { l2.Close() })

	if got := l2.Count(); got != 2 {
		t.Fatalf("count after reopen = %d, want 2", got)
	}
	if got := l2.Volume(); !got.Eq(uint256.NewInt(30)) {
		t.Errorf("volume after reopen = %s, want 30", got.Dec())
	}
	// Next trade continues the sequence.
	id, err := l2.Append(trade(300, 1))
	if err != nil {
		t.Fatalf("append after reopen failed: %v", err)
	}
	if id != 3 {
		t.Errorf("id after reopen = %d, want 3", id)
	}
}
