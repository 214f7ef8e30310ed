package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/umix-labs/umix-core/pkg/exchange/types"
)

// OpenPosition opens a leveraged perpetual position for the trader,
// locking margin from their free quote balance.
func (x *Exchange) OpenPosition(trader common.Address, size, entryPrice *uint256.Int, isLong bool, margin *uint256.Int) (*types.Position, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.paused {
		return nil, types.ErrPaused
	}

	pos, err := x.perps.OpenPosition(trader, size, entryPrice, isLong, margin)
	if err != nil {
		return nil, err
	}

	x.log.Infow("position opened",
		"trader", trader.Hex(), "size", size.Dec(), "entry", entryPrice.Dec(),
		"long", isLong, "margin", margin.Dec())
	x.feeds.positionOpened.Send(types.PositionOpenedEvent{Position: pos.Copy()})
	return pos, nil
}

// ClosePosition settles the trader's open position at exitPrice and
// credits the payout (margin plus PnL, floored at zero) back to their
// free quote balance. A nil exitPrice settles at the oracle mark price.
func (x *Exchange) ClosePosition(trader common.Address, exitPrice *uint256.Int) (*uint256.Int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.paused {
		return nil, types.ErrPaused
	}

	if exitPrice == nil {
		if x.oracle == nil {
			return nil, fmt.Errorf("no price oracle configured")
		}
		p, err := x.oracle.Price()
		if err != nil {
			return nil, fmt.Errorf("oracle price fetch failed: %w", err)
		}
		exitPrice = p
	}

	payout, err := x.perps.ClosePosition(trader, exitPrice)
	if err != nil {
		return nil, err
	}

	x.log.Infow("position closed",
		"trader", trader.Hex(), "exit", exitPrice.Dec(), "payout", payout.Dec())
	x.feeds.positionClosed.Send(types.PositionClosedEvent{
		Trader:    trader,
		ExitPrice: new(uint256.Int).Set(exitPrice),
		Payout:    new(uint256.Int).Set(payout),
	})
	return payout, nil
}

// LiquidatePosition force-closes a position whose loss has consumed its
// entire margin. Admin-only; the trader receives nothing.
func (x *Exchange) LiquidatePosition(caller, trader common.Address, markPrice *uint256.Int) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.paused {
		return types.ErrPaused
	}

	if markPrice == nil {
		if x.oracle == nil {
			return fmt.Errorf("no price oracle configured")
		}
		p, err := x.oracle.Price()
		if err != nil {
			return fmt.Errorf("oracle price fetch failed: %w", err)
		}
		markPrice = p
	}

	if err := x.perps.Liquidate(caller, trader, markPrice); err != nil {
		return err
	}

	x.log.Warnw("position liquidated", "trader", trader.Hex(), "mark", markPrice.Dec())
	x.feeds.positionClosed.Send(types.PositionClosedEvent{
		Trader:    trader,
		ExitPrice: new(uint256.Int).Set(markPrice),
		Payout:    uint256.NewInt(0),
	})
	return nil
}

// GetPosition returns a copy of the trader's open position, or nil.
func (x *Exchange) GetPosition(trader common.Address) *types.Position {
	return x.perps.GetPosition(trader)
}

// HasPosition reports whether the trader holds an open position.
func (x *Exchange) HasPosition(trader common.Address) bool {
	return x.perps.HasPosition(trader)
}
