package vault

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TokenBridge is the external token-transfer collaborator. The vault only
// does bookkeeping; actual token movement (an ERC-20 transfer, a bank
// adapter, a bridge contract) lives behind this interface.
//
// Both calls are synchronous. An error means the transfer did NOT happen
// and the vault must leave its ledger unchanged.
type TokenBridge interface {
	// TransferIn pulls amount of token from the trader into custody.
	TransferIn(token, from common.Address, amount *uint256.Int) error

	// TransferOut releases amount of token from custody to the recipient.
	TransferOut(token, to common.Address, amount *uint256.Int) error
}

// NoopBridge accepts every transfer. Used for devnets and tests where
// custody is purely ledger-internal.
type NoopBridge struct{}

func (NoopBridge) TransferIn(common.Address, common.Address, *uint256.Int) error  { return nil }
func (NoopBridge) TransferOut(common.Address, common.Address, *uint256.Int) error { return nil }
