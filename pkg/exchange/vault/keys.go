package vault

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema. Balances are prefix-scannable per token so custody
// totals can be audited with a single range scan.
const (
	prefixBalance = "bal:" // per-(token, trader) balance
	prefixCustody = "cus:" // per-token custody total
)

// balanceKey returns the key for a (token, trader) balance.
// Format: "bal:{token}:{trader}"
func balanceKey(token, trader common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, token.Hex(), trader.Hex()))
}

// balancePrefix returns the prefix covering all balances of one token.
func balancePrefix(token common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixBalance, token.Hex()))
}

// custodyKey returns the key for a token's custody total.
// Format: "cus:{token}"
func custodyKey(token common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixCustody, token.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
