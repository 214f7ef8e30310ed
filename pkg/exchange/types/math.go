package types

import "github.com/holiman/uint256"

// Fixed-point scales. Prices carry 6 decimals (quote units per 1.0 base);
// token amounts carry the full 18 decimals of their smallest unit. All
// arithmetic is done in 256-bit words so a result that would not fit the
// ledger's word size is rejected, never wrapped.
var (
	// PriceScale is 10^6, the fixed-point denominator for prices.
	PriceScale = uint256.NewInt(1_000_000)

	// AmountScale is 10^18, the smallest-unit denominator for token amounts.
	AmountScale = uint256.MustFromDecimal("1000000000000000000")
)

// CheckedMul multiplies a*b, failing with ErrArithmeticOverflow if the
// product exceeds 2^256-1.
func CheckedMul(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// CheckedAdd adds a+b with the same overflow policy as CheckedMul.
func CheckedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// QuoteAmount converts (price, baseAmount) into quote units:
// price * amount / PriceScale. Multiplication happens before division so
// no precision is lost below the fixed-point scale.
func QuoteAmount(price, amount *uint256.Int) (*uint256.Int, error) {
	prod, err := CheckedMul(price, amount)
	if err != nil {
		return nil, err
	}
	return prod.Div(prod, PriceScale), nil
}

// IsZero reports whether v is nil or zero. Inputs decoded from JSON or
// the wire may legitimately arrive nil.
func IsZero(v *uint256.Int) bool {
	return v == nil || v.IsZero()
}
