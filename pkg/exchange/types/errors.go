package types

import "errors"

// Failure taxonomy for the settlement core. A returned error always means
// the ledger is unchanged: every mutating operation validates inputs and
// preconditions before applying state. Callers compare with errors.Is;
// operations wrap these sentinels with context via fmt.Errorf("%w").
var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientTransfer = errors.New("token transfer not completed")
	ErrInvalidSignature     = errors.New("invalid order signature")
	ErrOrderNotActive       = errors.New("order not active")
	ErrNotOrderOwner        = errors.New("caller is not the order owner")
	ErrNoOpenPosition       = errors.New("no open position")
	ErrPositionAlreadyOpen  = errors.New("position already open")
	ErrArithmeticOverflow   = errors.New("arithmetic overflow")
	ErrNotAuthorized        = errors.New("caller not authorized")
	ErrZeroAmount           = errors.New("amount must be positive")
	ErrZeroPrice            = errors.New("price must be positive")
	ErrNonceUsed            = errors.New("order nonce already consumed")
	ErrTokenMismatch        = errors.New("order token pair mismatch")
	ErrPriceMismatch        = errors.New("order prices do not match")
	ErrSideMismatch         = errors.New("orders must be one buy and one sell")
	ErrPaused               = errors.New("exchange is paused")
)
