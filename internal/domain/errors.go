package domain

import "errors"

// Arithmetic and validation failures raised by the accounting core. They are
// deterministic: the same inputs always produce the same error.
var (
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	ErrDivisionByZero     = errors.New("division by zero")
	ErrInvalidTimestamp   = errors.New("invalid timestamp")
	ErrInsufficientAmount = errors.New("insufficient amount")
	ErrUnderflow          = errors.New("underflow")
	ErrInvalidParameter   = errors.New("invalid parameter")
)

// Service-level failures.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnknownAsset = errors.New("unknown asset")
	ErrLockHeld     = errors.New("lock already held")
	ErrIntegrity    = errors.New("integrity check failed")
)

// IsValidation reports whether err is one of the core's deterministic
// validation failures. Retrying such an error never succeeds.
func IsValidation(err error) bool {
	return errors.Is(err, ErrArithmeticOverflow) ||
		errors.Is(err, ErrDivisionByZero) ||
		errors.Is(err, ErrInvalidTimestamp) ||
		errors.Is(err, ErrInsufficientAmount) ||
		errors.Is(err, ErrUnderflow) ||
		errors.Is(err, ErrInvalidParameter)
}
