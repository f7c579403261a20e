package services

import (
	"errors"
	"fmt"
)

// Error taxonomy for balance operations. Callers branch with errors.Is.
var (
	// ErrInvalidAmount is returned for a non-positive amount, before any
	// storage access.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientBalance is returned when a debit would overdraw the
	// account. No mutation is performed.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAlreadyTerminal is returned when a settlement is attempted for a
	// transaction id that was already marked FAILED, or a failure mark for
	// one already SETTLED.
	ErrAlreadyTerminal = errors.New("recharge request already terminal")

	// ErrStorage wraps backend failures and timeouts. Nothing was partially
	// applied, so the whole operation is safe to retry.
	ErrStorage = errors.New("storage error")
)

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}
