// Package apperr holds the error classes shared by the billing engine and its callers.
package apperr

import "errors"

var (
	// ErrValidation rejects bad input before any computation.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound reports a missing statement, transaction, wallet or property.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientFunds reports a debit that exceeds the wallet balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrConflict reports a stale read detected at commit. Callers may retry with a fresh read.
	ErrConflict = errors.New("concurrent modification")
	// ErrInternal wraps unexpected storage failures.
	ErrInternal = errors.New("internal error")
)

// Retryable reports whether the operation may succeed if repeated with fresh state.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// Kind returns a short label for the error class, used in metrics and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}
