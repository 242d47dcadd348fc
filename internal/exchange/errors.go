package exchange

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientBalance rejects a submission whose pre-trade balance
	// check failed. No order is created.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNotFound is returned by Cancel and order lookups when the order
	// does not exist or is not owned by the requester.
	ErrNotFound = errors.New("order not found")

	// ErrInvalidState is returned by Cancel when the order is already
	// filled or cancelled.
	ErrInvalidState = errors.New("order is not cancellable")
)

// InvalidOrderError rejects a malformed submission. The reason names the
// violated constraint; nothing was persisted.
type InvalidOrderError struct {
	Reason string
}

func (e *InvalidOrderError) Error() string { return "invalid order: " + e.Reason }

func invalidf(format string, args ...any) *InvalidOrderError {
	return &InvalidOrderError{Reason: fmt.Sprintf(format, args...)}
}
