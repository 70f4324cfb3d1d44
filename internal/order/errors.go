package order

import "errors"

var (
	// ErrValidation: bad input shape, nothing was mutated.
	ErrValidation  = errors.New("invalid order input")
	ErrSKUNotFound = errors.New("sku not found")
	// ErrInsufficientStock is a normal outcome under contention, not a fault.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrContentionExhausted: the optimistic guard lost the stock CAS race on
	// every attempt.
	ErrContentionExhausted = errors.New("stock contention retries exhausted")
	ErrOrderNotFound       = errors.New("order not found")
)
