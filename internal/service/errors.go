package service

import "errors"

// Command failure taxonomy. All of these leave state untouched; only
// ErrTableBusy is worth a client retry.
var (
	ErrForbidden         = errors.New("role not allowed for this command")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOpenItemsExist    = errors.New("table has open items")
	ErrInvalidDiscount   = errors.New("invalid discount")
	ErrTableBusy         = errors.New("table is locked by another command")
	ErrNotFound          = errors.New("not found")
	ErrEmptyOrder        = errors.New("order has no lines")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)
