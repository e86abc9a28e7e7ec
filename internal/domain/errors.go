package domain

import "errors"

var (
	// ErrInsufficientBalance is returned when a redemption exceeds the derived balance
	ErrInsufficientBalance = errors.New("insufficient token balance")

	// ErrCodeNotFound is returned when a discount code does not exist
	ErrCodeNotFound = errors.New("discount code not found")

	// ErrCodeNotActive is returned when a discount code is used, expired or cancelled
	ErrCodeNotActive = errors.New("discount code is not active")

	// ErrCodeExpired is returned when a discount code is past its expiry
	ErrCodeExpired = errors.New("discount code has expired")

	// ErrOrderBelowMinimum is returned when the order amount is below the code's minimum
	ErrOrderBelowMinimum = errors.New("order amount below code minimum")

	// ErrConcurrentApply is returned when a concurrent apply raced past the usage cap
	ErrConcurrentApply = errors.New("discount code usage exhausted by concurrent apply")

	// ErrRedemptionTooSmall is returned when a redemption is below the discount-generation threshold
	ErrRedemptionTooSmall = errors.New("redemption amount below discount threshold")

	// ErrDuplicateCode is returned when creating a discount code whose code already exists
	ErrDuplicateCode = errors.New("discount code already exists")

	// ErrWalletNotBound is returned when a chain operation needs a wallet the user has not bound
	ErrWalletNotBound = errors.New("no wallet address bound to account")

	// ErrOrderNotFound is returned when an order does not exist
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidTransition is returned on a disallowed order status transition
	ErrInvalidTransition = errors.New("invalid order status transition")

	// ErrItemNotFound is returned when an order line references an unknown catalog item
	ErrItemNotFound = errors.New("catalog item not found")

	// ErrEmptyOrder is returned when an order has no lines
	ErrEmptyOrder = errors.New("order has no items")

	// ErrInvalidInput is returned on malformed or out-of-range request fields
	ErrInvalidInput = errors.New("invalid input")
)
