package storage

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrLiveIntentExists is returned when an order already has a non-invalid intent.
	ErrLiveIntentExists = errors.New("order already has a live payment intent")

	// ErrDuplicateTransaction is returned when the evidence already backs another live intent.
	ErrDuplicateTransaction = errors.New("transaction already used by another payment intent")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStateConflict is returned when a transition is not allowed from the current state,
	// e.g. invalidating a confirmed intent or confirming a refunded payment.
	ErrStateConflict = errors.New("state transition not allowed")
)
