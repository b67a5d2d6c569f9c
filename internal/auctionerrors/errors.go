package auctionerrors

import "errors"

// Repository-level errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNoBids          = errors.New("no bids found for session")
	ErrPersistence     = errors.New("persistence failure")
)

// business logic errors
var (
	ErrInvalidBid        = errors.New("invalid bid")
	ErrInvalidSession    = errors.New("invalid session")
	ErrBidTooLow         = errors.New("bid amount too low")
	ErrSessionNotActive  = errors.New("session not active")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflictExceeded  = errors.New("too many concurrent bid conflicts")
)
