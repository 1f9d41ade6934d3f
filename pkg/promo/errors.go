package promo

import "errors"

// Error kinds. Every error returned by the ledger is joined with exactly one of these
// so transports can map it without knowing the specific cause.
var (
	ErrValidation = errors.New("promo: validation failed")
	ErrConflict   = errors.New("promo: conflict")
	ErrNotFound   = errors.New("promo: not found")
)

var (
	ErrInvalidCode        = errors.New("invalid promo code format")
	ErrInvalidFreeMonths  = errors.New("free months must be between 0 and 24")
	ErrCodeInactive       = errors.New("promo code is not active")
	ErrCodeNotFound       = errors.New("promo code not found")
	ErrCodeExists         = errors.New("promo code already exists")
	ErrAlreadyClaimed     = errors.New("promo code already claimed")
	ErrActivationExists   = errors.New("promo activation already exists")
	ErrActivationNotFound = errors.New("promo activation not found")
	ErrInvalidTransition  = errors.New("invalid promo activation transition")
	ErrStatusChanged      = errors.New("promo activation status changed concurrently")
	ErrMissingUserID      = errors.New("user ID is required")
	ErrMissingClaimantID  = errors.New("claimant ID is required")
)
