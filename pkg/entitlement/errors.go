package entitlement

import (
	"errors"

	"github.com/bloomnest/entitlements/pkg/promo"
)

// Error kinds shared with the promo ledger so callers check one set of sentinels.
var (
	ErrValidation = promo.ErrValidation
	ErrConflict   = promo.ErrConflict
	ErrNotFound   = promo.ErrNotFound
)

var (
	ErrUnknownTier        = errors.New("unknown subscription tier")
	ErrUnknownFeature     = errors.New("unknown feature")
	ErrInvalidLimits      = errors.New("invalid feature limits table")
	ErrMissingUserID      = errors.New("user ID is required")
	ErrMissingCustomerRef = errors.New("billing customer reference is required")
	ErrUnknownCustomer    = errors.New("no account linked to billing customer")
	ErrTrialNotAvailable  = errors.New("trial is only available to free accounts")
	ErrInvalidPlan        = errors.New("plan must be monthly or annual")
	ErrBillingDisabled    = errors.New("no billing provider configured")
	ErrQueueFull          = errors.New("drift queue is full")
	ErrTooManyConflicts   = errors.New("account kept changing, giving up")
)
