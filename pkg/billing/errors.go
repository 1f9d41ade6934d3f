package billing

import "errors"

var (
	// ErrBillingUnavailable marks any failure to reach the provider: timeouts,
	// 5xx, an open circuit. Callers fall back to local state.
	ErrBillingUnavailable = errors.New("billing provider unavailable")
	ErrCircuitOpen        = errors.New("billing circuit breaker open")

	ErrNoSubscription     = errors.New("customer has no subscription")
	ErrSnapshotNotFound   = errors.New("billing snapshot not cached")
	ErrMissingCustomerRef = errors.New("billing customer reference is required")
	ErrUnknownStatus      = errors.New("unknown billing subscription status")
	ErrUnsupportedPlan    = errors.New("plan is not purchasable")

	ErrMissingAPIKey              = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret       = errors.New("billing provider webhook secret is required")
	ErrMissingPriceID             = errors.New("price ID is required")
	ErrInvalidProviderEnvironment = errors.New("invalid billing provider environment")
	ErrUnknownProvider            = errors.New("unknown billing provider")
	ErrWebhookVerificationFailed  = errors.New("webhook signature verification failed")
	ErrInvalidWebhookPayload      = errors.New("invalid webhook payload")
	ErrNoCheckoutURL              = errors.New("no checkout URL returned from provider")
)
