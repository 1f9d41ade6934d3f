package billing

import "context"

// Provider is the minimal surface the engine consumes from a payment provider.
// Implementations use the provider's official SDK.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// FetchSubscriptionStatus reads the customer's current subscription.
	// Returns ErrNoSubscription when the customer has none.
	FetchSubscriptionStatus(ctx context.Context, customerRef string) (*Snapshot, error)

	// CreateCheckoutSession opens a hosted checkout and returns its redirect URL.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)

	// ParseWebhook verifies the signature and normalizes the payload.
	// Returns ErrWebhookVerificationFailed for bad signatures.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error)

	// SignatureHeader is the HTTP header carrying the webhook signature.
	SignatureHeader() string
}
