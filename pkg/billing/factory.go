package billing

import (
	"fmt"
	"strings"
)

// ProviderSettings carries per-provider configuration. Only the section
// matching the selected provider is read.
type ProviderSettings struct {
	Stripe StripeConfig
	Paddle PaddleConfig
	// MemorySecret signs webhooks for the in-process provider.
	MemorySecret string
}

// NewProvider builds the provider registered under name.
func NewProvider(name string, settings ProviderSettings) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ProviderStripe:
		return NewStripeProvider(settings.Stripe)
	case ProviderPaddle:
		return NewPaddleProvider(settings.Paddle)
	case ProviderMemory:
		return NewMemoryProvider(settings.MemorySecret), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}
