// Package billing is the engine's view of the external payment provider.
//
// A Provider wraps one vendor SDK (Stripe or Paddle) behind three calls:
// fetching a customer's subscription status, opening a hosted checkout and
// verifying webhooks. Provider statuses are normalized to Status and
// snapshots to Snapshot; the engine never sees vendor types.
//
// Client wraps a Provider with the guards every status read needs:
//
//	client := billing.NewClient(provider,
//		billing.WithTimeout(3*time.Second),
//		billing.WithCache(cache),
//	)
//	snap, err := client.Snapshot(ctx, customerRef)
//	if errors.Is(err, billing.ErrBillingUnavailable) {
//		// fall back to local state
//	}
//
// Concurrent reads for the same customer share a single provider call. A
// circuit breaker stops calling a failing provider and probes again after a
// recovery timeout. Snapshots are cached by customer reference so readers can
// serve the last known state while the provider is down.
//
// MemoryProvider is an in-process implementation for tests and local runs.
package billing
