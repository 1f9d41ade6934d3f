// Package entitlements is the subscription and entitlement engine behind the
// Bloomnest apps. It decides, per request, which tier an account is on and
// which features it may write to, merging the local account record with the
// billing provider's view of the subscription.
//
// Layout:
//
//   - pkg/account: account records and the versioned store contract.
//   - pkg/promo: promo codes, activations and influencer claims.
//   - pkg/billing: the provider boundary (Stripe, Paddle) with caching,
//     singleflight and a circuit breaker.
//   - pkg/entitlement: resolver, trial clock, feature gate, drift monitor,
//     the service facade, trial sweeper and reconciler.
//   - internal/store: Postgres and Redis implementations of the stores.
//   - internal/httpapi: the HTTP surface used by the rest of the application.
//   - cmd/entitlementd: the worker binary.
//
// Supporting packages (config, logger, pg, redis, httpserver, validator)
// carry configuration, logging, connections and input validation.
package entitlements
