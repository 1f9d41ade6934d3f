// Package entitlement decides what an account may do right now.
//
// The engine merges two sources of truth: the locally stored account record
// and the billing provider's subscription snapshot. Resolve is a pure
// function over both:
//
//   - lifetime_admin is an absolute override; billing is ignored.
//   - influencer_premium is local-only and never compared with billing.
//   - a fresh snapshot decides the tier through a fixed status table
//     (past_due keeps access during the grace period).
//   - otherwise the local status is used.
//
// TrialClock computes remaining trial days from an ordered list of
// TrialEndRule values; the first rule with a timestamp wins. Gate checks a
// usage count against a LimitsTable where -1 is unlimited and 0 is gated.
// Denials on counted features are vaulted: existing items stay readable.
//
// Service is the facade the application calls:
//
//	svc := entitlement.NewService(accounts, ledger,
//		entitlement.WithBilling(billingClient),
//		entitlement.WithMonitor(entitlement.NewMonitor(queue)),
//	)
//	access, err := svc.CheckFeatureAccess(ctx, userID, entitlement.FeatureShoppingItems, 10)
//
// Billing failures never fail a decision. When the provider cannot be read
// the decision falls back to local state and reports BillingUnavailable.
// Drift between local and billing state is published to a DriftSink and
// corrected asynchronously by the Reconciler. Sweeper demotes expired trials
// on a schedule, guarded by the account version.
package entitlement
