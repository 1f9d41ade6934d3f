// Package promo implements the promo code ledger: influencer codes, their
// one-time claim by an influencer, and per-user activations that extend the
// trial.
//
// # Codes
//
// Codes are stored in canonical form (trimmed, upper-cased) and must be 3 to
// 32 characters of letters, digits and hyphens. A code is never deleted and
// its owner goes from nil to set exactly once. Ledger.Claim relies on
// CodeStore.ConditionalClaim, a single compare-and-swap on the "unowned"
// precondition, so N concurrent claimants produce exactly one winner.
//
// # Activations
//
// Ledger.Apply records an Activation per (user, code). Applying the same pair
// twice returns the existing activation. Each application grants
// 14 + 30*FreeMonths trial days and updates the account promo fields unless
// an equal or larger grant is already recorded. Activations only move forward:
//
//	pending -> active -> applied
//	pending -> applied
//
// # Errors
//
// Every returned error is joined with one of ErrValidation, ErrConflict or
// ErrNotFound, alongside the specific cause:
//
//	if errors.Is(err, promo.ErrConflict) {
//		// "already taken"
//	}
//
// Validation failures also carry validator.ValidationErrors with field details.
//
// # Storage
//
// MemoryStore implements CodeStore and ActivationStore for tests and single
// process use. The Postgres implementation lives in internal/store/postgres.
package promo
