// Package account defines the locally stored account record that the entitlement engine
// reasons about, together with the persistence contract used to read and mutate it.
//
// An AccountRecord is owned by exactly one user. It carries the cached subscription tier
// (LocalStatus), the selected billing plan, the local trial end, promo grant fields, and an
// opaque reference to the billing provider's customer.
//
// # Invariants
//
// TrialEndsAt is non-nil if and only if LocalStatus is TierTrial. ApplyPatch keeps the
// invariant when status changes (leaving trial clears the trial end) and Validate rejects
// records that break it.
//
// # Optimistic concurrency
//
// Every record carries a Version token. Store.Update applies a Patch only when the stored
// version equals the expected one and bumps the version on success; otherwise it returns
// ErrVersionConflict and the caller decides whether to re-read and retry or to give up.
//
//	acc, err := store.Get(ctx, userID)
//	if err != nil {
//		return err
//	}
//	status := account.TierFree
//	_, err = store.Update(ctx, userID, acc.Version, account.Patch{LocalStatus: &status})
//	if errors.Is(err, account.ErrVersionConflict) {
//		// someone else wrote first
//	}
//
// NewMemoryStore provides a thread-safe in-memory Store suitable for tests and local
// development. A Postgres implementation lives in internal/store/postgres.
package account
