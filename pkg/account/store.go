package account

import "context"

// Store defines account persistence. UserID is the primary key.
type Store interface {
	// Create inserts a new record. Returns ErrAccountExists on duplicate UserID.
	Create(ctx context.Context, rec *AccountRecord) error

	// Get returns the record for userID or ErrAccountNotFound.
	Get(ctx context.Context, userID string) (*AccountRecord, error)

	// GetByBillingRef looks a record up by its billing provider customer id.
	GetByBillingRef(ctx context.Context, customerRef string) (*AccountRecord, error)

	// Update applies patch only if the stored version equals expectedVersion.
	// On success the version is incremented and the new record returned.
	// Returns ErrVersionConflict when the record was modified in between.
	Update(ctx context.Context, userID string, expectedVersion int64, patch Patch) (*AccountRecord, error)

	// ListByStatus pages through records with the given status ordered by UserID.
	// Pass the last UserID of the previous page as afterUserID, or "" for the first page.
	ListByStatus(ctx context.Context, status Tier, afterUserID string, limit int) ([]*AccountRecord, error)
}
