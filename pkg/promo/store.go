package promo

import (
	"context"
	"time"
)

// CodeStore persists promo codes. Code is the primary key, stored in canonical form.
type CodeStore interface {
	// CreateCode inserts a code. Returns ErrCodeExists on duplicates.
	CreateCode(ctx context.Context, code *Code) error

	// GetCode returns the code or ErrCodeNotFound.
	GetCode(ctx context.Context, code string) (*Code, error)

	// ConditionalClaim sets the owner only if the code is currently unowned,
	// as one atomic compare-and-swap. Returns ErrAlreadyClaimed when the
	// precondition fails and ErrCodeNotFound when the code does not exist.
	ConditionalClaim(ctx context.Context, code, claimantID string, claimedAt time.Time) (*Code, error)
}

// ActivationStore persists promo activations keyed by (UserID, Code).
type ActivationStore interface {
	// CreateActivation inserts an activation. Returns ErrActivationExists on duplicate key.
	CreateActivation(ctx context.Context, activation *Activation) error

	// GetActivation returns the activation or ErrActivationNotFound.
	GetActivation(ctx context.Context, userID, code string) (*Activation, error)

	// ListActivations returns the user's activations ordered by creation time.
	ListActivations(ctx context.Context, userID string) ([]*Activation, error)

	// UpdateActivationStatus moves the activation from one status to another.
	// Returns ErrStatusChanged when the stored status is not from.
	UpdateActivationStatus(ctx context.Context, userID, code string, from, to ActivationStatus, at time.Time) (*Activation, error)
}
