package promo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bloomnest/entitlements/pkg/account"
	"github.com/bloomnest/entitlements/pkg/logger"
	"github.com/bloomnest/entitlements/pkg/validator"
)

const defaultAccountRetries = 3

// Ledger validates, claims and records promo code grants.
type Ledger struct {
	codes          CodeStore
	activations    ActivationStore
	accounts       account.Store
	logger         *slog.Logger
	now            func() time.Time
	accountRetries int
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithLogger(l *slog.Logger) Option {
	return func(lg *Ledger) {
		if l != nil {
			lg.logger = l
		}
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) {
		if now != nil {
			lg.now = now
		}
	}
}

// WithAccountRetries bounds how often an account write is retried after a version conflict.
func WithAccountRetries(n int) Option {
	return func(lg *Ledger) {
		if n > 0 {
			lg.accountRetries = n
		}
	}
}

func NewLedger(codes CodeStore, activations ActivationStore, accounts account.Store, opts ...Option) *Ledger {
	l := &Ledger{
		codes:          codes,
		activations:    activations,
		accounts:       accounts,
		logger:         logger.Discard(),
		now:            time.Now,
		accountRetries: defaultAccountRetries,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateCode registers a new unclaimed code for the influencer signup flow.
func (l *Ledger) CreateCode(ctx context.Context, code string, freeMonths int, tier account.Tier) (*Code, error) {
	canonical, err := NormalizeAndValidate(code)
	if err != nil {
		return nil, err
	}
	if err := validator.Apply(
		validator.Min("free_months", freeMonths, 0),
		validator.Max("free_months", freeMonths, MaxFreeMonths),
	); err != nil {
		return nil, errors.Join(ErrValidation, ErrInvalidFreeMonths, err)
	}
	if tier == "" {
		tier = account.TierInfluencerPremium
	}
	if !tier.Valid() {
		return nil, errors.Join(ErrValidation, account.ErrInvalidTier)
	}

	c := &Code{
		Code:       canonical,
		FreeMonths: freeMonths,
		Tier:       tier,
		Active:     true,
		CreatedAt:  l.now().UTC(),
	}
	if err := l.codes.CreateCode(ctx, c); err != nil {
		if errors.Is(err, ErrCodeExists) {
			return nil, errors.Join(ErrConflict, err)
		}
		return nil, fmt.Errorf("create promo code: %w", err)
	}

	l.logger.InfoContext(ctx, "promo code created", logger.PromoCode(canonical), slog.Int("free_months", freeMonths))
	return c, nil
}

// Claim assigns an unclaimed code to claimantID. Concurrent claimants race on a
// single conditional write; exactly one wins and the rest get ErrAlreadyClaimed.
// Re-claiming a code the claimant already owns returns it unchanged.
func (l *Ledger) Claim(ctx context.Context, code, claimantID string) (*Code, error) {
	canonical, err := NormalizeAndValidate(code)
	if err != nil {
		return nil, err
	}
	if claimantID == "" {
		return nil, errors.Join(ErrValidation, ErrMissingClaimantID)
	}

	current, err := l.getActiveCode(ctx, canonical)
	if err != nil {
		return nil, err
	}
	if current.OwnedBy(claimantID) {
		return current, nil
	}

	claimed, err := l.codes.ConditionalClaim(ctx, canonical, claimantID, l.now())
	switch {
	case err == nil:
		l.logger.InfoContext(ctx, "promo code claimed", logger.PromoCode(canonical), logger.UserID(claimantID))
		return claimed, nil
	case errors.Is(err, ErrAlreadyClaimed):
		// A retry by the winner itself is still a success.
		if latest, getErr := l.codes.GetCode(ctx, canonical); getErr == nil && latest.OwnedBy(claimantID) {
			return latest, nil
		}
		return nil, errors.Join(ErrConflict, err)
	case errors.Is(err, ErrCodeNotFound):
		return nil, errors.Join(ErrNotFound, err)
	default:
		return nil, fmt.Errorf("claim promo code: %w", err)
	}
}

// Apply records that userID applied code. Re-applying the same pair returns the
// existing activation. The account's promo grant is set when unset or when the
// new grant is larger; a grant is never shrunk. The trial itself is not started.
func (l *Ledger) Apply(ctx context.Context, userID, code string) (*ApplyResult, error) {
	canonical, err := NormalizeAndValidate(code)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, errors.Join(ErrValidation, ErrMissingUserID)
	}

	c, err := l.getActiveCode(ctx, canonical)
	if err != nil {
		return nil, err
	}

	if _, err := l.accounts.Get(ctx, userID); err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			return nil, errors.Join(ErrNotFound, err)
		}
		return nil, fmt.Errorf("load account: %w", err)
	}

	now := l.now().UTC()
	activation := &Activation{
		UserID:     userID,
		Code:       canonical,
		Status:     ActivationPending,
		FreeMonths: c.FreeMonths,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	created := true
	if err := l.activations.CreateActivation(ctx, activation); err != nil {
		if !errors.Is(err, ErrActivationExists) {
			return nil, fmt.Errorf("create promo activation: %w", err)
		}
		existing, getErr := l.activations.GetActivation(ctx, userID, canonical)
		if getErr != nil {
			return nil, fmt.Errorf("load promo activation: %w", getErr)
		}
		activation = existing
		created = false
	}

	if err := l.grantToAccount(ctx, userID, canonical, activation.FreeMonths); err != nil {
		return nil, err
	}

	if created {
		l.logger.InfoContext(ctx, "promo code applied",
			logger.UserID(userID),
			logger.PromoCode(canonical),
			slog.Int("free_months", activation.FreeMonths),
		)
	}

	return &ApplyResult{
		Activation:    activation,
		TotalFreeDays: activation.TotalFreeDays(),
		Created:       created,
	}, nil
}

// ActivatePending moves every pending activation of userID to active and
// returns the largest number of free months among the user's live grants.
func (l *Ledger) ActivatePending(ctx context.Context, userID string) (int, error) {
	list, err := l.activations.ListActivations(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list promo activations: %w", err)
	}

	months := 0
	for _, a := range list {
		if a.Status == ActivationPending {
			if _, err := l.transition(ctx, a, ActivationActive); err != nil && !errors.Is(err, ErrStatusChanged) {
				return 0, err
			}
		}
		if a.FreeMonths > months {
			months = a.FreeMonths
		}
	}
	return months, nil
}

// MarkApplied records that billing honoured the discount for (userID, code).
// Marking an already applied activation is a no-op.
func (l *Ledger) MarkApplied(ctx context.Context, userID, code string) (*Activation, error) {
	canonical, err := NormalizeAndValidate(code)
	if err != nil {
		return nil, err
	}

	a, err := l.activations.GetActivation(ctx, userID, canonical)
	if err != nil {
		if errors.Is(err, ErrActivationNotFound) {
			return nil, errors.Join(ErrNotFound, err)
		}
		return nil, fmt.Errorf("load promo activation: %w", err)
	}
	if a.Status == ActivationApplied {
		return a, nil
	}

	updated, err := l.transition(ctx, a, ActivationApplied)
	if err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return nil, errors.Join(ErrConflict, err)
		}
		return nil, err
	}
	return updated, nil
}

// Activations lists the user's activations for display.
func (l *Ledger) Activations(ctx context.Context, userID string) ([]*Activation, error) {
	if userID == "" {
		return nil, errors.Join(ErrValidation, ErrMissingUserID)
	}
	list, err := l.activations.ListActivations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list promo activations: %w", err)
	}
	return list, nil
}

// Code returns a code by its (possibly non-canonical) name.
func (l *Ledger) Code(ctx context.Context, code string) (*Code, error) {
	canonical, err := NormalizeAndValidate(code)
	if err != nil {
		return nil, err
	}
	c, err := l.codes.GetCode(ctx, canonical)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			return nil, errors.Join(ErrNotFound, err)
		}
		return nil, fmt.Errorf("load promo code: %w", err)
	}
	return c, nil
}

func (l *Ledger) getActiveCode(ctx context.Context, canonical string) (*Code, error) {
	c, err := l.Code(ctx, canonical)
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return nil, errors.Join(ErrValidation, ErrCodeInactive)
	}
	return c, nil
}

func (l *Ledger) transition(ctx context.Context, a *Activation, to ActivationStatus) (*Activation, error) {
	if !a.Status.CanTransitionTo(to) {
		return nil, errors.Join(ErrValidation, ErrInvalidTransition,
			fmt.Errorf("%s -> %s", a.Status, to))
	}
	updated, err := l.activations.UpdateActivationStatus(ctx, a.UserID, a.Code, a.Status, to, l.now())
	if err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return nil, err
		}
		return nil, fmt.Errorf("update promo activation: %w", err)
	}
	return updated, nil
}

// grantToAccount writes the promo fields with the account version token,
// re-reading and retrying on concurrent modification.
func (l *Ledger) grantToAccount(ctx context.Context, userID, code string, months int) error {
	for attempt := 0; attempt < l.accountRetries; attempt++ {
		rec, err := l.accounts.Get(ctx, userID)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		if rec.PromoMonthsGranted != nil && *rec.PromoMonthsGranted >= months {
			return nil
		}

		_, err = l.accounts.Update(ctx, userID, rec.Version, account.Patch{
			PromoCodeUsed:      &code,
			PromoMonthsGranted: &months,
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, account.ErrVersionConflict) {
			return fmt.Errorf("update account promo grant: %w", err)
		}
		l.logger.DebugContext(ctx, "account changed during promo grant, retrying",
			logger.UserID(userID), logger.RetryCount(attempt+1))
	}
	return errors.Join(ErrConflict, account.ErrVersionConflict)
}
