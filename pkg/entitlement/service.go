package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bloomnest/entitlements/pkg/account"
	"github.com/bloomnest/entitlements/pkg/billing"
	"github.com/bloomnest/entitlements/pkg/logger"
	"github.com/bloomnest/entitlements/pkg/promo"
)

// BillingClient is the guarded billing surface the engine reads from.
// *billing.Client implements it.
type BillingClient interface {
	Snapshot(ctx context.Context, customerRef string) (*billing.Snapshot, error)
	Cached(ctx context.Context, customerRef string) (*billing.Snapshot, error)
	Remember(ctx context.Context, snap *billing.Snapshot) error
	CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error)
}

// Service is the entitlement facade used by the rest of the application.
type Service struct {
	accounts       account.Store
	ledger         *promo.Ledger
	billing        BillingClient
	usage          FeatureUsageStore
	gate           *Gate
	clock          *TrialClock
	monitor        *Monitor
	metrics        *Metrics
	logger         *slog.Logger
	now            func() time.Time
	maxSnapshotAge time.Duration
	accountRetries int
	successURL     string
	cancelURL      string
}

// Option configures a Service.
type Option func(*Service)

// WithBilling enables billing reads. Without it every decision is local.
func WithBilling(client BillingClient) Option {
	return func(s *Service) {
		s.billing = client
	}
}

func WithUsageStore(store FeatureUsageStore) Option {
	return func(s *Service) {
		if store != nil {
			s.usage = store
		}
	}
}

func WithGate(g *Gate) Option {
	return func(s *Service) {
		if g != nil {
			s.gate = g
		}
	}
}

func WithTrialClock(c *TrialClock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithMonitor(m *Monitor) Option {
	return func(s *Service) {
		if m != nil {
			s.monitor = m
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithMaxSnapshotAge(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.maxSnapshotAge = d
		}
	}
}

func WithAccountRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.accountRetries = n
		}
	}
}

// WithCheckoutURLs sets where the hosted checkout returns the user.
func WithCheckoutURLs(successURL, cancelURL string) Option {
	return func(s *Service) {
		s.successURL = successURL
		s.cancelURL = cancelURL
	}
}

func NewService(accounts account.Store, ledger *promo.Ledger, opts ...Option) *Service {
	s := &Service{
		accounts:       accounts,
		ledger:         ledger,
		usage:          NewMemoryUsageStore(),
		gate:           NewGate(nil),
		clock:          NewTrialClock(),
		logger:         logger.Discard(),
		now:            time.Now,
		maxSnapshotAge: DefaultMaxSnapshotAge,
		accountRetries: defaultAccountRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.monitor == nil {
		s.monitor = NewMonitor(nil, WithMonitorLogger(s.logger), WithMonitorMetrics(s.metrics))
	}
	return s
}

// RegisterAccount creates the free-tier record for a new user.
func (s *Service) RegisterAccount(ctx context.Context, userID string) (*account.AccountRecord, error) {
	if userID == "" {
		return nil, errors.Join(ErrValidation, ErrMissingUserID)
	}
	rec := account.New(userID, s.now())
	if err := s.accounts.Create(ctx, rec); err != nil {
		if errors.Is(err, account.ErrAccountExists) {
			return nil, errors.Join(ErrConflict, err)
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	return rec, nil
}

// Decide resolves the account's tier right now. Billing failures never fail
// the decision; they degrade it to local state.
func (s *Service) Decide(ctx context.Context, userID string) (Decision, error) {
	d, _, _, err := s.decide(ctx, userID)
	return d, err
}

func (s *Service) decide(ctx context.Context, userID string) (Decision, *account.AccountRecord, *billing.Snapshot, error) {
	acct, err := s.loadAccount(ctx, userID)
	if err != nil {
		return Decision{}, nil, nil, err
	}

	snap, unavailable := s.snapshotFor(ctx, acct)
	d := Resolve(acct, snap, s.now(), ResolveOptions{
		MaxSnapshotAge:     s.maxSnapshotAge,
		Clock:              s.clock,
		BillingUnavailable: unavailable,
	})
	s.metrics.decision(d.Source)
	s.monitor.Observe(ctx, acct, snap, d)

	return d, acct, snap, nil
}

// snapshotFor reads the customer's snapshot. On provider failure it falls back
// to the last cached snapshot, which Resolve uses only if still fresh.
func (s *Service) snapshotFor(ctx context.Context, acct *account.AccountRecord) (*billing.Snapshot, bool) {
	if s.billing == nil || !acct.HasBillingCustomer() {
		return nil, false
	}
	ref := *acct.BillingCustomerRef

	snap, err := s.billing.Snapshot(ctx, ref)
	switch {
	case err == nil:
		return snap, false
	case errors.Is(err, billing.ErrNoSubscription):
		return nil, false
	}

	reason := "error"
	switch {
	case errors.Is(err, billing.ErrCircuitOpen):
		reason = "circuit_open"
	case errors.Is(err, billing.ErrBillingUnavailable):
		reason = "unavailable"
	}
	s.metrics.billingFallback(reason)
	s.logger.WarnContext(ctx, "billing snapshot unavailable, using local state",
		logger.UserID(acct.UserID),
		logger.CustomerRef(ref),
		logger.Error(err),
	)

	if cached, cerr := s.billing.Cached(ctx, ref); cerr == nil {
		return cached, true
	}
	return nil, true
}

// ApplyPromoCode records the promo grant for userID. If the user is already
// in trial, the grant starts counting immediately.
func (s *Service) ApplyPromoCode(ctx context.Context, userID, code string) (*PromoResult, error) {
	res, err := s.ledger.Apply(ctx, userID, code)
	if err != nil {
		return nil, err
	}

	if acct, err := s.accounts.Get(ctx, userID); err == nil && acct.IsTrial() {
		if _, err := s.ledger.ActivatePending(ctx, userID); err != nil {
			s.logger.WarnContext(ctx, "failed to activate promo grant", logger.UserID(userID), logger.Error(err))
		}
	}

	return &PromoResult{
		Success:        true,
		Code:           res.Activation.Code,
		FreeMonths:     res.Activation.FreeMonths,
		TotalFreeDays:  res.TotalFreeDays,
		AlreadyApplied: !res.Created,
	}, nil
}

// CheckFeatureAccess decides whether userID may add one more item of feature.
func (s *Service) CheckFeatureAccess(ctx context.Context, userID string, feature Feature, currentCount int64) (Access, error) {
	if !s.gate.Limits().Has(feature) {
		return Access{Feature: feature}, errors.Join(ErrNotFound, fmt.Errorf("%w: %q", ErrUnknownFeature, feature))
	}
	d, err := s.Decide(ctx, userID)
	if err != nil {
		return Access{Feature: feature}, err
	}
	return s.gate.CheckAccess(d.EffectiveTier, feature, currentCount)
}

// CheckFeatureUsage is CheckFeatureAccess with the count read from the usage store.
func (s *Service) CheckFeatureUsage(ctx context.Context, userID string, feature Feature) (Access, error) {
	if !s.gate.Limits().Has(feature) {
		return Access{Feature: feature}, errors.Join(ErrNotFound, fmt.Errorf("%w: %q", ErrUnknownFeature, feature))
	}
	count, err := s.usage.Count(ctx, userID, feature)
	if err != nil {
		return Access{Feature: feature}, fmt.Errorf("count feature usage: %w", err)
	}
	return s.CheckFeatureAccess(ctx, userID, feature, count)
}

// GetSubscriptionInfo returns the decision with its display badge.
func (s *Service) GetSubscriptionInfo(ctx context.Context, userID string) (*SubscriptionInfo, error) {
	d, acct, snap, err := s.decide(ctx, userID)
	if err != nil {
		return nil, err
	}

	badge, label := BadgeFor(d)
	info := &SubscriptionInfo{
		Decision: d,
		Badge:    badge,
		Label:    label,
		Plan:     acct.Plan,
	}
	if acct.PromoCodeUsed != nil {
		info.PromoCode = *acct.PromoCodeUsed
	}
	if snap != nil {
		info.PaymentMethodSummary = snap.PaymentMethodSummary
	}
	return info, nil
}

// BadgeFor derives the display badge and label for a decision.
func BadgeFor(d Decision) (Badge, string) {
	switch d.EffectiveTier {
	case account.TierTrial:
		switch d.DaysLeftInTrial {
		case 0:
			return BadgeTrial, "Trial ends today"
		case 1:
			return BadgeTrial, "Trial: 1 day left"
		default:
			return BadgeTrial, fmt.Sprintf("Trial: %d days left", d.DaysLeftInTrial)
		}
	case account.TierActive:
		return BadgePremium, "Premium"
	case account.TierPastDue:
		return BadgePastDue, "Payment issue"
	case account.TierLifetimeAdmin:
		return BadgeLifetime, "Lifetime access"
	case account.TierInfluencerPremium:
		return BadgeInfluencer, "Influencer premium"
	default:
		return BadgeFree, "Free"
	}
}

// ClaimInfluencerCode assigns code to claimantID. The claimant's account, if
// one exists, is promoted to the tier the code carries.
func (s *Service) ClaimInfluencerCode(ctx context.Context, code, claimantID string) (*promo.Code, error) {
	c, err := s.ledger.Claim(ctx, code, claimantID)
	if err != nil {
		return nil, err
	}

	tier := c.Tier
	if tier == "" {
		tier = account.TierInfluencerPremium
	}
	_, err = updateWithRetry(ctx, s.accounts, claimantID, s.accountRetries, func(rec *account.AccountRecord) (account.Patch, bool, error) {
		if tier == account.TierTrial || rec.LocalStatus == account.TierLifetimeAdmin || rec.LocalStatus == tier {
			return account.Patch{}, false, nil
		}
		return account.Patch{LocalStatus: &tier}, true, nil
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.WarnContext(ctx, "failed to promote influencer account",
			logger.UserID(claimantID),
			logger.PromoCode(c.Code),
			logger.Error(err),
		)
	}
	return c, nil
}

// StartTrial moves a free account into trial. The trial length includes the
// largest promo grant, whose activations move from pending to active.
func (s *Service) StartTrial(ctx context.Context, userID string) (*account.AccountRecord, error) {
	acct, err := s.loadAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if acct.LocalStatus != account.TierFree {
		return nil, errors.Join(ErrConflict, ErrTrialNotAvailable)
	}

	months, err := s.ledger.ActivatePending(ctx, userID)
	if err != nil {
		return nil, err
	}
	if acct.PromoMonthsGranted != nil && *acct.PromoMonthsGranted > months {
		months = *acct.PromoMonthsGranted
	}
	end := s.now().UTC().AddDate(0, 0, promo.TotalFreeDays(months))
	trial := account.TierTrial

	updated, err := updateWithRetry(ctx, s.accounts, userID, s.accountRetries, func(rec *account.AccountRecord) (account.Patch, bool, error) {
		if rec.LocalStatus != account.TierFree {
			return account.Patch{}, false, errors.Join(ErrConflict, ErrTrialNotAvailable)
		}
		return account.Patch{LocalStatus: &trial, TrialEndsAt: &end}, true, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "trial started",
		logger.UserID(userID),
		slog.Time("trial_ends_at", end),
		slog.Int("promo_months", months),
	)
	return updated, nil
}

// HandleBillingEvent applies a verified webhook event. Events carrying a user
// id link the account to the billing customer first. Events without a
// snapshot trigger a fresh provider read.
func (s *Service) HandleBillingEvent(ctx context.Context, event *billing.WebhookEvent) (*account.AccountRecord, error) {
	if event.CustomerRef == "" {
		s.logger.DebugContext(ctx, "ignoring billing event without customer", logger.EventType(event.ProviderEvent))
		return nil, nil
	}

	if event.UserID != "" {
		if err := s.linkCustomer(ctx, event.UserID, event.CustomerRef); err != nil {
			return nil, err
		}
	}

	snap := event.Snapshot
	if snap == nil {
		if s.billing == nil {
			return nil, nil
		}
		var err error
		snap, err = s.billing.Snapshot(ctx, event.CustomerRef)
		if errors.Is(err, billing.ErrNoSubscription) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
	}
	if snap.CustomerRef == "" {
		snap = snap.Clone()
		snap.CustomerRef = event.CustomerRef
	}

	return s.IngestBillingSnapshot(ctx, snap)
}

func (s *Service) linkCustomer(ctx context.Context, userID, customerRef string) error {
	_, err := updateWithRetry(ctx, s.accounts, userID, s.accountRetries, func(rec *account.AccountRecord) (account.Patch, bool, error) {
		if rec.BillingCustomerRef != nil && *rec.BillingCustomerRef == customerRef {
			return account.Patch{}, false, nil
		}
		return account.Patch{BillingCustomerRef: &customerRef}, true, nil
	})
	if errors.Is(err, ErrNotFound) {
		s.logger.WarnContext(ctx, "billing event for unknown user", logger.UserID(userID), logger.CustomerRef(customerRef))
		return nil
	}
	return err
}

// IngestBillingSnapshot rewrites the billing-owned fields of the account linked
// to snap.CustomerRef. Snapshots older than the cached one are ignored.
func (s *Service) IngestBillingSnapshot(ctx context.Context, snap *billing.Snapshot) (*account.AccountRecord, error) {
	if snap == nil || snap.CustomerRef == "" {
		return nil, errors.Join(ErrValidation, ErrMissingCustomerRef)
	}
	if !snap.Status.Valid() {
		return nil, errors.Join(ErrValidation, fmt.Errorf("%w: %q", billing.ErrUnknownStatus, snap.Status))
	}
	now := s.now()
	if snap.FetchedAt.IsZero() {
		snap = snap.Clone()
		snap.FetchedAt = now.UTC()
	}

	acct, err := s.accounts.GetByBillingRef(ctx, snap.CustomerRef)
	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			return nil, errors.Join(ErrNotFound, ErrUnknownCustomer)
		}
		return nil, fmt.Errorf("load account by billing ref: %w", err)
	}

	if s.billing != nil {
		if cached, err := s.billing.Cached(ctx, snap.CustomerRef); err == nil && cached.FetchedAt.After(snap.FetchedAt) {
			s.logger.DebugContext(ctx, "ignoring stale billing snapshot",
				logger.CustomerRef(snap.CustomerRef),
				slog.Time("fetched_at", snap.FetchedAt),
			)
			return acct, nil
		}
		if err := s.billing.Remember(ctx, snap); err != nil {
			s.logger.WarnContext(ctx, "failed to cache billing snapshot", logger.CustomerRef(snap.CustomerRef), logger.Error(err))
		}
	}

	updated, err := updateWithRetry(ctx, s.accounts, acct.UserID, s.accountRetries, func(rec *account.AccountRecord) (account.Patch, bool, error) {
		return billingPatch(rec, snap, now)
	})
	if err != nil {
		return nil, err
	}

	if snap.PromoCode != "" && (snap.Status == billing.StatusTrialing || snap.Status == billing.StatusActive) {
		if _, err := s.ledger.MarkApplied(ctx, acct.UserID, snap.PromoCode); err != nil &&
			!errors.Is(err, ErrNotFound) && !errors.Is(err, ErrValidation) {
			s.logger.WarnContext(ctx, "failed to mark promo applied",
				logger.UserID(acct.UserID),
				logger.PromoCode(snap.PromoCode),
				logger.Error(err),
			)
		}
	}

	s.logger.InfoContext(ctx, "billing snapshot ingested",
		logger.UserID(updated.UserID),
		logger.BillingStatus(snap.Status),
		logger.Tier(updated.LocalStatus),
	)
	return updated, nil
}

// CreateCheckoutSession opens a hosted checkout for a paid plan.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID string, plan account.Plan, promoCode string) (*billing.CheckoutSession, error) {
	if s.billing == nil {
		return nil, ErrBillingDisabled
	}
	if plan != account.PlanMonthly && plan != account.PlanAnnual {
		return nil, errors.Join(ErrValidation, ErrInvalidPlan)
	}
	if promoCode != "" {
		canonical, err := promo.NormalizeAndValidate(promoCode)
		if err != nil {
			return nil, err
		}
		promoCode = canonical
	}

	acct, err := s.loadAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	req := billing.CheckoutRequest{
		UserID:     acct.UserID,
		Plan:       plan,
		PromoCode:  promoCode,
		SuccessURL: s.successURL,
		CancelURL:  s.cancelURL,
	}
	if acct.HasBillingCustomer() {
		req.CustomerRef = *acct.BillingCustomerRef
	}
	return s.billing.CreateCheckoutSession(ctx, req)
}

func (s *Service) loadAccount(ctx context.Context, userID string) (*account.AccountRecord, error) {
	if userID == "" {
		return nil, errors.Join(ErrValidation, ErrMissingUserID)
	}
	acct, err := s.accounts.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			return nil, errors.Join(ErrNotFound, err)
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	return acct, nil
}
