package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/bloomnest/entitlements/pkg/account"
)

// Status is the provider-side subscription status.
type Status string

const (
	StatusTrialing          Status = "trialing"
	StatusActive            Status = "active"
	StatusCanceled          Status = "canceled"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusPastDue           Status = "past_due"
	StatusUnpaid            Status = "unpaid"
	StatusPaused            Status = "paused"
)

// Statuses lists every status the engine understands.
var Statuses = []Status{
	StatusTrialing,
	StatusActive,
	StatusCanceled,
	StatusIncomplete,
	StatusIncompleteExpired,
	StatusPastDue,
	StatusUnpaid,
	StatusPaused,
}

func (s Status) Valid() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusCanceled, StatusIncomplete,
		StatusIncompleteExpired, StatusPastDue, StatusUnpaid, StatusPaused:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus normalizes a provider status string. Unknown values are an error
// rather than a silent fallthrough.
func ParseStatus(raw string) (Status, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "cancelled" {
		s = string(StatusCanceled)
	}
	status := Status(s)
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return status, nil
}

// Snapshot is a point-in-time read of the provider's view of a customer's subscription.
type Snapshot struct {
	CustomerRef          string
	Status               Status
	TrialEnd             *time.Time
	CurrentPeriodEnd     *time.Time
	PaymentMethodSummary string // e.g. "visa •••• 4242"
	PromoCode            string // code recorded on the subscription, if any
	Plan                 account.Plan
	FetchedAt            time.Time
}

// Age returns how old the snapshot is at now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

// Fresh reports whether the snapshot was fetched within maxAge of now.
// A nil snapshot is never fresh.
func (s *Snapshot) Fresh(now time.Time, maxAge time.Duration) bool {
	if s == nil || s.FetchedAt.IsZero() {
		return false
	}
	return s.Age(now) <= maxAge
}

func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	cp := *s
	if s.TrialEnd != nil {
		v := *s.TrialEnd
		cp.TrialEnd = &v
	}
	if s.CurrentPeriodEnd != nil {
		v := *s.CurrentPeriodEnd
		cp.CurrentPeriodEnd = &v
	}
	return &cp
}

// CheckoutRequest carries what a provider needs to open a hosted checkout.
type CheckoutRequest struct {
	UserID      string // internal user id, echoed back in webhooks
	CustomerRef string // existing provider customer, optional
	Email       string
	Plan        account.Plan
	PromoCode   string
	SuccessURL  string
	CancelURL   string
}

// CheckoutSession is the opaque result of a checkout request.
type CheckoutSession struct {
	URL       string
	SessionID string
	ExpiresAt time.Time
}

// EventType is the normalized webhook event type.
type EventType string

const (
	EventSubscriptionCreated   EventType = "subscription_created"
	EventSubscriptionUpdated   EventType = "subscription_updated"
	EventSubscriptionCancelled EventType = "subscription_cancelled"
	EventSubscriptionResumed   EventType = "subscription_resumed"
	EventPaymentSucceeded      EventType = "payment_succeeded"
	EventPaymentFailed         EventType = "payment_failed"
	EventCheckoutCompleted     EventType = "checkout_completed"
)

// WebhookEvent is a verified, normalized provider event.
type WebhookEvent struct {
	ID            string
	Type          EventType
	ProviderEvent string
	CustomerRef   string
	UserID        string    // internal user id from provider metadata, may be empty
	Snapshot      *Snapshot // set for subscription events
}
