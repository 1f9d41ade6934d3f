package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	stripeclient "github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/bloomnest/entitlements/pkg/account"
)

// Metadata keys written on checkout and read back from subscriptions and webhooks.
const (
	metadataUserID    = "user_id"
	metadataPromoCode = "promo_code"
)

// StripeProvider implements Provider on top of stripe-go.
type StripeProvider struct {
	api    *stripeclient.API
	config StripeConfig
}

func NewStripeProvider(config StripeConfig) (*StripeProvider, error) {
	if config.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	api := &stripeclient.API{}
	api.Init(config.SecretKey, nil)

	return &StripeProvider{api: api, config: config}, nil
}

func (p *StripeProvider) Name() string { return ProviderStripe }

func (p *StripeProvider) SignatureHeader() string { return "Stripe-Signature" }

// FetchSubscriptionStatus picks the most relevant subscription of the customer:
// live states beat ended ones, newer beats older.
func (p *StripeProvider) FetchSubscriptionStatus(ctx context.Context, customerRef string) (*Snapshot, error) {
	if customerRef == "" {
		return nil, ErrMissingCustomerRef
	}

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerRef),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(10)
	params.Single = true
	params.AddExpand("data.default_payment_method")

	var best *stripe.Subscription
	it := p.api.Subscriptions.List(params)
	for it.Next() {
		sub := it.Subscription()
		if best == nil || betterStripeSubscription(sub, best) {
			best = sub
		}
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list stripe subscriptions: %w", err)
	}
	if best == nil {
		return nil, ErrNoSubscription
	}

	return stripeSnapshot(best, time.Now())
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	priceID, err := p.priceFor(req.Plan)
	if err != nil {
		return nil, err
	}

	subMeta := map[string]string{metadataUserID: req.UserID}
	if req.PromoCode != "" {
		subMeta[metadataPromoCode] = req.PromoCode
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(req.UserID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{Metadata: subMeta},
	}
	params.Context = ctx
	params.AddMetadata(metadataUserID, req.UserID)

	if req.SuccessURL != "" {
		params.SuccessURL = stripe.String(req.SuccessURL)
	}
	if req.CancelURL != "" {
		params.CancelURL = stripe.String(req.CancelURL)
	}
	switch {
	case req.CustomerRef != "":
		params.Customer = stripe.String(req.CustomerRef)
	case req.Email != "":
		params.CustomerEmail = stripe.String(req.Email)
	}

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe checkout session: %w", err)
	}
	if sess.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutSession{
		URL:       sess.URL,
		SessionID: sess.ID,
		ExpiresAt: time.Unix(sess.ExpiresAt, 0).UTC(),
	}, nil
}

func (p *StripeProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}

	out := &WebhookEvent{
		ID:            event.ID,
		Type:          mapStripeEventType(string(event.Type)),
		ProviderEvent: string(event.Type),
	}
	occurredAt := time.Unix(event.Created, 0).UTC()

	switch {
	case strings.HasPrefix(string(event.Type), "customer.subscription."):
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, errors.Join(ErrInvalidWebhookPayload, err)
		}
		snap, err := stripeSnapshot(&sub, occurredAt)
		if err != nil {
			return nil, err
		}
		out.Snapshot = snap
		out.CustomerRef = snap.CustomerRef
		out.UserID = sub.Metadata[metadataUserID]

	case event.Type == "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, errors.Join(ErrInvalidWebhookPayload, err)
		}
		if sess.Customer != nil {
			out.CustomerRef = sess.Customer.ID
		}
		out.UserID = sess.ClientReferenceID

	case strings.HasPrefix(string(event.Type), "invoice."):
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, errors.Join(ErrInvalidWebhookPayload, err)
		}
		if inv.Customer != nil {
			out.CustomerRef = inv.Customer.ID
		}
	}

	return out, nil
}

func (p *StripeProvider) priceFor(plan account.Plan) (string, error) {
	var id string
	switch plan {
	case account.PlanMonthly:
		id = p.config.MonthlyPriceID
	case account.PlanAnnual:
		id = p.config.AnnualPriceID
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedPlan, plan)
	}
	if id == "" {
		return "", ErrMissingPriceID
	}
	return id, nil
}

func stripeSnapshot(sub *stripe.Subscription, fetchedAt time.Time) (*Snapshot, error) {
	status, err := ParseStatus(string(sub.Status))
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Status:    status,
		Plan:      account.PlanFree,
		PromoCode: sub.Metadata[metadataPromoCode],
		FetchedAt: fetchedAt.UTC(),
	}
	if sub.Customer != nil {
		snap.CustomerRef = sub.Customer.ID
	}
	if sub.TrialEnd > 0 {
		t := time.Unix(sub.TrialEnd, 0).UTC()
		snap.TrialEnd = &t
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.CurrentPeriodEnd > 0 {
			t := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			snap.CurrentPeriodEnd = &t
		}
		if item.Price != nil && item.Price.Recurring != nil {
			snap.Plan = planForInterval(string(item.Price.Recurring.Interval))
		}
	}
	if pm := sub.DefaultPaymentMethod; pm != nil && pm.Card != nil {
		snap.PaymentMethodSummary = fmt.Sprintf("%s •••• %s", pm.Card.Brand, pm.Card.Last4)
	}
	return snap, nil
}

// betterStripeSubscription reports whether a should be preferred over b.
func betterStripeSubscription(a, b *stripe.Subscription) bool {
	la, lb := isLiveStatus(string(a.Status)), isLiveStatus(string(b.Status))
	if la != lb {
		return la
	}
	return a.Created > b.Created
}

func isLiveStatus(s string) bool {
	switch Status(s) {
	case StatusTrialing, StatusActive, StatusPastDue:
		return true
	default:
		return false
	}
}

func planForInterval(interval string) account.Plan {
	switch interval {
	case "year":
		return account.PlanAnnual
	case "month":
		return account.PlanMonthly
	default:
		return account.PlanFree
	}
}

func mapStripeEventType(t string) EventType {
	switch t {
	case "customer.subscription.created":
		return EventSubscriptionCreated
	case "customer.subscription.updated", "customer.subscription.paused", "customer.subscription.trial_will_end":
		return EventSubscriptionUpdated
	case "customer.subscription.deleted":
		return EventSubscriptionCancelled
	case "customer.subscription.resumed":
		return EventSubscriptionResumed
	case "invoice.paid", "invoice.payment_succeeded":
		return EventPaymentSucceeded
	case "invoice.payment_failed":
		return EventPaymentFailed
	case "checkout.session.completed":
		return EventCheckoutCompleted
	default:
		return EventType(t)
	}
}
