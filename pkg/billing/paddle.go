package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/bloomnest/entitlements/pkg/account"
)

// PaddleProvider implements Provider for Paddle Billing.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	config   PaddleConfig
}

func NewPaddleProvider(config PaddleConfig) (*PaddleProvider, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidProviderEnvironment, config.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
		config:   config,
	}, nil
}

func (p *PaddleProvider) Name() string { return ProviderPaddle }

func (p *PaddleProvider) SignatureHeader() string { return "Paddle-Signature" }

func (p *PaddleProvider) FetchSubscriptionStatus(ctx context.Context, customerRef string) (*Snapshot, error) {
	if customerRef == "" {
		return nil, ErrMissingCustomerRef
	}

	res, err := p.client.SubscriptionsClient.ListSubscriptions(ctx, &paddle.ListSubscriptionsRequest{
		CustomerID: []string{customerRef},
	})
	if err != nil {
		return nil, fmt.Errorf("list paddle subscriptions: %w", err)
	}

	var best *paddleSubscription
	err = res.Iter(ctx, func(s *paddle.Subscription) (bool, error) {
		sub, err := decodePaddleSubscription(s)
		if err != nil {
			return false, err
		}
		if best == nil || sub.betterThan(best) {
			best = sub
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate paddle subscriptions: %w", err)
	}
	if best == nil {
		return nil, ErrNoSubscription
	}

	return best.snapshot(time.Now())
}

// CreateCheckoutSession creates a transaction whose hosted checkout URL is returned.
// The user id and promo code ride in custom_data and come back on the subscription.
func (p *PaddleProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	priceID, err := p.priceFor(req.Plan)
	if err != nil {
		return nil, err
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  priceID,
		Quantity: 1,
	})

	txReq := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{metadataUserID: req.UserID},
	}
	if req.PromoCode != "" {
		txReq.CustomData[metadataPromoCode] = req.PromoCode
	}
	if req.CustomerRef != "" {
		txReq.CustomerID = paddle.PtrTo(req.CustomerRef)
	}
	if req.SuccessURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(req.SuccessURL)}
	}

	tx, err := p.client.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle transaction: %w", err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutSession{
		URL:       *tx.Checkout.URL,
		SessionID: tx.ID,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set(p.SignatureHeader(), signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}
	if !valid {
		return nil, ErrWebhookVerificationFailed
	}

	var envelope struct {
		EventID    string          `json:"event_id"`
		EventType  string          `json:"event_type"`
		OccurredAt string          `json:"occurred_at"`
		Data       json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, errors.Join(ErrInvalidWebhookPayload, err)
	}

	event := &WebhookEvent{
		ID:            envelope.EventID,
		Type:          mapPaddleEventType(envelope.EventType),
		ProviderEvent: envelope.EventType,
	}
	occurredAt := parsePaddleTime(envelope.OccurredAt)
	if occurredAt == nil {
		now := time.Now().UTC()
		occurredAt = &now
	}

	switch {
	case strings.HasPrefix(envelope.EventType, "subscription."):
		var sub paddleSubscription
		if err := json.Unmarshal(envelope.Data, &sub); err != nil {
			return nil, errors.Join(ErrInvalidWebhookPayload, err)
		}
		snap, err := sub.snapshot(*occurredAt)
		if err != nil {
			return nil, err
		}
		event.Snapshot = snap
		event.CustomerRef = sub.CustomerID
		event.UserID = sub.CustomData[metadataUserID]

	case strings.HasPrefix(envelope.EventType, "transaction."):
		var tx struct {
			CustomerID string            `json:"customer_id"`
			CustomData map[string]string `json:"custom_data"`
		}
		if err := json.Unmarshal(envelope.Data, &tx); err != nil {
			return nil, errors.Join(ErrInvalidWebhookPayload, err)
		}
		event.CustomerRef = tx.CustomerID
		event.UserID = tx.CustomData[metadataUserID]
	}

	return event, nil
}

func (p *PaddleProvider) priceFor(plan account.Plan) (string, error) {
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

// paddleSubscription is the subset of Paddle's subscription entity the engine
// reads. API responses and webhook payloads share this shape.
type paddleSubscription struct {
	ID                   string            `json:"id"`
	Status               string            `json:"status"`
	CustomerID           string            `json:"customer_id"`
	CreatedAt            string            `json:"created_at"`
	CustomData           map[string]string `json:"custom_data"`
	CurrentBillingPeriod *paddlePeriod     `json:"current_billing_period"`
	BillingCycle         struct {
		Interval string `json:"interval"`
	} `json:"billing_cycle"`
	Items []struct {
		TrialDates *paddlePeriod `json:"trial_dates"`
	} `json:"items"`
}

type paddlePeriod struct {
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
}

func decodePaddleSubscription(s *paddle.Subscription) (*paddleSubscription, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var sub paddleSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *paddleSubscription) betterThan(other *paddleSubscription) bool {
	ls, lo := isLiveStatus(s.Status), isLiveStatus(other.Status)
	if ls != lo {
		return ls
	}
	return s.CreatedAt > other.CreatedAt
}

func (s *paddleSubscription) snapshot(fetchedAt time.Time) (*Snapshot, error) {
	status, err := ParseStatus(s.Status)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		CustomerRef: s.CustomerID,
		Status:      status,
		Plan:        planForInterval(s.BillingCycle.Interval),
		PromoCode:   s.CustomData[metadataPromoCode],
		FetchedAt:   fetchedAt.UTC(),
	}
	if s.CurrentBillingPeriod != nil {
		snap.CurrentPeriodEnd = parsePaddleTime(s.CurrentBillingPeriod.EndsAt)
	}
	for _, item := range s.Items {
		if item.TrialDates != nil {
			snap.TrialEnd = parsePaddleTime(item.TrialDates.EndsAt)
			break
		}
	}
	return snap, nil
}

func parsePaddleTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func mapPaddleEventType(t string) EventType {
	switch t {
	case "subscription.created", "subscription.activated":
		return EventSubscriptionCreated
	case "subscription.updated", "subscription.trialing", "subscription.past_due", "subscription.paused":
		return EventSubscriptionUpdated
	case "subscription.canceled":
		return EventSubscriptionCancelled
	case "subscription.resumed":
		return EventSubscriptionResumed
	case "transaction.completed", "transaction.paid":
		return EventPaymentSucceeded
	case "transaction.payment_failed":
		return EventPaymentFailed
	default:
		return EventType(t)
	}
}
