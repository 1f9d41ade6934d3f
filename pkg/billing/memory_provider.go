package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bloomnest/entitlements/pkg/account"
)

// MemoryProvider is an in-process Provider for tests and local development.
// Webhooks are JSON-encoded WebhookEvent values signed with HMAC-SHA256.
type MemoryProvider struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
	errs      map[string]error
	delay     time.Duration
	secret    []byte
	calls     int
}

func NewMemoryProvider(webhookSecret string) *MemoryProvider {
	return &MemoryProvider{
		snapshots: make(map[string]*Snapshot),
		errs:      make(map[string]error),
		secret:    []byte(webhookSecret),
	}
}

func (p *MemoryProvider) Name() string { return ProviderMemory }

func (p *MemoryProvider) SignatureHeader() string { return "X-Billing-Signature" }

// SetSnapshot makes FetchSubscriptionStatus return snap for its CustomerRef.
func (p *MemoryProvider) SetSnapshot(snap *Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots[snap.CustomerRef] = snap.Clone()
}

// SetError makes fetches for customerRef fail with err. A nil err clears it.
func (p *MemoryProvider) SetError(customerRef string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.errs, customerRef)
		return
	}
	p.errs[customerRef] = err
}

// SetDelay makes every fetch block for d or until its context ends.
func (p *MemoryProvider) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

// Calls returns how many fetches reached the provider.
func (p *MemoryProvider) Calls() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.calls
}

func (p *MemoryProvider) FetchSubscriptionStatus(ctx context.Context, customerRef string) (*Snapshot, error) {
	p.mu.Lock()
	p.calls++
	delay := p.delay
	snap, hasSnap := p.snapshots[customerRef]
	err := p.errs[customerRef]
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !hasSnap {
		return nil, ErrNoSubscription
	}
	return snap.Clone(), nil
}

func (p *MemoryProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.Plan != account.PlanMonthly && req.Plan != account.PlanAnnual {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlan, req.Plan)
	}
	id := uuid.NewString()
	return &CheckoutSession{
		URL:       "https://billing.invalid/checkout/" + id,
		SessionID: id,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

// Sign returns the signature ParseWebhook expects for payload.
func (p *MemoryProvider) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (p *MemoryProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error) {
	if !hmac.Equal([]byte(p.Sign(payload)), []byte(signature)) {
		return nil, ErrWebhookVerificationFailed
	}
	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, errors.Join(ErrInvalidWebhookPayload, err)
	}
	if event.Snapshot != nil && event.CustomerRef == "" {
		event.CustomerRef = event.Snapshot.CustomerRef
	}
	return &event, nil
}
