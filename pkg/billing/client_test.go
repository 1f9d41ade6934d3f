package billing_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloomnest/entitlements/pkg/account"
	"github.com/bloomnest/entitlements/pkg/billing"
)

func TestClientSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("deduplicates concurrent fetches", func(t *testing.T) {
		t.Parallel()
		p := billing.NewMemoryProvider("secret")
		p.SetSnapshot(&billing.Snapshot{CustomerRef: "cus_1", Status: billing.StatusActive})
		p.SetDelay(200 * time.Millisecond)
		c := billing.NewClient(p)

		const n = 20
		start := make(chan struct{})
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				snap, err := c.Snapshot(ctx, "cus_1")
				if err == nil && snap.Status != billing.StatusActive {
					err = errors.New("unexpected status")
				}
				errs <- err
			}()
		}
		close(start)
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}
		assert.Equal(t, 1, p.Calls())
	})

	t.Run("serves fresh cache without provider call", func(t *testing.T) {
		t.Parallel()
		p := billing.NewMemoryProvider("secret")
		p.SetSnapshot(&billing.Snapshot{CustomerRef: "cus_1", Status: billing.StatusTrialing})
		c := billing.NewClient(p, billing.WithCacheTTL(time.Minute))

		_, err := c.Snapshot(ctx, "cus_1")
		require.NoError(t, err)
		snap, err := c.Snapshot(ctx, "cus_1")
		require.NoError(t, err)

		assert.Equal(t, billing.StatusTrialing, snap.Status)
		assert.Equal(t, 1, p.Calls())
		assert.False(t, snap.FetchedAt.IsZero())
	})

	t.Run("timeout surfaces as unavailable", func(t *testing.T) {
		t.Parallel()
		p := billing.NewMemoryProvider("secret")
		p.SetSnapshot(&billing.Snapshot{CustomerRef: "cus_1", Status: billing.StatusActive})
		p.SetDelay(time.Second)
		c := billing.NewClient(p, billing.WithTimeout(30*time.Millisecond))

		_, err := c.Snapshot(ctx, "cus_1")
		assert.ErrorIs(t, err, billing.ErrBillingUnavailable)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("caller cancellation", func(t *testing.T) {
		t.Parallel()
		p := billing.NewMemoryProvider("secret")
		p.SetDelay(500 * time.Millisecond)
		c := billing.NewClient(p)

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err := c.Snapshot(cctx, "cus_1")
		assert.ErrorIs(t, err, billing.ErrBillingUnavailable)
	})

	t.Run("no subscription is not a provider failure", func(t *testing.T) {
		t.Parallel()
		p := billing.NewMemoryProvider("secret")
		cb := billing.NewCircuitBreaker(1, 1, time.Hour)
		c := billing.NewClient(p, billing.WithCircuitBreaker(cb))

		_, err := c.Snapshot(ctx, "cus_none")
		assert.ErrorIs(t, err, billing.ErrNoSubscription)
		assert.NotErrorIs(t, err, billing.ErrBillingUnavailable)
		assert.Equal(t, billing.CircuitClosed, cb.State())
	})

	t.Run("open circuit short-circuits provider", func(t *testing.T) {
		t.Parallel()
		p := billing.NewMemoryProvider("secret")
		p.SetError("cus_1", errors.New("502 bad gateway"))
		c := billing.NewClient(p,
			billing.WithCacheTTL(0),
			billing.WithCircuitBreaker(billing.NewCircuitBreaker(2, 1, time.Hour)),
		)

		for range 2 {
			_, err := c.Snapshot(ctx, "cus_1")
			assert.ErrorIs(t, err, billing.ErrBillingUnavailable)
		}
		_, err := c.Snapshot(ctx, "cus_1")
		assert.ErrorIs(t, err, billing.ErrCircuitOpen)
		assert.Equal(t, 2, p.Calls())
	})

	t.Run("cached snapshot survives outage", func(t *testing.T) {
		t.Parallel()
		p := billing.NewMemoryProvider("secret")
		p.SetSnapshot(&billing.Snapshot{CustomerRef: "cus_1", Status: billing.StatusActive})
		c := billing.NewClient(p, billing.WithCacheTTL(0))

		_, err := c.Snapshot(ctx, "cus_1")
		require.NoError(t, err)
		p.SetError("cus_1", errors.New("timeout"))

		_, err = c.Snapshot(ctx, "cus_1")
		require.ErrorIs(t, err, billing.ErrBillingUnavailable)

		cached, err := c.Cached(ctx, "cus_1")
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, cached.Status)
	})

	t.Run("missing customer ref", func(t *testing.T) {
		t.Parallel()
		c := billing.NewClient(billing.NewMemoryProvider("secret"))
		_, err := c.Snapshot(ctx, "")
		assert.ErrorIs(t, err, billing.ErrMissingCustomerRef)
	})
}

func TestClientRemember(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := billing.NewClient(billing.NewMemoryProvider("secret"))

	require.NoError(t, c.Remember(ctx, &billing.Snapshot{CustomerRef: "cus_1", Status: billing.StatusPastDue}))
	got, err := c.Cached(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPastDue, got.Status)
	assert.False(t, got.FetchedAt.IsZero())

	assert.ErrorIs(t, c.Remember(ctx, &billing.Snapshot{}), billing.ErrMissingCustomerRef)
}

func TestClientCheckout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := billing.NewClient(billing.NewMemoryProvider("secret"))

	sess, err := c.CreateCheckoutSession(ctx, billing.CheckoutRequest{UserID: "u1", Plan: account.PlanAnnual})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.URL)
	assert.NotEmpty(t, sess.SessionID)

	_, err = c.CreateCheckoutSession(ctx, billing.CheckoutRequest{UserID: "u1", Plan: account.PlanFree})
	assert.ErrorIs(t, err, billing.ErrUnsupportedPlan)
	assert.NotErrorIs(t, err, billing.ErrBillingUnavailable)
}

func TestMemoryProviderWebhook(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := billing.NewMemoryProvider("whsec")

	payload, err := json.Marshal(billing.WebhookEvent{
		ID:   "evt_1",
		Type: billing.EventSubscriptionUpdated,
		Snapshot: &billing.Snapshot{
			CustomerRef: "cus_1",
			Status:      billing.StatusActive,
		},
	})
	require.NoError(t, err)

	event, err := p.ParseWebhook(ctx, payload, p.Sign(payload))
	require.NoError(t, err)
	assert.Equal(t, "cus_1", event.CustomerRef)
	assert.Equal(t, billing.EventSubscriptionUpdated, event.Type)

	_, err = p.ParseWebhook(ctx, payload, "bogus")
	assert.ErrorIs(t, err, billing.ErrWebhookVerificationFailed)

	_, err = p.ParseWebhook(ctx, []byte("{"), p.Sign([]byte("{")))
	assert.ErrorIs(t, err, billing.ErrInvalidWebhookPayload)
}
