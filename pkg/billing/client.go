package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bloomnest/entitlements/pkg/logger"
)

const (
	defaultTimeout  = 3 * time.Second
	defaultCacheTTL = 5 * time.Minute
)

// Client guards a Provider: every status fetch runs with a timeout, behind a
// circuit breaker, deduplicated per customer and backed by a snapshot cache.
// Fetch failures surface as ErrBillingUnavailable and are never retried inline.
type Client struct {
	provider Provider
	cache    SnapshotCache
	breaker  *CircuitBreaker
	group    singleflight.Group
	timeout  time.Duration
	cacheTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithCache(cache SnapshotCache) ClientOption {
	return func(c *Client) {
		if cache != nil {
			c.cache = cache
		}
	}
}

// WithCacheTTL sets how long a cached snapshot is served without asking the provider.
// Zero disables cache reads for Snapshot; writes still happen.
func WithCacheTTL(d time.Duration) ClientOption {
	return func(c *Client) {
		if d >= 0 {
			c.cacheTTL = d
		}
	}
}

func WithCircuitBreaker(cb *CircuitBreaker) ClientOption {
	return func(c *Client) {
		if cb != nil {
			c.breaker = cb
		}
	}
}

func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithClientClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func NewClient(provider Provider, opts ...ClientOption) *Client {
	c := &Client{
		provider: provider,
		cache:    NewMemoryCache(0),
		breaker:  NewCircuitBreaker(0, 0, 0),
		timeout:  defaultTimeout,
		cacheTTL: defaultCacheTTL,
		logger:   logger.Discard(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromConfig applies Config before any explicit options.
func NewClientFromConfig(provider Provider, cfg Config, opts ...ClientOption) *Client {
	base := []ClientOption{
		WithTimeout(cfg.Timeout),
		WithCacheTTL(cfg.CacheTTL),
		WithCircuitBreaker(NewCircuitBreaker(cfg.BreakerFailures, cfg.BreakerSuccesses, cfg.BreakerRecovery)),
	}
	if cfg.CacheCapacity > 0 {
		base = append(base, WithCache(NewMemoryCache(cfg.CacheCapacity)))
	}
	return NewClient(provider, append(base, opts...)...)
}

func (c *Client) Name() string {
	return c.provider.Name()
}

// Breaker exposes the circuit breaker for health reporting.
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

// Snapshot returns the customer's subscription snapshot, from cache when it is
// younger than the cache TTL, otherwise from the provider. Errors other than
// ErrNoSubscription and ErrMissingCustomerRef are joined with ErrBillingUnavailable.
func (c *Client) Snapshot(ctx context.Context, customerRef string) (*Snapshot, error) {
	if customerRef == "" {
		return nil, ErrMissingCustomerRef
	}

	if c.cacheTTL > 0 {
		if cached, err := c.cache.Get(ctx, customerRef); err == nil && cached.Fresh(c.now(), c.cacheTTL) {
			return cached, nil
		}
	}

	if !c.breaker.Allow() {
		return nil, errors.Join(ErrBillingUnavailable, ErrCircuitOpen)
	}

	ch := c.group.DoChan(customerRef, func() (any, error) {
		return c.fetch(ctx, customerRef)
	})

	select {
	case <-ctx.Done():
		return nil, errors.Join(ErrBillingUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot).Clone(), nil
	}
}

// fetch runs detached from the first caller's cancellation so that
// deduplicated waiters are not failed by one impatient request.
func (c *Client) fetch(ctx context.Context, customerRef string) (*Snapshot, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	start := c.now()
	snap, err := c.provider.FetchSubscriptionStatus(fctx, customerRef)
	switch {
	case err == nil:
		c.breaker.RecordSuccess()
	case errors.Is(err, ErrNoSubscription):
		c.breaker.RecordSuccess()
		return nil, ErrNoSubscription
	default:
		c.breaker.RecordFailure()
		c.logger.WarnContext(ctx, "billing fetch failed",
			logger.Provider(c.provider.Name()),
			logger.CustomerRef(customerRef),
			logger.Duration(c.now().Sub(start)),
			logger.Error(err),
		)
		return nil, errors.Join(ErrBillingUnavailable, err)
	}

	snap.CustomerRef = customerRef
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = c.now().UTC()
	}
	if err := c.cache.Set(ctx, snap); err != nil {
		c.logger.WarnContext(ctx, "failed to cache billing snapshot", logger.CustomerRef(customerRef), logger.Error(err))
	}
	return snap, nil
}

// Cached returns the last cached snapshot without contacting the provider.
func (c *Client) Cached(ctx context.Context, customerRef string) (*Snapshot, error) {
	if customerRef == "" {
		return nil, ErrMissingCustomerRef
	}
	return c.cache.Get(ctx, customerRef)
}

// Remember stores a snapshot received out of band, e.g. from a webhook.
func (c *Client) Remember(ctx context.Context, snap *Snapshot) error {
	if snap == nil || snap.CustomerRef == "" {
		return ErrMissingCustomerRef
	}
	if snap.FetchedAt.IsZero() {
		snap = snap.Clone()
		snap.FetchedAt = c.now().UTC()
	}
	return c.cache.Set(ctx, snap)
}

// CreateCheckoutSession passes through to the provider with the client timeout.
// Unlike status reads, failures are returned to the caller.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if !c.breaker.Allow() {
		return nil, errors.Join(ErrBillingUnavailable, ErrCircuitOpen)
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	sess, err := c.provider.CreateCheckoutSession(cctx, req)
	if err != nil {
		if errors.Is(err, ErrUnsupportedPlan) || errors.Is(err, ErrMissingPriceID) {
			return nil, err
		}
		c.breaker.RecordFailure()
		return nil, errors.Join(ErrBillingUnavailable, err)
	}
	c.breaker.RecordSuccess()
	return sess, nil
}

func (c *Client) ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error) {
	return c.provider.ParseWebhook(ctx, payload, signature)
}

func (c *Client) SignatureHeader() string {
	return c.provider.SignatureHeader()
}
