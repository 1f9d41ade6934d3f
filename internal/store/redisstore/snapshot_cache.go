package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bloomnest/entitlements/pkg/account"
	"github.com/bloomnest/entitlements/pkg/billing"
)

const defaultSnapshotTTL = 24 * time.Hour

// setIfNewer stores the snapshot unless the cached one was fetched later.
var setIfNewer = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'fetched_at')
if current and tonumber(current) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'fetched_at', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// SnapshotCache is a billing.SnapshotCache stored in Redis hashes.
type SnapshotCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

type SnapshotCacheOption func(*SnapshotCache)

// WithSnapshotTTL bounds how long an untouched snapshot is kept.
func WithSnapshotTTL(d time.Duration) SnapshotCacheOption {
	return func(c *SnapshotCache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

func NewSnapshotCache(client redis.UniversalClient, prefix string, opts ...SnapshotCacheOption) *SnapshotCache {
	c := &SnapshotCache{client: client, prefix: prefix, ttl: defaultSnapshotTTL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ billing.SnapshotCache = (*SnapshotCache)(nil)

func (c *SnapshotCache) key(customerRef string) string {
	return c.prefix + "snapshot:" + customerRef
}

func (c *SnapshotCache) Get(ctx context.Context, customerRef string) (*billing.Snapshot, error) {
	data, err := c.client.HGet(ctx, c.key(customerRef), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, billing.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var rec snapshotRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return rec.snapshot(), nil
}

func (c *SnapshotCache) Set(ctx context.Context, snap *billing.Snapshot) error {
	if snap == nil || snap.CustomerRef == "" {
		return billing.ErrMissingCustomerRef
	}
	data, err := json.Marshal(newSnapshotRecord(snap))
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	err = setIfNewer.Run(ctx, c.client,
		[]string{c.key(snap.CustomerRef)},
		snap.FetchedAt.UnixMilli(), data, c.ttl.Milliseconds(),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

type snapshotRecord struct {
	CustomerRef          string     `json:"customer_ref"`
	Status               string     `json:"status"`
	TrialEnd             *time.Time `json:"trial_end,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	PaymentMethodSummary string     `json:"payment_method_summary,omitempty"`
	PromoCode            string     `json:"promo_code,omitempty"`
	Plan                 string     `json:"plan,omitempty"`
	FetchedAt            time.Time  `json:"fetched_at"`
}

func newSnapshotRecord(s *billing.Snapshot) snapshotRecord {
	return snapshotRecord{
		CustomerRef:          s.CustomerRef,
		Status:               string(s.Status),
		TrialEnd:             s.TrialEnd,
		CurrentPeriodEnd:     s.CurrentPeriodEnd,
		PaymentMethodSummary: s.PaymentMethodSummary,
		PromoCode:            s.PromoCode,
		Plan:                 string(s.Plan),
		FetchedAt:            s.FetchedAt.UTC(),
	}
}

func (r snapshotRecord) snapshot() *billing.Snapshot {
	return &billing.Snapshot{
		CustomerRef:          r.CustomerRef,
		Status:               billing.Status(r.Status),
		TrialEnd:             r.TrialEnd,
		CurrentPeriodEnd:     r.CurrentPeriodEnd,
		PaymentMethodSummary: r.PaymentMethodSummary,
		PromoCode:            r.PromoCode,
		Plan:                 account.Plan(r.Plan),
		FetchedAt:            r.FetchedAt,
	}
}
