package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bloomnest/entitlements/pkg/entitlement"
)

const (
	defaultQueueCapacity = 10_000
	defaultPendingTTL    = time.Hour
	defaultBlockTimeout  = 2 * time.Second
)

// enqueue pushes the report unless the queue is full or the user already has
// a report waiting. Returns 1 when queued, 0 when deduplicated, -1 when full.
var enqueue = redis.NewScript(`
if redis.call('LLEN', KEYS[1]) >= tonumber(ARGV[2]) then
	return -1
end
if redis.call('SET', KEYS[2], '1', 'NX', 'PX', ARGV[3]) then
	redis.call('LPUSH', KEYS[1], ARGV[1])
	return 1
end
return 0
`)

// DriftQueue is an entitlement.DriftQueue on a Redis list. A per-user marker
// key keeps one pending report per user; it expires in case a consumer dies
// between pop and delete.
type DriftQueue struct {
	client       redis.UniversalClient
	prefix       string
	capacity     int
	pendingTTL   time.Duration
	blockTimeout time.Duration
}

type DriftQueueOption func(*DriftQueue)

func WithQueueCapacity(n int) DriftQueueOption {
	return func(q *DriftQueue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

func WithPendingTTL(d time.Duration) DriftQueueOption {
	return func(q *DriftQueue) {
		if d > 0 {
			q.pendingTTL = d
		}
	}
}

// WithBlockTimeout sets how long one BRPOP waits before Next re-checks ctx.
func WithBlockTimeout(d time.Duration) DriftQueueOption {
	return func(q *DriftQueue) {
		if d > 0 {
			q.blockTimeout = d
		}
	}
}

func NewDriftQueue(client redis.UniversalClient, prefix string, opts ...DriftQueueOption) *DriftQueue {
	q := &DriftQueue{
		client:       client,
		prefix:       prefix,
		capacity:     defaultQueueCapacity,
		pendingTTL:   defaultPendingTTL,
		blockTimeout: defaultBlockTimeout,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

var _ entitlement.DriftQueue = (*DriftQueue)(nil)

func (q *DriftQueue) listKey() string {
	return q.prefix + "drift:queue"
}

func (q *DriftQueue) pendingKey(userID string) string {
	return q.prefix + "drift:pending:" + userID
}

func (q *DriftQueue) Publish(ctx context.Context, report *entitlement.DriftReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode drift report: %w", err)
	}
	res, err := enqueue.Run(ctx, q.client,
		[]string{q.listKey(), q.pendingKey(report.UserID)},
		data, q.capacity, q.pendingTTL.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("enqueue drift report: %w", err)
	}
	if res < 0 {
		return entitlement.ErrQueueFull
	}
	return nil
}

func (q *DriftQueue) Next(ctx context.Context) (*entitlement.DriftReport, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := q.client.BRPop(ctx, q.blockTimeout, q.listKey()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("pop drift report: %w", err)
		}

		// res is [key, value].
		var report entitlement.DriftReport
		if err := json.Unmarshal([]byte(res[1]), &report); err != nil {
			return nil, fmt.Errorf("decode drift report: %w", err)
		}
		if err := q.client.Del(ctx, q.pendingKey(report.UserID)).Err(); err != nil {
			return nil, fmt.Errorf("clear drift marker: %w", err)
		}
		return &report, nil
	}
}

// Len returns the number of queued reports.
func (q *DriftQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.listKey()).Result()
}
