package entitlement

import (
	"context"
	"fmt"
	"sync"
)

// FeatureUsageStore counts how many items of a feature a user already has.
type FeatureUsageStore interface {
	Count(ctx context.Context, userID string, feature Feature) (int64, error)
}

// CounterFunc returns the current item count for one feature.
// Should be fast: cache or aggregate at repository level.
type CounterFunc func(ctx context.Context, userID string) (int64, error)

// CounterRegistry maps a Feature to its CounterFunc and satisfies FeatureUsageStore.
// Not thread-safe: register all counters at startup only.
type CounterRegistry map[Feature]CounterFunc

func NewCounterRegistry() CounterRegistry {
	return make(CounterRegistry)
}

// Register sets or replaces the counter for feature. Panics if fn is nil.
func (r CounterRegistry) Register(feature Feature, fn CounterFunc) {
	if fn == nil {
		panic(fmt.Sprintf("entitlement: CounterFunc for feature %q cannot be nil", feature))
	}
	r[feature] = fn
}

func (r CounterRegistry) Count(ctx context.Context, userID string, feature Feature) (int64, error) {
	fn, ok := r[feature]
	if !ok {
		return 0, fmt.Errorf("%w: no counter for %q", ErrUnknownFeature, feature)
	}
	return fn(ctx, userID)
}

// MemoryUsageStore keeps counts in memory.
type MemoryUsageStore struct {
	mu     sync.RWMutex
	counts map[string]map[Feature]int64
}

func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{counts: make(map[string]map[Feature]int64)}
}

// Set overwrites the count for (userID, feature).
func (s *MemoryUsageStore) Set(userID string, feature Feature, count int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.counts[userID]
	if !ok {
		row = make(map[Feature]int64)
		s.counts[userID] = row
	}
	row[feature] = count
}

func (s *MemoryUsageStore) Count(ctx context.Context, userID string, feature Feature) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[userID][feature], nil
}
