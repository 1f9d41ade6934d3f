package account

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-process deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*AccountRecord
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*AccountRecord),
		now:      time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, rec *AccountRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[rec.UserID]; exists {
		return ErrAccountExists
	}

	stored := rec.Clone()
	if stored.Version == 0 {
		stored.Version = 1
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now().UTC()
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	s.accounts[rec.UserID] = stored
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (*AccountRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) GetByBillingRef(ctx context.Context, customerRef string) (*AccountRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.accounts {
		if rec.BillingCustomerRef != nil && *rec.BillingCustomerRef == customerRef {
			return rec.Clone(), nil
		}
	}
	return nil, ErrAccountNotFound
}

func (s *MemoryStore) Update(ctx context.Context, userID string, expectedVersion int64, patch Patch) (*AccountRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if current.Version != expectedVersion {
		return nil, ErrVersionConflict
	}

	next, err := ApplyPatch(current, patch)
	if err != nil {
		return nil, err
	}
	next.Version = current.Version + 1
	next.UpdatedAt = s.now().UTC()

	s.accounts[userID] = next
	return next.Clone(), nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status Tier, afterUserID string, limit int) ([]*AccountRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.accounts))
	for id, rec := range s.accounts {
		if rec.LocalStatus == status && id > afterUserID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]*AccountRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.accounts[id].Clone())
	}
	return out, nil
}
