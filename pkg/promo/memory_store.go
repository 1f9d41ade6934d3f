package promo

import (
	"context"
	"sort"
	"sync"
	"time"
)

type activationKey struct {
	userID string
	code   string
}

// MemoryStore implements CodeStore and ActivationStore in memory.
// ConditionalClaim holds the write lock for the whole compare-and-swap.
type MemoryStore struct {
	mu          sync.RWMutex
	codes       map[string]*Code
	activations map[activationKey]*Activation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		codes:       make(map[string]*Code),
		activations: make(map[activationKey]*Activation),
	}
}

func (s *MemoryStore) CreateCode(ctx context.Context, code *Code) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.Code]; exists {
		return ErrCodeExists
	}
	s.codes[code.Code] = code.Clone()
	return nil
}

func (s *MemoryStore) GetCode(ctx context.Context, code string) (*Code, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.codes[code]
	if !ok {
		return nil, ErrCodeNotFound
	}
	return c.Clone(), nil
}

func (s *MemoryStore) ConditionalClaim(ctx context.Context, code, claimantID string, claimedAt time.Time) (*Code, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[code]
	if !ok {
		return nil, ErrCodeNotFound
	}
	if c.OwnerInfluencerID != nil {
		return nil, ErrAlreadyClaimed
	}

	owner := claimantID
	at := claimedAt.UTC()
	c.OwnerInfluencerID = &owner
	c.ClaimedAt = &at
	return c.Clone(), nil
}

func (s *MemoryStore) CreateActivation(ctx context.Context, activation *Activation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := activationKey{userID: activation.UserID, code: activation.Code}
	if _, exists := s.activations[key]; exists {
		return ErrActivationExists
	}
	s.activations[key] = activation.Clone()
	return nil
}

func (s *MemoryStore) GetActivation(ctx context.Context, userID, code string) (*Activation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.activations[activationKey{userID: userID, code: code}]
	if !ok {
		return nil, ErrActivationNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) ListActivations(ctx context.Context, userID string) ([]*Activation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Activation
	for key, a := range s.activations {
		if key.userID == userID {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Code < out[j].Code
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) UpdateActivationStatus(ctx context.Context, userID, code string, from, to ActivationStatus, at time.Time) (*Activation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.activations[activationKey{userID: userID, code: code}]
	if !ok {
		return nil, ErrActivationNotFound
	}
	if a.Status != from {
		return nil, ErrStatusChanged
	}
	a.Status = to
	a.UpdatedAt = at.UTC()
	return a.Clone(), nil
}
