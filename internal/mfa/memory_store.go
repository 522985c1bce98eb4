package mfa

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory challenge store for development and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	challenges map[string]*Challenge
}

// NewMemoryStore creates an in-memory challenge store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{challenges: make(map[string]*Challenge)}
}

func copyChallenge(c *Challenge) *Challenge {
	cp := *c
	if c.VerifiedAt != nil {
		v := *c.VerifiedAt
		cp.VerifiedAt = &v
	}
	return &cp
}

func (s *MemoryStore) Upsert(_ context.Context, c *Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.challenges[c.TransferID]; ok {
		if prev.Status == StatusVerified {
			return ErrAlreadyVerified
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = prev.CreatedAt
		}
	}
	s.challenges[c.TransferID] = copyChallenge(c)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, transferID string) (*Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.challenges[transferID]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	return copyChallenge(c), nil
}

func (s *MemoryStore) Update(_ context.Context, c *Challenge, expectStatus Status, expectAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.challenges[c.TransferID]
	if !ok {
		return ErrChallengeNotFound
	}
	if cur.Status != expectStatus || cur.Attempts != expectAttempts || cur.CodeHash != c.CodeHash {
		return ErrStaleChallenge
	}
	cur.Status = c.Status
	cur.Attempts = c.Attempts
	cur.VerifiedAt = c.VerifiedAt
	cur.UpdatedAt = c.UpdatedAt
	return nil
}

func (s *MemoryStore) ExpirePending(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Challenge
	for _, c := range s.challenges {
		if c.Status == StatusPending && c.ExpiresAt.Before(now) {
			due = append(due, c)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(due[j].ExpiresAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	ids := make([]string, 0, len(due))
	for _, c := range due {
		c.Status = StatusExpired
		c.UpdatedAt = now
		ids = append(ids, c.TransferID)
	}
	return ids, nil
}
