package risk

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of AssessmentStore for demo/test use.
type MemoryStore struct {
	mu          sync.RWMutex
	assessments []*Assessment
}

// NewMemoryStore creates an in-memory risk assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func copyAssessment(a *Assessment) *Assessment {
	cp := *a
	if a.FraudProbability != nil {
		p := *a.FraudProbability
		cp.FraudProbability = &p
	}
	return &cp
}

func (s *MemoryStore) Record(_ context.Context, assessment *Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assessments = append(s.assessments, copyAssessment(assessment))
	return nil
}

func (s *MemoryStore) ListByTransfer(_ context.Context, transferID string) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Assessment
	for _, a := range s.assessments {
		if a.TransferID == transferID {
			result = append(result, copyAssessment(a))
		}
	}
	return result, nil
}

func (s *MemoryStore) ListBySender(_ context.Context, senderAccountID string, limit int) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Most recent first, up to limit
	var result []*Assessment
	for i := len(s.assessments) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		if a := s.assessments[i]; a.SenderAccountID == senderAccountID {
			result = append(result, copyAssessment(a))
		}
	}
	return result, nil
}

func (s *MemoryStore) ListSince(_ context.Context, since time.Time, limit int) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Assessment
	for _, a := range s.assessments {
		if !a.EvaluatedAt.Before(since) {
			result = append(result, copyAssessment(a))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].EvaluatedAt.Before(result[j].EvaluatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
