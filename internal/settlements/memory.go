package settlements

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is the in-process Store used for RUN_LOCAL development and in
// tests. Same conditional-transition semantics as the DynamoDB store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Settlement
	nowFunc func() time.Time
}

// NewMemoryStore returns an empty in-memory settlements store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: map[string]*Settlement{},
		nowFunc: time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, settlement *Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[settlement.DeployHash]; exists {
		return fmt.Errorf("settlement %s already exists", settlement.DeployHash)
	}
	now := s.nowFunc()
	if settlement.CreatedAt.IsZero() {
		settlement.CreatedAt = now
	}
	settlement.UpdatedAt = now
	cp := *settlement
	s.records[settlement.DeployHash] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, deployHash string) (*Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[deployHash]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Transition(_ context.Context, deployHash, expected, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[deployHash]
	if !ok || rec.State != expected {
		return ErrStateMismatch
	}
	rec.State = next
	rec.UpdatedAt = s.nowFunc()
	return nil
}

func (s *MemoryStore) Finalize(_ context.Context, deployHash, expected, next string, cost uint64, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[deployHash]
	if !ok || rec.State != expected {
		return ErrStateMismatch
	}
	rec.State = next
	rec.Cost = cost
	rec.ResultDetail = detail
	rec.UpdatedAt = s.nowFunc()
	return nil
}

func (s *MemoryStore) IncrementAttempts(_ context.Context, deployHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[deployHash]
	if !ok {
		return fmt.Errorf("settlement %s not found", deployHash)
	}
	rec.Attempts++
	rec.UpdatedAt = s.nowFunc()
	return nil
}
