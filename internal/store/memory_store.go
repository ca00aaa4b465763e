package store

import (
	"context"
	"sort"
	"sync"

	"github.com/leadpilot/api/internal/model"
)

// MemoryStore is a mutex-guarded in-process LeadStore. Used when redis is
// not configured and throughout the test suites. Get/List return copies so
// callers never share record memory with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	leads map[string]model.LeadRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{leads: make(map[string]model.LeadRecord)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.LeadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lead, ok := s.leads[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := lead
	return &cp, nil
}

func (s *MemoryStore) List(ctx context.Context, f Filter) ([]*model.LeadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	leads := make([]*model.LeadRecord, 0, len(s.leads))
	for _, lead := range s.leads {
		if f.Matches(&lead) {
			cp := lead
			leads = append(leads, &cp)
		}
	}
	sort.Slice(leads, func(i, j int) bool {
		return leads[i].CreatedAt.Before(leads[j].CreatedAt)
	})
	return leads, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, lead *model.LeadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[lead.ID] = *lead
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leads[id]; !ok {
		return ErrNotFound
	}
	delete(s.leads, id)
	return nil
}
