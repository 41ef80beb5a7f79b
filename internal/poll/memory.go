package poll

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps polls in process memory. It backs tests and single-node
// deployments that don't need history to survive a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	polls map[string]*Poll
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{polls: make(map[string]*Poll)}
}

func (s *MemoryStore) Create(ctx context.Context, p *Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.polls[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) FindActive(ctx context.Context) (*Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *Poll
	for _, p := range s.polls {
		if !p.Active {
			continue
		}
		if newest == nil || p.CreatedAt.After(newest.CreatedAt) {
			newest = p
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	return newest.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, p *Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) ListRecent(ctx context.Context, limit int) ([]*Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Poll, 0, len(s.polls))
	for _, p := range s.polls {
		all = append(all, p.Clone())
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
