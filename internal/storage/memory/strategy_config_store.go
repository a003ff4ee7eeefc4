package memory

import (
	"context"
	"sort"
	"sync"

	"lending-lab/internal/domain"
	"lending-lab/internal/storage"
)

// StrategyConfigStore is an in-memory implementation of storage.StrategyConfigStore.
type StrategyConfigStore struct {
	mu   sync.RWMutex
	data map[string]*domain.StrategyConfig // keyed by config id
}

// NewStrategyConfigStore creates a new in-memory strategy config store.
func NewStrategyConfigStore() *StrategyConfigStore {
	return &StrategyConfigStore{
		data: make(map[string]*domain.StrategyConfig),
	}
}

// Compile-time interface check.
var _ storage.StrategyConfigStore = (*StrategyConfigStore)(nil)

// Insert adds a new config. Returns ErrDuplicateKey if the id exists.
func (s *StrategyConfigStore) Insert(_ context.Context, c *domain.StrategyConfig) error {
	if c == nil || c.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[c.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[c.ID] = copyConfig(c)

	return nil
}

// GetByID retrieves a config by its ID. Returns ErrNotFound if not exists.
func (s *StrategyConfigStore) GetByID(_ context.Context, id string) (*domain.StrategyConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyConfig(c), nil
}

// GetByKind retrieves all configs of a kind, ordered by created_at ASC.
func (s *StrategyConfigStore) GetByKind(_ context.Context, kind string) ([]*domain.StrategyConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.StrategyConfig
	for _, c := range s.data {
		if c.Kind == kind {
			result = append(result, copyConfig(c))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// copyConfig deep-copies the envelope so callers cannot mutate stored state.
func copyConfig(c *domain.StrategyConfig) *domain.StrategyConfig {
	configCopy := *c
	if c.Allocation != nil {
		alloc := *c.Allocation
		alloc.Markets = append([]domain.MarketLimit(nil), c.Allocation.Markets...)
		configCopy.Allocation = &alloc
	}
	if c.Rebalancing != nil {
		reb := *c.Rebalancing
		reb.MarketIDs = append([]string(nil), c.Rebalancing.MarketIDs...)
		configCopy.Rebalancing = &reb
	}
	return &configCopy
}
