package memory

import (
	"context"
	"sort"
	"sync"

	"lending-lab/internal/domain"
	"lending-lab/internal/storage"
)

// RunRecordStore is an in-memory implementation of storage.RunRecordStore.
type RunRecordStore struct {
	mu   sync.RWMutex
	data map[string]*domain.RunRecord // keyed by run id
}

// NewRunRecordStore creates a new in-memory run record store.
func NewRunRecordStore() *RunRecordStore {
	return &RunRecordStore{
		data: make(map[string]*domain.RunRecord),
	}
}

// Compile-time interface check.
var _ storage.RunRecordStore = (*RunRecordStore)(nil)

// Insert adds a new run record. Returns ErrDuplicateKey if run_id exists.
func (s *RunRecordStore) Insert(_ context.Context, r *domain.RunRecord) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.RunID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[r.RunID] = copyRun(r)

	return nil
}

// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
func (s *RunRecordStore) GetByID(_ context.Context, runID string) (*domain.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyRun(r), nil
}

// GetByConfigID retrieves all runs for a config, ordered by created_at ASC.
func (s *RunRecordStore) GetByConfigID(_ context.Context, configID string) ([]*domain.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RunRecord
	for _, r := range s.data {
		if r.ConfigID == configID {
			result = append(result, copyRun(r))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].RunID < result[j].RunID
	})

	return result, nil
}

// ListRecent retrieves up to limit runs, newest first.
func (s *RunRecordStore) ListRecent(_ context.Context, limit int) ([]*domain.RunRecord, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.RunRecord, 0, len(s.data))
	for _, r := range s.data {
		result = append(result, copyRun(r))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt > result[j].CreatedAt
		}
		return result[i].RunID < result[j].RunID
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// copyRun deep-copies a record so callers cannot mutate stored state.
func copyRun(r *domain.RunRecord) *domain.RunRecord {
	runCopy := *r
	runCopy.MarketIDs = append([]string(nil), r.MarketIDs...)
	runCopy.Result = append([]byte(nil), r.Result...)
	return &runCopy
}
