package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"lending-lab/internal/domain"
	"lending-lab/internal/storage"
)

// MarketSnapshotStore is an in-memory implementation of storage.MarketSnapshotStore.
type MarketSnapshotStore struct {
	mu   sync.RWMutex
	data map[string]*domain.MarketState // keyed by (market_id, timestamp)
}

// NewMarketSnapshotStore creates a new in-memory market snapshot store.
func NewMarketSnapshotStore() *MarketSnapshotStore {
	return &MarketSnapshotStore{
		data: make(map[string]*domain.MarketState),
	}
}

// Compile-time interface check.
var _ storage.MarketSnapshotStore = (*MarketSnapshotStore)(nil)

// snapshotKey generates a unique key for a snapshot.
func snapshotKey(marketID string, timestamp int64) string {
	return fmt.Sprintf("%s|%d", marketID, timestamp)
}

// InsertBulk adds multiple snapshots. Fails entire batch on duplicate (market_id, timestamp).
func (s *MarketSnapshotStore) InsertBulk(_ context.Context, states []*domain.MarketState) error {
	if len(states) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[string]struct{}, len(states))

	// First pass: check for duplicates (existing + intra-batch)
	for _, st := range states {
		if st == nil || st.MarketID == "" {
			return storage.ErrInvalidInput
		}
		key := snapshotKey(st.MarketID, st.Timestamp)

		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	// Second pass: insert all
	for _, st := range states {
		key := snapshotKey(st.MarketID, st.Timestamp)
		stateCopy := *st
		s.data[key] = &stateCopy
	}

	return nil
}

// GetByMarketID retrieves all snapshots for a market, ordered by timestamp ASC.
func (s *MarketSnapshotStore) GetByMarketID(_ context.Context, marketID string) ([]*domain.MarketState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.MarketState
	for _, st := range s.data {
		if st.MarketID == marketID {
			stateCopy := *st
			result = append(result, &stateCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp < result[j].Timestamp
	})

	return result, nil
}

// GetByTimeRange retrieves snapshots for a market within [start, end] (inclusive).
func (s *MarketSnapshotStore) GetByTimeRange(_ context.Context, marketID string, start, end int64) ([]*domain.MarketState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.MarketState
	for _, st := range s.data {
		if st.MarketID == marketID && st.Timestamp >= start && st.Timestamp <= end {
			stateCopy := *st
			result = append(result, &stateCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp < result[j].Timestamp
	})

	return result, nil
}

// ListMarketIDs retrieves the distinct market ids present, sorted.
func (s *MarketSnapshotStore) ListMarketIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, st := range s.data {
		seen[st.MarketID] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids, nil
}
