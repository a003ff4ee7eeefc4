// Package marketdata is the boundary between stored snapshot data and the
// simulation engine. Binaries prefetch series through a Provider, then hand
// the engine plain slices; the engine itself never touches a store.
package marketdata

import (
	"context"
	"fmt"

	"lending-lab/internal/domain"
	"lending-lab/internal/storage"
)

// Provider serves market snapshot time series for simulations.
type Provider interface {
	// GetTimeSeries returns snapshots for a market within [start, end],
	// ordered by timestamp ASC. intervalHours > 0 downsamples the series
	// to at most one snapshot per interval, keeping the earliest in each.
	GetTimeSeries(ctx context.Context, marketID string, start, end int64, intervalHours int) ([]*domain.MarketState, error)

	// ListMarketIDs returns the distinct market ids available, sorted.
	ListMarketIDs(ctx context.Context) ([]string, error)
}

// StoreProvider reads series from a MarketSnapshotStore.
type StoreProvider struct {
	store storage.MarketSnapshotStore
}

var _ Provider = (*StoreProvider)(nil)

// NewStoreProvider creates a provider backed by the given snapshot store.
func NewStoreProvider(store storage.MarketSnapshotStore) *StoreProvider {
	return &StoreProvider{store: store}
}

func (p *StoreProvider) GetTimeSeries(ctx context.Context, marketID string, start, end int64, intervalHours int) ([]*domain.MarketState, error) {
	if marketID == "" {
		return nil, fmt.Errorf("%w: empty market id", storage.ErrInvalidInput)
	}
	if end < start {
		return nil, fmt.Errorf("%w: end %d before start %d", storage.ErrInvalidInput, end, start)
	}

	states, err := p.store.GetByTimeRange(ctx, marketID, start, end)
	if err != nil {
		return nil, fmt.Errorf("get time range for %s: %w", marketID, err)
	}
	if intervalHours <= 0 {
		return states, nil
	}
	return downsample(states, int64(intervalHours)*3600), nil
}

func (p *StoreProvider) ListMarketIDs(ctx context.Context) ([]string, error) {
	return p.store.ListMarketIDs(ctx)
}

// downsample keeps the earliest snapshot in each interval-sized window
// anchored at the first snapshot. Input must be sorted ascending.
func downsample(states []*domain.MarketState, interval int64) []*domain.MarketState {
	if len(states) == 0 {
		return states
	}
	out := make([]*domain.MarketState, 0, len(states))
	anchor := states[0].Timestamp
	lastBucket := int64(-1)
	for _, st := range states {
		bucket := (st.Timestamp - anchor) / interval
		if bucket == lastBucket {
			continue
		}
		out = append(out, st)
		lastBucket = bucket
	}
	return out
}
