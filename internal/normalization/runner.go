package normalization

import (
	"context"
	"fmt"

	"lending-lab/internal/domain"
	"lending-lab/internal/protocol"
	"lending-lab/internal/storage"
)

// Engine defines the main normalization interface.
type Engine interface {
	// NormalizeFrames turns raw frames into canonical snapshots and stores
	// them, returning the number of snapshots written.
	NormalizeFrames(ctx context.Context, frames []*Frame) (int, error)
}

// Runner implements Engine over a protocol registry and a snapshot store.
type Runner struct {
	registry  *protocol.Registry
	snapshots storage.MarketSnapshotStore
}

var _ Engine = (*Runner)(nil)

// NewRunner creates a normalization runner.
func NewRunner(registry *protocol.Registry, snapshots storage.MarketSnapshotStore) *Runner {
	return &Runner{
		registry:  registry,
		snapshots: snapshots,
	}
}

// NormalizeFrames processes a batch of raw frames.
// Steps:
//  1. Dispatch each frame through its protocol adapter
//  2. Derive fields the payload did not carry
//  3. Sort by (market_id, timestamp) and drop duplicate keys
//  4. Write the batch to the snapshot store
//
// A frame the registry cannot normalize fails the batch; callers that want
// per-frame tolerance (the live feed) normalize frame by frame instead.
func (r *Runner) NormalizeFrames(ctx context.Context, frames []*Frame) (int, error) {
	if len(frames) == 0 {
		return 0, nil
	}

	states := make([]*domain.MarketState, 0, len(frames))
	for _, f := range frames {
		st, err := r.NormalizeFrame(f)
		if err != nil {
			return 0, err
		}
		states = append(states, st)
	}

	SortStates(states)
	states = DedupeStates(states)

	if err := r.snapshots.InsertBulk(ctx, states); err != nil {
		return 0, fmt.Errorf("store %d snapshots: %w", len(states), err)
	}
	return len(states), nil
}

// NormalizeFrame dispatches one frame through its protocol adapter and
// derives any missing fields. No store write.
func (r *Runner) NormalizeFrame(f *Frame) (*domain.MarketState, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	st, err := r.registry.Normalize(f.Protocol, f.MarketID, f.Timestamp, f.Payload)
	if err != nil {
		return nil, fmt.Errorf("normalize %s frame for %s at %d: %w", f.Protocol, f.MarketID, f.Timestamp, err)
	}
	deriveMissing(st)
	return st, nil
}
