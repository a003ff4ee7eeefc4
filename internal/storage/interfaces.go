package storage

import (
	"context"

	"lending-lab/internal/domain"
)

// MarketSnapshotStore provides access to market snapshot time series.
type MarketSnapshotStore interface {
	// InsertBulk adds multiple snapshots. Fails entire batch on duplicate
	// (market_id, timestamp).
	InsertBulk(ctx context.Context, states []*domain.MarketState) error

	// GetByMarketID retrieves all snapshots for a market, ordered by timestamp ASC.
	GetByMarketID(ctx context.Context, marketID string) ([]*domain.MarketState, error)

	// GetByTimeRange retrieves snapshots for a market within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, marketID string, start, end int64) ([]*domain.MarketState, error)

	// ListMarketIDs retrieves the distinct market ids present, sorted.
	ListMarketIDs(ctx context.Context) ([]string, error)
}

// StrategyConfigStore provides access to strategy_configs storage.
type StrategyConfigStore interface {
	// Insert adds a new config. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, c *domain.StrategyConfig) error

	// GetByID retrieves a config by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.StrategyConfig, error)

	// GetByKind retrieves all configs of a kind, ordered by created_at ASC.
	GetByKind(ctx context.Context, kind string) ([]*domain.StrategyConfig, error)
}

// RunRecordStore provides access to simulation_runs storage.
type RunRecordStore interface {
	// Insert adds a new run record. Returns ErrDuplicateKey if run_id exists.
	Insert(ctx context.Context, r *domain.RunRecord) error

	// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, runID string) (*domain.RunRecord, error)

	// GetByConfigID retrieves all runs for a config, ordered by created_at ASC.
	GetByConfigID(ctx context.Context, configID string) ([]*domain.RunRecord, error)

	// ListRecent retrieves up to limit runs, newest first.
	ListRecent(ctx context.Context, limit int) ([]*domain.RunRecord, error)
}
