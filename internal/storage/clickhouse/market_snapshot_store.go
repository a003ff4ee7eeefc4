package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"lending-lab/internal/domain"
	"lending-lab/internal/storage"
)

// MarketSnapshotStore implements storage.MarketSnapshotStore using ClickHouse.
// Snapshots land in a MergeTree ordered by (market_id, timestamp) with all
// rates and prices in Decimal(38,18) columns.
type MarketSnapshotStore struct {
	conn *Conn
}

// NewMarketSnapshotStore creates a new MarketSnapshotStore.
func NewMarketSnapshotStore(conn *Conn) *MarketSnapshotStore {
	return &MarketSnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.MarketSnapshotStore = (*MarketSnapshotStore)(nil)

// InsertBulk adds multiple snapshots. Fails entire batch on duplicate
// (market_id, timestamp). MergeTree does not enforce uniqueness, so the
// store checks explicitly before the batch goes out.
func (s *MarketSnapshotStore) InsertBulk(ctx context.Context, states []*domain.MarketState) error {
	if len(states) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		marketID  string
		timestamp int64
	}
	seen := make(map[key]struct{}, len(states))
	for _, st := range states {
		if st == nil || st.MarketID == "" {
			return storage.ErrInvalidInput
		}
		k := key{st.MarketID, st.Timestamp}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing rows
	for _, st := range states {
		exists, err := s.exists(ctx, st.MarketID, st.Timestamp)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO market_snapshots (
			market_id, timestamp, supply_apy, borrow_apy, utilization,
			rate_at_target, lltv, collateral_price, collateral_price_usd,
			loan_price_usd, total_supply_assets, total_borrow_assets
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, st := range states {
		err = batch.Append(
			st.MarketID, uint64(st.Timestamp), st.SupplyAPY, st.BorrowAPY, st.Utilization,
			st.RateAtTarget, st.LLTV, st.CollateralPrice, st.CollateralPriceUSD,
			st.LoanPriceUSD, st.TotalSupplyAssets, st.TotalBorrowAssets,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByMarketID retrieves all snapshots for a market, ordered by timestamp ASC.
func (s *MarketSnapshotStore) GetByMarketID(ctx context.Context, marketID string) ([]*domain.MarketState, error) {
	query := `
		SELECT market_id, timestamp, supply_apy, borrow_apy, utilization,
		       rate_at_target, lltv, collateral_price, collateral_price_usd,
		       loan_price_usd, total_supply_assets, total_borrow_assets
		FROM market_snapshots
		WHERE market_id = ?
		ORDER BY timestamp ASC
	`

	rows, err := s.conn.Query(ctx, query, marketID)
	if err != nil {
		return nil, fmt.Errorf("query by market id: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// GetByTimeRange retrieves snapshots for a market within [start, end] (inclusive).
func (s *MarketSnapshotStore) GetByTimeRange(ctx context.Context, marketID string, start, end int64) ([]*domain.MarketState, error) {
	query := `
		SELECT market_id, timestamp, supply_apy, borrow_apy, utilization,
		       rate_at_target, lltv, collateral_price, collateral_price_usd,
		       loan_price_usd, total_supply_assets, total_borrow_assets
		FROM market_snapshots
		WHERE market_id = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`

	rows, err := s.conn.Query(ctx, query, marketID, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// ListMarketIDs retrieves the distinct market ids present, sorted.
func (s *MarketSnapshotStore) ListMarketIDs(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT market_id FROM market_snapshots ORDER BY market_id ASC`

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query market ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan market id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate market ids: %w", err)
	}
	return ids, nil
}

// exists checks if a snapshot with the given key exists.
func (s *MarketSnapshotStore) exists(ctx context.Context, marketID string, timestamp int64) (bool, error) {
	query := `
		SELECT count(*) FROM market_snapshots
		WHERE market_id = ? AND timestamp = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, marketID, uint64(timestamp)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanSnapshots scans multiple rows.
func scanSnapshots(rows driver.Rows) ([]*domain.MarketState, error) {
	var states []*domain.MarketState

	for rows.Next() {
		var st domain.MarketState
		var timestamp uint64

		err := rows.Scan(
			&st.MarketID, &timestamp, &st.SupplyAPY, &st.BorrowAPY, &st.Utilization,
			&st.RateAtTarget, &st.LLTV, &st.CollateralPrice, &st.CollateralPriceUSD,
			&st.LoanPriceUSD, &st.TotalSupplyAssets, &st.TotalBorrowAssets,
		)
		if err != nil {
			return nil, fmt.Errorf("scan market snapshot row: %w", err)
		}

		st.Timestamp = int64(timestamp)
		states = append(states, &st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate market snapshot rows: %w", err)
	}

	return states, nil
}
