package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"lending-lab/internal/domain"
	"lending-lab/internal/storage"
)

// RunRecordStore implements storage.RunRecordStore using PostgreSQL.
type RunRecordStore struct {
	pool *Pool
}

// NewRunRecordStore creates a new RunRecordStore.
func NewRunRecordStore(pool *Pool) *RunRecordStore {
	return &RunRecordStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RunRecordStore = (*RunRecordStore)(nil)

// Insert adds a new run record. Returns ErrDuplicateKey if run_id exists.
func (s *RunRecordStore) Insert(ctx context.Context, r *domain.RunRecord) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO simulation_runs (
			run_id, kind, config_id, start_time, end_time,
			market_ids, created_at, result
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
		r.RunID, r.Kind, r.ConfigID, r.StartTime, r.EndTime,
		r.MarketIDs, r.CreatedAt, r.Result,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert run record: %w", err)
	}
	return nil
}

// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
func (s *RunRecordStore) GetByID(ctx context.Context, runID string) (*domain.RunRecord, error) {
	query := `
		SELECT run_id, kind, config_id, start_time, end_time,
		       market_ids, created_at, result
		FROM simulation_runs
		WHERE run_id = $1
	`

	r, err := scanRunRecord(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get run record: %w", err)
	}
	return r, nil
}

// GetByConfigID retrieves all runs for a config, ordered by created_at ASC.
func (s *RunRecordStore) GetByConfigID(ctx context.Context, configID string) ([]*domain.RunRecord, error) {
	query := `
		SELECT run_id, kind, config_id, start_time, end_time,
		       market_ids, created_at, result
		FROM simulation_runs
		WHERE config_id = $1
		ORDER BY created_at ASC, run_id ASC
	`

	rows, err := s.pool.Query(ctx, query, configID)
	if err != nil {
		return nil, fmt.Errorf("query runs by config id: %w", err)
	}
	defer rows.Close()

	return scanRunRecords(rows)
}

// ListRecent retrieves up to limit runs, newest first.
func (s *RunRecordStore) ListRecent(ctx context.Context, limit int) ([]*domain.RunRecord, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT run_id, kind, config_id, start_time, end_time,
		       market_ids, created_at, result
		FROM simulation_runs
		ORDER BY created_at DESC, run_id ASC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	return scanRunRecords(rows)
}

// scanRunRecord scans a single row.
func scanRunRecord(row pgx.Row) (*domain.RunRecord, error) {
	var r domain.RunRecord
	err := row.Scan(
		&r.RunID, &r.Kind, &r.ConfigID, &r.StartTime, &r.EndTime,
		&r.MarketIDs, &r.CreatedAt, &r.Result,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// scanRunRecords scans multiple rows.
func scanRunRecords(rows pgx.Rows) ([]*domain.RunRecord, error) {
	var records []*domain.RunRecord
	for rows.Next() {
		r, err := scanRunRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run record row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run record rows: %w", err)
	}
	return records, nil
}
