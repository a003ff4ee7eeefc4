package postgres

import (
	"context"
	"fmt"

	"lending-lab/internal/domain"
	"lending-lab/internal/storage"
)

// StrategyConfigStore implements storage.StrategyConfigStore using PostgreSQL.
// The config payload lives in a JSONB column as the versioned envelope, so
// decimal fields round-trip as quoted strings with no precision loss.
type StrategyConfigStore struct {
	pool *Pool
}

// NewStrategyConfigStore creates a new StrategyConfigStore.
func NewStrategyConfigStore(pool *Pool) *StrategyConfigStore {
	return &StrategyConfigStore{pool: pool}
}

// Compile-time interface check.
var _ storage.StrategyConfigStore = (*StrategyConfigStore)(nil)

// Insert adds a new config. Returns ErrDuplicateKey if the id exists.
func (s *StrategyConfigStore) Insert(ctx context.Context, c *domain.StrategyConfig) error {
	if c == nil || c.ID == "" {
		return storage.ErrInvalidInput
	}

	payload, err := domain.MarshalStrategyConfig(c)
	if err != nil {
		return fmt.Errorf("marshal strategy config: %w", err)
	}

	query := `
		INSERT INTO strategy_configs (id, name, kind, created_at, payload)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err = s.pool.Exec(ctx, query, c.ID, c.Name, c.Kind, c.CreatedAt, payload)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert strategy config: %w", err)
	}
	return nil
}

// GetByID retrieves a config by its ID. Returns ErrNotFound if not exists.
func (s *StrategyConfigStore) GetByID(ctx context.Context, id string) (*domain.StrategyConfig, error) {
	query := `SELECT payload FROM strategy_configs WHERE id = $1`

	var payload []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(&payload)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get strategy config: %w", err)
	}

	c, err := domain.UnmarshalStrategyConfig(payload)
	if err != nil {
		return nil, fmt.Errorf("unmarshal strategy config %s: %w", id, err)
	}
	return c, nil
}

// GetByKind retrieves all configs of a kind, ordered by created_at ASC.
func (s *StrategyConfigStore) GetByKind(ctx context.Context, kind string) ([]*domain.StrategyConfig, error) {
	query := `
		SELECT payload FROM strategy_configs
		WHERE kind = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, kind)
	if err != nil {
		return nil, fmt.Errorf("query configs by kind: %w", err)
	}
	defer rows.Close()

	var configs []*domain.StrategyConfig
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan strategy config row: %w", err)
		}
		c, err := domain.UnmarshalStrategyConfig(payload)
		if err != nil {
			return nil, fmt.Errorf("unmarshal strategy config: %w", err)
		}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate strategy config rows: %w", err)
	}

	return configs, nil
}
