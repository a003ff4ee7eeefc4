package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"lending-lab/internal/domain"
	"lending-lab/internal/storage"
)

func allocationConfig(id string, createdAt int64) *domain.StrategyConfig {
	return &domain.StrategyConfig{
		ID:        id,
		Name:      "test " + id,
		Kind:      domain.KindAllocation,
		CreatedAt: createdAt,
		Allocation: &domain.AllocationConfig{
			Strategy: domain.StrategyEqual,
			Markets: []domain.MarketLimit{
				{MarketID: "m1", MinWeight: decimal.Zero, MaxWeight: decimal.NewFromInt(1)},
			},
			RebalanceInterval: 1,
		},
	}
}

func TestStrategyConfigStore_InsertAndGet(t *testing.T) {
	s := NewStrategyConfigStore()
	ctx := context.Background()

	if err := s.Insert(ctx, allocationConfig("cfg-1", 100)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.GetByID(ctx, "cfg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "test cfg-1" || got.Kind != domain.KindAllocation {
		t.Errorf("wrong config: %+v", got)
	}
	if got.Allocation == nil || len(got.Allocation.Markets) != 1 {
		t.Error("allocation payload did not round-trip")
	}
}

func TestStrategyConfigStore_Duplicate(t *testing.T) {
	s := NewStrategyConfigStore()
	ctx := context.Background()

	if err := s.Insert(ctx, allocationConfig("cfg-1", 100)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := s.Insert(ctx, allocationConfig("cfg-1", 200))
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestStrategyConfigStore_NotFound(t *testing.T) {
	s := NewStrategyConfigStore()
	_, err := s.GetByID(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStrategyConfigStore_GetByKind(t *testing.T) {
	s := NewStrategyConfigStore()
	ctx := context.Background()

	if err := s.Insert(ctx, allocationConfig("cfg-2", 200)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Insert(ctx, allocationConfig("cfg-1", 100)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Insert(ctx, &domain.StrategyConfig{
		ID:        "cfg-3",
		Kind:      domain.KindRebalancing,
		CreatedAt: 150,
		Rebalancing: &domain.RebalancingConfig{
			MarketIDs: []string{"m1"},
		},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.GetByKind(ctx, domain.KindAllocation)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 allocation configs, got %d", len(got))
	}
	if got[0].ID != "cfg-1" || got[1].ID != "cfg-2" {
		t.Errorf("expected created_at order [cfg-1 cfg-2], got [%s %s]", got[0].ID, got[1].ID)
	}
}

func TestStrategyConfigStore_CopyOnRead(t *testing.T) {
	s := NewStrategyConfigStore()
	ctx := context.Background()

	if err := s.Insert(ctx, allocationConfig("cfg-1", 100)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := s.GetByID(ctx, "cfg-1")
	got.Allocation.Markets[0].MarketID = "mutated"

	again, _ := s.GetByID(ctx, "cfg-1")
	if again.Allocation.Markets[0].MarketID != "m1" {
		t.Error("mutating a read result must not affect stored state")
	}
}
