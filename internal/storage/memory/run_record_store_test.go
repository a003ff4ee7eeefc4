package memory

import (
	"context"
	"errors"
	"testing"

	"lending-lab/internal/domain"
	"lending-lab/internal/storage"
)

func runRecord(runID, configID string, createdAt int64) *domain.RunRecord {
	return &domain.RunRecord{
		RunID:     runID,
		Kind:      domain.KindAllocation,
		ConfigID:  configID,
		StartTime: 1000,
		EndTime:   2000,
		MarketIDs: []string{"m1", "m2"},
		CreatedAt: createdAt,
		Result:    []byte(`{"version":1,"payload":{}}`),
	}
}

func TestRunRecordStore_InsertAndGet(t *testing.T) {
	s := NewRunRecordStore()
	ctx := context.Background()

	if err := s.Insert(ctx, runRecord("run-1", "cfg-1", 100)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.GetByID(ctx, "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ConfigID != "cfg-1" || len(got.MarketIDs) != 2 {
		t.Errorf("wrong record: %+v", got)
	}

	if err := s.Insert(ctx, runRecord("run-1", "cfg-1", 200)); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if _, err := s.GetByID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRunRecordStore_GetByConfigID(t *testing.T) {
	s := NewRunRecordStore()
	ctx := context.Background()

	for _, r := range []*domain.RunRecord{
		runRecord("run-2", "cfg-1", 200),
		runRecord("run-1", "cfg-1", 100),
		runRecord("run-3", "cfg-2", 150),
	} {
		if err := s.Insert(ctx, r); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got, err := s.GetByConfigID(ctx, "cfg-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].RunID != "run-1" || got[1].RunID != "run-2" {
		t.Errorf("expected created_at order [run-1 run-2], got %d records", len(got))
	}
}

func TestRunRecordStore_ListRecent(t *testing.T) {
	s := NewRunRecordStore()
	ctx := context.Background()

	for _, r := range []*domain.RunRecord{
		runRecord("run-1", "cfg-1", 100),
		runRecord("run-2", "cfg-1", 300),
		runRecord("run-3", "cfg-2", 200),
	} {
		if err := s.Insert(ctx, r); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got, err := s.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].RunID != "run-2" || got[1].RunID != "run-3" {
		t.Errorf("expected newest first [run-2 run-3], got %v", got)
	}

	if _, err := s.ListRecent(ctx, 0); !errors.Is(err, storage.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero limit, got %v", err)
	}
}

func TestRunRecordStore_CopyOnRead(t *testing.T) {
	s := NewRunRecordStore()
	ctx := context.Background()

	if err := s.Insert(ctx, runRecord("run-1", "cfg-1", 100)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := s.GetByID(ctx, "run-1")
	got.MarketIDs[0] = "mutated"
	got.Result[0] = 'X'

	again, _ := s.GetByID(ctx, "run-1")
	if again.MarketIDs[0] != "m1" || again.Result[0] != '{' {
		t.Error("mutating a read result must not affect stored state")
	}
}
