package clickhouse

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"lending-lab/internal/domain"
	"lending-lab/internal/storage"
)

func testSnapshot(marketID string, ts int64, supplyAPY string) *domain.MarketState {
	return &domain.MarketState{
		MarketID:           marketID,
		Timestamp:          ts,
		SupplyAPY:          decimal.RequireFromString(supplyAPY),
		BorrowAPY:          decimal.RequireFromString("0.045"),
		Utilization:        decimal.RequireFromString("0.91"),
		RateAtTarget:       decimal.RequireFromString("0.04"),
		LLTV:               decimal.RequireFromString("0.86"),
		CollateralPrice:    decimal.RequireFromString("1850.123456789012345678"),
		CollateralPriceUSD: decimal.RequireFromString("1850.12"),
		LoanPriceUSD:       decimal.NewFromInt(1),
		TotalSupplyAssets:  decimal.RequireFromString("1000000"),
		TotalBorrowAssets:  decimal.RequireFromString("910000"),
	}
}

func TestMarketSnapshotStore_InsertAndGet(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMarketSnapshotStore(conn)
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.MarketState{
		testSnapshot("m1", 2000, "0.032"),
		testSnapshot("m1", 1000, "0.031"),
		testSnapshot("m2", 1000, "0.020"),
	})
	require.NoError(t, err)

	got, err := store.GetByMarketID(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, int64(1000), got[0].Timestamp)
	require.Equal(t, int64(2000), got[1].Timestamp)

	// Decimal(38,18) round-trips the full precision
	require.True(t, got[0].CollateralPrice.Equal(decimal.RequireFromString("1850.123456789012345678")),
		"expected full-precision price, got %s", got[0].CollateralPrice)
}

func TestMarketSnapshotStore_GetByTimeRange(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMarketSnapshotStore(conn)
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.MarketState{
		testSnapshot("m1", 1000, "0.01"),
		testSnapshot("m1", 2000, "0.02"),
		testSnapshot("m1", 3000, "0.03"),
	})
	require.NoError(t, err)

	got, err := store.GetByTimeRange(ctx, "m1", 1000, 2000)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestMarketSnapshotStore_DuplicateKey(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMarketSnapshotStore(conn)
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.MarketState{testSnapshot("m1", 1000, "0.01")})
	require.NoError(t, err)

	err = store.InsertBulk(ctx, []*domain.MarketState{testSnapshot("m1", 1000, "0.02")})
	require.ErrorIs(t, err, storage.ErrDuplicateKey)

	err = store.InsertBulk(ctx, []*domain.MarketState{
		testSnapshot("m2", 1000, "0.01"),
		testSnapshot("m2", 1000, "0.02"),
	})
	require.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestMarketSnapshotStore_ListMarketIDs(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMarketSnapshotStore(conn)
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.MarketState{
		testSnapshot("m2", 1000, "0.01"),
		testSnapshot("m1", 1000, "0.01"),
	})
	require.NoError(t, err)

	ids, err := store.ListMarketIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"m1", "m2"}, ids)
}
