package clickhouse

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB starts a throwaway ClickHouse container with the snapshot
// schema applied. The returned cleanup closes the connection and terminates
// the container.
func setupTestDB(t *testing.T) (*Conn, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp", "8123/tcp"},
			Env: map[string]string{
				"CLICKHOUSE_DB":       "test",
				"CLICKHOUSE_USER":     "default",
				"CLICKHOUSE_PASSWORD": "",
			},
			// The ready log line can appear before the native port binds.
			WaitingFor: wait.ForAll(
				wait.ForLog("Application: Ready for connections").
					WithStartupTimeout(60*time.Second),
				wait.ForListeningPort("9000/tcp"),
			),
		},
		Started: true,
	})
	require.NoError(t, err, "start clickhouse container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	conn, err := NewConn(ctx, fmt.Sprintf("clickhouse://%s:%s/test", host, port.Port()))
	require.NoError(t, err, "connect")

	createSnapshotTable(t, ctx, conn)

	return conn, func() {
		conn.Close()
		_ = container.Terminate(ctx)
	}
}

// createSnapshotTable applies the market_snapshots DDL. Mirrors the
// embedded clickhouse migration; kept inline so the schema a store test
// runs against is visible next to the test.
func createSnapshotTable(t *testing.T, ctx context.Context, conn *Conn) {
	t.Helper()

	err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS market_snapshots (
			market_id             String,
			timestamp             UInt64,
			supply_apy            Decimal(38,18),
			borrow_apy            Decimal(38,18),
			utilization           Decimal(38,18),
			rate_at_target        Decimal(38,18),
			lltv                  Decimal(38,18),
			collateral_price      Decimal(38,18),
			collateral_price_usd  Decimal(38,18),
			loan_price_usd        Decimal(38,18),
			total_supply_assets   Decimal(38,18),
			total_borrow_assets   Decimal(38,18)
		) ENGINE = MergeTree()
		ORDER BY (market_id, timestamp)
		SETTINGS index_granularity = 8192
	`)
	require.NoError(t, err, "create market_snapshots")
}
