// Package main runs one supply-allocation simulation over stored market
// snapshots and prints the result as a summary or JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"lending-lab/internal/config"
	"lending-lab/internal/domain"
	"lending-lab/internal/ingestion"
	"lending-lab/internal/marketdata"
	"lending-lab/internal/normalization"
	"lending-lab/internal/protocol"
	"lending-lab/internal/sandbox"
	"lending-lab/internal/storage"
	chstore "lending-lab/internal/storage/clickhouse"
	"lending-lab/internal/storage/memory"
	"lending-lab/internal/storage/migrations"
	pgstore "lending-lab/internal/storage/postgres"
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "YAML config file")
	strategy := flag.String("strategy", "", "EQUAL, YIELD_WEIGHTED or WATERFILL (default from config)")
	markets := flag.String("markets", "", "Comma-separated market IDs (default: all configured)")
	capital := flag.String("capital", "10000", "Initial capital in loan-asset units")
	from := flag.Int64("from", 0, "Range start, unix seconds (0 = earliest)")
	to := flag.Int64("to", 0, "Range end, unix seconds (0 = now)")
	intervalHours := flag.Int("interval-hours", 1, "Downsample interval in hours (0 = raw)")
	rebalanceInterval := flag.Int("rebalance-interval", -1, "Periods between rebalances (-1 = config default)")
	periodsPerYear := flag.Int("periods-per-year", 0, "Data periods per year (0 = config default)")
	loanAsset := flag.String("loan-asset", "", "Restrict to markets with this loan asset")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (enables run records)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")
	input := flag.String("input", "", "JSONL frame file to load before simulating")
	asJSON := flag.Bool("json", false, "Print the full result as JSON")
	save := flag.Bool("save", false, "Persist a run record")

	flag.Parse()

	logger := log.New(os.Stderr, "[simulate] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snapshots, runs, cleanup, err := createStores(ctx, *clickhouseDSN, *postgresDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Create stores: %v", err)
	}
	defer cleanup()

	if *input != "" {
		if err := backfill(ctx, snapshots, *input, logger); err != nil {
			logger.Fatalf("Backfill %s: %v", *input, err)
		}
	}

	end := *to
	if end == 0 {
		end = time.Now().Unix()
	}

	provider := marketdata.NewStoreProvider(snapshots)
	marketIDs, err := resolveMarkets(ctx, provider, *markets, cfg)
	if err != nil {
		logger.Fatalf("Resolve markets: %v", err)
	}

	series := make(map[string][]*domain.MarketState, len(marketIDs))
	for _, id := range marketIDs {
		states, err := provider.GetTimeSeries(ctx, id, *from, end, *intervalHours)
		if err != nil {
			logger.Fatalf("Load series for %s: %v", id, err)
		}
		series[id] = states
	}

	ac := cfg.AllocationConfig(marketIDs)
	if *strategy != "" {
		ac.Strategy = *strategy
	}
	if *rebalanceInterval >= 0 {
		ac.RebalanceInterval = *rebalanceInterval
	}
	if *periodsPerYear > 0 {
		ac.PeriodsPerYear = *periodsPerYear
	}
	if *loanAsset != "" {
		ac.LoanAsset = *loanAsset
	}

	initialCapital, err := decimal.NewFromString(*capital)
	if err != nil {
		logger.Fatalf("Invalid --capital %q: %v", *capital, err)
	}

	engineOpts := sandbox.Options{
		Logger:    logger,
		CacheOpts: cfg.CacheOptions(),
		Markets:   cfg.MarketList(),
	}
	if *save {
		if runs == nil {
			logger.Fatal("--save requires --postgres-dsn or --use-memory")
		}
		engineOpts.Runs = runs
	}
	engine := sandbox.New(engineOpts)

	result, err := engine.RunAllocationSimulation(ctx, &ac, series, initialCapital)
	if err != nil {
		logger.Fatalf("Simulation failed: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			logger.Fatalf("Encode result: %v", err)
		}
		return
	}
	printSummary(result, &ac, initialCapital)
}

// resolveMarkets picks the simulated markets: explicit flag, then config
// registry, then whatever the store holds.
func resolveMarkets(ctx context.Context, provider *marketdata.StoreProvider, flagValue string, cfg *config.Config) ([]string, error) {
	if flagValue != "" {
		var ids []string
		for _, id := range strings.Split(flagValue, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		return ids, nil
	}
	if len(cfg.Markets) > 0 {
		ids := make([]string, 0, len(cfg.Markets))
		for _, m := range cfg.Markets {
			ids = append(ids, m.ID)
		}
		return ids, nil
	}
	return provider.ListMarketIDs(ctx)
}

func backfill(ctx context.Context, snapshots storage.MarketSnapshotStore, path string, logger *log.Logger) error {
	b := ingestion.NewBackfiller(ingestion.BackfillOptions{
		Normalizer: normalization.NewRunner(protocol.NewRegistry(), snapshots),
		Snapshots:  snapshots,
		Logger:     logger,
	})
	result, err := b.BackfillFile(ctx, path)
	if err != nil {
		return err
	}
	logger.Printf("Loaded %d snapshots (%d duplicates, %d errors)",
		result.SnapshotsStored, result.DuplicatesSkipped, result.Errors)
	return nil
}

func createStores(ctx context.Context, clickhouseDSN, postgresDSN string, useMemory bool) (storage.MarketSnapshotStore, storage.RunRecordStore, func(), error) {
	if useMemory {
		return memory.NewMarketSnapshotStore(), memory.NewRunRecordStore(), func() {}, nil
	}
	if clickhouseDSN == "" {
		return nil, nil, nil, fmt.Errorf("--clickhouse-dsn is required (or --use-memory)")
	}

	conn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("clickhouse: %w", err)
	}
	snapshots := chstore.NewMarketSnapshotStore(conn)
	cleanup := func() { conn.Close() }

	if postgresDSN == "" {
		return snapshots, nil, cleanup, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		conn.Close()
		return nil, nil, nil, fmt.Errorf("postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		conn.Close()
		return nil, nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}
	return snapshots, pgstore.NewRunRecordStore(pool), func() {
		pool.Close()
		conn.Close()
	}, nil
}

func printSummary(r *domain.AllocationResult, cfg *domain.AllocationConfig, initialCapital decimal.Decimal) {
	hundred := decimal.NewFromInt(100)

	fmt.Printf("Strategy:         %s over %d markets\n", cfg.Strategy, len(cfg.Markets))
	fmt.Printf("Data points:      %d\n", len(r.Points))
	fmt.Printf("Initial capital:  %s\n", initialCapital.StringFixed(2))
	fmt.Printf("Final value:      %s\n", r.FinalValue.StringFixed(2))
	fmt.Printf("Total return:     %s%%\n", r.TotalReturn.Mul(hundred).StringFixed(4))
	fmt.Printf("Benchmark return: %s%%\n", r.BenchmarkReturn.Mul(hundred).StringFixed(4))
	fmt.Printf("Excess return:    %s%%\n", r.ExcessReturn.Mul(hundred).StringFixed(4))
	fmt.Printf("Max drawdown:     %s%%\n", r.MaxDrawdown.Mul(hundred).StringFixed(4))
	fmt.Printf("Sharpe ratio:     %s\n", r.SharpeRatio.StringFixed(4))
	fmt.Printf("Sortino ratio:    %s\n", r.SortinoRatio.StringFixed(4))
	if len(r.Warnings) > 0 {
		fmt.Printf("Convergence warnings: %d\n", len(r.Warnings))
		for _, w := range r.Warnings {
			fmt.Printf("  t=%d iterations=%d gap=%s bps\n", w.Timestamp, w.Iterations, w.GapBps.StringFixed(2))
		}
	}
}
