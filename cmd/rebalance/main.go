// Package main runs one debt-rebalancing simulation over stored market
// snapshots and prints events, the stress table and the run metrics.
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
	markets := flag.String("markets", "", "Comma-separated market IDs (default: all configured)")
	debt := flag.String("debt", "", "Total debt in loan-asset units (required)")
	collateral := flag.String("collateral", "", "Total collateral in collateral units (required)")
	collateralAsset := flag.String("collateral-asset", "", "Collateral token symbol")
	loanAsset := flag.String("loan-asset", "", "Loan token symbol")
	from := flag.Int64("from", 0, "Range start, unix seconds (0 = earliest)")
	to := flag.Int64("to", 0, "Range end, unix seconds (0 = now)")
	intervalHours := flag.Int("interval-hours", 1, "Downsample interval in hours (0 = raw)")
	intervalSteps := flag.Int("interval-steps", -1, "Rebalance every N steps (-1 = config default, 0 = disabled)")
	rateThresholdBps := flag.String("rate-threshold-bps", "", "Rebalance on rate moves above this, in bps")
	minHF := flag.String("min-hf", "", "Minimum health factor when sizing moves")
	marginCall := flag.String("margin-call", "", "Margin call threshold")
	maxShare := flag.String("max-share", "", "Maximum per-market share of book debt")
	gasCost := flag.String("gas-cost", "", "Flat cost per executed move, USD")
	slippageBps := flag.String("slippage-bps", "", "Proportional cost per executed move, bps")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (enables run records)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")
	input := flag.String("input", "", "JSONL frame file to load before simulating")
	asJSON := flag.Bool("json", false, "Print the full result as JSON")
	save := flag.Bool("save", false, "Persist a run record")

	flag.Parse()

	logger := log.New(os.Stderr, "[rebalance] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Load config: %v", err)
	}
	if *debt == "" || *collateral == "" {
		logger.Fatal("--debt and --collateral are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snapshots, runs, cleanup, err := createStores(ctx, *clickhouseDSN, *postgresDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Create stores: %v", err)
	}
	defer cleanup()

	if *input != "" {
		b := ingestion.NewBackfiller(ingestion.BackfillOptions{
			Normalizer: normalization.NewRunner(protocol.NewRegistry(), snapshots),
			Snapshots:  snapshots,
			Logger:     logger,
		})
		if _, err := b.BackfillFile(ctx, *input); err != nil {
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

	rc := cfg.RebalancingConfig(marketIDs)
	rc.TotalDebt = mustDecimal(logger, "--debt", *debt)
	rc.TotalCollateral = mustDecimal(logger, "--collateral", *collateral)
	if *collateralAsset != "" {
		rc.CollateralAsset = *collateralAsset
	}
	if *loanAsset != "" {
		rc.LoanAsset = *loanAsset
	}
	if *intervalSteps >= 0 {
		rc.IntervalSteps = *intervalSteps
	}
	overrideDecimal(logger, &rc.RateThresholdBps, "--rate-threshold-bps", *rateThresholdBps)
	overrideDecimal(logger, &rc.MinHealthFactor, "--min-hf", *minHF)
	overrideDecimal(logger, &rc.MarginCallThreshold, "--margin-call", *marginCall)
	overrideDecimal(logger, &rc.MaxMarketShare, "--max-share", *maxShare)
	overrideDecimal(logger, &rc.GasCostUSD, "--gas-cost", *gasCost)
	overrideDecimal(logger, &rc.SlippageBps, "--slippage-bps", *slippageBps)

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

	result, err := engine.RunDebtSimulation(ctx, &rc, series, nil)
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
	printResult(result)
}

func mustDecimal(logger *log.Logger, name, value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		logger.Fatalf("Invalid %s %q: %v", name, value, err)
	}
	return d
}

func overrideDecimal(logger *log.Logger, dst *decimal.Decimal, name, value string) {
	if value == "" {
		return
	}
	*dst = mustDecimal(logger, name, value)
}

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

func printResult(r *domain.SimulationResult) {
	hundred := decimal.NewFromInt(100)
	m := r.Metrics

	fmt.Printf("Simulated %s days over %d data points\n",
		m.SimulationDays.StringFixed(1), m.DataPoints)
	fmt.Println()

	fmt.Println("Metrics:")
	fmt.Printf("  Interest paid:      %s (benchmark %s)\n",
		m.TotalInterestPaid.StringFixed(2), m.BenchmarkInterestPaid.StringFixed(2))
	fmt.Printf("  Interest savings:   %s (%s%%)\n",
		m.InterestSavings.StringFixed(2), m.InterestSavingsPct.Mul(hundred).StringFixed(2))
	fmt.Printf("  Rebalances:         %d, total cost %s\n",
		m.RebalanceCount, m.TotalRebalanceCost.StringFixed(2))
	fmt.Printf("  Net savings:        %s (annualized %s)\n",
		m.NetSavings.StringFixed(2), m.AnnualizedSavings.StringFixed(2))
	fmt.Printf("  Weighted APY:       avg %s%% min %s%% max %s%% (benchmark %s%%)\n",
		m.AvgWeightedAPY.Mul(hundred).StringFixed(2),
		m.MinWeightedAPY.Mul(hundred).StringFixed(2),
		m.MaxWeightedAPY.Mul(hundred).StringFixed(2),
		m.BenchmarkAvgAPY.Mul(hundred).StringFixed(2))
	fmt.Printf("  Min health factor:  %s\n", m.MinHealthFactor.StringFixed(4))

	if len(r.Events) > 0 {
		fmt.Println()
		fmt.Printf("Events (%d):\n", len(r.Events))
		for _, ev := range r.Events {
			switch ev.Type {
			case domain.EventRebalance:
				fmt.Printf("  t=%d %s: %s -> %s debt=%s rate %s%% -> %s%%\n",
					ev.Timestamp, ev.Type, ev.FromMarketID, ev.ToMarketID,
					ev.DebtMoved.StringFixed(2),
					ev.FromRate.Mul(hundred).StringFixed(2),
					ev.ToRate.Mul(hundred).StringFixed(2))
			default:
				fmt.Printf("  t=%d %s: %s hf=%s\n",
					ev.Timestamp, ev.Type, ev.MarketID, ev.HealthFactor.StringFixed(4))
			}
		}
	}

	if len(r.RiskTable) > 0 {
		fmt.Println()
		fmt.Println("Stress table:")
		for _, row := range r.RiskTable {
			fmt.Printf("  price -%s%%: HF %s\n",
				row.DropPct.Mul(hundred).StringFixed(0), row.HealthFactor.StringFixed(4))
		}
	}

	if len(r.Opportunities) > 0 {
		fmt.Println()
		fmt.Println("Open opportunities:")
		for _, op := range r.Opportunities {
			fmt.Printf("  %s -> %s: debt=%s diff=%s bps net30d=%s breakeven=%s days\n",
				op.FromMarketID, op.ToMarketID, op.DebtAmount.StringFixed(2),
				op.RateDiffBps.StringFixed(1), op.Net30DBenefit.StringFixed(2),
				op.BreakevenDays.StringFixed(1))
		}
	}
}
