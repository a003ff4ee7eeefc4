package simulation

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"lending-lab/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// flatSeries builds a constant-APY series for one market over n periods.
func flatSeries(marketID string, supplyAPY string, n int) []*domain.MarketState {
	states := make([]*domain.MarketState, n)
	for i := 0; i < n; i++ {
		states[i] = &domain.MarketState{
			MarketID:  marketID,
			Timestamp: int64(1000 * (i + 1)),
			SupplyAPY: dec(supplyAPY),
		}
	}
	return states
}

func twoMarketConfig(strategy string, interval int) *domain.AllocationConfig {
	return &domain.AllocationConfig{
		Strategy: strategy,
		Markets: []domain.MarketLimit{
			{MarketID: "m1", MinWeight: decimal.Zero, MaxWeight: dec("1")},
			{MarketID: "m2", MinWeight: decimal.Zero, MaxWeight: dec("1")},
		},
		RebalanceInterval: interval,
		PeriodsPerYear:    1,
	}
}

func TestRun_NormativeTwoPeriodScenario(t *testing.T) {
	// Two markets at 5% and 10% per period, equal weights, rebalance every
	// period, $100: value is 107.50 after period 1 and 115.5625 after 2.
	cfg := twoMarketConfig(domain.StrategyEqual, 1)
	series := map[string][]*domain.MarketState{
		"m1": flatSeries("m1", "0.05", 2),
		"m2": flatSeries("m2", "0.10", 2),
	}

	res, err := New(nil).Run(context.Background(), cfg, series, dec("100"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(res.Points))
	}
	if !res.Points[0].PortfolioValue.Equal(dec("107.5")) {
		t.Errorf("period 1: expected 107.5, got %s", res.Points[0].PortfolioValue)
	}
	if !res.Points[1].PortfolioValue.Equal(dec("115.5625")) {
		t.Errorf("period 2: expected 115.5625, got %s", res.Points[1].PortfolioValue)
	}
	if !res.Points[0].PeriodReturn.Equal(dec("0.075")) {
		t.Errorf("expected period return 0.075, got %s", res.Points[0].PeriodReturn)
	}
	if !res.TotalReturn.Equal(dec("0.155625")) {
		t.Errorf("expected total return 0.155625, got %s", res.TotalReturn)
	}
}

func TestRun_BenchmarkNeverRebalances(t *testing.T) {
	// The drifting equal-hold benchmark beats per-period equal rebalancing
	// when returns diverge: 115.625 vs 115.5625 on the two-period scenario.
	cfg := twoMarketConfig(domain.StrategyEqual, 1)
	series := map[string][]*domain.MarketState{
		"m1": flatSeries("m1", "0.05", 2),
		"m2": flatSeries("m2", "0.10", 2),
	}

	res, err := New(nil).Run(context.Background(), cfg, series, dec("100"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.BenchmarkReturn.Equal(dec("0.15625")) {
		t.Errorf("expected benchmark return 0.15625, got %s", res.BenchmarkReturn)
	}
	if !res.ExcessReturn.Equal(dec("-0.000625")) {
		t.Errorf("expected excess return -0.000625, got %s", res.ExcessReturn)
	}
}

func TestRun_WeightsDriftBetweenRebalances(t *testing.T) {
	// Interval 0: initial allocation only. The faster market's weight grows.
	cfg := twoMarketConfig(domain.StrategyEqual, 0)
	series := map[string][]*domain.MarketState{
		"m1": flatSeries("m1", "0.05", 3),
		"m2": flatSeries("m2", "0.50", 3),
	}

	res, err := New(nil).Run(context.Background(), cfg, series, dec("100"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Points[0].Weights["m2"].Equal(dec("0.5")) {
		t.Errorf("expected initial weight 0.5, got %s", res.Points[0].Weights["m2"])
	}
	last := res.Points[2].Weights
	if !last["m2"].GreaterThan(last["m1"]) {
		t.Errorf("expected the faster market's weight to drift up: m1=%s m2=%s", last["m1"], last["m2"])
	}
}

func TestRun_WeightInvariantsEveryStep(t *testing.T) {
	cfg := &domain.AllocationConfig{
		Strategy: domain.StrategyYieldWeighted,
		Markets: []domain.MarketLimit{
			{MarketID: "m1", MinWeight: dec("0.1"), MaxWeight: dec("0.6")},
			{MarketID: "m2", MinWeight: dec("0.2"), MaxWeight: dec("0.9")},
		},
		RebalanceInterval: 2,
		PeriodsPerYear:    1,
	}
	series := map[string][]*domain.MarketState{
		"m1": flatSeries("m1", "0.08", 6),
		"m2": flatSeries("m2", "0.03", 6),
	}

	res, err := New(nil).Run(context.Background(), cfg, series, dec("1000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tolerance := dec("0.000001")
	for i, p := range res.Points {
		sum := decimal.Zero
		for _, w := range p.Weights {
			sum = sum.Add(w)
		}
		if sum.Sub(dec("1")).Abs().GreaterThan(tolerance) {
			t.Errorf("step %d: weights sum to %s", i, sum)
		}
		// Bounds only bind at rebalance boundaries; drift may cross them
		if i%2 == 0 {
			for _, m := range cfg.Markets {
				w := p.Weights[m.MarketID]
				if w.LessThan(m.MinWeight.Sub(tolerance)) || w.GreaterThan(m.MaxWeight.Add(tolerance)) {
					t.Errorf("step %d: market %s weight %s outside [%s, %s]",
						i, m.MarketID, w, m.MinWeight, m.MaxWeight)
				}
			}
		}
	}
}

func TestRun_GapInSeriesFails(t *testing.T) {
	cfg := twoMarketConfig(domain.StrategyEqual, 1)
	m2 := flatSeries("m2", "0.10", 3)
	m2 = append(m2[:1], m2[2:]...) // drop the middle point
	series := map[string][]*domain.MarketState{
		"m1": flatSeries("m1", "0.05", 3),
		"m2": m2,
	}

	_, err := New(nil).Run(context.Background(), cfg, series, dec("100"))
	if !errors.Is(err, ErrMissingMarketData) {
		t.Fatalf("expected ErrMissingMarketData, got %v", err)
	}
}

func TestRun_MissingMarketFails(t *testing.T) {
	cfg := twoMarketConfig(domain.StrategyEqual, 1)
	series := map[string][]*domain.MarketState{
		"m1": flatSeries("m1", "0.05", 2),
	}
	_, err := New(nil).Run(context.Background(), cfg, series, dec("100"))
	if !errors.Is(err, ErrMissingMarketData) {
		t.Fatalf("expected ErrMissingMarketData, got %v", err)
	}
}

func TestRun_InvalidConfigRejectedBeforeSimulation(t *testing.T) {
	cfg := twoMarketConfig("MOMENTUM", 1)
	_, err := New(nil).Run(context.Background(), cfg, nil, dec("100"))
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	cfg = twoMarketConfig(domain.StrategyEqual, 1)
	_, err = New(nil).Run(context.Background(), cfg, nil, decimal.Zero)
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for zero capital, got %v", err)
	}
}

func TestRun_CancellationDiscardsPartialResult(t *testing.T) {
	cfg := twoMarketConfig(domain.StrategyEqual, 1)
	series := map[string][]*domain.MarketState{
		"m1": flatSeries("m1", "0.05", 100),
		"m2": flatSeries("m2", "0.10", 100),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := New(nil).Run(ctx, cfg, series, dec("100"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res != nil {
		t.Fatal("expected no partial result after cancellation")
	}
}

func TestRun_Deterministic(t *testing.T) {
	cfg := &domain.AllocationConfig{
		Strategy: domain.StrategyWaterfill,
		Markets: []domain.MarketLimit{
			{MarketID: "m1", MinWeight: dec("0.05"), MaxWeight: dec("0.8")},
			{MarketID: "m2", MinWeight: dec("0.05"), MaxWeight: dec("0.8")},
		},
		RebalanceInterval: 3,
		PeriodsPerYear:    8760,
	}
	series := map[string][]*domain.MarketState{
		"m1": flatSeries("m1", "0.04", 24),
		"m2": flatSeries("m2", "0.06", 24),
	}

	first, err := New(nil).Run(context.Background(), cfg, series, dec("100000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := New(nil).Run(context.Background(), cfg, series, dec("100000"))
		if err != nil {
			t.Fatalf("run %d: unexpected error: %v", i, err)
		}
		if !again.FinalValue.Equal(first.FinalValue) {
			t.Fatalf("run %d: final value drift %s vs %s", i, again.FinalValue, first.FinalValue)
		}
		if !again.SharpeRatio.Equal(first.SharpeRatio) {
			t.Fatalf("run %d: sharpe drift", i)
		}
	}
}

func TestRun_SingleMarket(t *testing.T) {
	cfg := &domain.AllocationConfig{
		Strategy: domain.StrategyEqual,
		Markets: []domain.MarketLimit{
			{MarketID: "m1", MinWeight: decimal.Zero, MaxWeight: dec("1")},
		},
		RebalanceInterval: 1,
		PeriodsPerYear:    1,
	}
	series := map[string][]*domain.MarketState{
		"m1": flatSeries("m1", "0.10", 1),
	}
	res, err := New(nil).Run(context.Background(), cfg, series, dec("100"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.FinalValue.Equal(dec("110")) {
		t.Errorf("expected 110, got %s", res.FinalValue)
	}
	// One period: ratios undefined, excess return zero against itself
	if !res.ExcessReturn.IsZero() {
		t.Errorf("expected zero excess vs identical benchmark, got %s", res.ExcessReturn)
	}
}
