// Package simulation drives an allocation policy over a historical series
// of market states, producing a portfolio value and weight history plus a
// benchmark comparison. Runs are synchronous and deterministic: identical
// inputs always produce identical results.
package simulation

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"lending-lab/internal/analytics"
	"lending-lab/internal/domain"
	"lending-lab/internal/lookup"
	"lending-lab/internal/strategy"
)

// ErrMissingMarketData indicates a gap in an eligible market's series at a
// required timestamp. Fatal: the run aborts rather than silently skipping a
// period, which would bias results.
var ErrMissingMarketData = lookup.ErrMissingMarketData

var one = decimal.NewFromInt(1)

// Simulator runs allocation policies over aligned market series.
type Simulator struct {
	analytics *analytics.Provider
}

// New creates a Simulator.
func New(provider *analytics.Provider) *Simulator {
	if provider == nil {
		provider = analytics.New()
	}
	return &Simulator{analytics: provider}
}

// Run simulates the configured policy over the series and returns the
// complete immutable result, or fails with no partial result. The context
// is checked once per simulated step; cancellation discards everything.
func (s *Simulator) Run(ctx context.Context, cfg *domain.AllocationConfig, series map[string][]*domain.MarketState, initialCapital decimal.Decimal) (*domain.AllocationResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !initialCapital.IsPositive() {
		return nil, fmt.Errorf("%w: non-positive initial capital %s", domain.ErrInvalidConfig, initialCapital)
	}
	norm := cfg.Normalized()

	policy, err := strategy.FromConfig(&norm)
	if err != nil {
		return nil, err
	}

	timeline, byMarket, err := alignSeries(norm.Markets, series)
	if err != nil {
		return nil, err
	}

	points, warnings, err := s.simulate(ctx, &norm, policy, timeline, byMarket, initialCapital)
	if err != nil {
		return nil, err
	}

	// Benchmark: equal weights at the start, never rebalanced again
	benchCfg := norm
	benchCfg.Strategy = domain.StrategyEqual
	benchCfg.RebalanceInterval = 0
	benchPoints, _, err := s.simulate(ctx, &benchCfg, strategy.NewEqualPolicy(), timeline, byMarket, initialCapital)
	if err != nil {
		return nil, err
	}

	return s.buildResult(&norm, points, benchPoints, warnings, initialCapital)
}

// simulate runs one policy pass over the aligned timeline.
func (s *Simulator) simulate(
	ctx context.Context,
	cfg *domain.AllocationConfig,
	policy strategy.Policy,
	timeline []int64,
	byMarket map[string]map[int64]*domain.MarketState,
	initialCapital decimal.Decimal,
) ([]domain.AllocationPoint, []domain.ConvergenceWarning, error) {
	periods := decimal.NewFromInt(int64(cfg.PeriodsPerYear))
	values := make(map[string]decimal.Decimal, len(cfg.Markets))
	var warnings []domain.ConvergenceWarning
	points := make([]domain.AllocationPoint, 0, len(timeline))
	totalValue := initialCapital

	for i, ts := range timeline {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		states := make([]*domain.MarketState, len(cfg.Markets))
		for j, m := range cfg.Markets {
			states[j] = byMarket[m.MarketID][ts]
		}

		if i == 0 || (cfg.RebalanceInterval > 0 && i%cfg.RebalanceInterval == 0) {
			input := &strategy.PolicyInput{
				Timestamp: ts,
				States:    states,
				Limits:    cfg.Markets,
				Capital:   totalValue,
			}
			weights, warn, err := policy.Allocate(input)
			if err != nil {
				return nil, nil, err
			}
			if warn != nil {
				warnings = append(warnings, *warn)
			}
			for _, m := range cfg.Markets {
				values[m.MarketID] = totalValue.Mul(weights[m.MarketID])
			}
		}

		// Weights held during this period, after any rebalance
		weights := make(map[string]decimal.Decimal, len(cfg.Markets))
		for _, m := range cfg.Markets {
			weights[m.MarketID] = values[m.MarketID].Div(totalValue)
		}

		// Each market's slice grows by its realized period yield; the
		// weighted return falls out of the value change
		periodReturn := decimal.Zero
		for j, m := range cfg.Markets {
			r := states[j].SupplyAPY.Div(periods)
			periodReturn = periodReturn.Add(weights[m.MarketID].Mul(r))
			values[m.MarketID] = values[m.MarketID].Mul(one.Add(r))
		}

		totalValue = decimal.Zero
		for _, m := range cfg.Markets {
			totalValue = totalValue.Add(values[m.MarketID])
		}

		points = append(points, domain.AllocationPoint{
			Timestamp:      ts,
			Weights:        weights,
			PortfolioValue: totalValue,
			PeriodReturn:   periodReturn,
		})
	}
	return points, warnings, nil
}

// buildResult assembles summary metrics from the two passes.
func (s *Simulator) buildResult(
	cfg *domain.AllocationConfig,
	points, benchPoints []domain.AllocationPoint,
	warnings []domain.ConvergenceWarning,
	initialCapital decimal.Decimal,
) (*domain.AllocationResult, error) {
	result := &domain.AllocationResult{
		Points:   points,
		Warnings: warnings,
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: empty timeline", ErrMissingMarketData)
	}

	result.FinalValue = points[len(points)-1].PortfolioValue
	result.TotalReturn = result.FinalValue.Sub(initialCapital).Div(initialCapital)

	benchFinal := benchPoints[len(benchPoints)-1].PortfolioValue
	result.BenchmarkReturn = benchFinal.Sub(initialCapital).Div(initialCapital)
	result.ExcessReturn = result.TotalReturn.Sub(result.BenchmarkReturn)

	values := make([]decimal.Decimal, 0, len(points)+1)
	values = append(values, initialCapital)
	returns := make([]decimal.Decimal, 0, len(points))
	for _, p := range points {
		values = append(values, p.PortfolioValue)
		returns = append(returns, p.PeriodReturn)
	}

	dd, err := s.analytics.MaxDrawdown(values)
	if err != nil {
		return nil, err
	}
	result.MaxDrawdown = dd

	// Ratios need two data points; shorter runs report no ratio at all
	if len(returns) >= 2 {
		periodRF := cfg.RiskFreeRate.Div(decimal.NewFromInt(int64(cfg.PeriodsPerYear)))
		sharpe, err := s.analytics.Sharpe(returns, periodRF)
		if err != nil {
			return nil, err
		}
		result.SharpeRatio = sharpe
		sortino, err := s.analytics.Sortino(returns, periodRF)
		if err != nil {
			return nil, err
		}
		result.SortinoRatio = sortino
	}

	return result, nil
}

// alignSeries builds the union timeline and verifies every eligible market
// has a state at every point on it.
func alignSeries(limits []domain.MarketLimit, series map[string][]*domain.MarketState) ([]int64, map[string]map[int64]*domain.MarketState, error) {
	byMarket := make(map[string]map[int64]*domain.MarketState, len(limits))
	tsSet := make(map[int64]struct{})
	for _, l := range limits {
		states := series[l.MarketID]
		if len(states) == 0 {
			return nil, nil, fmt.Errorf("%w: no series for market %s", ErrMissingMarketData, l.MarketID)
		}
		m := make(map[int64]*domain.MarketState, len(states))
		for _, st := range states {
			m[st.Timestamp] = st
			tsSet[st.Timestamp] = struct{}{}
		}
		byMarket[l.MarketID] = m
	}

	timeline := make([]int64, 0, len(tsSet))
	for ts := range tsSet {
		timeline = append(timeline, ts)
	}
	sort.Slice(timeline, func(i, j int) bool { return timeline[i] < timeline[j] })

	for _, l := range limits {
		for _, ts := range timeline {
			if _, ok := byMarket[l.MarketID][ts]; !ok {
				return nil, nil, fmt.Errorf("%w: market %s has no state at %d", ErrMissingMarketData, l.MarketID, ts)
			}
		}
	}
	return timeline, byMarket, nil
}
