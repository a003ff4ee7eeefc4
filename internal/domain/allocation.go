package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Strategy type constants
const (
	StrategyEqual         = "EQUAL"
	StrategyYieldWeighted = "YIELD_WEIGHTED"
	StrategyWaterfill     = "WATERFILL"
)

// MarketLimit bounds one market's share of an allocation.
type MarketLimit struct {
	MarketID  string          // market identifier
	MinWeight decimal.Decimal // minimum portfolio fraction, in [0, 1]
	MaxWeight decimal.Decimal // maximum portfolio fraction, in [0, 1]
}

// AllocationConfig parameterizes one supply-allocation simulation.
// Market order is meaningful: policies break ties toward earlier entries.
type AllocationConfig struct {
	Strategy          string          // EQUAL | YIELD_WEIGHTED | WATERFILL
	Markets           []MarketLimit   // ordered candidate markets with bounds
	RebalanceInterval int             // periods between rebalances, <=0 means initial allocation only
	LoanAsset         string          // restrict to markets with this loan asset, empty = all
	PeriodsPerYear    int             // how many data periods one year holds, 0 means 1
	RiskFreeRate      decimal.Decimal // annualized, for Sharpe/Sortino

	// Waterfill tuning
	WaterfillEpsilonBps decimal.Decimal // marginal yield convergence gap in bps, zero means 1
	WaterfillMaxIters   int             // iteration budget, 0 means 200
}

// Waterfill defaults applied by Normalized.
const (
	DefaultWaterfillMaxIters = 200
	DefaultPeriodsPerYear    = 1
)

// DefaultWaterfillEpsilonBps is one basis point.
var DefaultWaterfillEpsilonBps = decimal.NewFromInt(1)

// Normalized returns a copy with zero-valued tunables replaced by defaults.
// RebalanceInterval is left alone because zero is meaningful there.
func (c AllocationConfig) Normalized() AllocationConfig {
	if c.PeriodsPerYear <= 0 {
		c.PeriodsPerYear = DefaultPeriodsPerYear
	}
	if c.WaterfillMaxIters <= 0 {
		c.WaterfillMaxIters = DefaultWaterfillMaxIters
	}
	if c.WaterfillEpsilonBps.IsZero() {
		c.WaterfillEpsilonBps = DefaultWaterfillEpsilonBps
	}
	return c
}

// Validate checks structural invariants before a run. Weight bounds must
// satisfy 0 <= min <= max <= 1 per market, the minimums must not sum past 1,
// and the maximums must sum to at least 1, otherwise no feasible allocation
// exists.
func (c *AllocationConfig) Validate() error {
	switch c.Strategy {
	case StrategyEqual, StrategyYieldWeighted, StrategyWaterfill:
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, c.Strategy)
	}
	if len(c.Markets) == 0 {
		return fmt.Errorf("%w: no markets", ErrInvalidConfig)
	}
	one := decimal.NewFromInt(1)
	minSum := decimal.Zero
	maxSum := decimal.Zero
	seen := make(map[string]bool, len(c.Markets))
	for _, m := range c.Markets {
		if m.MarketID == "" {
			return fmt.Errorf("%w: empty market id", ErrInvalidConfig)
		}
		if seen[m.MarketID] {
			return fmt.Errorf("%w: duplicate market %s", ErrInvalidConfig, m.MarketID)
		}
		seen[m.MarketID] = true
		if m.MinWeight.IsNegative() {
			return fmt.Errorf("%w: market %s min weight %s < 0", ErrInvalidConfig, m.MarketID, m.MinWeight)
		}
		if m.MaxWeight.LessThan(m.MinWeight) {
			return fmt.Errorf("%w: market %s max weight %s < min weight %s", ErrInvalidConfig, m.MarketID, m.MaxWeight, m.MinWeight)
		}
		if m.MaxWeight.GreaterThan(one) {
			return fmt.Errorf("%w: market %s max weight %s > 1", ErrInvalidConfig, m.MarketID, m.MaxWeight)
		}
		minSum = minSum.Add(m.MinWeight)
		maxSum = maxSum.Add(m.MaxWeight)
	}
	if minSum.GreaterThan(one) {
		return fmt.Errorf("%w: minimum weights sum to %s > 1", ErrInvalidConfig, minSum)
	}
	if maxSum.LessThan(one) {
		return fmt.Errorf("%w: maximum weights sum to %s < 1", ErrInvalidConfig, maxSum)
	}
	return nil
}

// ConvergenceWarning records a waterfill run that stopped on its iteration
// budget before equalizing marginal yields. Non-fatal; the best-found
// allocation is still used.
type ConvergenceWarning struct {
	Timestamp  int64           // rebalance step that produced the warning
	Iterations int             // iterations consumed
	GapBps     decimal.Decimal // residual marginal yield spread in bps
}

// AllocationPoint is one step of an allocation simulation.
type AllocationPoint struct {
	Timestamp      int64                      // step time, unix seconds
	Weights        map[string]decimal.Decimal // weights held during this period
	PortfolioValue decimal.Decimal            // value after this period's growth
	PeriodReturn   decimal.Decimal            // realized weighted return for the period
}

// AllocationResult is the immutable outcome of one allocation simulation.
type AllocationResult struct {
	Points       []AllocationPoint
	FinalValue   decimal.Decimal
	TotalReturn  decimal.Decimal // (final - initial) / initial
	MaxDrawdown  decimal.Decimal // worst peak-to-trough fraction of the value series
	SharpeRatio  decimal.Decimal
	SortinoRatio decimal.Decimal

	// Benchmark: equal weights, never rebalanced after the start
	BenchmarkReturn decimal.Decimal
	ExcessReturn    decimal.Decimal // TotalReturn - BenchmarkReturn

	Warnings []ConvergenceWarning // convergence warnings, never fatal
}
