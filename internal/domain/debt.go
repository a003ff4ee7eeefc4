package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DebtPosition is one borrow position in one market. Principal and accrued
// interest stay separate while the position sits still; a rebalance folds the
// moved slice's interest into the destination principal. Mutated in place by
// the optimizer during a run.
type DebtPosition struct {
	MarketID         string
	Principal        decimal.Decimal // borrowed amount, loan-asset units
	AccruedInterest  decimal.Decimal // interest since entry or last rebalance
	CollateralAmount decimal.Decimal // collateral backing this position
	EnteredAt        int64           // unix seconds
	Closed           bool            // true after liquidation
	ClosedAt         int64           // unix seconds, zero while open
}

// TotalDebt returns principal plus accrued interest.
func (p *DebtPosition) TotalDebt() decimal.Decimal {
	return p.Principal.Add(p.AccruedInterest)
}

// RebalancingConfig parameterizes one debt-rebalancing simulation.
// Both triggers may be set; either one firing schedules a rebalance pass.
// With both zero the run only monitors health.
type RebalancingConfig struct {
	CollateralAsset string   // collateral token symbol
	LoanAsset       string   // loan token symbol
	MarketIDs       []string // ordered eligible markets, ties break toward earlier entries

	// Initial book, used when the caller passes no explicit positions
	TotalDebt       decimal.Decimal // loan-asset units
	TotalCollateral decimal.Decimal // collateral units

	// Triggers
	IntervalSteps    int             // rebalance every N steps, 0 disables the cadence trigger
	RateThresholdBps decimal.Decimal // rebalance when any rate moved this much since last pass, 0 disables

	// Safety bounds
	MinHealthFactor     decimal.Decimal // floor when sizing moves, 0 means 1.2
	MarginCallThreshold decimal.Decimal // warn below this, 0 means 1.05
	MaxMarketShare      decimal.Decimal // per-market fraction of book debt, 0 means 0.80

	// Costs and cadence
	StepHours   decimal.Decimal // hours between consecutive steps, 0 means 1
	GasCostUSD  decimal.Decimal // flat cost per executed move
	SlippageBps decimal.Decimal // proportional cost per executed move
}

// Rebalancing defaults applied by Normalized.
var (
	DefaultMinHealthFactor     = decimal.RequireFromString("1.2")
	DefaultMarginCallThreshold = decimal.RequireFromString("1.05")
	DefaultMaxMarketShare      = decimal.RequireFromString("0.80")
	DefaultStepHours           = decimal.NewFromInt(1)
)

// Normalized returns a copy with zero-valued safety bounds and cadence
// replaced by defaults. Trigger fields are left alone because zero disables
// them.
func (c RebalancingConfig) Normalized() RebalancingConfig {
	if c.MinHealthFactor.IsZero() {
		c.MinHealthFactor = DefaultMinHealthFactor
	}
	if c.MarginCallThreshold.IsZero() {
		c.MarginCallThreshold = DefaultMarginCallThreshold
	}
	if c.MaxMarketShare.IsZero() {
		c.MaxMarketShare = DefaultMaxMarketShare
	}
	if c.StepHours.IsZero() {
		c.StepHours = DefaultStepHours
	}
	return c
}

// Validate checks structural invariants before a run.
func (c *RebalancingConfig) Validate() error {
	if len(c.MarketIDs) == 0 {
		return fmt.Errorf("%w: no markets", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.MarketIDs))
	for _, id := range c.MarketIDs {
		if id == "" {
			return fmt.Errorf("%w: empty market id", ErrInvalidConfig)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate market %s", ErrInvalidConfig, id)
		}
		seen[id] = true
	}
	if c.TotalDebt.IsNegative() {
		return fmt.Errorf("%w: negative total debt %s", ErrInvalidConfig, c.TotalDebt)
	}
	if c.TotalCollateral.IsNegative() {
		return fmt.Errorf("%w: negative total collateral %s", ErrInvalidConfig, c.TotalCollateral)
	}
	one := decimal.NewFromInt(1)
	if !c.MinHealthFactor.IsZero() && c.MinHealthFactor.LessThan(one) {
		return fmt.Errorf("%w: min health factor %s < 1", ErrInvalidConfig, c.MinHealthFactor)
	}
	if !c.MarginCallThreshold.IsZero() && c.MarginCallThreshold.LessThan(one) {
		return fmt.Errorf("%w: margin call threshold %s < 1", ErrInvalidConfig, c.MarginCallThreshold)
	}
	if c.MaxMarketShare.IsNegative() || c.MaxMarketShare.GreaterThan(one) {
		return fmt.Errorf("%w: max market share %s outside [0, 1]", ErrInvalidConfig, c.MaxMarketShare)
	}
	if c.StepHours.IsNegative() {
		return fmt.Errorf("%w: negative step hours %s", ErrInvalidConfig, c.StepHours)
	}
	if c.IntervalSteps < 0 {
		return fmt.Errorf("%w: negative rebalance interval %d", ErrInvalidConfig, c.IntervalSteps)
	}
	if c.RateThresholdBps.IsNegative() {
		return fmt.Errorf("%w: negative rate threshold %s", ErrInvalidConfig, c.RateThresholdBps)
	}
	return nil
}

// HealthPoint is one step of the aggregate health series.
type HealthPoint struct {
	Timestamp       int64           // unix seconds
	HealthFactor    decimal.Decimal // LLTV-weighted collateral value / total debt
	TotalDebt       decimal.Decimal // sum of open principal + interest
	CollateralValue decimal.Decimal // collateral marked in loan-asset terms
}

// PositionSnapshot is the final state of one position after a run.
// HealthFactor and LiquidationPrice are zero for closed positions.
type PositionSnapshot struct {
	MarketID         string
	Principal        decimal.Decimal
	AccruedInterest  decimal.Decimal
	CollateralAmount decimal.Decimal
	HealthFactor     decimal.Decimal
	LiquidationPrice decimal.Decimal
	Closed           bool
}

// RiskRow is one stress level of the post-run risk table.
type RiskRow struct {
	DropPct      decimal.Decimal // collateral price drop as a fraction, e.g. 0.05
	HealthFactor decimal.Decimal // aggregate HF at the shocked price
}

// RebalancingMetrics summarizes one debt simulation against its benchmark.
// The benchmark keeps the whole book static in the market that was cheapest
// at the start.
type RebalancingMetrics struct {
	TotalInterestPaid     decimal.Decimal
	BenchmarkInterestPaid decimal.Decimal
	InterestSavings       decimal.Decimal
	InterestSavingsPct    decimal.Decimal

	AvgWeightedAPY  decimal.Decimal
	MinWeightedAPY  decimal.Decimal
	MaxWeightedAPY  decimal.Decimal
	BenchmarkAvgAPY decimal.Decimal
	MinHealthFactor decimal.Decimal // lowest aggregate HF observed

	RebalanceCount     int
	TotalRebalanceCost decimal.Decimal
	NetSavings         decimal.Decimal // savings minus rebalance costs
	AnnualizedSavings  decimal.Decimal

	SimulationDays decimal.Decimal
	DataPoints     int
}

// RebalancingOpportunity is one candidate debt move at the end of a run,
// scored by 30-day net benefit per unit of debt.
type RebalancingOpportunity struct {
	FromMarketID string
	ToMarketID   string
	DebtAmount   decimal.Decimal
	FromRate     decimal.Decimal
	ToRate       decimal.Decimal
	RateDiffBps  decimal.Decimal

	GasCostUSD      decimal.Decimal
	SlippageCostUSD decimal.Decimal
	TotalCostUSD    decimal.Decimal

	AnnualSavings  decimal.Decimal
	MonthlySavings decimal.Decimal
	DailySavings   decimal.Decimal
	BreakevenDays  decimal.Decimal
	Net30DBenefit  decimal.Decimal // monthly savings minus total cost
	Score          decimal.Decimal // net 30d benefit per debt, in bps
}

// SimulationResult is the immutable outcome of one debt simulation.
type SimulationResult struct {
	StartTime int64 // unix seconds
	EndTime   int64 // unix seconds

	HealthSeries  []HealthPoint
	Events        []Event // every margin call, liquidation and move, in order
	Positions     []PositionSnapshot
	RiskTable     []RiskRow // empty when the final book carries no debt
	Metrics       RebalancingMetrics
	Opportunities []RebalancingOpportunity
}
