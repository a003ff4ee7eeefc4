// Package reporting turns persisted run records into human-readable
// summaries: markdown for review, CSV for spreadsheets.
package reporting

import (
	"time"

	"github.com/shopspring/decimal"

	"lending-lab/internal/domain"
)

// Report is a point-in-time summary of recent simulation runs.
type Report struct {
	GeneratedAt    time.Time
	AllocationRuns []AllocationRow
	DebtRuns       []DebtRow
	SkippedRecords int // records that failed to decode
}

// AllocationRow summarizes one allocation run.
type AllocationRow struct {
	RunID     string
	ConfigID  string
	StartTime int64
	EndTime   int64
	Markets   int

	FinalValue   decimal.Decimal
	TotalReturn  decimal.Decimal
	MaxDrawdown  decimal.Decimal
	SharpeRatio  decimal.Decimal
	SortinoRatio decimal.Decimal
	ExcessReturn decimal.Decimal
	Warnings     int // waterfill convergence warnings
}

// DebtRow summarizes one debt-rebalancing run.
type DebtRow struct {
	RunID     string
	ConfigID  string
	StartTime int64
	EndTime   int64
	Markets   int

	InterestPaid      decimal.Decimal
	BenchmarkInterest decimal.Decimal
	NetSavings        decimal.Decimal
	AvgWeightedAPY    decimal.Decimal
	MinHealthFactor   decimal.Decimal

	MarginCalls  int
	Liquidations int
	Rebalances   int

	RiskTable []domain.RiskRow // empty when the final book carried no debt
}
