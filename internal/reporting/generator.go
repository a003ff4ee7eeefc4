package reporting

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"lending-lab/internal/domain"
	"lending-lab/internal/storage"
)

// DefaultRunLimit bounds how many recent runs one report covers.
const DefaultRunLimit = 100

// Generator assembles reports from persisted run records.
type Generator struct {
	runs   storage.RunRecordStore
	limit  int
	logger *log.Logger
	now    func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the report timestamp source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithLimit caps how many recent runs the report covers.
func WithLimit(n int) Option {
	return func(g *Generator) { g.limit = n }
}

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(g *Generator) { g.logger = logger }
}

// NewGenerator creates a report generator over a run record store.
func NewGenerator(runs storage.RunRecordStore, opts ...Option) *Generator {
	g := &Generator{
		runs:   runs,
		limit:  DefaultRunLimit,
		logger: log.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate loads recent runs and builds a report. A record that fails to
// decode is counted and skipped rather than failing the whole report.
func (g *Generator) Generate(ctx context.Context) (*Report, error) {
	records, err := g.runs.ListRecent(ctx, g.limit)
	if err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}

	report := &Report{GeneratedAt: g.now().UTC()}

	for _, rec := range records {
		switch rec.Kind {
		case domain.KindAllocation:
			row, err := allocationRow(rec)
			if err != nil {
				report.SkippedRecords++
				g.logger.Printf("report: skipping run %s: %v", rec.RunID, err)
				continue
			}
			report.AllocationRuns = append(report.AllocationRuns, row)

		case domain.KindRebalancing:
			row, err := debtRow(rec)
			if err != nil {
				report.SkippedRecords++
				g.logger.Printf("report: skipping run %s: %v", rec.RunID, err)
				continue
			}
			report.DebtRuns = append(report.DebtRuns, row)

		default:
			report.SkippedRecords++
			g.logger.Printf("report: skipping run %s: unknown kind %q", rec.RunID, rec.Kind)
		}
	}

	// Deterministic ordering regardless of store iteration order
	sort.Slice(report.AllocationRuns, func(i, j int) bool {
		a, b := report.AllocationRuns[i], report.AllocationRuns[j]
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.RunID < b.RunID
	})
	sort.Slice(report.DebtRuns, func(i, j int) bool {
		a, b := report.DebtRuns[i], report.DebtRuns[j]
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.RunID < b.RunID
	})

	return report, nil
}

func allocationRow(rec *domain.RunRecord) (AllocationRow, error) {
	result, err := domain.UnmarshalAllocationResult(rec.Result)
	if err != nil {
		return AllocationRow{}, fmt.Errorf("decode allocation result: %w", err)
	}
	return AllocationRow{
		RunID:        rec.RunID,
		ConfigID:     rec.ConfigID,
		StartTime:    rec.StartTime,
		EndTime:      rec.EndTime,
		Markets:      len(rec.MarketIDs),
		FinalValue:   result.FinalValue,
		TotalReturn:  result.TotalReturn,
		MaxDrawdown:  result.MaxDrawdown,
		SharpeRatio:  result.SharpeRatio,
		SortinoRatio: result.SortinoRatio,
		ExcessReturn: result.ExcessReturn,
		Warnings:     len(result.Warnings),
	}, nil
}

func debtRow(rec *domain.RunRecord) (DebtRow, error) {
	result, err := domain.UnmarshalSimulationResult(rec.Result)
	if err != nil {
		return DebtRow{}, fmt.Errorf("decode simulation result: %w", err)
	}

	row := DebtRow{
		RunID:             rec.RunID,
		ConfigID:          rec.ConfigID,
		StartTime:         rec.StartTime,
		EndTime:           rec.EndTime,
		Markets:           len(rec.MarketIDs),
		InterestPaid:      result.Metrics.TotalInterestPaid,
		BenchmarkInterest: result.Metrics.BenchmarkInterestPaid,
		NetSavings:        result.Metrics.NetSavings,
		AvgWeightedAPY:    result.Metrics.AvgWeightedAPY,
		MinHealthFactor:   result.Metrics.MinHealthFactor,
		RiskTable:         result.RiskTable,
	}
	for _, ev := range result.Events {
		switch ev.Type {
		case domain.EventMarginCall:
			row.MarginCalls++
		case domain.EventLiquidation:
			row.Liquidations++
		case domain.EventRebalance:
			row.Rebalances++
		}
	}
	return row, nil
}
