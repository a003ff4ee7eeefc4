// Package verification checks stored snapshot series for the integrity
// invariants simulations rely on. It runs before the sweep pipeline and
// inside cmd/report; a series with ERROR issues is unfit for simulation.
package verification

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"lending-lab/internal/domain"
	"lending-lab/internal/storage"
)

// Issue severity constants
const (
	SeverityError   = "ERROR"   // invariant violation, series unfit for simulation
	SeverityWarning = "WARNING" // suspicious but usable
)

// Issue is one integrity finding on a stored series.
type Issue struct {
	MarketID  string // market the issue belongs to
	Timestamp int64  // offending snapshot, zero for series-level issues
	Severity  string // ERROR | WARNING
	Field     string // offending field or "timestamp" / "gap"
	Detail    string // human-readable description
}

// MarketReport is the verification outcome for one market's series.
type MarketReport struct {
	MarketID       string
	Snapshots      int
	LargestGapSecs int64 // largest spacing between consecutive snapshots
	Issues         []Issue
}

// Report aggregates per-market reports.
type Report struct {
	Markets        []MarketReport
	TotalSnapshots int
	ErrorCount     int
	WarningCount   int
}

// Clean reports whether verification found no ERROR issues.
func (r *Report) Clean() bool {
	return r.ErrorCount == 0
}

// Verifier checks snapshot series read from a store.
type Verifier struct {
	snapshots    storage.MarketSnapshotStore
	intervalSecs int64 // expected spacing, 0 disables the gap check
}

// NewVerifier creates a verifier. expectedIntervalHours <= 0 disables the
// gap check.
func NewVerifier(snapshots storage.MarketSnapshotStore, expectedIntervalHours int) *Verifier {
	var secs int64
	if expectedIntervalHours > 0 {
		secs = int64(expectedIntervalHours) * 3600
	}
	return &Verifier{snapshots: snapshots, intervalSecs: secs}
}

// VerifyMarket checks one market's full stored series.
func (v *Verifier) VerifyMarket(ctx context.Context, marketID string) (*MarketReport, error) {
	states, err := v.snapshots.GetByMarketID(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("load series for %s: %w", marketID, err)
	}

	report := &MarketReport{
		MarketID:  marketID,
		Snapshots: len(states),
	}
	if len(states) == 0 {
		report.Issues = append(report.Issues, Issue{
			MarketID: marketID,
			Severity: SeverityWarning,
			Field:    "series",
			Detail:   "no snapshots stored",
		})
		return report, nil
	}

	for i, st := range states {
		report.Issues = append(report.Issues, checkSnapshot(st)...)

		if i == 0 {
			continue
		}
		gap := st.Timestamp - states[i-1].Timestamp
		if gap <= 0 {
			report.Issues = append(report.Issues, Issue{
				MarketID:  marketID,
				Timestamp: st.Timestamp,
				Severity:  SeverityError,
				Field:     "timestamp",
				Detail:    fmt.Sprintf("not strictly ascending after %d", states[i-1].Timestamp),
			})
			continue
		}
		if gap > report.LargestGapSecs {
			report.LargestGapSecs = gap
		}
		if v.intervalSecs > 0 && gap > 2*v.intervalSecs {
			report.Issues = append(report.Issues, Issue{
				MarketID:  marketID,
				Timestamp: st.Timestamp,
				Severity:  SeverityWarning,
				Field:     "gap",
				Detail:    fmt.Sprintf("gap of %ds exceeds twice the expected %ds", gap, v.intervalSecs),
			})
		}
	}
	return report, nil
}

// VerifyAll checks every market the store knows about.
func (v *Verifier) VerifyAll(ctx context.Context) (*Report, error) {
	ids, err := v.snapshots.ListMarketIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}

	report := &Report{}
	for _, id := range ids {
		mr, err := v.VerifyMarket(ctx, id)
		if err != nil {
			return nil, err
		}
		report.Markets = append(report.Markets, *mr)
		report.TotalSnapshots += mr.Snapshots
		for _, issue := range mr.Issues {
			switch issue.Severity {
			case SeverityError:
				report.ErrorCount++
			case SeverityWarning:
				report.WarningCount++
			}
		}
	}
	return report, nil
}

var one = decimal.NewFromInt(1)

// checkSnapshot validates the value ranges of a single snapshot.
func checkSnapshot(st *domain.MarketState) []Issue {
	var issues []Issue
	add := func(severity, field, detail string) {
		issues = append(issues, Issue{
			MarketID:  st.MarketID,
			Timestamp: st.Timestamp,
			Severity:  severity,
			Field:     field,
			Detail:    detail,
		})
	}

	if st.Utilization.IsNegative() || st.Utilization.GreaterThan(one) {
		add(SeverityError, "utilization", fmt.Sprintf("%s outside [0, 1]", st.Utilization))
	}
	if st.LLTV.LessThanOrEqual(decimal.Zero) || st.LLTV.GreaterThan(one) {
		add(SeverityError, "lltv", fmt.Sprintf("%s outside (0, 1]", st.LLTV))
	}
	if st.SupplyAPY.IsNegative() {
		add(SeverityError, "supply_apy", fmt.Sprintf("negative rate %s", st.SupplyAPY))
	}
	if st.BorrowAPY.IsNegative() {
		add(SeverityError, "borrow_apy", fmt.Sprintf("negative rate %s", st.BorrowAPY))
	}
	if st.CollateralPrice.IsNegative() || st.CollateralPriceUSD.IsNegative() || st.LoanPriceUSD.IsNegative() {
		add(SeverityError, "price", "negative price")
	}
	if st.CollateralPrice.IsZero() {
		add(SeverityWarning, "collateral_price", "zero collateral price, debt simulations will fail price resolution")
	}
	return issues
}
