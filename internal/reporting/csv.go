package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RenderAllocationCSV renders allocation run rows as CSV.
func RenderAllocationCSV(rows []AllocationRow) string {
	var sb strings.Builder

	sb.WriteString("run_id,config_id,start_time,end_time,markets,")
	sb.WriteString("final_value,total_return,max_drawdown,sharpe_ratio,sortino_ratio,excess_return,warnings\n")

	for _, m := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%d,%d,%d,%s,%s,%s,%s,%s,%s,%d\n",
			m.RunID,
			m.ConfigID,
			m.StartTime,
			m.EndTime,
			m.Markets,
			m.FinalValue.StringFixed(6),
			m.TotalReturn.StringFixed(6),
			m.MaxDrawdown.StringFixed(6),
			m.SharpeRatio.StringFixed(6),
			m.SortinoRatio.StringFixed(6),
			m.ExcessReturn.StringFixed(6),
			m.Warnings,
		))
	}

	return sb.String()
}

// RenderDebtCSV renders debt run rows as CSV. The risk table is flattened
// into a separate file by WriteCSVFiles.
func RenderDebtCSV(rows []DebtRow) string {
	var sb strings.Builder

	sb.WriteString("run_id,config_id,start_time,end_time,markets,")
	sb.WriteString("interest_paid,benchmark_interest,net_savings,avg_weighted_apy,min_health_factor,")
	sb.WriteString("margin_calls,liquidations,rebalances\n")

	for _, d := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%d,%d,%d,%s,%s,%s,%s,%s,%d,%d,%d\n",
			d.RunID,
			d.ConfigID,
			d.StartTime,
			d.EndTime,
			d.Markets,
			d.InterestPaid.StringFixed(6),
			d.BenchmarkInterest.StringFixed(6),
			d.NetSavings.StringFixed(6),
			d.AvgWeightedAPY.StringFixed(6),
			d.MinHealthFactor.StringFixed(6),
			d.MarginCalls,
			d.Liquidations,
			d.Rebalances,
		))
	}

	return sb.String()
}

// RenderRiskCSV renders the per-run stress tables as one flat CSV.
func RenderRiskCSV(rows []DebtRow) string {
	var sb strings.Builder

	sb.WriteString("run_id,drop_pct,health_factor\n")
	for _, d := range rows {
		for _, rr := range d.RiskTable {
			sb.WriteString(fmt.Sprintf("%s,%s,%s\n",
				d.RunID, rr.DropPct.StringFixed(4), rr.HealthFactor.StringFixed(6)))
		}
	}

	return sb.String()
}

// WriteCSVFiles writes the report's CSV files into dir, creating it if
// needed: allocation_runs.csv, debt_runs.csv and risk_table.csv.
func WriteCSVFiles(dir string, r *Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir %s: %w", dir, err)
	}

	files := map[string]string{
		"allocation_runs.csv": RenderAllocationCSV(r.AllocationRuns),
		"debt_runs.csv":       RenderDebtCSV(r.DebtRuns),
		"risk_table.csv":      RenderRiskCSV(r.DebtRuns),
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}
