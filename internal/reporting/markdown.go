package reporting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RenderMarkdown renders the report as a Markdown string with aligned tables.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	sb.WriteString("# Sandbox Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Allocation runs: %d | Debt runs: %d", len(r.AllocationRuns), len(r.DebtRuns)))
	if r.SkippedRecords > 0 {
		sb.WriteString(fmt.Sprintf(" | Skipped records: %d", r.SkippedRecords))
	}
	sb.WriteString("\n\n")

	sb.WriteString("## Allocation Runs\n\n")
	if len(r.AllocationRuns) > 0 {
		rows := make([][]string, 0, len(r.AllocationRuns))
		for _, m := range r.AllocationRuns {
			rows = append(rows, []string{
				shortID(m.RunID),
				orDash(m.ConfigID),
				formatRange(m.StartTime, m.EndTime),
				fmt.Sprintf("%d", m.Markets),
				m.FinalValue.StringFixed(2),
				pct(m.TotalReturn),
				pct(m.MaxDrawdown),
				m.SharpeRatio.StringFixed(4),
				m.SortinoRatio.StringFixed(4),
				pct(m.ExcessReturn),
				fmt.Sprintf("%d", m.Warnings),
			})
		}
		writeTable(&sb,
			[]string{"Run", "Config", "Range", "Markets", "Final", "Return", "MaxDD", "Sharpe", "Sortino", "Excess", "Warnings"},
			rows)
	} else {
		sb.WriteString("No allocation runs recorded.\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## Debt Runs\n\n")
	if len(r.DebtRuns) > 0 {
		rows := make([][]string, 0, len(r.DebtRuns))
		for _, d := range r.DebtRuns {
			rows = append(rows, []string{
				shortID(d.RunID),
				orDash(d.ConfigID),
				formatRange(d.StartTime, d.EndTime),
				fmt.Sprintf("%d", d.Markets),
				d.InterestPaid.StringFixed(2),
				d.NetSavings.StringFixed(2),
				pct(d.AvgWeightedAPY),
				d.MinHealthFactor.StringFixed(4),
				fmt.Sprintf("%d", d.MarginCalls),
				fmt.Sprintf("%d", d.Liquidations),
				fmt.Sprintf("%d", d.Rebalances),
			})
		}
		writeTable(&sb,
			[]string{"Run", "Config", "Range", "Markets", "Interest", "NetSavings", "AvgAPY", "MinHF", "MarginCalls", "Liquidations", "Rebalances"},
			rows)
	} else {
		sb.WriteString("No debt runs recorded.\n")
	}
	sb.WriteString("\n")

	for _, d := range r.DebtRuns {
		if len(d.RiskTable) == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("### Stress Table: run %s\n\n", shortID(d.RunID)))
		rows := make([][]string, 0, len(d.RiskTable))
		for _, rr := range d.RiskTable {
			rows = append(rows, []string{pct(rr.DropPct), rr.HealthFactor.StringFixed(4)})
		}
		writeTable(&sb, []string{"Price Drop", "Health Factor"}, rows)
		sb.WriteString("\n")
	}

	return sb.String()
}

// writeTable emits a Markdown table with columns padded to equal width.
func writeTable(sb *strings.Builder, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	writeRow := func(cells []string) {
		sb.WriteString("|")
		for i, cell := range cells {
			sb.WriteString(fmt.Sprintf(" %-*s |", widths[i], cell))
		}
		sb.WriteString("\n")
	}

	writeRow(headers)
	sb.WriteString("|")
	for _, w := range widths {
		sb.WriteString(strings.Repeat("-", w+2))
		sb.WriteString("|")
	}
	sb.WriteString("\n")
	for _, row := range rows {
		writeRow(row)
	}
}

func formatRange(start, end int64) string {
	const layout = "2006-01-02 15:04"
	return time.Unix(start, 0).UTC().Format(layout) + " .. " + time.Unix(end, 0).UTC().Format(layout)
}

func pct(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

// shortID keeps run tables readable; run ids are long hashes.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
