package debt

import (
	"fmt"

	"github.com/shopspring/decimal"

	"lending-lab/internal/domain"
	"lending-lab/internal/lookup"
	"lending-lab/internal/risk"
)

// riskDropSteps are the hypothetical instantaneous price drops the post-run
// risk table evaluates, as fractions.
var riskDropSteps = []string{"0.05", "0.10", "0.15", "0.20", "0.25", "0.30"}

var (
	daysPerYear   = decimal.NewFromInt(365)
	monthsYear    = decimal.NewFromInt(12)
	secondsPerDay = decimal.NewFromInt(86400)
	hundred       = decimal.NewFromInt(100)
)

// finalize assembles the immutable result from the run's accumulated state.
func (b *book) finalize(startTime, endTime int64) (*domain.SimulationResult, error) {
	result := &domain.SimulationResult{
		StartTime:    startTime,
		EndTime:      endTime,
		HealthSeries: b.health,
		Events:       b.events,
		RiskTable:    b.riskTable(),
	}

	snapshots, err := b.positionSnapshots(endTime)
	if err != nil {
		return nil, err
	}
	result.Positions = snapshots

	opportunities, err := b.opportunities(endTime)
	if err != nil {
		return nil, err
	}
	result.Opportunities = opportunities
	result.Metrics = b.metrics(startTime, endTime)
	return result, nil
}

// riskTable stresses the final open book with instantaneous price drops.
// The health factor curve is non-increasing in the drop size by
// construction. Empty when the book carries no debt.
func (b *book) riskTable() []domain.RiskRow {
	if len(b.health) == 0 {
		return nil
	}
	lastTS := b.health[len(b.health)-1].Timestamp
	totalDebt := decimal.Zero
	weighted := decimal.Zero // collateral · price · LLTV at the last price
	for _, p := range b.positions {
		if p.Closed || !p.TotalDebt().IsPositive() {
			continue
		}
		state, err := lookup.StateAt(lastTS, b.series[p.MarketID])
		if err != nil {
			continue
		}
		totalDebt = totalDebt.Add(p.TotalDebt())
		weighted = weighted.Add(p.CollateralAmount.Mul(b.lastPrices[p.MarketID]).Mul(state.LLTV))
	}
	if !totalDebt.IsPositive() {
		return nil
	}

	rows := make([]domain.RiskRow, 0, len(riskDropSteps))
	for _, s := range riskDropSteps {
		drop := decimal.RequireFromString(s)
		rows = append(rows, domain.RiskRow{
			DropPct:      drop,
			HealthFactor: weighted.Mul(one.Sub(drop)).Div(totalDebt),
		})
	}
	return rows
}

// positionSnapshots captures the final per-position state. Closed positions
// keep their amounts but report no health or liquidation price.
func (b *book) positionSnapshots(endTime int64) ([]domain.PositionSnapshot, error) {
	snapshots := make([]domain.PositionSnapshot, 0, len(b.positions))
	for _, p := range b.positions {
		snap := domain.PositionSnapshot{
			MarketID:         p.MarketID,
			Principal:        p.Principal,
			AccruedInterest:  p.AccruedInterest,
			CollateralAmount: p.CollateralAmount,
			Closed:           p.Closed,
		}
		if !p.Closed && p.TotalDebt().IsPositive() {
			state, err := lookup.StateAt(endTime, b.series[p.MarketID])
			if err != nil {
				return nil, fmt.Errorf("market %s at %d: %w", p.MarketID, endTime, err)
			}
			hf, err := risk.HealthFactor(p.CollateralAmount, b.lastPrices[p.MarketID], state.LLTV, p.TotalDebt())
			if err != nil {
				return nil, err
			}
			snap.HealthFactor = hf
			liq, err := risk.LiquidationPrice(p.CollateralAmount, state.LLTV, p.TotalDebt())
			if err != nil {
				return nil, err
			}
			snap.LiquidationPrice = liq
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

// opportunities scores candidate moves left on the table at the end of the
// run: each open position against every cheaper market with concentration
// headroom, sorted by 30-day net benefit per unit of debt.
func (b *book) opportunities(endTime int64) ([]domain.RebalancingOpportunity, error) {
	bookDebt := b.openDebt()
	if !bookDebt.IsPositive() {
		return nil, nil
	}
	shareCap := b.cfg.MaxMarketShare.Mul(bookDebt)

	var out []domain.RebalancingOpportunity
	for _, p := range b.positions {
		if p.Closed || !p.TotalDebt().IsPositive() {
			continue
		}
		fromRate, err := lookup.BorrowAPYAt(endTime, b.series[p.MarketID])
		if err != nil {
			return nil, fmt.Errorf("market %s at %d: %w", p.MarketID, endTime, err)
		}

		for _, id := range b.cfg.MarketIDs {
			if id == p.MarketID {
				continue
			}
			toRate, err := lookup.BorrowAPYAt(endTime, b.series[id])
			if err != nil {
				continue // unquoted markets are not candidates
			}
			rateDiff := fromRate.Sub(toRate)
			rateDiffBps := rateDiff.Mul(bpsPerUnit)
			if !rateDiff.IsPositive() || rateDiffBps.LessThan(b.cfg.RateThresholdBps) {
				continue
			}

			destDebt := decimal.Zero
			if dest := b.openPosition(id); dest != nil {
				destDebt = dest.TotalDebt()
			}
			amount := p.TotalDebt()
			if headroom := shareCap.Sub(destDebt); headroom.LessThan(amount) {
				amount = headroom
			}
			if !amount.IsPositive() {
				continue
			}

			gas := b.cfg.GasCostUSD
			slippage := amount.Mul(b.cfg.SlippageBps).Div(bpsPerUnit)
			totalCost := gas.Add(slippage)
			annual := amount.Mul(rateDiff)
			monthly := annual.Div(monthsYear)
			daily := annual.Div(daysPerYear)
			net30d := monthly.Sub(totalCost)

			opp := domain.RebalancingOpportunity{
				FromMarketID:    p.MarketID,
				ToMarketID:      id,
				DebtAmount:      amount,
				FromRate:        fromRate,
				ToRate:          toRate,
				RateDiffBps:     rateDiffBps,
				GasCostUSD:      gas,
				SlippageCostUSD: slippage,
				TotalCostUSD:    totalCost,
				AnnualSavings:   annual,
				MonthlySavings:  monthly,
				DailySavings:    daily,
				Net30DBenefit:   net30d,
				Score:           net30d.Div(amount).Mul(bpsPerUnit),
			}
			if daily.IsPositive() {
				opp.BreakevenDays = totalCost.Div(daily)
			}
			out = append(out, opp)
		}
	}

	// Best first; ties keep the stable from/to order
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Score.GreaterThan(out[j-1].Score); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

// metrics summarizes the run against the static cheapest-market benchmark.
func (b *book) metrics(startTime, endTime int64) domain.RebalancingMetrics {
	m := domain.RebalancingMetrics{
		TotalInterestPaid:     b.cumulativeInterest,
		BenchmarkInterestPaid: b.benchInterest,
		InterestSavings:       b.benchInterest.Sub(b.cumulativeInterest),
		RebalanceCount:        b.rebalanceCount,
		TotalRebalanceCost:    b.rebalanceCost,
		DataPoints:            len(b.health),
	}
	if b.benchInterest.IsPositive() {
		m.InterestSavingsPct = m.InterestSavings.Div(b.benchInterest).Mul(hundred)
	}
	m.NetSavings = m.InterestSavings.Sub(b.rebalanceCost)

	if len(b.weightedAPYs) > 0 {
		sum := decimal.Zero
		m.MinWeightedAPY = b.weightedAPYs[0]
		m.MaxWeightedAPY = b.weightedAPYs[0]
		for _, r := range b.weightedAPYs {
			sum = sum.Add(r)
			if r.LessThan(m.MinWeightedAPY) {
				m.MinWeightedAPY = r
			}
			if r.GreaterThan(m.MaxWeightedAPY) {
				m.MaxWeightedAPY = r
			}
		}
		m.AvgWeightedAPY = sum.Div(decimal.NewFromInt(int64(len(b.weightedAPYs))))
	}
	if len(b.benchAPYs) > 0 {
		sum := decimal.Zero
		for _, r := range b.benchAPYs {
			sum = sum.Add(r)
		}
		m.BenchmarkAvgAPY = sum.Div(decimal.NewFromInt(int64(len(b.benchAPYs))))
	}
	if len(b.health) > 0 {
		m.MinHealthFactor = b.health[0].HealthFactor
		for _, h := range b.health {
			if h.HealthFactor.LessThan(m.MinHealthFactor) {
				m.MinHealthFactor = h.HealthFactor
			}
		}
	}

	m.SimulationDays = decimal.NewFromInt(endTime - startTime).Div(secondsPerDay)
	if m.SimulationDays.IsPositive() {
		m.AnnualizedSavings = m.NetSavings.Mul(daysPerYear).Div(m.SimulationDays)
	}
	return m
}
