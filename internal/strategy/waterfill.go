package strategy

import (
	"github.com/shopspring/decimal"

	"lending-lab/internal/domain"
	"lending-lab/internal/irm"
)

// WaterfillPolicy allocates capital in small increments, always to the
// market currently offering the highest marginal yield. Depositing into a
// market raises its supply and lowers its utilization, which lowers the
// yield on the next unit, so the increments converge the unsaturated
// markets toward a common marginal yield ("water level").
//
// Exhausting the iteration budget before the marginal yields close within
// epsilon is not fatal: the best-found allocation is returned together with
// a ConvergenceWarning.
type WaterfillPolicy struct {
	EpsilonBps decimal.Decimal // convergence gap in basis points
	MaxIters   int             // iteration budget

	model *irm.Model
}

// NewWaterfillPolicy creates a WaterfillPolicy with the given tuning.
// Zero-valued tuning falls back to the domain defaults.
func NewWaterfillPolicy(epsilonBps decimal.Decimal, maxIters int) *WaterfillPolicy {
	if epsilonBps.IsZero() {
		epsilonBps = domain.DefaultWaterfillEpsilonBps
	}
	if maxIters <= 0 {
		maxIters = domain.DefaultWaterfillMaxIters
	}
	return &WaterfillPolicy{
		EpsilonBps: epsilonBps,
		MaxIters:   maxIters,
		model:      irm.New(),
	}
}

// ID returns the policy identifier.
func (p *WaterfillPolicy) ID() string {
	return domain.StrategyWaterfill
}

var bpsPerUnit = decimal.NewFromInt(10000)

// Allocate implements Policy.
func (p *WaterfillPolicy) Allocate(input *PolicyInput) (map[string]decimal.Decimal, *domain.ConvergenceWarning, error) {
	if err := input.Validate(); err != nil {
		return nil, nil, err
	}

	limits := input.Limits
	weights := make(map[string]decimal.Decimal, len(limits))
	remaining := one
	for _, l := range limits {
		weights[l.MarketID] = l.MinWeight
		remaining = remaining.Sub(l.MinWeight)
	}
	if remaining.LessThanOrEqual(sumTolerance) {
		// Minimums already fill the portfolio
		return weights, nil, nil
	}

	increment := remaining.Div(decimal.NewFromInt(int64(p.MaxIters)))
	iterations := 0

	for ; iterations < p.MaxIters && remaining.GreaterThan(sumTolerance); iterations++ {
		best := -1
		bestYield := decimal.Zero
		for i, l := range limits {
			w := weights[l.MarketID]
			if w.GreaterThanOrEqual(l.MaxWeight) {
				continue // saturated
			}
			y := p.marginalYield(input.States[i], w, input.Capital)
			if best < 0 ||
				y.GreaterThan(bestYield) ||
				(y.Equal(bestYield) && w.LessThan(weights[limits[best].MarketID])) {
				best = i
				bestYield = y
			}
		}
		if best < 0 {
			break // every market saturated
		}

		l := limits[best]
		add := increment
		if headroom := l.MaxWeight.Sub(weights[l.MarketID]); add.GreaterThan(headroom) {
			add = headroom
		}
		if add.GreaterThan(remaining) {
			add = remaining
		}
		weights[l.MarketID] = weights[l.MarketID].Add(add)
		remaining = remaining.Sub(add)
	}

	var warning *domain.ConvergenceWarning
	if remaining.GreaterThan(sumTolerance) {
		// Budget ran out mid-fill: push the leftover proportionally to the
		// remaining headroom under the max bounds.
		headroomSum := decimal.Zero
		for _, l := range limits {
			headroomSum = headroomSum.Add(l.MaxWeight.Sub(weights[l.MarketID]))
		}
		if headroomSum.LessThan(remaining.Sub(sumTolerance)) {
			return nil, nil, ErrConstraintInfeasible
		}
		for _, l := range limits {
			headroom := l.MaxWeight.Sub(weights[l.MarketID])
			weights[l.MarketID] = weights[l.MarketID].Add(remaining.Mul(headroom).Div(headroomSum))
		}
		warning = &domain.ConvergenceWarning{
			Timestamp:  input.Timestamp,
			Iterations: iterations,
		}
	}

	// Report the residual spread among unsaturated markets
	gap := p.marginalGap(input, weights)
	if gap.Mul(bpsPerUnit).GreaterThanOrEqual(p.EpsilonBps) {
		if warning == nil {
			warning = &domain.ConvergenceWarning{
				Timestamp:  input.Timestamp,
				Iterations: iterations,
			}
		}
		warning.GapBps = gap.Mul(bpsPerUnit)
	} else if warning != nil {
		warning.GapBps = gap.Mul(bpsPerUnit)
	}

	return weights, warning, nil
}

// marginalYield projects the supply rate a new unit of capital would earn
// in a market currently holding weight w of the portfolio. Without capital
// or pool size data the curve is flat and the observed supply APY governs.
func (p *WaterfillPolicy) marginalYield(st *domain.MarketState, weight, capital decimal.Decimal) decimal.Decimal {
	if !capital.IsPositive() || !st.TotalSupplyAssets.IsPositive() {
		return st.SupplyAPY
	}

	newSupply := st.TotalSupplyAssets.Add(weight.Mul(capital))
	util := st.TotalBorrowAssets.Div(newSupply)
	if util.GreaterThan(one) {
		util = one
	}

	rateAtTarget := st.RateAtTarget
	if rateAtTarget.IsZero() {
		rateAtTarget = p.model.RateAtTargetFromPoint(st.BorrowAPY, st.Utilization)
	}
	borrowRate := p.model.BorrowRate(util, rateAtTarget)
	return p.model.SupplyRate(util, borrowRate, decimal.Zero)
}

// marginalGap returns the widest pairwise marginal-yield spread among
// markets that still have headroom.
func (p *WaterfillPolicy) marginalGap(input *PolicyInput, weights map[string]decimal.Decimal) decimal.Decimal {
	var lo, hi decimal.Decimal
	seen := false
	for i, l := range input.Limits {
		w := weights[l.MarketID]
		if w.GreaterThanOrEqual(l.MaxWeight) {
			continue
		}
		y := p.marginalYield(input.States[i], w, input.Capital)
		if !seen {
			lo, hi = y, y
			seen = true
			continue
		}
		if y.LessThan(lo) {
			lo = y
		}
		if y.GreaterThan(hi) {
			hi = y
		}
	}
	if !seen {
		return decimal.Zero
	}
	return hi.Sub(lo)
}

var _ Policy = (*WaterfillPolicy)(nil)
