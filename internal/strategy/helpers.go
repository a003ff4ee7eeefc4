package strategy

import (
	"errors"

	"github.com/shopspring/decimal"

	"lending-lab/internal/domain"
)

// ErrConstraintInfeasible indicates weight bounds that no allocation can
// satisfy, or a clip-and-redistribute pass that failed to settle within its
// iteration cap.
var ErrConstraintInfeasible = errors.New("allocation constraints infeasible")

// clipIterationCap bounds the clip-and-redistribute fixed-point search.
const clipIterationCap = 20

var (
	one           = decimal.NewFromInt(1)
	sumTolerance  = decimal.New(1, -9) // tighter than the 1e-6 contract
	weightEpsilon = decimal.New(1, -12)
)

// equalWeights returns 1/N for each market.
func equalWeights(limits []domain.MarketLimit) map[string]decimal.Decimal {
	n := decimal.NewFromInt(int64(len(limits)))
	w := one.Div(n)
	weights := make(map[string]decimal.Decimal, len(limits))
	for _, l := range limits {
		weights[l.MarketID] = w
	}
	return weights
}

// normalizeScores scales non-negative scores to sum 1. All-zero scores fall
// back to equal weights.
func normalizeScores(scores map[string]decimal.Decimal, limits []domain.MarketLimit) map[string]decimal.Decimal {
	total := decimal.Zero
	for _, l := range limits {
		if s := scores[l.MarketID]; s.IsPositive() {
			total = total.Add(s)
		}
	}
	if !total.IsPositive() {
		return equalWeights(limits)
	}
	weights := make(map[string]decimal.Decimal, len(limits))
	for _, l := range limits {
		s := scores[l.MarketID]
		if !s.IsPositive() {
			s = decimal.Zero
		}
		weights[l.MarketID] = s.Div(total)
	}
	return weights
}

// clipAndRedistribute clips weights into their bounds and pushes the
// residual onto markets with headroom, proportionally to their current
// weight, until the sum settles at 1. Iterates to a fixed point, capped at
// clipIterationCap passes.
func clipAndRedistribute(weights map[string]decimal.Decimal, limits []domain.MarketLimit) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(limits))
	for _, l := range limits {
		out[l.MarketID] = weights[l.MarketID]
	}

	for iter := 0; iter < clipIterationCap; iter++ {
		for _, l := range limits {
			w := out[l.MarketID]
			if w.LessThan(l.MinWeight) {
				w = l.MinWeight
			}
			if w.GreaterThan(l.MaxWeight) {
				w = l.MaxWeight
			}
			out[l.MarketID] = w
		}

		sum := decimal.Zero
		for _, l := range limits {
			sum = sum.Add(out[l.MarketID])
		}
		residual := one.Sub(sum)
		if residual.Abs().LessThanOrEqual(sumTolerance) {
			return out, nil
		}

		// Markets that can absorb the residual's direction
		var candidates []domain.MarketLimit
		candidateSum := decimal.Zero
		for _, l := range limits {
			w := out[l.MarketID]
			if residual.IsPositive() && w.LessThan(l.MaxWeight) {
				candidates = append(candidates, l)
				candidateSum = candidateSum.Add(w)
			} else if residual.IsNegative() && w.GreaterThan(l.MinWeight) {
				candidates = append(candidates, l)
				candidateSum = candidateSum.Add(w)
			}
		}
		if len(candidates) == 0 {
			return nil, ErrConstraintInfeasible
		}

		if candidateSum.LessThanOrEqual(weightEpsilon) {
			// Nothing to be proportional to, split evenly
			share := residual.Div(decimal.NewFromInt(int64(len(candidates))))
			for _, l := range candidates {
				out[l.MarketID] = out[l.MarketID].Add(share)
			}
			continue
		}
		for _, l := range candidates {
			w := out[l.MarketID]
			out[l.MarketID] = w.Add(residual.Mul(w).Div(candidateSum))
		}
	}
	return nil, ErrConstraintInfeasible
}
