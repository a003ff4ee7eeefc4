// Package analytics computes risk-adjusted performance statistics for
// simulation results. Pure statistical functions used only for reporting,
// never for simulation control flow. Statistics go through float64
// internally; inputs and outputs stay decimal at the boundary.
package analytics

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

// ErrInsufficientData indicates a series too short for the requested
// statistic. Ratios need at least two points.
var ErrInsufficientData = errors.New("insufficient data points")

// ratioCap bounds Sharpe and Sortino when volatility collapses toward zero.
var ratioCap = decimal.NewFromInt(10)

// Provider implements the analytics collaborator contract. The zero value
// is ready to use.
type Provider struct{}

// New returns a Provider.
func New() *Provider {
	return &Provider{}
}

// Sharpe returns (mean(returns) - riskFreeRate) / sample stddev(returns),
// capped to [-10, 10]. Returns are per-period; the risk-free rate must be
// expressed per the same period.
func (p *Provider) Sharpe(returns []decimal.Decimal, riskFreeRate decimal.Decimal) (decimal.Decimal, error) {
	if len(returns) < 2 {
		return decimal.Zero, ErrInsufficientData
	}

	vals := toFloats(returns)
	mean := meanOf(vals)
	stddev := sampleStddev(vals, mean)
	rf, _ := riskFreeRate.Float64()
	if stddev == 0 {
		if mean == rf {
			return decimal.Zero, nil
		}
		if mean > rf {
			return ratioCap, nil
		}
		return ratioCap.Neg(), nil
	}
	return capRatio(decimal.NewFromFloat((mean - rf) / stddev)), nil
}

// Sortino returns (mean(returns) - riskFreeRate) / downside deviation,
// where the downside deviation uses only returns below the risk-free rate.
// No downside observations means no penalty; the ratio caps at 10.
func (p *Provider) Sortino(returns []decimal.Decimal, riskFreeRate decimal.Decimal) (decimal.Decimal, error) {
	if len(returns) < 2 {
		return decimal.Zero, ErrInsufficientData
	}

	vals := toFloats(returns)
	mean := meanOf(vals)
	rf, _ := riskFreeRate.Float64()

	sumSq := 0.0
	for _, v := range vals {
		if v < rf {
			d := v - rf
			sumSq += d * d
		}
	}
	downside := math.Sqrt(sumSq / float64(len(vals)))
	if downside == 0 {
		if mean == rf {
			return decimal.Zero, nil
		}
		if mean > rf {
			return ratioCap, nil
		}
		return ratioCap.Neg(), nil
	}
	return capRatio(decimal.NewFromFloat((mean - rf) / downside)), nil
}

// MaxDrawdown returns the worst peak-to-trough decline of a value series as
// a fraction of the peak. Values must be in chronological order and
// positive. A non-decreasing series has zero drawdown.
func (p *Provider) MaxDrawdown(values []decimal.Decimal) (decimal.Decimal, error) {
	if len(values) == 0 {
		return decimal.Zero, ErrInsufficientData
	}

	peak := values[0]
	maxDD := decimal.Zero
	for _, v := range values {
		if v.GreaterThan(peak) {
			peak = v
		}
		if !peak.IsPositive() {
			continue
		}
		dd := peak.Sub(v).Div(peak)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD, nil
}

func toFloats(values []decimal.Decimal) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i], _ = v.Float64()
	}
	return out
}

func meanOf(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStddev uses the n-1 denominator for an unbiased estimator.
func sampleStddev(values []float64, mean float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(n-1))
}

func capRatio(r decimal.Decimal) decimal.Decimal {
	if r.GreaterThan(ratioCap) {
		return ratioCap
	}
	if r.LessThan(ratioCap.Neg()) {
		return ratioCap.Neg()
	}
	return r
}
