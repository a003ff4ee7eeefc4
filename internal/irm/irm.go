// Package irm implements the Morpho Blue AdaptiveCurveIRM: an interest rate
// curve anchored at a target utilization, with the anchor rate drifting over
// time toward whatever clears the market at 90% utilization.
//
// Reference: https://docs.morpho.org/morpho/concepts/irm
package irm

import (
	"math"

	"github.com/shopspring/decimal"
)

// SecondsPerYear uses the Julian year, matching the on-chain IRM constant.
const SecondsPerYear = 31557600 // 365.25 * 24 * 3600

// Curve parameters.
var (
	TargetUtilization   = decimal.RequireFromString("0.9")
	CurveSteepness      = decimal.NewFromInt(4)
	MinRateAtTarget     = decimal.RequireFromString("0.001") // 0.1% APR
	MaxRateAtTarget     = decimal.RequireFromString("2.0")   // 200% APR
	InitialRateAtTarget = decimal.RequireFromString("0.04")  // 4% APR

	// AdjustmentSpeed is 50 per year, expressed per second.
	AdjustmentSpeed = decimal.NewFromInt(50).Div(decimal.NewFromInt(SecondsPerYear))
)

var one = decimal.NewFromInt(1)

// Model evaluates the adaptive curve. The zero value is not usable; New
// returns a model with the production parameters.
type Model struct {
	targetUtilization decimal.Decimal
	curveSteepness    decimal.Decimal
	adjustmentSpeed   decimal.Decimal
}

// New returns a model with the standard Morpho Blue parameters.
func New() *Model {
	return &Model{
		targetUtilization: TargetUtilization,
		curveSteepness:    CurveSteepness,
		adjustmentSpeed:   AdjustmentSpeed,
	}
}

// BorrowRate returns the borrow APR at the given utilization.
// Linear up to the target, exponential in the last 10%, pinned to
// steepness^4 times the anchor at full utilization.
func (m *Model) BorrowRate(utilization, rateAtTarget decimal.Decimal) decimal.Decimal {
	if utilization.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	if utilization.GreaterThanOrEqual(one) {
		maxMult, _ := m.curveSteepness.PowInt32(4)
		return rateAtTarget.Mul(maxMult)
	}
	if utilization.LessThanOrEqual(m.targetUtilization) {
		return rateAtTarget.Mul(utilization.Div(m.targetUtilization))
	}
	excess := utilization.Sub(m.targetUtilization).Div(one.Sub(m.targetUtilization))
	return rateAtTarget.Mul(m.steepnessPow(excess))
}

// SupplyRate derives the lender APR: borrowRate * utilization * (1 - fee).
func (m *Model) SupplyRate(utilization, borrowRate, fee decimal.Decimal) decimal.Decimal {
	return borrowRate.Mul(utilization).Mul(one.Sub(fee))
}

// PredictRateAtTarget advances the anchor rate over dtSeconds. Utilization
// above target pushes the anchor up, below target pulls it down, always
// clamped to [MinRateAtTarget, MaxRateAtTarget].
func (m *Model) PredictRateAtTarget(current, utilization decimal.Decimal, dtSeconds int64) decimal.Decimal {
	dt := decimal.NewFromInt(dtSeconds)
	var next decimal.Decimal
	if utilization.GreaterThan(m.targetUtilization) {
		adj := m.adjustmentSpeed.Mul(dt).Mul(utilization.Sub(m.targetUtilization))
		next = current.Mul(one.Add(adj))
	} else {
		adj := m.adjustmentSpeed.Mul(dt).Mul(m.targetUtilization.Sub(utilization))
		next = current.Mul(one.Sub(adj))
	}
	if next.LessThan(MinRateAtTarget) {
		return MinRateAtTarget
	}
	if next.GreaterThan(MaxRateAtTarget) {
		return MaxRateAtTarget
	}
	return next
}

// RateAtTargetFromPoint inverts BorrowRate: given one observed
// (borrowRate, utilization) point it recovers the anchor rate, so the whole
// curve can be projected from a single market snapshot. Zero utilization
// carries no information and falls back to InitialRateAtTarget.
func (m *Model) RateAtTargetFromPoint(borrowRate, utilization decimal.Decimal) decimal.Decimal {
	if utilization.LessThanOrEqual(decimal.Zero) {
		return InitialRateAtTarget
	}
	if utilization.GreaterThanOrEqual(one) {
		maxMult, _ := m.curveSteepness.PowInt32(4)
		return borrowRate.Div(maxMult)
	}
	if utilization.LessThanOrEqual(m.targetUtilization) {
		return borrowRate.Mul(m.targetUtilization).Div(utilization)
	}
	excess := utilization.Sub(m.targetUtilization).Div(one.Sub(m.targetUtilization))
	return borrowRate.Div(m.steepnessPow(excess))
}

// steepnessPow computes steepness^excess for fractional excess in (0, 1).
// Exponentiation goes through float64; rate curves do not need more than
// its 15 significant digits.
func (m *Model) steepnessPow(excess decimal.Decimal) decimal.Decimal {
	base, _ := m.curveSteepness.Float64()
	exp, _ := excess.Float64()
	return decimal.NewFromFloat(math.Pow(base, exp))
}

// APRToAPY converts a simple annual rate to its compounded equivalent:
// (1 + apr/n)^n - 1. Non-positive rates map to zero.
func APRToAPY(apr decimal.Decimal, compoundingPeriods int) decimal.Decimal {
	if apr.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	ratePerPeriod := apr.Div(decimal.NewFromInt(int64(compoundingPeriods)))
	compounded, _ := one.Add(ratePerPeriod).PowInt32(int32(compoundingPeriods))
	return compounded.Sub(one).Round(18)
}

// APYToAPR inverts APRToAPY: n * ((1 + apy)^(1/n) - 1). Non-positive rates
// map to zero. The fractional root goes through float64, same as the curve.
func APYToAPR(apy decimal.Decimal, compoundingPeriods int) decimal.Decimal {
	if apy.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	n := decimal.NewFromInt(int64(compoundingPeriods))
	base, _ := one.Add(apy).Float64()
	perPeriod := math.Pow(base, 1/float64(compoundingPeriods)) - 1
	return decimal.NewFromFloat(perPeriod).Mul(n)
}
