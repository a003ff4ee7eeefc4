// Package risk implements position health math for collateralized lending
// markets. All functions are pure decimal arithmetic; undefined cases return
// errors instead of placeholder values so callers cannot mistake a sentinel
// for a real quantity.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrZeroDebt indicates a health factor request for a position without
	// debt. Health is undefined there, not infinite.
	ErrZeroDebt = errors.New("health factor undefined without debt")

	// ErrZeroCollateral indicates a computation whose collateral term is
	// zero or negative.
	ErrZeroCollateral = errors.New("non-positive collateral")

	// ErrInvalidTarget indicates a target health factor or leverage outside
	// the range where the requested quantity exists.
	ErrInvalidTarget = errors.New("target out of range")
)

var one = decimal.NewFromInt(1)

// HealthFactor returns collateral * price * lltv / debt. Price is the
// collateral price in loan-asset terms, so the result is dimensionless.
// A position liquidates when this drops below 1.
func HealthFactor(collateralAmount, collateralPrice, lltv, debt decimal.Decimal) (decimal.Decimal, error) {
	if !debt.IsPositive() {
		return decimal.Zero, ErrZeroDebt
	}
	return collateralAmount.Mul(collateralPrice).Mul(lltv).Div(debt), nil
}

// LiquidationPrice returns the collateral price at which health reaches
// exactly 1: debt / (collateral * lltv).
func LiquidationPrice(collateralAmount, lltv, debt decimal.Decimal) (decimal.Decimal, error) {
	divisor := collateralAmount.Mul(lltv)
	if !divisor.IsPositive() {
		return decimal.Zero, ErrZeroCollateral
	}
	return debt.Div(divisor), nil
}

// MaxBorrow returns the largest debt that keeps health at or above
// minHealthFactor: collateralValue * lltv / minHealthFactor. CollateralValue
// is already in loan-asset terms.
func MaxBorrow(collateralValue, lltv, minHealthFactor decimal.Decimal) (decimal.Decimal, error) {
	if !minHealthFactor.IsPositive() {
		return decimal.Zero, ErrInvalidTarget
	}
	return collateralValue.Mul(lltv).Div(minHealthFactor), nil
}

// RequiredCollateral returns the collateral amount that puts a debt at
// targetHealthFactor: debt * target / (price * lltv).
func RequiredCollateral(debt, collateralPrice, lltv, targetHealthFactor decimal.Decimal) (decimal.Decimal, error) {
	if !targetHealthFactor.IsPositive() {
		return decimal.Zero, ErrInvalidTarget
	}
	divisor := collateralPrice.Mul(lltv)
	if !divisor.IsPositive() {
		return decimal.Zero, ErrZeroCollateral
	}
	return debt.Mul(targetHealthFactor).Div(divisor), nil
}

// DistanceToLiquidation returns how far the current price sits above the
// liquidation price, as a percentage of the current price.
func DistanceToLiquidation(collateralPrice, liquidationPrice decimal.Decimal) (decimal.Decimal, error) {
	if !collateralPrice.IsPositive() {
		return decimal.Zero, ErrZeroCollateral
	}
	hundred := decimal.NewFromInt(100)
	return collateralPrice.Sub(liquidationPrice).Div(collateralPrice).Mul(hundred), nil
}

// LeverageFromHealthFactor returns the loop leverage that produces the given
// health factor: hf / (hf - lltv). Only defined for hf > lltv.
func LeverageFromHealthFactor(healthFactor, lltv decimal.Decimal) (decimal.Decimal, error) {
	if healthFactor.LessThanOrEqual(lltv) {
		return decimal.Zero, ErrInvalidTarget
	}
	return healthFactor.Div(healthFactor.Sub(lltv)), nil
}

// HealthFactorFromLeverage inverts LeverageFromHealthFactor:
// leverage * lltv / (leverage - 1). Only defined for leverage > 1.
func HealthFactorFromLeverage(leverage, lltv decimal.Decimal) (decimal.Decimal, error) {
	if leverage.LessThanOrEqual(one) {
		return decimal.Zero, ErrInvalidTarget
	}
	return leverage.Mul(lltv).Div(leverage.Sub(one)), nil
}

// LeverageLoopResult describes a recursive supply-borrow loop sized to a
// target leverage.
type LeverageLoopResult struct {
	TotalCollateral  decimal.Decimal // collateral units after looping
	TotalBorrow      decimal.Decimal // loan-asset units borrowed
	Leverage         decimal.Decimal // leverage actually used
	HealthFactor     decimal.Decimal
	LiquidationPrice decimal.Decimal
	Capped           bool // true when the target was unsafe and got reduced
}

// LeverageLoop sizes a leverage loop from initial capital (in collateral
// units). A target that would start below health 1 is reduced to 90% of the
// distance to the theoretical maximum 1/(1-lltv).
func LeverageLoop(initialCapital, targetLeverage, collateralPrice, lltv decimal.Decimal) (*LeverageLoopResult, error) {
	if !initialCapital.IsPositive() {
		return nil, ErrZeroCollateral
	}
	if targetLeverage.LessThanOrEqual(one) {
		return nil, ErrInvalidTarget
	}
	if !lltv.IsPositive() || lltv.GreaterThanOrEqual(one) {
		return nil, ErrInvalidTarget
	}

	build := func(lev decimal.Decimal) (*LeverageLoopResult, error) {
		collateral := initialCapital.Mul(lev)
		borrow := initialCapital.Mul(lev.Sub(one)).Mul(collateralPrice)
		hf, err := HealthFactor(collateral, collateralPrice, lltv, borrow)
		if err != nil {
			return nil, err
		}
		liq, err := LiquidationPrice(collateral, lltv, borrow)
		if err != nil {
			return nil, err
		}
		return &LeverageLoopResult{
			TotalCollateral:  collateral,
			TotalBorrow:      borrow,
			Leverage:         lev,
			HealthFactor:     hf,
			LiquidationPrice: liq,
		}, nil
	}

	res, err := build(targetLeverage)
	if err != nil {
		return nil, err
	}
	if res.HealthFactor.GreaterThanOrEqual(one) {
		return res, nil
	}

	// Unsafe target, back off to 90% of the way to max leverage.
	maxLev := one.Div(one.Sub(lltv))
	safe := one.Add(maxLev.Sub(one).Mul(decimal.RequireFromString("0.9")))
	res, err = build(safe)
	if err != nil {
		return nil, err
	}
	res.Capped = true
	return res, nil
}
