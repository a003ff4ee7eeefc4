package lookup

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"lending-lab/internal/domain"
)

// Errors returned by lookup functions.
var (
	// ErrMissingMarketData indicates a required snapshot does not exist.
	// Fatal: simulations never substitute a neighboring value for it.
	ErrMissingMarketData = errors.New("missing market data")

	// ErrPriceUnavailable indicates a price request outside the quoted
	// range, where interpolation has no bracketing points. Fatal.
	ErrPriceUnavailable = errors.New("price data unavailable")
)

// StateAt returns the snapshot at or before target. Rates are step
// functions: the latest observation at or before the step governs it.
// States must be sorted by ascending timestamp.
func StateAt(target int64, states []*domain.MarketState) (*domain.MarketState, error) {
	// First index strictly after target
	i := sort.Search(len(states), func(i int) bool {
		return states[i].Timestamp > target
	})
	if i == 0 {
		return nil, ErrMissingMarketData
	}
	return states[i-1], nil
}

// BorrowAPYAt returns the borrow rate governing the step at target.
func BorrowAPYAt(target int64, states []*domain.MarketState) (decimal.Decimal, error) {
	st, err := StateAt(target, states)
	if err != nil {
		return decimal.Zero, err
	}
	return st.BorrowAPY, nil
}

// PriceAt returns the collateral price in loan-asset terms at target.
// An exact timestamp match returns that quote unchanged. A target between
// two quotes interpolates linearly. A target outside the quoted range
// returns ErrPriceUnavailable.
func PriceAt(target int64, states []*domain.MarketState) (decimal.Decimal, error) {
	if len(states) == 0 {
		return decimal.Zero, ErrPriceUnavailable
	}
	// First index at or after target
	i := sort.Search(len(states), func(i int) bool {
		return states[i].Timestamp >= target
	})
	if i == len(states) {
		return decimal.Zero, ErrPriceUnavailable
	}
	if states[i].Timestamp == target {
		return states[i].CollateralPrice, nil
	}
	if i == 0 {
		return decimal.Zero, ErrPriceUnavailable
	}

	lo, hi := states[i-1], states[i]
	span := decimal.NewFromInt(hi.Timestamp - lo.Timestamp)
	elapsed := decimal.NewFromInt(target - lo.Timestamp)
	delta := hi.CollateralPrice.Sub(lo.CollateralPrice)
	return lo.CollateralPrice.Add(delta.Mul(elapsed).Div(span)), nil
}
