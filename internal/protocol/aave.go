package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"lending-lab/internal/domain"
	"lending-lab/internal/irm"
)

// Aave fixed-point scales and rate compounding.
var (
	ray = decimal.New(1, 27) // 1e27 rate scale
	bps = decimal.New(1, 4)  // basis points per unit
)

// aaveCompounding approximates Aave's per-second compounding closely enough
// for daily steps.
const aaveCompounding = 365

// aavePayload is the raw Aave reserve frame. Rates arrive as RAY-scaled
// annual APRs; the liquidation threshold comes from the reserve
// configuration in basis points.
type aavePayload struct {
	LiquidityRateRay        decimal.Decimal `json:"liquidity_rate_ray"`
	VariableBorrowRateRay   decimal.Decimal `json:"variable_borrow_rate_ray"`
	LiquidationThresholdBps decimal.Decimal `json:"liquidation_threshold_bps"`
	CollateralUSD           decimal.Decimal `json:"collateral_price_usd"`
	LoanUSD                 decimal.Decimal `json:"loan_price_usd"`
	TotalSupplied           decimal.Decimal `json:"total_supplied"`
	TotalBorrowed           decimal.Decimal `json:"total_borrowed"`
}

// AaveAdapter normalizes Aave v3 reserve payloads. Aave is a pooled model:
// there is no per-market rate-at-target, so the field stays zero and
// consumers anchor the curve from the observed point when they need it.
type AaveAdapter struct{}

// NewAaveAdapter creates an AaveAdapter.
func NewAaveAdapter() *AaveAdapter {
	return &AaveAdapter{}
}

var _ Adapter = (*AaveAdapter)(nil)

// Protocol implements Adapter.
func (a *AaveAdapter) Protocol() string { return domain.ProtocolAave }

// Normalize implements Adapter.
func (a *AaveAdapter) Normalize(marketID string, ts int64, payload []byte) (*domain.MarketState, error) {
	var raw aavePayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: aave market %s: %v", ErrMalformedPayload, marketID, err)
	}
	if raw.LiquidationThresholdBps.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: aave market %s: missing liquidation threshold", ErrMalformedPayload, marketID)
	}

	state := &domain.MarketState{
		MarketID:           marketID,
		Timestamp:          ts,
		SupplyAPY:          irm.APRToAPY(raw.LiquidityRateRay.Div(ray), aaveCompounding),
		BorrowAPY:          irm.APRToAPY(raw.VariableBorrowRateRay.Div(ray), aaveCompounding),
		LLTV:               raw.LiquidationThresholdBps.Div(bps),
		CollateralPriceUSD: raw.CollateralUSD,
		LoanPriceUSD:       raw.LoanUSD,
		TotalSupplyAssets:  raw.TotalSupplied,
		TotalBorrowAssets:  raw.TotalBorrowed,
	}

	if raw.TotalSupplied.IsPositive() {
		state.Utilization = raw.TotalBorrowed.Div(raw.TotalSupplied)
	}
	if raw.LoanUSD.IsPositive() {
		state.CollateralPrice = raw.CollateralUSD.Div(raw.LoanUSD)
	}

	return state, nil
}
