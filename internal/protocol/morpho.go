package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"lending-lab/internal/domain"
)

// wad is the 1e18 fixed-point scale Morpho uses on-chain.
var wad = decimal.New(1, 18)

// morphoPayload is the raw Morpho market frame. Rates from the API arrive as
// plain decimal fractions; on-chain quantities arrive WAD-scaled.
type morphoPayload struct {
	SupplyAPY         decimal.Decimal `json:"supply_apy"`
	BorrowAPY         decimal.Decimal `json:"borrow_apy"`
	Utilization       decimal.Decimal `json:"utilization"`
	RateAtTargetWad   decimal.Decimal `json:"rate_at_target_wad"` // zero = unknown
	LLTVWad           decimal.Decimal `json:"lltv_wad"`
	CollateralPrice   decimal.Decimal `json:"collateral_price"` // loan terms, optional
	CollateralUSD     decimal.Decimal `json:"collateral_price_usd"`
	LoanUSD           decimal.Decimal `json:"loan_price_usd"`
	TotalSupplyAssets decimal.Decimal `json:"total_supply_assets"`
	TotalBorrowAssets decimal.Decimal `json:"total_borrow_assets"`
}

// MorphoAdapter normalizes Morpho Blue market payloads.
type MorphoAdapter struct{}

// NewMorphoAdapter creates a MorphoAdapter.
func NewMorphoAdapter() *MorphoAdapter {
	return &MorphoAdapter{}
}

var _ Adapter = (*MorphoAdapter)(nil)

// Protocol implements Adapter.
func (a *MorphoAdapter) Protocol() string { return domain.ProtocolMorpho }

// Normalize implements Adapter. The collateral price in loan terms comes from
// the payload's direct quote when present, otherwise from the USD price
// ratio. Utilization falls back to borrow/supply when the feed omits it.
func (a *MorphoAdapter) Normalize(marketID string, ts int64, payload []byte) (*domain.MarketState, error) {
	var raw morphoPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: morpho market %s: %v", ErrMalformedPayload, marketID, err)
	}
	if raw.LLTVWad.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: morpho market %s: missing lltv", ErrMalformedPayload, marketID)
	}

	state := &domain.MarketState{
		MarketID:           marketID,
		Timestamp:          ts,
		SupplyAPY:          raw.SupplyAPY,
		BorrowAPY:          raw.BorrowAPY,
		Utilization:        raw.Utilization,
		RateAtTarget:       raw.RateAtTargetWad.Div(wad),
		LLTV:               raw.LLTVWad.Div(wad),
		CollateralPrice:    raw.CollateralPrice,
		CollateralPriceUSD: raw.CollateralUSD,
		LoanPriceUSD:       raw.LoanUSD,
		TotalSupplyAssets:  raw.TotalSupplyAssets,
		TotalBorrowAssets:  raw.TotalBorrowAssets,
	}

	if state.Utilization.IsZero() && raw.TotalSupplyAssets.IsPositive() {
		state.Utilization = raw.TotalBorrowAssets.Div(raw.TotalSupplyAssets)
	}
	if state.CollateralPrice.IsZero() && raw.LoanUSD.IsPositive() {
		state.CollateralPrice = raw.CollateralUSD.Div(raw.LoanUSD)
	}

	return state, nil
}
