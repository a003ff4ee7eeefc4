// Package normalization turns raw feed frames into canonical market
// snapshot series: protocol adapter dispatch, derivation of missing fields,
// per-market ordering with duplicate drop, store write.
package normalization

import (
	"encoding/json"
	"fmt"

	"lending-lab/internal/domain"
)

// Frame is one raw observation as delivered by a feed or a backfill file.
// Payload stays opaque until the protocol adapter parses it.
type Frame struct {
	Protocol  string          `json:"protocol"`
	MarketID  string          `json:"market_id"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Validate checks the envelope fields the adapters cannot check themselves.
func (f *Frame) Validate() error {
	if f.Protocol == "" {
		return fmt.Errorf("%w: frame without protocol", domain.ErrInvalidConfig)
	}
	if f.MarketID == "" {
		return fmt.Errorf("%w: frame without market id", domain.ErrInvalidConfig)
	}
	if f.Timestamp <= 0 {
		return fmt.Errorf("%w: frame for %s with timestamp %d", domain.ErrInvalidConfig, f.MarketID, f.Timestamp)
	}
	return nil
}

// ParseFrame decodes one JSON frame.
func ParseFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// deriveMissing fills fields an adapter could not produce from its payload.
// Idempotent: already-populated fields are left alone.
func deriveMissing(st *domain.MarketState) {
	if st.Utilization.IsZero() && st.TotalSupplyAssets.IsPositive() {
		st.Utilization = st.TotalBorrowAssets.Div(st.TotalSupplyAssets)
	}
	if st.CollateralPrice.IsZero() && st.CollateralPriceUSD.IsPositive() && st.LoanPriceUSD.IsPositive() {
		st.CollateralPrice = st.CollateralPriceUSD.Div(st.LoanPriceUSD)
	}
}
