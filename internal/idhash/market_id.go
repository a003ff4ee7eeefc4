package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"
)

// ComputeMarketID computes a deterministic market_id using SHA256.
// Formula: SHA256(protocol|collateral_asset|loan_asset|lltv)
// Returns hex-encoded hash (64 characters).
func ComputeMarketID(
	protocol string,
	collateralAsset string,
	loanAsset string,
	lltv decimal.Decimal,
) string {
	data := fmt.Sprintf("%s|%s|%s|%s",
		protocol,
		collateralAsset,
		loanAsset,
		lltv.String(),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
