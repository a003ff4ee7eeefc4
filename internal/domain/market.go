package domain

import "github.com/shopspring/decimal"

// Market identifies a lending market and its static parameters.
// Corresponds to one row of the markets registry in configuration.
type Market struct {
	ID              string          // protocol-scoped market identifier
	Protocol        string          // "morpho" | "aave"
	CollateralAsset string          // collateral token symbol
	LoanAsset       string          // loan token symbol
	LLTV            decimal.Decimal // liquidation loan-to-value, e.g. 0.86
}

// MarketState is one observed snapshot of a lending market.
// Immutable once created; simulations never modify stored snapshots and
// recompute all derived state from timestamp-ordered reads.
type MarketState struct {
	MarketID  string // market identifier
	Timestamp int64  // observation time, unix seconds

	// Rates (annualized fractions, e.g. 0.05 = 5% APY)
	SupplyAPY    decimal.Decimal // lender yield
	BorrowAPY    decimal.Decimal // borrower cost
	Utilization  decimal.Decimal // borrowed / supplied, in [0, 1]
	RateAtTarget decimal.Decimal // IRM rate at target utilization, zero if unknown

	// Risk parameters
	LLTV decimal.Decimal // liquidation loan-to-value at observation time

	// Prices
	CollateralPrice    decimal.Decimal // collateral quoted in loan-asset terms
	CollateralPriceUSD decimal.Decimal // collateral quoted in USD
	LoanPriceUSD       decimal.Decimal // loan asset quoted in USD

	// Pool sizes (loan-asset units)
	TotalSupplyAssets decimal.Decimal // total supplied liquidity
	TotalBorrowAssets decimal.Decimal // total outstanding borrows
}

// Protocol identifier constants
const (
	ProtocolMorpho = "morpho"
	ProtocolAave   = "aave"
)
