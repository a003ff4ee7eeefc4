package domain

import "github.com/shopspring/decimal"

// Event type constants
const (
	EventMarginCall  = "MARGIN_CALL"
	EventLiquidation = "LIQUIDATION"
	EventRebalance   = "REBALANCE"
)

// Event records one state transition during a debt simulation. Events are
// never dropped or deduplicated; a market liquidated twice across a re-entry
// produces two distinct entries.
type Event struct {
	Type      string // MARGIN_CALL | LIQUIDATION | REBALANCE
	Timestamp int64  // unix seconds
	MarketID  string // position market for margin calls and liquidations

	// Health at the time of a margin call or liquidation
	HealthFactor decimal.Decimal

	// Rebalance details
	FromMarketID    string
	ToMarketID      string
	DebtMoved       decimal.Decimal
	CollateralMoved decimal.Decimal
	FromRate        decimal.Decimal
	ToRate          decimal.Decimal
}
