package debt

import (
	"fmt"

	"github.com/shopspring/decimal"

	"lending-lab/internal/domain"
	"lending-lab/internal/lookup"
)

// reallocate runs one greedy pass: repeatedly move debt from the most
// expensive occupied market to the cheapest eligible one, bounded by the
// per-market concentration cap and the minimum health factor, until no
// beneficial move remains. Moving debt preserves principal plus accrued
// interest: the moved slice becomes destination principal, never resets.
// Returns whether any move was executed.
func (b *book) reallocate(ts int64) (bool, error) {
	bookDebt := b.openDebt()
	if !bookDebt.IsPositive() {
		return false, nil
	}
	shareCap := b.cfg.MaxMarketShare.Mul(bookDebt)
	moved := false

	// Bounded by markets²: each pass either saturates a destination or
	// drains a source
	maxPasses := len(b.cfg.MarketIDs) * len(b.cfg.MarketIDs)
	for pass := 0; pass < maxPasses; pass++ {
		dests, err := b.rankDestinations(ts)
		if err != nil {
			return moved, err
		}
		if len(dests) == 0 {
			break
		}

		source := b.dearestPosition(ts, dests[0].apy)
		if source == nil {
			break // nothing left strictly above the cheapest rate
		}
		srcAPY, err := lookup.BorrowAPYAt(ts, b.series[source.MarketID])
		if err != nil {
			return moved, err
		}

		// Collateral follows the slice at the source's collateral ratio
		k := source.CollateralAmount.Div(source.TotalDebt())

		executed := false
		for _, dest := range dests {
			if dest.marketID == source.MarketID {
				continue
			}
			if dest.apy.GreaterThanOrEqual(srcAPY) {
				break // ranked ascending: no cheaper market remains
			}

			amount, err := b.moveCapacity(source, dest, k, shareCap, ts)
			if err != nil {
				return moved, err
			}
			if !amount.IsPositive() {
				continue
			}

			b.executeMove(source, dest.marketID, amount, k, srcAPY, dest.apy, ts)
			moved = true
			executed = true
			break
		}
		if !executed {
			break // no destination can take a safe, beneficial slice
		}
	}
	return moved, nil
}

type destination struct {
	marketID string
	apy      decimal.Decimal
}

// rankDestinations lists eligible markets with data at ts, cheapest first,
// ties keeping the configured order.
func (b *book) rankDestinations(ts int64) ([]destination, error) {
	dests := make([]destination, 0, len(b.cfg.MarketIDs))
	for _, id := range b.cfg.MarketIDs {
		apy, err := lookup.BorrowAPYAt(ts, b.series[id])
		if err != nil {
			continue // not yet quoted, not a candidate
		}
		dests = append(dests, destination{marketID: id, apy: apy})
	}
	// Stable insertion keeps input order on equal rates
	for i := 1; i < len(dests); i++ {
		for j := i; j > 0 && dests[j].apy.LessThan(dests[j-1].apy); j-- {
			dests[j], dests[j-1] = dests[j-1], dests[j]
		}
	}
	return dests, nil
}

// dearestPosition returns the open position paying the highest rate,
// strictly above floor. Ties keep the earlier position.
func (b *book) dearestPosition(ts int64, floor decimal.Decimal) *domain.DebtPosition {
	var best *domain.DebtPosition
	var bestAPY decimal.Decimal
	for _, p := range b.positions {
		if p.Closed || !p.TotalDebt().IsPositive() {
			continue
		}
		apy, err := lookup.BorrowAPYAt(ts, b.series[p.MarketID])
		if err != nil {
			continue
		}
		if !apy.GreaterThan(floor) {
			continue
		}
		if best == nil || apy.GreaterThan(bestAPY) {
			best, bestAPY = p, apy
		}
	}
	return best
}

// moveCapacity bounds a move by the source size, the destination's
// concentration headroom, and the largest slice the minimum health factor
// admits: (collD + k·X)·p·L ≥ minHF·(debtD + X).
func (b *book) moveCapacity(source *domain.DebtPosition, dest destination, k, shareCap decimal.Decimal, ts int64) (decimal.Decimal, error) {
	amount := source.TotalDebt()

	destDebt := decimal.Zero
	destColl := decimal.Zero
	if p := b.openPosition(dest.marketID); p != nil {
		destDebt = p.TotalDebt()
		destColl = p.CollateralAmount
	}
	if headroom := shareCap.Sub(destDebt); headroom.LessThan(amount) {
		amount = headroom
	}
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}

	price, err := b.resolvePrice(dest.marketID, ts)
	if err != nil {
		return decimal.Zero, err
	}
	state, err := lookup.StateAt(ts, b.series[dest.marketID])
	if err != nil {
		return decimal.Zero, fmt.Errorf("market %s at %d: %w", dest.marketID, ts, err)
	}

	// Solve the health constraint for X. Coefficient ≥ 0 means every unit
	// moved arrives at least minHF-collateralized, so X is unbounded there.
	coeff := k.Mul(price).Mul(state.LLTV).Sub(b.cfg.MinHealthFactor)
	slack := destColl.Mul(price).Mul(state.LLTV).Sub(b.cfg.MinHealthFactor.Mul(destDebt))
	if coeff.IsNegative() {
		maxByHF := slack.Div(coeff.Neg())
		if maxByHF.LessThan(amount) {
			amount = maxByHF
		}
	} else if coeff.IsZero() && slack.IsNegative() {
		return decimal.Zero, nil
	}
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}
	return amount, nil
}

// executeMove transfers a debt slice and its collateral, folds the moved
// interest into the destination principal, emits the rebalance event and
// charges the move cost.
func (b *book) executeMove(source *domain.DebtPosition, destID string, amount, k, srcAPY, destAPY decimal.Decimal, ts int64) {
	collateralMoved := k.Mul(amount)

	dest := b.openPosition(destID)
	if dest == nil {
		// Fresh entry; a previously liquidated position here stays closed
		// and any later liquidation is a distinct event
		dest = &domain.DebtPosition{MarketID: destID, EnteredAt: ts}
		b.positions = append(b.positions, dest)
	}
	dest.Principal = dest.Principal.Add(amount)
	dest.CollateralAmount = dest.CollateralAmount.Add(collateralMoved)

	// Proportional drain keeps the source health factor invariant
	ratio := amount.Div(source.TotalDebt())
	remainder := one.Sub(ratio)
	source.Principal = source.Principal.Mul(remainder)
	source.AccruedInterest = source.AccruedInterest.Mul(remainder)
	source.CollateralAmount = source.CollateralAmount.Sub(collateralMoved)

	if !source.TotalDebt().IsPositive() {
		b.removePosition(source)
	}

	b.rebalanceCost = b.rebalanceCost.Add(b.cfg.GasCostUSD).
		Add(amount.Mul(b.cfg.SlippageBps).Div(bpsPerUnit))

	b.events = append(b.events, domain.Event{
		Type:            domain.EventRebalance,
		Timestamp:       ts,
		FromMarketID:    source.MarketID,
		ToMarketID:      destID,
		DebtMoved:       amount,
		CollateralMoved: collateralMoved,
		FromRate:        srcAPY,
		ToRate:          destAPY,
	})
}

// removePosition drops a fully drained position from the book; its debt
// lives on in the destination.
func (b *book) removePosition(target *domain.DebtPosition) {
	for i, p := range b.positions {
		if p == target {
			b.positions = append(b.positions[:i], b.positions[i+1:]...)
			return
		}
	}
}
