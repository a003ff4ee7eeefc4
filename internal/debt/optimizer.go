// Package debt implements the debt rebalancing optimizer: a per-position
// state machine that advances borrow positions through simulated time with
// compounding interest and interpolated prices, triggers greedy debt
// reallocation, and records margin-call and liquidation events.
package debt

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"lending-lab/internal/domain"
	"lending-lab/internal/lookup"
	"lending-lab/internal/pricecache"
	"lending-lab/internal/risk"
)

// HoursPerYear converts step hours into the accrual year fraction.
const HoursPerYear = 8760

var (
	one        = decimal.NewFromInt(1)
	bpsPerUnit = decimal.NewFromInt(10000)
	hoursYear  = decimal.NewFromInt(HoursPerYear)
)

// Optimizer runs debt rebalancing simulations. One optimizer may serve many
// runs; each run gets its own price cache when none is injected.
type Optimizer struct {
	cache *pricecache.Cache
}

// New creates an Optimizer. A nil cache means each run builds its own.
func New(cache *pricecache.Cache) *Optimizer {
	return &Optimizer{cache: cache}
}

// book is the mutable state of one simulation run.
type book struct {
	cfg       *domain.RebalancingConfig
	series    map[string][]*domain.MarketState
	cache     *pricecache.Cache
	positions []*domain.DebtPosition

	dt                 decimal.Decimal // step fraction of a year
	events             []domain.Event
	health             []domain.HealthPoint
	cumulativeInterest decimal.Decimal
	rebalanceCost      decimal.Decimal
	rebalanceCount     int
	lastRebalanceStep  int
	lastRebalanceRates map[string]decimal.Decimal
	weightedAPYs       []decimal.Decimal
	lastPrices         map[string]decimal.Decimal // last resolved price per market

	// Static benchmark: the whole book parked in the cheapest start market
	benchMarket   string
	benchDebt     decimal.Decimal
	benchInterest decimal.Decimal
	benchAPYs     []decimal.Decimal
}

// Run advances the book step by step over the series timeline and returns
// the complete immutable result, or fails with no partial result. Explicit
// initial positions override the uniform split of the configured book.
func (o *Optimizer) Run(ctx context.Context, cfg *domain.RebalancingConfig, series map[string][]*domain.MarketState, positions []*domain.DebtPosition) (*domain.SimulationResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	norm := cfg.Normalized()

	timeline, err := buildTimeline(norm.MarketIDs, series)
	if err != nil {
		return nil, err
	}

	cache := o.cache
	if cache == nil {
		cache = pricecache.New(pricecache.Options{})
	}

	b := &book{
		cfg:                &norm,
		series:             series,
		cache:              cache,
		dt:                 norm.StepHours.Div(hoursYear),
		lastRebalanceRates: make(map[string]decimal.Decimal),
		lastPrices:         make(map[string]decimal.Decimal),
	}

	if err := b.openPositions(positions, timeline[0]); err != nil {
		return nil, err
	}
	if err := b.chooseBenchmark(timeline[0]); err != nil {
		return nil, err
	}

	endTime := timeline[0]
	for i, ts := range timeline {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		endTime = ts

		if err := b.step(i, ts); err != nil {
			return nil, err
		}
		if b.openDebt().IsZero() {
			break // every position liquidated or drained, nothing can change
		}
	}

	return b.finalize(timeline[0], endTime)
}

// openPositions seeds the book from explicit positions or a uniform split.
func (b *book) openPositions(positions []*domain.DebtPosition, startTime int64) error {
	if len(positions) > 0 {
		eligible := make(map[string]bool, len(b.cfg.MarketIDs))
		for _, id := range b.cfg.MarketIDs {
			eligible[id] = true
		}
		for _, p := range positions {
			if !eligible[p.MarketID] {
				return fmt.Errorf("%w: position market %s not among eligible markets", domain.ErrInvalidConfig, p.MarketID)
			}
			if p.Principal.IsNegative() || p.AccruedInterest.IsNegative() || p.CollateralAmount.IsNegative() {
				return fmt.Errorf("%w: negative position amounts in market %s", domain.ErrInvalidConfig, p.MarketID)
			}
			cp := *p // callers keep their inputs
			if cp.EnteredAt == 0 {
				cp.EnteredAt = startTime
			}
			b.positions = append(b.positions, &cp)
		}
		return nil
	}

	if !b.cfg.TotalDebt.IsPositive() {
		return fmt.Errorf("%w: no initial positions and no total debt", domain.ErrInvalidConfig)
	}
	n := decimal.NewFromInt(int64(len(b.cfg.MarketIDs)))
	for _, id := range b.cfg.MarketIDs {
		b.positions = append(b.positions, &domain.DebtPosition{
			MarketID:         id,
			Principal:        b.cfg.TotalDebt.Div(n),
			CollateralAmount: b.cfg.TotalCollateral.Div(n),
			EnteredAt:        startTime,
		})
	}
	return nil
}

// chooseBenchmark parks the whole book in the market that was cheapest at
// the start of the timeline.
func (b *book) chooseBenchmark(startTime int64) error {
	best := ""
	var bestAPY decimal.Decimal
	for _, id := range b.cfg.MarketIDs {
		apy, err := lookup.BorrowAPYAt(startTime, b.series[id])
		if err != nil {
			continue // markets whose series start later are not candidates
		}
		if best == "" || apy.LessThan(bestAPY) {
			best, bestAPY = id, apy
		}
	}
	if best == "" {
		return fmt.Errorf("%w: no market has data at simulation start", lookup.ErrMissingMarketData)
	}
	b.benchMarket = best
	b.benchDebt = b.openDebt()
	return nil
}

// step advances every open position one interval and evaluates the
// rebalancing trigger.
func (b *book) step(i int, ts int64) error {
	for _, p := range b.positions {
		if p.Closed {
			continue
		}

		apy, err := lookup.BorrowAPYAt(ts, b.series[p.MarketID])
		if err != nil {
			return fmt.Errorf("market %s at %d: %w", p.MarketID, ts, err)
		}

		// Accrue on the position's own rate history; the first step only
		// observes
		if i > 0 {
			accrued := p.TotalDebt().Mul(apy).Mul(b.dt)
			p.AccruedInterest = p.AccruedInterest.Add(accrued)
			b.cumulativeInterest = b.cumulativeInterest.Add(accrued)
		}

		price, err := b.resolvePrice(p.MarketID, ts)
		if err != nil {
			return err
		}

		if !p.TotalDebt().IsPositive() {
			continue // zero-debt positions have no health to check
		}

		state, err := lookup.StateAt(ts, b.series[p.MarketID])
		if err != nil {
			return fmt.Errorf("market %s at %d: %w", p.MarketID, ts, err)
		}
		hf, err := risk.HealthFactor(p.CollateralAmount, price, state.LLTV, p.TotalDebt())
		if err != nil {
			return fmt.Errorf("market %s at %d: %w", p.MarketID, ts, err)
		}

		switch {
		case hf.LessThan(one):
			b.events = append(b.events, domain.Event{
				Type:         domain.EventLiquidation,
				Timestamp:    ts,
				MarketID:     p.MarketID,
				HealthFactor: hf,
			})
			p.Closed = true
			p.ClosedAt = ts
		case hf.LessThan(b.cfg.MarginCallThreshold):
			b.events = append(b.events, domain.Event{
				Type:         domain.EventMarginCall,
				Timestamp:    ts,
				MarketID:     p.MarketID,
				HealthFactor: hf,
			})
		}
	}

	if err := b.recordHealth(ts); err != nil {
		return err
	}
	if err := b.accrueBenchmark(i, ts); err != nil {
		return err
	}

	if i > 0 && b.shouldRebalance(i, ts) {
		moved, err := b.reallocate(ts)
		if err != nil {
			return err
		}
		if moved {
			b.rebalanceCount++
		}
		b.lastRebalanceStep = i
		b.snapshotRates(ts)
	}
	return nil
}

// resolvePrice returns the collateral price at ts, cache first, then the
// series with linear interpolation.
func (b *book) resolvePrice(marketID string, ts int64) (decimal.Decimal, error) {
	if price, ok := b.cache.Get(marketID, ts); ok {
		b.lastPrices[marketID] = price
		return price, nil
	}
	price, err := lookup.PriceAt(ts, b.series[marketID])
	if err != nil {
		return decimal.Zero, fmt.Errorf("market %s at %d: %w", marketID, ts, err)
	}
	b.cache.Put(marketID, ts, price)
	b.lastPrices[marketID] = price
	return price, nil
}

// recordHealth appends the aggregate health point while the book carries
// debt. Collateral is LLTV-weighted so the aggregate matches the
// liquidation boundary.
func (b *book) recordHealth(ts int64) error {
	totalDebt := decimal.Zero
	weighted := decimal.Zero
	collValue := decimal.Zero
	for _, p := range b.positions {
		if p.Closed || !p.TotalDebt().IsPositive() {
			continue
		}
		state, err := lookup.StateAt(ts, b.series[p.MarketID])
		if err != nil {
			return fmt.Errorf("market %s at %d: %w", p.MarketID, ts, err)
		}
		price := b.lastPrices[p.MarketID]
		totalDebt = totalDebt.Add(p.TotalDebt())
		weighted = weighted.Add(p.CollateralAmount.Mul(price).Mul(state.LLTV))
		collValue = collValue.Add(p.CollateralAmount.Mul(price))
	}
	if !totalDebt.IsPositive() {
		return nil
	}

	b.health = append(b.health, domain.HealthPoint{
		Timestamp:       ts,
		HealthFactor:    weighted.Div(totalDebt),
		TotalDebt:       totalDebt,
		CollateralValue: collValue,
	})

	apy := decimal.Zero
	for _, p := range b.positions {
		if p.Closed || !p.TotalDebt().IsPositive() {
			continue
		}
		rate, err := lookup.BorrowAPYAt(ts, b.series[p.MarketID])
		if err != nil {
			return err
		}
		apy = apy.Add(p.TotalDebt().Mul(rate))
	}
	b.weightedAPYs = append(b.weightedAPYs, apy.Div(totalDebt))
	return nil
}

// accrueBenchmark compounds the static benchmark book.
func (b *book) accrueBenchmark(i int, ts int64) error {
	apy, err := lookup.BorrowAPYAt(ts, b.series[b.benchMarket])
	if err != nil {
		return fmt.Errorf("benchmark market %s at %d: %w", b.benchMarket, ts, err)
	}
	if i > 0 {
		accrued := b.benchDebt.Mul(apy).Mul(b.dt)
		b.benchDebt = b.benchDebt.Add(accrued)
		b.benchInterest = b.benchInterest.Add(accrued)
	}
	b.benchAPYs = append(b.benchAPYs, apy)
	return nil
}

// shouldRebalance evaluates the cadence and rate-move triggers. Either one
// firing schedules a pass; both disabled means the run only monitors.
func (b *book) shouldRebalance(i int, ts int64) bool {
	if b.cfg.IntervalSteps > 0 && i-b.lastRebalanceStep >= b.cfg.IntervalSteps {
		return true
	}
	if b.cfg.RateThresholdBps.IsPositive() {
		for _, id := range b.cfg.MarketIDs {
			apy, err := lookup.BorrowAPYAt(ts, b.series[id])
			if err != nil {
				continue // not yet tracked
			}
			last, ok := b.lastRebalanceRates[id]
			if !ok {
				b.lastRebalanceRates[id] = apy
				continue
			}
			if apy.Sub(last).Abs().Mul(bpsPerUnit).GreaterThanOrEqual(b.cfg.RateThresholdBps) {
				return true
			}
		}
	}
	return false
}

// snapshotRates records the rates the threshold trigger compares against.
func (b *book) snapshotRates(ts int64) {
	for _, id := range b.cfg.MarketIDs {
		if apy, err := lookup.BorrowAPYAt(ts, b.series[id]); err == nil {
			b.lastRebalanceRates[id] = apy
		}
	}
}

// openDebt sums principal plus interest across open positions.
func (b *book) openDebt() decimal.Decimal {
	total := decimal.Zero
	for _, p := range b.positions {
		if !p.Closed {
			total = total.Add(p.TotalDebt())
		}
	}
	return total
}

// openPosition returns the open position in a market, if any.
func (b *book) openPosition(marketID string) *domain.DebtPosition {
	for _, p := range b.positions {
		if !p.Closed && p.MarketID == marketID {
			return p
		}
	}
	return nil
}

// buildTimeline returns the ascending union of eligible markets' timestamps.
func buildTimeline(marketIDs []string, series map[string][]*domain.MarketState) ([]int64, error) {
	tsSet := make(map[int64]struct{})
	for _, id := range marketIDs {
		for _, st := range series[id] {
			tsSet[st.Timestamp] = struct{}{}
		}
	}
	if len(tsSet) == 0 {
		return nil, fmt.Errorf("%w: no series for any eligible market", lookup.ErrMissingMarketData)
	}
	timeline := make([]int64, 0, len(tsSet))
	for ts := range tsSet {
		timeline = append(timeline, ts)
	}
	sort.Slice(timeline, func(i, j int) bool { return timeline[i] < timeline[j] })
	return timeline, nil
}
