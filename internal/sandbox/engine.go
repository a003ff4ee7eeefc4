// Package sandbox is the invocation surface over the simulation engines.
// It validates inputs, builds per-run caches, runs synchronously, and layers
// the ambient concerns the pure engine packages stay free of: logging, run
// persistence, and metrics. The engine performs no I/O of its own; callers
// prefetch series through a marketdata.Provider.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"lending-lab/internal/analytics"
	"lending-lab/internal/debt"
	"lending-lab/internal/domain"
	"lending-lab/internal/idhash"
	"lending-lab/internal/observability"
	"lending-lab/internal/pricecache"
	"lending-lab/internal/simulation"
	"lending-lab/internal/storage"
)

// Options configures an Engine. Zero values give a logging-only engine with
// default cache sizing and no persistence.
type Options struct {
	Logger    *log.Logger            // defaults to log.Default()
	CacheOpts pricecache.Options     // sizing for the per-run price caches
	Runs      storage.RunRecordStore // optional, persists run outcomes
	Markets   []domain.Market        // optional registry, enables loan-asset filtering
	Metrics   bool                   // record observability counters after each run
}

// Engine runs simulations and surrounds them with ambient concerns.
type Engine struct {
	simulator *simulation.Simulator
	logger    *log.Logger
	cacheOpts pricecache.Options
	runs      storage.RunRecordStore
	markets   map[string]domain.Market
	metrics   bool
	now       func() time.Time
}

// New creates an Engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	markets := make(map[string]domain.Market, len(opts.Markets))
	for _, m := range opts.Markets {
		markets[m.ID] = m
	}
	return &Engine{
		simulator: simulation.New(analytics.New()),
		logger:    logger,
		cacheOpts: opts.CacheOpts,
		runs:      opts.Runs,
		markets:   markets,
		metrics:   opts.Metrics,
		now:       time.Now,
	}
}

// RunAllocationSimulation runs an allocation policy over the series and
// returns the complete immutable result. The loan-asset filter is applied
// here, against the configured market registry, before the pure simulator
// sees the config.
func (e *Engine) RunAllocationSimulation(ctx context.Context, cfg *domain.AllocationConfig, series map[string][]*domain.MarketState, initialCapital decimal.Decimal) (*domain.AllocationResult, error) {
	return e.runAllocation(ctx, "", cfg, series, initialCapital)
}

func (e *Engine) runAllocation(ctx context.Context, configID string, cfg *domain.AllocationConfig, series map[string][]*domain.MarketState, initialCapital decimal.Decimal) (*domain.AllocationResult, error) {
	started := e.now()

	filtered, err := e.filterByLoanAsset(cfg)
	if err != nil {
		e.recordRun(domain.KindAllocation, started, err)
		return nil, err
	}

	result, err := e.simulator.Run(ctx, filtered, series, initialCapital)
	e.recordRun(domain.KindAllocation, started, err)
	if err != nil {
		return nil, err
	}

	if e.metrics && len(result.Warnings) > 0 {
		observability.RecordConvergenceWarnings(len(result.Warnings))
	}
	e.logger.Printf("allocation run: strategy=%s markets=%d points=%d return=%s excess=%s",
		filtered.Strategy, len(filtered.Markets), len(result.Points),
		result.TotalReturn.StringFixed(6), result.ExcessReturn.StringFixed(6))

	e.persistAllocation(configID, filtered, result)
	return result, nil
}

// RunDebtSimulation runs the debt optimizer over the series with a fresh
// per-run price cache.
func (e *Engine) RunDebtSimulation(ctx context.Context, cfg *domain.RebalancingConfig, series map[string][]*domain.MarketState, positions []*domain.DebtPosition) (*domain.SimulationResult, error) {
	return e.runDebt(ctx, "", cfg, series, positions)
}

func (e *Engine) runDebt(ctx context.Context, configID string, cfg *domain.RebalancingConfig, series map[string][]*domain.MarketState, positions []*domain.DebtPosition) (*domain.SimulationResult, error) {
	started := e.now()

	optimizer := debt.New(pricecache.New(e.cacheOpts))
	result, err := optimizer.Run(ctx, cfg, series, positions)
	e.recordRun(domain.KindRebalancing, started, err)
	if err != nil {
		return nil, err
	}

	if e.metrics {
		var marginCalls, liquidations, rebalances int
		for _, ev := range result.Events {
			switch ev.Type {
			case domain.EventMarginCall:
				marginCalls++
			case domain.EventLiquidation:
				liquidations++
			case domain.EventRebalance:
				rebalances++
			}
		}
		observability.RecordRunEvents(marginCalls, liquidations, rebalances)
	}
	e.logger.Printf("debt run: markets=%d steps=%d events=%d interest=%s savings=%s",
		len(cfg.MarketIDs), result.Metrics.DataPoints, len(result.Events),
		result.Metrics.TotalInterestPaid.StringFixed(6), result.Metrics.NetSavings.StringFixed(6))

	e.persistDebt(configID, cfg, result)
	return result, nil
}

// filterByLoanAsset returns a config copy restricted to markets whose
// registry entry carries the requested loan asset. Without a registry the
// filter cannot be evaluated and passes everything through.
func (e *Engine) filterByLoanAsset(cfg *domain.AllocationConfig) (*domain.AllocationConfig, error) {
	if cfg.LoanAsset == "" {
		return cfg, nil
	}
	if len(e.markets) == 0 {
		e.logger.Printf("loan asset filter %s requested but no market registry configured, skipping", cfg.LoanAsset)
		return cfg, nil
	}

	out := *cfg
	out.Markets = make([]domain.MarketLimit, 0, len(cfg.Markets))
	for _, l := range cfg.Markets {
		m, ok := e.markets[l.MarketID]
		if !ok {
			return nil, fmt.Errorf("%w: market %s not in registry", domain.ErrInvalidConfig, l.MarketID)
		}
		if m.LoanAsset == cfg.LoanAsset {
			out.Markets = append(out.Markets, l)
		}
	}
	if len(out.Markets) == 0 {
		return nil, fmt.Errorf("%w: no markets with loan asset %s", domain.ErrInvalidConfig, cfg.LoanAsset)
	}
	return &out, nil
}

// recordRun emits the run counter and duration when metrics are on.
func (e *Engine) recordRun(kind string, started time.Time, err error) {
	if !e.metrics {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.RecordRun(kind, status, e.now().Sub(started).Seconds())
	if err == nil {
		observability.DefaultMetrics.LastSuccessfulRun.Set(float64(e.now().Unix()))
	}
}

// persistAllocation stores a run record when a store is configured.
// Persistence failures never fail the run.
func (e *Engine) persistAllocation(configID string, cfg *domain.AllocationConfig, result *domain.AllocationResult) {
	if e.runs == nil || len(result.Points) == 0 {
		return
	}
	marketIDs := make([]string, 0, len(cfg.Markets))
	for _, l := range cfg.Markets {
		marketIDs = append(marketIDs, l.MarketID)
	}
	sort.Strings(marketIDs)

	start := result.Points[0].Timestamp
	end := result.Points[len(result.Points)-1].Timestamp
	payload, err := domain.MarshalAllocationResult(result)
	if err != nil {
		e.logger.Printf("marshal allocation result: %v", err)
		return
	}
	e.insertRun(&domain.RunRecord{
		RunID:     idhash.ComputeRunID(domain.KindAllocation, configID, start, end, marketIDs),
		Kind:      domain.KindAllocation,
		ConfigID:  configID,
		StartTime: start,
		EndTime:   end,
		MarketIDs: marketIDs,
		CreatedAt: e.now().Unix(),
		Result:    payload,
	})
}

// persistDebt stores a run record when a store is configured.
func (e *Engine) persistDebt(configID string, cfg *domain.RebalancingConfig, result *domain.SimulationResult) {
	if e.runs == nil {
		return
	}
	marketIDs := make([]string, len(cfg.MarketIDs))
	copy(marketIDs, cfg.MarketIDs)
	sort.Strings(marketIDs)

	payload, err := domain.MarshalSimulationResult(result)
	if err != nil {
		e.logger.Printf("marshal simulation result: %v", err)
		return
	}
	e.insertRun(&domain.RunRecord{
		RunID:     idhash.ComputeRunID(domain.KindRebalancing, configID, result.StartTime, result.EndTime, marketIDs),
		Kind:      domain.KindRebalancing,
		ConfigID:  configID,
		StartTime: result.StartTime,
		EndTime:   result.EndTime,
		MarketIDs: marketIDs,
		CreatedAt: e.now().Unix(),
		Result:    payload,
	})
}

func (e *Engine) insertRun(r *domain.RunRecord) {
	if err := e.runs.Insert(context.Background(), r); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			e.logger.Printf("run %s already recorded", r.RunID)
			return
		}
		e.logger.Printf("persist run %s: %v", r.RunID, err)
	}
}
