package sandbox

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"lending-lab/internal/domain"
)

// SweepInput carries the inputs shared by every run of a parameter sweep.
// The series map is read concurrently and must not be mutated while the
// sweep runs; each run works on its own copies of the positions.
type SweepInput struct {
	Series         map[string][]*domain.MarketState
	InitialCapital decimal.Decimal        // allocation configs
	Positions      []*domain.DebtPosition // rebalancing configs, nil = uniform split
}

// SweepResult pairs one config with its outcome. Exactly one result field is
// set on success; Err carries that run's failure without affecting the rest.
type SweepResult struct {
	Config     *domain.StrategyConfig
	Allocation *domain.AllocationResult
	Debt       *domain.SimulationResult
	Err        error
}

// Sweep runs the configs concurrently with at most parallelism runs in
// flight (0 means GOMAXPROCS). Each run gets its own price cache. Results
// come back in config order regardless of completion order; individual run
// failures land on their slot. Sweep itself fails only on cancellation.
func (e *Engine) Sweep(ctx context.Context, configs []*domain.StrategyConfig, input SweepInput, parallelism int) ([]SweepResult, error) {
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	results := make([]SweepResult, len(configs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i, cfg := range configs {
		g.Go(func() error {
			results[i] = e.runOne(gctx, cfg, input)
			// Cancellation stops the sweep; anything else stays per-slot
			if results[i].Err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) runOne(ctx context.Context, cfg *domain.StrategyConfig, input SweepInput) SweepResult {
	res := SweepResult{Config: cfg}
	if err := cfg.Validate(); err != nil {
		res.Err = err
		return res
	}
	switch cfg.Kind {
	case domain.KindAllocation:
		res.Allocation, res.Err = e.runAllocation(ctx, cfg.ID, cfg.Allocation, input.Series, input.InitialCapital)
	case domain.KindRebalancing:
		res.Debt, res.Err = e.runDebt(ctx, cfg.ID, cfg.Rebalancing, input.Series, input.Positions)
	default:
		res.Err = fmt.Errorf("%w: unknown config kind %q", domain.ErrInvalidConfig, cfg.Kind)
	}
	return res
}
