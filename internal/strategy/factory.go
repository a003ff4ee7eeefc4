package strategy

import (
	"errors"

	"lending-lab/internal/domain"
)

// ErrUnknownStrategyType indicates a strategy name the factory does not
// recognize.
var ErrUnknownStrategyType = errors.New("unknown strategy type")

// FromConfig creates a Policy from an AllocationConfig. Waterfill tuning
// comes from the config, with zero values replaced by defaults.
func FromConfig(cfg *domain.AllocationConfig) (Policy, error) {
	switch cfg.Strategy {
	case domain.StrategyEqual:
		return NewEqualPolicy(), nil
	case domain.StrategyYieldWeighted:
		return NewYieldWeightedPolicy(), nil
	case domain.StrategyWaterfill:
		return NewWaterfillPolicy(cfg.WaterfillEpsilonBps, cfg.WaterfillMaxIters), nil
	default:
		return nil, ErrUnknownStrategyType
	}
}
