package strategy

import (
	"github.com/shopspring/decimal"

	"lending-lab/internal/domain"
)

// YieldWeightedPolicy weights each market proportionally to its current
// supply APY, then clips to bounds and redistributes the remainder.
// All-zero yields fall back to equal weights.
type YieldWeightedPolicy struct{}

// NewYieldWeightedPolicy creates a YieldWeightedPolicy.
func NewYieldWeightedPolicy() *YieldWeightedPolicy {
	return &YieldWeightedPolicy{}
}

// ID returns the policy identifier.
func (p *YieldWeightedPolicy) ID() string {
	return domain.StrategyYieldWeighted
}

// Allocate implements Policy.
func (p *YieldWeightedPolicy) Allocate(input *PolicyInput) (map[string]decimal.Decimal, *domain.ConvergenceWarning, error) {
	if err := input.Validate(); err != nil {
		return nil, nil, err
	}

	scores := make(map[string]decimal.Decimal, len(input.States))
	for _, st := range input.States {
		scores[st.MarketID] = st.SupplyAPY
	}
	weights, err := clipAndRedistribute(normalizeScores(scores, input.Limits), input.Limits)
	if err != nil {
		return nil, nil, err
	}
	return weights, nil, nil
}

var _ Policy = (*YieldWeightedPolicy)(nil)
