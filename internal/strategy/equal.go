package strategy

import (
	"github.com/shopspring/decimal"

	"lending-lab/internal/domain"
)

// EqualPolicy assigns 1/N to each eligible market, then clips to bounds and
// redistributes the remainder among unclipped markets.
type EqualPolicy struct{}

// NewEqualPolicy creates an EqualPolicy.
func NewEqualPolicy() *EqualPolicy {
	return &EqualPolicy{}
}

// ID returns the policy identifier.
func (p *EqualPolicy) ID() string {
	return domain.StrategyEqual
}

// Allocate implements Policy.
func (p *EqualPolicy) Allocate(input *PolicyInput) (map[string]decimal.Decimal, *domain.ConvergenceWarning, error) {
	if err := input.Validate(); err != nil {
		return nil, nil, err
	}
	weights, err := clipAndRedistribute(equalWeights(input.Limits), input.Limits)
	if err != nil {
		return nil, nil, err
	}
	return weights, nil, nil
}

var _ Policy = (*EqualPolicy)(nil)
