package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"lending-lab/internal/domain"
)

// Policy turns one timestamp's market states into target portfolio weights.
type Policy interface {
	// Allocate returns a market→weight mapping summing to 1 within 1e-6,
	// each weight inside its market's [min, max] bound. A non-nil warning
	// reports a waterfill run that stopped before equalizing marginal
	// yields; the returned weights are still the best found.
	Allocate(input *PolicyInput) (map[string]decimal.Decimal, *domain.ConvergenceWarning, error)

	// ID returns the policy identifier.
	ID() string
}

// PolicyInput holds everything a policy needs for one allocation decision.
// States and Limits are aligned by position; order is meaningful because
// policies break ties toward earlier entries.
type PolicyInput struct {
	Timestamp int64                 // decision time, unix seconds
	States    []*domain.MarketState // one snapshot per eligible market
	Limits    []domain.MarketLimit  // weight bounds, same order as States

	// Capital being deployed, loan-asset units. Waterfill projects each
	// market's post-deposit utilization from it; zero capital means flat
	// curves (the observed supply APY governs).
	Capital decimal.Decimal
}

// Validate checks the input at the package boundary.
func (in *PolicyInput) Validate() error {
	if len(in.States) == 0 {
		return fmt.Errorf("%w: no market states", domain.ErrInvalidConfig)
	}
	if len(in.States) != len(in.Limits) {
		return fmt.Errorf("%w: %d states for %d limits", domain.ErrInvalidConfig, len(in.States), len(in.Limits))
	}
	for i, st := range in.States {
		if st == nil {
			return fmt.Errorf("%w: nil state at index %d", domain.ErrInvalidConfig, i)
		}
		if st.MarketID != in.Limits[i].MarketID {
			return fmt.Errorf("%w: state %s does not match limit %s at index %d",
				domain.ErrInvalidConfig, st.MarketID, in.Limits[i].MarketID, i)
		}
	}
	return nil
}
