package domain

import "fmt"

// Config kind constants
const (
	KindAllocation  = "ALLOCATION"
	KindRebalancing = "REBALANCING"
)

// StrategyConfig is the persistence envelope for a named simulation
// configuration. Exactly one payload is set, selected by Kind.
// Corresponds to the strategy_configs table in PostgreSQL.
type StrategyConfig struct {
	ID        string // deterministic hash or caller-assigned
	Name      string // human label
	Kind      string // ALLOCATION | REBALANCING
	CreatedAt int64  // unix seconds

	Allocation  *AllocationConfig
	Rebalancing *RebalancingConfig
}

// Validate checks the envelope and its payload.
func (c *StrategyConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: empty config id", ErrInvalidConfig)
	}
	switch c.Kind {
	case KindAllocation:
		if c.Allocation == nil || c.Rebalancing != nil {
			return fmt.Errorf("%w: kind %s requires exactly an allocation payload", ErrInvalidConfig, c.Kind)
		}
		return c.Allocation.Validate()
	case KindRebalancing:
		if c.Rebalancing == nil || c.Allocation != nil {
			return fmt.Errorf("%w: kind %s requires exactly a rebalancing payload", ErrInvalidConfig, c.Kind)
		}
		return c.Rebalancing.Validate()
	default:
		return fmt.Errorf("%w: unknown config kind %q", ErrInvalidConfig, c.Kind)
	}
}
