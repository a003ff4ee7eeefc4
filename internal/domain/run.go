package domain

// RunRecord is one persisted simulation run: the identity of what ran and
// the versioned result payload. Corresponds to the simulation_runs table in
// PostgreSQL.
type RunRecord struct {
	RunID     string   // deterministic hash, see idhash.ComputeRunID
	Kind      string   // ALLOCATION | REBALANCING
	ConfigID  string   // strategy config that produced the run
	StartTime int64    // first simulated timestamp, unix seconds
	EndTime   int64    // last simulated timestamp, unix seconds
	MarketIDs []string // eligible markets, in configured order
	CreatedAt int64    // unix seconds
	Result    []byte   // versioned result payload (MarshalAllocationResult / MarshalSimulationResult)
}
