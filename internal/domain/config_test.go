package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func validAllocationConfig() *AllocationConfig {
	return &AllocationConfig{
		Strategy: StrategyYieldWeighted,
		Markets: []MarketLimit{
			{MarketID: "morpho-wsteth-usdc", MinWeight: dec("0.05"), MaxWeight: dec("0.80")},
			{MarketID: "aave-wsteth-usdc", MinWeight: dec("0"), MaxWeight: dec("1")},
		},
		RebalanceInterval: 24,
	}
}

func TestAllocationConfigValidate_Valid(t *testing.T) {
	if err := validAllocationConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestAllocationConfigValidate_UnknownStrategy(t *testing.T) {
	cfg := validAllocationConfig()
	cfg.Strategy = "MOMENTUM"

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestAllocationConfigValidate_NoMarkets(t *testing.T) {
	cfg := validAllocationConfig()
	cfg.Markets = nil

	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestAllocationConfigValidate_MinAboveMax(t *testing.T) {
	cfg := validAllocationConfig()
	cfg.Markets[0].MinWeight = dec("0.9")
	cfg.Markets[0].MaxWeight = dec("0.5")

	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestAllocationConfigValidate_MaxAboveOne(t *testing.T) {
	cfg := validAllocationConfig()
	cfg.Markets[1].MaxWeight = dec("1.5")

	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestAllocationConfigValidate_MinSumAboveOne(t *testing.T) {
	// 0.6 + 0.6 = 1.2 > 1, no feasible allocation
	cfg := validAllocationConfig()
	cfg.Markets[0].MinWeight = dec("0.6")
	cfg.Markets[1].MinWeight = dec("0.6")

	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestAllocationConfigValidate_MaxSumBelowOne(t *testing.T) {
	// 0.3 + 0.3 = 0.6 < 1: no set of weights can absorb all capital,
	// which must be caught here rather than surface mid-run
	cfg := validAllocationConfig()
	cfg.Markets[0].MaxWeight = dec("0.3")
	cfg.Markets[1].MaxWeight = dec("0.3")

	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestAllocationConfigValidate_DuplicateMarket(t *testing.T) {
	cfg := validAllocationConfig()
	cfg.Markets[1].MarketID = cfg.Markets[0].MarketID

	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestAllocationConfigNormalized_FillsDefaults(t *testing.T) {
	cfg := validAllocationConfig().Normalized()

	if cfg.PeriodsPerYear != 1 {
		t.Errorf("expected PeriodsPerYear 1, got %d", cfg.PeriodsPerYear)
	}
	if cfg.WaterfillMaxIters != 200 {
		t.Errorf("expected WaterfillMaxIters 200, got %d", cfg.WaterfillMaxIters)
	}
	if !cfg.WaterfillEpsilonBps.Equal(dec("1")) {
		t.Errorf("expected WaterfillEpsilonBps 1, got %s", cfg.WaterfillEpsilonBps)
	}
	// Zero interval is meaningful and must survive normalization
	cfg = AllocationConfig{RebalanceInterval: 0}.Normalized()
	if cfg.RebalanceInterval != 0 {
		t.Errorf("expected RebalanceInterval 0, got %d", cfg.RebalanceInterval)
	}
}

func validRebalancingConfig() *RebalancingConfig {
	return &RebalancingConfig{
		CollateralAsset:  "wstETH",
		LoanAsset:        "USDC",
		MarketIDs:        []string{"morpho-wsteth-usdc", "aave-wsteth-usdc"},
		TotalDebt:        dec("100000"),
		TotalCollateral:  dec("50"),
		IntervalSteps:    168,
		RateThresholdBps: dec("10"),
	}
}

func TestRebalancingConfigValidate_Valid(t *testing.T) {
	if err := validRebalancingConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestRebalancingConfigValidate_NegativeDebt(t *testing.T) {
	cfg := validRebalancingConfig()
	cfg.TotalDebt = dec("-1")

	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestRebalancingConfigValidate_ShareAboveOne(t *testing.T) {
	cfg := validRebalancingConfig()
	cfg.MaxMarketShare = dec("1.2")

	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestRebalancingConfigValidate_ThresholdBelowOne(t *testing.T) {
	cfg := validRebalancingConfig()
	cfg.MarginCallThreshold = dec("0.9")

	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestRebalancingConfigNormalized_FillsDefaults(t *testing.T) {
	cfg := validRebalancingConfig().Normalized()

	if !cfg.MinHealthFactor.Equal(dec("1.2")) {
		t.Errorf("expected MinHealthFactor 1.2, got %s", cfg.MinHealthFactor)
	}
	if !cfg.MarginCallThreshold.Equal(dec("1.05")) {
		t.Errorf("expected MarginCallThreshold 1.05, got %s", cfg.MarginCallThreshold)
	}
	if !cfg.MaxMarketShare.Equal(dec("0.80")) {
		t.Errorf("expected MaxMarketShare 0.80, got %s", cfg.MaxMarketShare)
	}
	if !cfg.StepHours.Equal(dec("1")) {
		t.Errorf("expected StepHours 1, got %s", cfg.StepHours)
	}
	// Trigger fields stay zero, zero disables them
	cfg = RebalancingConfig{MarketIDs: []string{"m1"}}.Normalized()
	if cfg.IntervalSteps != 0 || !cfg.RateThresholdBps.IsZero() {
		t.Errorf("expected triggers untouched, got interval %d threshold %s", cfg.IntervalSteps, cfg.RateThresholdBps)
	}
}

func TestDebtPositionTotalDebt(t *testing.T) {
	p := &DebtPosition{Principal: dec("1000"), AccruedInterest: dec("12.5")}
	if !p.TotalDebt().Equal(dec("1012.5")) {
		t.Errorf("expected total debt 1012.5, got %s", p.TotalDebt())
	}
}

func TestStrategyConfigValidate_KindPayloadMismatch(t *testing.T) {
	cfg := &StrategyConfig{
		ID:          "cfg-1",
		Kind:        KindAllocation,
		Rebalancing: validRebalancingConfig(),
	}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for missing allocation payload, got %v", err)
	}

	cfg = &StrategyConfig{
		ID:         "cfg-2",
		Kind:       KindRebalancing,
		Allocation: validAllocationConfig(),
	}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for missing rebalancing payload, got %v", err)
	}
}

func TestStrategyConfigValidate_Valid(t *testing.T) {
	cfg := &StrategyConfig{
		ID:         "cfg-1",
		Name:       "usdc yield",
		Kind:       KindAllocation,
		Allocation: validAllocationConfig(),
		CreatedAt:  1700000000,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}
