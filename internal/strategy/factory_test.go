package strategy

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"lending-lab/internal/domain"
)

func TestFromConfig_AllStrategyTypes(t *testing.T) {
	cases := []struct {
		strategy string
		wantID   string
	}{
		{domain.StrategyEqual, domain.StrategyEqual},
		{domain.StrategyYieldWeighted, domain.StrategyYieldWeighted},
		{domain.StrategyWaterfill, domain.StrategyWaterfill},
	}
	for _, tc := range cases {
		cfg := &domain.AllocationConfig{Strategy: tc.strategy}
		p, err := FromConfig(cfg)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.strategy, err)
		}
		if p.ID() != tc.wantID {
			t.Errorf("%s: expected ID %s, got %s", tc.strategy, tc.wantID, p.ID())
		}
	}
}

func TestFromConfig_WaterfillTuning(t *testing.T) {
	cfg := &domain.AllocationConfig{
		Strategy:            domain.StrategyWaterfill,
		WaterfillEpsilonBps: decimal.RequireFromString("5"),
		WaterfillMaxIters:   50,
	}
	p, err := FromConfig(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wf := p.(*WaterfillPolicy)
	if !wf.EpsilonBps.Equal(decimal.RequireFromString("5")) {
		t.Errorf("expected epsilon 5 bps, got %s", wf.EpsilonBps)
	}
	if wf.MaxIters != 50 {
		t.Errorf("expected 50 iterations, got %d", wf.MaxIters)
	}

	// Zero tuning falls back to defaults
	wf = NewWaterfillPolicy(decimal.Zero, 0)
	if !wf.EpsilonBps.Equal(domain.DefaultWaterfillEpsilonBps) {
		t.Errorf("expected default epsilon, got %s", wf.EpsilonBps)
	}
	if wf.MaxIters != domain.DefaultWaterfillMaxIters {
		t.Errorf("expected default iteration budget, got %d", wf.MaxIters)
	}
}

func TestFromConfig_UnknownType(t *testing.T) {
	_, err := FromConfig(&domain.AllocationConfig{Strategy: "MOMENTUM"})
	if !errors.Is(err, ErrUnknownStrategyType) {
		t.Fatalf("expected ErrUnknownStrategyType, got %v", err)
	}
}
