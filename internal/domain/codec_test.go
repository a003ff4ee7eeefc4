package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestStrategyConfigRoundTrip_DecimalFidelity(t *testing.T) {
	// 18 decimal places must survive save/load without float drift
	cfg := &StrategyConfig{
		ID:   "cfg-1",
		Name: "high precision",
		Kind: KindAllocation,
		Allocation: &AllocationConfig{
			Strategy: StrategyWaterfill,
			Markets: []MarketLimit{
				{MarketID: "m1", MinWeight: dec("0.123456789012345678"), MaxWeight: dec("0.876543210987654321")},
			},
			RebalanceInterval: 7,
			RiskFreeRate:      dec("0.041"),
		},
		CreatedAt: 1700000000,
	}

	data, err := MarshalStrategyConfig(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalStrategyConfig(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.ID != cfg.ID || got.Kind != cfg.Kind || got.CreatedAt != cfg.CreatedAt {
		t.Errorf("envelope fields changed: got %+v", got)
	}
	minW := got.Allocation.Markets[0].MinWeight
	if minW.String() != "0.123456789012345678" {
		t.Errorf("expected min weight 0.123456789012345678, got %s", minW)
	}
	maxW := got.Allocation.Markets[0].MaxWeight
	if maxW.String() != "0.876543210987654321" {
		t.Errorf("expected max weight 0.876543210987654321, got %s", maxW)
	}
}

func TestMarshalAllocationResult_PersistedShape(t *testing.T) {
	// Payload fields persist under their Go names with decimals as quoted
	// strings; only the envelope keys are lowercase. Stored rows depend on
	// this shape, so renaming a field needs a version bump, not a tag.
	res := &AllocationResult{
		FinalValue:  dec("115.5625"),
		TotalReturn: dec("0.155625"),
	}

	data, err := MarshalAllocationResult(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{
		`"version":1`,
		`"payload":`,
		`"FinalValue":"115.5625"`,
		`"TotalReturn":"0.155625"`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("persisted payload missing %s:\n%s", want, data)
		}
	}
}

func TestUnmarshalStrategyConfig_UnsupportedVersion(t *testing.T) {
	data := []byte(fmt.Sprintf(`{"version": %d, "payload": {}}`, payloadVersion+1))

	_, err := UnmarshalStrategyConfig(data)
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestSimulationResultRoundTrip(t *testing.T) {
	res := &SimulationResult{
		StartTime: 1700000000,
		EndTime:   1700003600,
		HealthSeries: []HealthPoint{
			{Timestamp: 1700000000, HealthFactor: dec("1.0667"), TotalDebt: dec("1500"), CollateralValue: dec("2000")},
		},
		Events: []Event{
			{Type: EventMarginCall, Timestamp: 1700000000, MarketID: "m1", HealthFactor: dec("1.04")},
		},
		RiskTable: []RiskRow{
			{DropPct: dec("0.05"), HealthFactor: dec("1.013333333333333333")},
		},
		Metrics: RebalancingMetrics{
			TotalInterestPaid: dec("12.345678901234567891"),
			RebalanceCount:    3,
		},
	}

	data, err := MarshalSimulationResult(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalSimulationResult(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(got.Events) != 1 || got.Events[0].Type != EventMarginCall {
		t.Fatalf("events changed: %+v", got.Events)
	}
	if got.Metrics.TotalInterestPaid.String() != "12.345678901234567891" {
		t.Errorf("expected interest 12.345678901234567891, got %s", got.Metrics.TotalInterestPaid)
	}
	if !got.RiskTable[0].HealthFactor.Equal(res.RiskTable[0].HealthFactor) {
		t.Errorf("risk table HF changed: got %s", got.RiskTable[0].HealthFactor)
	}
}
