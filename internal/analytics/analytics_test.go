package analytics

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decs(ss ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(ss))
	for i, s := range ss {
		out[i] = dec(s)
	}
	return out
}

func TestSharpe_KnownSeries(t *testing.T) {
	p := New()

	// mean 0.02, sample stddev 0.01, rf 0 → 2.0
	sharpe, err := p.Sharpe(decs("0.01", "0.02", "0.03"), decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sharpe.Sub(dec("2")).Abs().GreaterThan(dec("0.0001")) {
		t.Errorf("expected Sharpe 2, got %s", sharpe)
	}
}

func TestSharpe_RiskFreeShift(t *testing.T) {
	p := New()

	// Same series, rf = mean → 0
	sharpe, err := p.Sharpe(decs("0.01", "0.02", "0.03"), dec("0.02"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sharpe.IsZero() {
		t.Errorf("expected Sharpe 0 at rf = mean, got %s", sharpe)
	}
}

func TestSharpe_ZeroVolatilityCapped(t *testing.T) {
	p := New()

	sharpe, err := p.Sharpe(decs("0.05", "0.05", "0.05"), decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sharpe.Equal(dec("10")) {
		t.Errorf("expected cap 10 on flat positive excess, got %s", sharpe)
	}

	sharpe, err = p.Sharpe(decs("-0.05", "-0.05"), decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sharpe.Equal(dec("-10")) {
		t.Errorf("expected cap -10 on flat negative excess, got %s", sharpe)
	}
}

func TestSharpe_InsufficientData(t *testing.T) {
	p := New()
	if _, err := p.Sharpe(decs("0.01"), decimal.Zero); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
	if _, err := p.Sharpe(nil, decimal.Zero); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData on nil, got %v", err)
	}
}

func TestSortino_OnlyDownsidePenalized(t *testing.T) {
	p := New()

	// Mixed series: downside deviation uses the two negative points only
	sortino, err := p.Sortino(decs("0.04", "-0.01", "0.04", "-0.01"), decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// mean = 0.015, downside dev = sqrt((0.0001+0.0001)/4) ≈ 0.007071
	want := dec("2.1213")
	if sortino.Sub(want).Abs().GreaterThan(dec("0.001")) {
		t.Errorf("expected Sortino ≈ %s, got %s", want, sortino)
	}
}

func TestSortino_NoDownsideCapped(t *testing.T) {
	p := New()
	sortino, err := p.Sortino(decs("0.01", "0.02"), decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sortino.Equal(dec("10")) {
		t.Errorf("expected cap 10 without downside observations, got %s", sortino)
	}
}

func TestMaxDrawdown_PeakToTrough(t *testing.T) {
	p := New()

	// Peak 120, trough 90 → 25%
	dd, err := p.MaxDrawdown(decs("100", "120", "90", "110"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dd.Equal(dec("0.25")) {
		t.Errorf("expected drawdown 0.25, got %s", dd)
	}
}

func TestMaxDrawdown_MonotoneSeriesIsZero(t *testing.T) {
	p := New()
	dd, err := p.MaxDrawdown(decs("100", "101", "102"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dd.IsZero() {
		t.Errorf("expected zero drawdown, got %s", dd)
	}
}

func TestMaxDrawdown_Empty(t *testing.T) {
	p := New()
	if _, err := p.MaxDrawdown(nil); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}
