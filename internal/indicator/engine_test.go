package indicator

import (
	"errors"
	"testing"
)

func TestEngine_ComputeInConfigOrder(t *testing.T) {
	engine, err := NewEngine([]IndicatorConfig{
		{Type: TypeSMA, Period: 3},
		{Type: TypeBB, Period: 3, Multiplier: 2},
		{Type: TypeVWAP},
	})
	if err != nil {
		t.Fatal(err)
	}

	cs := candles(seq(1, 2, 3, 4, 5), seq(10, 10, 10, 10, 10))
	overlays, err := engine.Compute(cs)
	if err != nil {
		t.Fatal(err)
	}
	if len(overlays) != 3 {
		t.Fatalf("expected 3 overlays, got %d", len(overlays))
	}

	names := []string{"SMA_3", "BB_3_2", "VWAP"}
	for i, want := range names {
		if overlays[i].Name != want {
			t.Errorf("overlay %d: name=%s, want %s", i, overlays[i].Name, want)
		}
	}

	assertSeries(t, "SMA_3", overlays[0].Lines["value"], []*float64{nil, nil, f(2), f(3), f(4)}, 1e-12)
	for _, line := range []string{"center", "upper", "lower"} {
		if got := overlays[1].Lines[line].LeadingNulls(); got != 2 {
			t.Errorf("BB %s: leading nulls=%d, want 2", line, got)
		}
	}
	if len(overlays[2].Lines["value"]) != len(cs) {
		t.Errorf("VWAP length mismatch")
	}
}

func TestNewEngine_RejectsBadConfigs(t *testing.T) {
	if _, err := NewEngine([]IndicatorConfig{{Type: TypeEMA, Period: 0}}); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter for zero period, got %v", err)
	}
	if _, err := NewEngine([]IndicatorConfig{{Type: "MACD", Period: 12}}); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter for unknown type, got %v", err)
	}
}

func TestParseSpecs(t *testing.T) {
	got := ParseSpecs("sma:20, BB:20:2.5 ,vwap:3,EMA:x,RSI:14,VWMA")
	want := []IndicatorConfig{
		{Type: TypeSMA, Period: 20, Multiplier: 2},
		{Type: TypeBB, Period: 20, Multiplier: 2.5},
		{Type: TypeVWAP, Anchor: 3, Multiplier: 2},
		{Type: TypeRSI, Period: 14, Multiplier: 2},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d configs, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("config %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
	if got[2].Name() != "VWAP_3" || got[1].Name() != "BB_20_2.5" {
		t.Errorf("unexpected names %s %s", got[2].Name(), got[1].Name())
	}
}

func TestParseSpecs_DefaultsOnEmpty(t *testing.T) {
	if len(ParseSpecs("")) == 0 {
		t.Fatal("expected default specs")
	}
	if len(ParseSpecs("bogus")) == 0 {
		t.Fatal("expected defaults when nothing parses")
	}
}
