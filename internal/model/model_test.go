package model

import "testing"

var pairs = []Instrument{
	{Symbol: "frxEURUSD", Label: "EUR/USD"},
	{Symbol: "frxUSDJPY", Label: "USD/JPY"},
	{Symbol: "R_100"},
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry(pairs, "frxUSDJPY")
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if reg.Len() != 3 || reg.Default().Label != "USD/JPY" {
		t.Fatalf("unexpected registry: len=%d default=%+v", reg.Len(), reg.Default())
	}
	if got := reg.Symbols(); got[0] != "frxEURUSD" || got[2] != "R_100" {
		t.Fatalf("symbols out of order: %v", got)
	}
	if inst, _ := reg.Resolve("R_100"); inst.Label != "R_100" {
		t.Fatalf("empty label should default to symbol, got %q", inst.Label)
	}

	bad := []struct {
		name  string
		insts []Instrument
		def   string
	}{
		{"empty", nil, "frxEURUSD"},
		{"duplicate", []Instrument{pairs[0], pairs[0]}, "frxEURUSD"},
		{"blank symbol", []Instrument{{Label: "X"}}, ""},
		{"unknown default", pairs, "frxGBPUSD"},
	}
	for _, tc := range bad {
		if _, err := NewRegistry(tc.insts, tc.def); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestRegistry_Resolve(t *testing.T) {
	reg, _ := NewRegistry(pairs, "frxEURUSD")
	cases := []struct {
		id   string
		want string
		ok   bool
	}{
		{"frxUSDJPY", "frxUSDJPY", true},
		{"usd/jpy", "frxUSDJPY", true},
		{"  EUR/USD ", "frxEURUSD", true},
		{"GBP/USD", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		inst, ok := reg.Resolve(tc.id)
		if ok != tc.ok || inst.Symbol != tc.want {
			t.Errorf("Resolve(%q) = %q, %v; want %q, %v", tc.id, inst.Symbol, ok, tc.want, tc.ok)
		}
	}
}

func TestRegistry_InstrumentsIsCopy(t *testing.T) {
	reg, _ := NewRegistry(pairs, "frxEURUSD")
	got := reg.Instruments()
	got[0].Symbol = "mutated"
	if reg.Instruments()[0].Symbol != "frxEURUSD" {
		t.Fatal("Instruments must return a copy")
	}
}

func TestFormatTimer(t *testing.T) {
	cases := map[int]string{0: "00:59", 5: "00:54", 55: "00:04", 59: "00:00"}
	for sec, want := range cases {
		if got := FormatTimer(sec); got != want {
			t.Errorf("FormatTimer(%d) = %s, want %s", sec, got, want)
		}
	}
}

func TestPriceTick_SecondAndMinute(t *testing.T) {
	tick := PriceTick{Epoch: 1_699_999_980 + 55}
	if tick.Second() != 55 || tick.Minute() != 1_699_999_980/60 {
		t.Fatalf("second=%d minute=%d", tick.Second(), tick.Minute())
	}
}

func TestDirection(t *testing.T) {
	if Up.Colour() != "GREEN" || Down.Colour() != "RED" || Neutral.Colour() != "NEUTRAL" {
		t.Fatal("unexpected colours")
	}
	if Direction("SIDEWAYS").Valid() {
		t.Fatal("unknown direction must be invalid")
	}
	if ClampConfidence(120) != 100 || ClampConfidence(-3) != 0 || ClampConfidence(70) != 70 {
		t.Fatal("clamp out of range")
	}
}
