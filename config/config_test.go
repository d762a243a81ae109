package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DERIV_APP_ID", "1089")
	t.Setenv("DERIV_API_TOKEN", "tok")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 || cfg.WindowSize != 300 || cfg.EvalSecond != 55 {
		t.Fatalf("unexpected defaults: port=%d window=%d eval=%d", cfg.Port, cfg.WindowSize, cfg.EvalSecond)
	}
	if len(cfg.Instruments) != 6 || cfg.Instruments[0].Symbol != "frxEURUSD" || cfg.Instruments[0].Label != "EUR/USD" {
		t.Fatalf("unexpected instruments: %+v", cfg.Instruments)
	}
	if cfg.DefaultPair != "frxEURUSD" {
		t.Fatalf("default pair = %s", cfg.DefaultPair)
	}
	if !cfg.Backfill || cfg.HistoryCount != 100 || cfg.HistoryStyle != "ticks" {
		t.Fatalf("unexpected backfill defaults: %+v", cfg)
	}
	if cfg.ReconnectDelay != time.Second || cfg.MaxReconnectDelay != 10*time.Second || cfg.AuthRetryDelay != 5*time.Second {
		t.Fatalf("unexpected reconnect defaults")
	}
	if cfg.Signal.Threshold != 4 || cfg.Signal.FallbackConfidence != 70 || cfg.Signal.LargeOffset != 0.00045 {
		t.Fatalf("unexpected signal defaults: %+v", cfg.Signal)
	}
	if cfg.DedupSameSecond {
		t.Fatal("dedup should be off by default")
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Fatalf("cors origins = %v", cfg.CORSOrigins)
	}
	if cfg.RedisAddr != "" || cfg.SQLitePath != "" {
		t.Fatal("sinks should be disabled by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9000")
	t.Setenv("PAIRS", "Gold=frxXAUUSD, EUR/USD=frxEURUSD")
	t.Setenv("DEFAULT_PAIR", "frxXAUUSD")
	t.Setenv("EVAL_SECOND", "50")
	t.Setenv("SIGNAL_THRESHOLD", "6")
	t.Setenv("SIGNAL_SMALL_OFFSET", "0.0002")
	t.Setenv("READ_TIMEOUT", "45s")
	t.Setenv("CORS_ALLOW_ORIGINS", "http://a.local, http://b.local")
	t.Setenv("DEDUP_SAME_SECOND", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9000 || cfg.EvalSecond != 50 || cfg.ReadTimeout != 45*time.Second || !cfg.DedupSameSecond {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if got := cfg.Symbols(); len(got) != 2 || got[0] != "frxXAUUSD" || got[1] != "frxEURUSD" {
		t.Fatalf("symbols = %v", got)
	}
	if cfg.Signal.Threshold != 6 || cfg.Signal.SmallOffset != 0.0002 {
		t.Fatalf("signal overrides not applied: %+v", cfg.Signal)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://b.local" {
		t.Fatalf("cors origins = %v", cfg.CORSOrigins)
	}
}

func TestLoad_ReportsAllErrors(t *testing.T) {
	t.Setenv("DERIV_APP_ID", "")
	t.Setenv("DERIV_API_TOKEN", "")
	t.Setenv("PORT", "70000")
	t.Setenv("EVAL_SECOND", "abc")
	t.Setenv("DEFAULT_PAIR", "frxNOPE")
	t.Setenv("PING_INTERVAL", "1m")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	for _, want := range []string{
		"DERIV_APP_ID",
		"DERIV_API_TOKEN",
		"PORT must be in 1..65535",
		"EVAL_SECOND: invalid integer",
		"DEFAULT_PAIR \"frxNOPE\"",
		"PING_INTERVAL",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %q", msg, want)
		}
	}
}

func TestParsePairs(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{DefaultPairs, 6, false},
		{"R_100", 1, false},
		{"EUR/USD=frxEURUSD,,", 1, false},
		{"EUR/USD=", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		got, err := ParsePairs(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParsePairs(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if len(got) != tc.want {
			t.Errorf("ParsePairs(%q) = %d instruments, want %d", tc.in, len(got), tc.want)
		}
	}
}
