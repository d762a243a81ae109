package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"tickpulse/internal/model"
	"tickpulse/internal/signal"
)

// DefaultPairs is the instrument list used when PAIRS is unset.
const DefaultPairs = "EUR/USD=frxEURUSD,USD/JPY=frxUSDJPY,GBP/USD=frxGBPUSD," +
	"BTC/USD=frxBTCUSD,AUD/USD=frxAUDUSD,USD/CAD=frxUSDCAD"

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Deriv credentials
	AppID    string
	APIToken string

	// HTTP query surface
	Port        int
	CORSOrigins []string

	// Feed
	FeedURL            string
	Instruments        []model.Instrument
	DefaultPair        string
	Backfill           bool
	HistoryCount       int
	HistoryGranularity int
	HistoryStyle       string
	ReconnectDelay     time.Duration
	MaxReconnectDelay  time.Duration
	AuthRetryDelay     time.Duration
	ReadTimeout        time.Duration
	PingInterval       time.Duration

	// State store
	WindowSize      int
	EvalSecond      int
	DedupSameSecond bool

	// Signal engine
	Signal signal.Config

	// Infrastructure
	LogLevel       string
	MetricsAddr    string
	RedisAddr      string
	RedisPassword  string
	RedisSignalTTL time.Duration
	SQLitePath     string
	OTLPEndpoint   string
}

// Load reads configuration from environment variables with sensible defaults.
// Every invalid or missing value is reported, joined into one error.
func Load() (*Config, error) {
	l := &loader{}

	cfg := &Config{
		AppID:    l.required("DERIV_APP_ID"),
		APIToken: l.required("DERIV_API_TOKEN"),

		Port:        l.intEnv("PORT", 8080),
		CORSOrigins: splitList(getEnv("CORS_ALLOW_ORIGINS", "*")),

		FeedURL:            getEnv("FEED_URL", "wss://ws.derivws.com/websockets/v3"),
		DefaultPair:        getEnv("DEFAULT_PAIR", "frxEURUSD"),
		Backfill:           l.boolEnv("BACKFILL_ENABLED", true),
		HistoryCount:       l.intEnv("HISTORY_COUNT", 100),
		HistoryGranularity: l.intEnv("HISTORY_GRANULARITY", 60),
		HistoryStyle:       strings.ToLower(getEnv("HISTORY_STYLE", "ticks")),
		ReconnectDelay:     l.durationEnv("RECONNECT_DELAY", time.Second),
		MaxReconnectDelay:  l.durationEnv("RECONNECT_MAX_DELAY", 10*time.Second),
		AuthRetryDelay:     l.durationEnv("AUTH_RETRY_DELAY", 5*time.Second),
		ReadTimeout:        l.durationEnv("READ_TIMEOUT", 30*time.Second),
		PingInterval:       l.durationEnv("PING_INTERVAL", 10*time.Second),

		WindowSize:      l.intEnv("WINDOW_SIZE", 300),
		EvalSecond:      l.intEnv("EVAL_SECOND", 55),
		DedupSameSecond: l.boolEnv("DEDUP_SAME_SECOND", false),

		LogLevel:       getEnv("LOG_LEVEL", "info"),
		MetricsAddr:    getEnv("METRICS_ADDR", ":9090"),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisSignalTTL: l.durationEnv("REDIS_SIGNAL_TTL", 10*time.Minute),
		SQLitePath:     getEnv("SQLITE_PATH", ""),
		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	pairs, err := ParsePairs(getEnv("PAIRS", DefaultPairs))
	if err != nil {
		l.errs = append(l.errs, err)
	}
	cfg.Instruments = pairs

	sc := signal.DefaultConfig()
	sc.Threshold = l.intEnv("SIGNAL_THRESHOLD", sc.Threshold)
	sc.TrendLookback = l.intEnv("SIGNAL_TREND_LOOKBACK", sc.TrendLookback)
	sc.FallbackConfidence = l.intEnv("SIGNAL_FALLBACK_CONFIDENCE", sc.FallbackConfidence)
	sc.MinSamples = l.intEnv("SIGNAL_MIN_SAMPLES", sc.MinSamples)
	sc.LargeOffset = l.floatEnv("SIGNAL_LARGE_OFFSET", sc.LargeOffset)
	sc.SmallOffset = l.floatEnv("SIGNAL_SMALL_OFFSET", sc.SmallOffset)
	cfg.Signal = sc

	l.errs = append(l.errs, cfg.validate()...)
	if err := errors.Join(l.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be in 1..65535, got %d", c.Port))
	}
	if !strings.HasPrefix(c.FeedURL, "ws://") && !strings.HasPrefix(c.FeedURL, "wss://") {
		errs = append(errs, fmt.Errorf("FEED_URL must use ws or wss, got %q", c.FeedURL))
	}
	if len(c.Instruments) > 0 && !c.hasSymbol(c.DefaultPair) {
		errs = append(errs, fmt.Errorf("DEFAULT_PAIR %q is not in PAIRS", c.DefaultPair))
	}
	if c.WindowSize <= 0 {
		errs = append(errs, fmt.Errorf("WINDOW_SIZE must be positive, got %d", c.WindowSize))
	}
	if c.EvalSecond < 0 || c.EvalSecond > 59 {
		errs = append(errs, fmt.Errorf("EVAL_SECOND must be in 0..59, got %d", c.EvalSecond))
	}
	if c.HistoryCount <= 0 {
		errs = append(errs, fmt.Errorf("HISTORY_COUNT must be positive, got %d", c.HistoryCount))
	}
	if c.HistoryStyle != "ticks" && c.HistoryStyle != "candles" {
		errs = append(errs, fmt.Errorf("HISTORY_STYLE must be ticks or candles, got %q", c.HistoryStyle))
	}
	if c.ReconnectDelay <= 0 || c.MaxReconnectDelay < c.ReconnectDelay {
		errs = append(errs, fmt.Errorf("RECONNECT_DELAY (%s) must be positive and not above RECONNECT_MAX_DELAY (%s)",
			c.ReconnectDelay, c.MaxReconnectDelay))
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.ReadTimeout {
		errs = append(errs, fmt.Errorf("PING_INTERVAL (%s) must be positive and below READ_TIMEOUT (%s)",
			c.PingInterval, c.ReadTimeout))
	}
	if c.RedisSignalTTL <= 0 {
		errs = append(errs, fmt.Errorf("REDIS_SIGNAL_TTL must be positive, got %s", c.RedisSignalTTL))
	}
	if err := c.Signal.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (c *Config) hasSymbol(symbol string) bool {
	for _, inst := range c.Instruments {
		if inst.Symbol == symbol {
			return true
		}
	}
	return false
}

// Symbols returns the configured upstream symbols in order.
func (c *Config) Symbols() []string {
	out := make([]string, len(c.Instruments))
	for i, inst := range c.Instruments {
		out[i] = inst.Symbol
	}
	return out
}

// ParsePairs parses a "Label=symbol,Label=symbol" list. A bare entry without
// "=" uses the symbol as its own label.
func ParsePairs(s string) ([]model.Instrument, error) {
	var out []model.Instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		label, symbol, ok := strings.Cut(part, "=")
		if !ok {
			symbol = label
		}
		label, symbol = strings.TrimSpace(label), strings.TrimSpace(symbol)
		if symbol == "" || label == "" {
			return nil, fmt.Errorf("PAIRS: invalid entry %q", part)
		}
		out = append(out, model.Instrument{Symbol: symbol, Label: label})
	}
	if len(out) == 0 {
		return nil, errors.New("PAIRS: no instruments configured")
	}
	return out, nil
}

// loader collects parse errors so Load can report all of them at once.
type loader struct {
	errs []error
}

func (l *loader) required(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		l.errs = append(l.errs, fmt.Errorf("required env var %s not set", key))
	}
	return v
}

func (l *loader) intEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return fallback
	}
	return n
}

func (l *loader) floatEnv(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return fallback
	}
	return f
}

func (l *loader) boolEnv(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return fallback
	}
	return b
}

func (l *loader) durationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
