// Command feedsim is a local stand-in for the upstream tick feed.
// Speaks the same authorize / ticks / ticks_history protocol so tickpulse can
// run without real credentials: point FEED_URL at ws://localhost:9001/websockets/v3.
//
// Config (env vars):
//
//	FEEDSIM_ADDR         listen address (default ":9001")
//	FEEDSIM_TOKEN        accepted API token, empty accepts any (default "")
//	FEEDSIM_PRICES       comma-separated symbol=price seeds (default: six forex pairs)
//	FEEDSIM_INTERVAL_MS  tick interval in milliseconds (default 1000)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	ossignal "os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"tickpulse/internal/feedsim"
	"tickpulse/internal/logger"

	"github.com/joho/godotenv"
)

const defaultPrices = "frxEURUSD=1.0845,frxUSDJPY=151.20,frxGBPUSD=1.2650," +
	"frxBTCUSD=67000,frxAUDUSD=0.6550,frxUSDCAD=1.3620"

func main() {
	_ = godotenv.Load()
	log := logger.Init("feedsim", slog.LevelInfo)

	addr := envOrDefault("FEEDSIM_ADDR", ":9001")
	intervalMs := envIntOrDefault("FEEDSIM_INTERVAL_MS", 1000)
	prices, err := parsePrices(envOrDefault("FEEDSIM_PRICES", defaultPrices))
	if err != nil {
		log.Error("invalid FEEDSIM_PRICES", slog.Any("error", err))
		os.Exit(1)
	}

	sim := feedsim.New(feedsim.Options{
		Token:        os.Getenv("FEEDSIM_TOKEN"),
		Prices:       prices,
		TickInterval: time.Duration(intervalMs) * time.Millisecond,
		Log:          log,
	})
	defer sim.Close()

	mux := http.NewServeMux()
	mux.Handle("/websockets/v3", sim)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		st := sim.Stats()
		fmt.Fprintf(w, `{"status":"ok","service":"feedsim","open_connections":%d}`+"\n", st.Open)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("feed simulator listening",
			slog.String("addr", addr),
			slog.String("ws", "ws://localhost"+addr+"/websockets/v3"),
			slog.Int("instruments", len(prices)),
			slog.Int("interval_ms", intervalMs),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	ossignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	log.Info("feed simulator stopped")
}

// parsePrices parses "symbol=price,symbol=price".
func parsePrices(s string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sym, raw, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("entry %q: want symbol=price", part)
		}
		p, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || p <= 0 {
			return nil, fmt.Errorf("entry %q: invalid price", part)
		}
		out[strings.TrimSpace(sym)] = p
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no instruments")
	}
	return out, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
