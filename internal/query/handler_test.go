package query

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"tickpulse/internal/metrics"
	"tickpulse/internal/model"
	"tickpulse/internal/signal"
	"tickpulse/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testInstruments = []model.Instrument{
	{Symbol: "frxEURUSD", Label: "EUR/USD"},
	{Symbol: "frxGBPUSD", Label: "GBP/USD"},
}

type journalStub struct {
	events     []model.SignalEvent
	err        error
	lastSymbol string
	lastLimit  int
}

func (j *journalStub) Recent(_ context.Context, symbol string, limit int) ([]model.SignalEvent, error) {
	j.lastSymbol = symbol
	j.lastLimit = limit
	return j.events, j.err
}

func newTestService(t *testing.T) (*Service, *store.Store, *metrics.Metrics) {
	t.Helper()
	reg, err := model.NewRegistry(testInstruments, "frxEURUSD")
	if err != nil {
		t.Fatal(err)
	}
	st := store.New(reg, store.Options{WindowSize: 300, EvalSecond: 55})
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return NewService(reg, st, m), st, m
}

func newRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(CORS([]string{"*"}))
	h.RegisterRoutes(r)
	return r
}

func TestService_GetFallsBackToDefault(t *testing.T) {
	svc, st, m := newTestService(t)
	eval := signal.NewEngine(signal.DefaultConfig())
	if _, err := st.ApplyTick(model.PriceTick{Symbol: "frxEURUSD", Quote: 1.0812345678, Epoch: 1_699_999_990}, eval); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		id         string
		wantSymbol string
	}{
		{"", "frxEURUSD"},
		{"XAU/USD", "frxEURUSD"},
		{"frxGBPUSD", "frxGBPUSD"},
		{"gbp/usd", "frxGBPUSD"},
		{" EUR/USD ", "frxEURUSD"},
	}
	for _, tc := range cases {
		snap := svc.Get(tc.id)
		if snap.Symbol != tc.wantSymbol {
			t.Errorf("Get(%q) symbol = %s, want %s", tc.id, snap.Symbol, tc.wantSymbol)
		}
	}

	snap := svc.Get("")
	if snap.LivePrice != 1.08123 {
		t.Fatalf("live price = %v, want 1.08123", snap.LivePrice)
	}
	if snap.Direction != "NEUTRAL" || snap.Bias != "NEUTRAL" || snap.Pair != "EUR/USD" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Timer != "00:49" {
		t.Fatalf("timer = %s, want 00:49", snap.Timer)
	}
	if n := testutil.ToFloat64(m.QueriesTotal.WithLabelValues("EUR/USD", "true")); n != 3 {
		t.Fatalf("fallback queries = %v, want 3", n)
	}
}

func TestRound(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{1.234565, 1.23457},
		{1.234564, 1.23456},
		{151.2, 151.2},
		{0, 0},
		{math.Inf(1), math.Inf(1)},
		{math.Inf(-1), math.Inf(-1)},
	}
	for _, tc := range cases {
		if got := Round(tc.in); got != tc.want {
			t.Errorf("Round(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if got := Round(math.NaN()); !math.IsNaN(got) {
		t.Errorf("Round(NaN) = %v, want NaN", got)
	}
}

func TestService_NaNTickNeverReachesSnapshot(t *testing.T) {
	svc, st, _ := newTestService(t)
	eval := signal.NewEngine(signal.DefaultConfig())
	if _, err := st.ApplyTick(model.PriceTick{Symbol: "frxEURUSD", Quote: 1.08123, Epoch: 1_700_000_000}, eval); err != nil {
		t.Fatal(err)
	}
	if _, err := st.ApplyTick(model.PriceTick{Symbol: "frxEURUSD", Quote: math.NaN(), Epoch: 1_700_000_001}, eval); err == nil {
		t.Fatal("expected NaN tick to be rejected")
	}

	h := NewHandler(trace.NewNoopTracerProvider().Tracer("handler-test"), svc, nil, nil)
	w := httptest.NewRecorder()
	newRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/live?pair=EUR/USD", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var snap model.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if snap.LivePrice != 1.08123 {
		t.Fatalf("live price = %v, want 1.08123", snap.LivePrice)
	}
}

func TestGetLiveUnknownPair(t *testing.T) {
	svc, _, _ := newTestService(t)
	h := NewHandler(trace.NewNoopTracerProvider().Tracer("handler-test"), svc, nil, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/live?pair=DOGE", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	newRouter(h).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected CORS header *, got %q", got)
	}

	var snap model.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if snap.Symbol != "frxEURUSD" || snap.Timer != model.InitialTimer || snap.Confidence != 0 {
		t.Fatalf("unexpected default snapshot: %+v", snap)
	}
}

func TestGetPairs(t *testing.T) {
	svc, _, _ := newTestService(t)
	h := NewHandler(trace.NewNoopTracerProvider().Tracer("handler-test"), svc, nil, nil)

	w := httptest.NewRecorder()
	newRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/pairs", nil))

	var resp struct {
		Pairs []model.Instrument `json:"pairs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(resp.Pairs) != 2 || resp.Pairs[1].Label != "GBP/USD" {
		t.Fatalf("unexpected pairs: %+v", resp.Pairs)
	}
}

func TestGetRecent(t *testing.T) {
	svc, _, _ := newTestService(t)
	tracer := trace.NewNoopTracerProvider().Tracer("handler-test")

	t.Run("route absent without journal", func(t *testing.T) {
		w := httptest.NewRecorder()
		newRouter(NewHandler(tracer, svc, nil, nil)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/signals/recent", nil))
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", w.Code)
		}
	})

	t.Run("resolves pair and limit", func(t *testing.T) {
		j := &journalStub{events: []model.SignalEvent{{Symbol: "frxGBPUSD", Label: "GBP/USD", Minute: 7}}}
		w := httptest.NewRecorder()
		newRouter(NewHandler(tracer, svc, j, nil)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/signals/recent?pair=GBP/USD&limit=5", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if j.lastSymbol != "frxGBPUSD" || j.lastLimit != 5 {
			t.Fatalf("journal called with %s/%d", j.lastSymbol, j.lastLimit)
		}
	})

	t.Run("bad limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		newRouter(NewHandler(tracer, svc, &journalStub{}, nil)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/signals/recent?limit=0", nil))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("journal error", func(t *testing.T) {
		w := httptest.NewRecorder()
		j := &journalStub{err: errors.New("disk I/O error")}
		newRouter(NewHandler(tracer, svc, j, nil)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/signals/recent", nil))
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", w.Code)
		}
	})
}

func TestHealthRoute(t *testing.T) {
	svc, _, _ := newTestService(t)
	health := metrics.NewHealthStatus()
	health.SetFeedConnected(true)
	h := NewHandler(trace.NewNoopTracerProvider().Tracer("handler-test"), svc, nil, health)

	w := httptest.NewRecorder()
	newRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
