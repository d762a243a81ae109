package feedsim

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, req any) map[string]any {
	t.Helper()
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp map[string]any
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	return resp
}

func TestServer_AuthorizeSubscribeHistory(t *testing.T) {
	sim := New(Options{Token: "secret", Prices: map[string]float64{"frxEURUSD": 1.085}})
	srv := httptest.NewServer(sim)
	defer srv.Close()
	defer sim.Close()

	conn := dial(t, srv)

	resp := roundTrip(t, conn, map[string]any{"authorize": "secret"})
	if resp["msg_type"] != "authorize" || resp["error"] != nil {
		t.Fatalf("expected authorize ack, got %v", resp)
	}

	resp = roundTrip(t, conn, map[string]any{"ticks": "frxEURUSD", "subscribe": 1})
	if resp["msg_type"] != "tick" {
		t.Fatalf("expected tick, got %v", resp)
	}
	tick := resp["tick"].(map[string]any)
	if tick["symbol"] != "frxEURUSD" {
		t.Fatalf("unexpected tick symbol: %v", tick["symbol"])
	}

	resp = roundTrip(t, conn, map[string]any{
		"ticks_history": "frxEURUSD", "end": "latest", "count": 10, "style": "ticks",
	})
	if resp["msg_type"] != "history" {
		t.Fatalf("expected history, got %v", resp)
	}
	prices := resp["history"].(map[string]any)["prices"].([]any)
	if len(prices) != 10 {
		t.Fatalf("expected 10 prices, got %d", len(prices))
	}
	echo := resp["echo_req"].(map[string]any)
	if echo["ticks_history"] != "frxEURUSD" {
		t.Fatalf("history must echo the request, got %v", echo)
	}

	st := sim.Stats()
	if st.Connections != 1 || st.Subscriptions[0]["frxEURUSD"] != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestServer_CandlesStyle(t *testing.T) {
	sim := New(Options{})
	srv := httptest.NewServer(sim)
	defer srv.Close()
	defer sim.Close()

	conn := dial(t, srv)
	roundTrip(t, conn, map[string]any{"authorize": "anything"})

	resp := roundTrip(t, conn, map[string]any{
		"ticks_history": "frxUSDJPY", "end": "latest", "count": 5, "granularity": 60, "style": "candles",
	})
	if resp["msg_type"] != "candles" {
		t.Fatalf("expected candles, got %v", resp["msg_type"])
	}
	if n := len(resp["candles"].([]any)); n != 5 {
		t.Fatalf("expected 5 candles, got %d", n)
	}
}

func TestServer_RejectsBadToken(t *testing.T) {
	sim := New(Options{Token: "secret"})
	srv := httptest.NewServer(sim)
	defer srv.Close()
	defer sim.Close()

	conn := dial(t, srv)
	resp := roundTrip(t, conn, map[string]any{"authorize": "wrong"})
	if resp["error"] == nil {
		t.Fatalf("expected error, got %v", resp)
	}

	resp = roundTrip(t, conn, map[string]any{"ticks": "frxEURUSD", "subscribe": 1})
	errObj, _ := resp["error"].(map[string]any)
	if errObj == nil || errObj["code"] != "AuthorizationRequired" {
		t.Fatalf("expected AuthorizationRequired, got %v", resp)
	}
	if sim.Stats().AuthFailures != 1 {
		t.Fatalf("expected 1 auth failure, got %d", sim.Stats().AuthFailures)
	}
}

func TestServer_EmitOnlyToSubscribers(t *testing.T) {
	sim := New(Options{})
	srv := httptest.NewServer(sim)
	defer srv.Close()
	defer sim.Close()

	conn := dial(t, srv)
	roundTrip(t, conn, map[string]any{"authorize": "x"})
	roundTrip(t, conn, map[string]any{"ticks": "frxEURUSD", "subscribe": 1})

	sim.Emit("frxGBPUSD", 1.27, 100)
	sim.Emit("frxEURUSD", 1.09, 155)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame struct {
		Tick struct {
			Symbol string  `json:"symbol"`
			Quote  float64 `json:"quote"`
			Epoch  int64   `json:"epoch"`
		} `json:"tick"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Tick.Symbol != "frxEURUSD" || frame.Tick.Epoch != 155 {
		t.Fatalf("expected emitted EUR tick, got %+v", frame.Tick)
	}
}
