package feed

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecode_Kinds(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Kind
	}{
		{"authorize ack", `{"msg_type":"authorize","authorize":{"loginid":"VRTC1"}}`, AuthAck},
		{"authorize error", `{"msg_type":"authorize","error":{"code":"InvalidToken","message":"bad"}}`, AuthError},
		{"authorize error via echo", `{"error":{"code":"InvalidToken","message":"bad"},"echo_req":{"authorize":"x"}}`, AuthError},
		{"tick", `{"msg_type":"tick","tick":{"symbol":"frxEURUSD","quote":1.0851,"epoch":1700000055},"subscription":{"id":"abc"}}`, TickEvent},
		{"history", `{"msg_type":"history","history":{"prices":[1.1,1.2]},"echo_req":{"ticks_history":"frxEURUSD"}}`, HistoryBatch},
		{"candles", `{"msg_type":"candles","candles":[{"close":1.1},{"close":1.2}],"echo_req":{"ticks_history":"frxEURUSD"}}`, HistoryBatch},
		{"legacy history", `{"msg_type":"history","request":{"ticks_history":"frxEURUSD"},"ticks":[{"quote":1.1}]}`, HistoryBatch},
		{"subscription ack", `{"subscription":{"id":"abc"}}`, SubscriptionAck},
		{"other error", `{"msg_type":"ticks","error":{"code":"MarketIsClosed","message":"closed"},"echo_req":{"ticks":"frxEURUSD"}}`, Unknown},
		{"ping", `{"msg_type":"ping","ping":"pong"}`, Unknown},
		{"empty object", `{}`, Unknown},
	}
	for _, tc := range cases {
		f, err := Decode([]byte(tc.raw))
		if err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
			continue
		}
		if f.Kind != tc.want {
			t.Errorf("%s: kind = %s, want %s", tc.name, f.Kind, tc.want)
		}
	}
}

func TestDecode_TickFields(t *testing.T) {
	f, err := Decode([]byte(`{"msg_type":"tick","tick":{"symbol":"frxUSDJPY","quote":"151.234","epoch":1700000001},"subscription":{"id":"s1"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Tick.Symbol != "frxUSDJPY" || f.Tick.Quote != 151.234 || f.Tick.Epoch != 1700000001 {
		t.Fatalf("unexpected tick: %+v", f.Tick)
	}
	if f.SubscriptionID != "s1" {
		t.Fatalf("subscription id = %q", f.SubscriptionID)
	}
}

func TestDecode_HistoryFields(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []float64
	}{
		{"flat", `{"msg_type":"history","history":{"prices":[1,2,3]},"echo_req":{"ticks_history":"frxGBPUSD"}}`, []float64{1, 2, 3}},
		{"candles", `{"msg_type":"candles","candles":[{"open":9,"close":4},{"open":9,"close":5}],"echo_req":{"ticks_history":"frxGBPUSD"}}`, []float64{4, 5}},
		{"legacy", `{"msg_type":"history","request":{"ticks_history":"frxGBPUSD"},"ticks":[{"quote":7},{"quote":8}]}`, []float64{7, 8}},
		{"empty", `{"msg_type":"history","history":{"prices":[]},"echo_req":{"ticks_history":"frxGBPUSD"}}`, []float64{}},
	}
	for _, tc := range cases {
		f, err := Decode([]byte(tc.raw))
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
			continue
		}
		if f.Symbol != "frxGBPUSD" {
			t.Errorf("%s: symbol = %q", tc.name, f.Symbol)
		}
		if len(f.Closes) != len(tc.want) {
			t.Errorf("%s: closes = %v, want %v", tc.name, f.Closes, tc.want)
			continue
		}
		for i := range tc.want {
			if f.Closes[i] != tc.want[i] {
				t.Errorf("%s: closes[%d] = %v, want %v", tc.name, i, f.Closes[i], tc.want[i])
			}
		}
	}
}

func TestDecode_Malformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{not json`},
		{"truncated", `{"msg_type":"tick","tick":{"symbol":"frxEURUSD"`},
		{"tick without symbol", `{"msg_type":"tick","tick":{"quote":1.1,"epoch":1}}`},
		{"tick without quote", `{"msg_type":"tick","tick":{"symbol":"frxEURUSD","epoch":1}}`},
		{"tick with bad quote", `{"msg_type":"tick","tick":{"symbol":"frxEURUSD","quote":"abc","epoch":1}}`},
		{"history without symbol", `{"msg_type":"history","history":{"prices":[1]}}`},
		{"history without data", `{"msg_type":"history","echo_req":{"ticks_history":"frxEURUSD"}}`},
		{"candle without close", `{"msg_type":"candles","candles":[{"open":1}],"echo_req":{"ticks_history":"frxEURUSD"}}`},
		{"tick with NaN quote", `{"msg_type":"tick","tick":{"symbol":"frxEURUSD","quote":"NaN","epoch":1700000000}}`},
		{"tick with infinite quote", `{"msg_type":"tick","tick":{"symbol":"frxEURUSD","quote":"+Infinity","epoch":1700000000}}`},
		{"tick with Inf epoch", `{"msg_type":"tick","tick":{"symbol":"frxEURUSD","quote":1.1,"epoch":"Inf"}}`},
		{"history with NaN price", `{"msg_type":"history","history":{"prices":[1.1,"NaN"]},"echo_req":{"ticks_history":"frxEURUSD"}}`},
		{"candle with infinite close", `{"msg_type":"candles","candles":[{"close":"-Inf"}],"echo_req":{"ticks_history":"frxEURUSD"}}`},
	}
	for _, tc := range cases {
		_, err := Decode([]byte(tc.raw))
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Errorf("%s: expected *DecodeError, got %v", tc.name, err)
		}
	}
}

func TestDecode_AuthErrorCarriesMessage(t *testing.T) {
	f, err := Decode([]byte(`{"msg_type":"authorize","error":{"code":"InvalidToken","message":"The token is invalid."}}`))
	if err != nil {
		t.Fatal(err)
	}
	if f.Err == nil || f.Err.Code != "InvalidToken" || f.Err.Message != "The token is invalid." {
		t.Fatalf("unexpected error payload: %+v", f.Err)
	}
}

func TestRequests_WireShape(t *testing.T) {
	cases := []struct {
		name string
		req  any
		want string
	}{
		{"authorize", AuthorizeRequest("tok"), `{"authorize":"tok"}`},
		{"subscribe", SubscribeRequest("frxEURUSD"), `{"ticks":"frxEURUSD","subscribe":1}`},
		{"history", HistoryRequest("frxEURUSD", 100, 60, "ticks"),
			`{"ticks_history":"frxEURUSD","end":"latest","count":100,"granularity":60,"style":"ticks"}`},
		{"history default style", HistoryRequest("frxEURUSD", 10, 0, ""),
			`{"ticks_history":"frxEURUSD","end":"latest","count":10,"style":"ticks"}`},
	}
	for _, tc := range cases {
		b, err := json.Marshal(tc.req)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if string(b) != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, b, tc.want)
		}
	}
}
