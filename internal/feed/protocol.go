package feed

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"tickpulse/internal/model"
)

// Kind is the closed set of inbound frame variants.
type Kind int

const (
	Unknown Kind = iota
	AuthAck
	AuthError
	HistoryBatch
	TickEvent
	SubscriptionAck
)

func (k Kind) String() string {
	switch k {
	case AuthAck:
		return "auth_ack"
	case AuthError:
		return "auth_error"
	case HistoryBatch:
		return "history"
	case TickEvent:
		return "tick"
	case SubscriptionAck:
		return "subscription_ack"
	default:
		return "unknown"
	}
}

// APIError is the error object carried by a rejected request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// Frame is one decoded inbound message. Only the fields relevant to Kind are set.
type Frame struct {
	Kind           Kind
	MsgType        string
	Tick           model.PriceTick
	Symbol         string    // HistoryBatch
	Closes         []float64 // HistoryBatch, chronological
	SubscriptionID string
	Err            *APIError // AuthError, or an Unknown error frame
}

// DecodeError reports a frame that is not valid JSON or is missing the
// fields its type requires.
type DecodeError struct {
	MsgType string
	Reason  string
	Err     error
}

func (e *DecodeError) Error() string {
	msg := "feed: malformed frame"
	if e.MsgType != "" {
		msg += " (" + e.MsgType + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// number accepts a JSON number or a finite numeric string.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	var f float64
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		f = v
	} else if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("non-finite number %s", b)
	}
	*n = number(f)
	return nil
}

type wireTick struct {
	Symbol string  `json:"symbol"`
	Quote  *number `json:"quote"`
	Epoch  *number `json:"epoch"`
}

type wireCandle struct {
	Close *number `json:"close"`
}

type wireRequestEcho struct {
	TicksHistory string `json:"ticks_history"`
	Authorize    string `json:"authorize"`
}

type wireHistory struct {
	Prices []number `json:"prices"`
}

type wireSubscription struct {
	ID string `json:"id"`
}

type wireFrame struct {
	MsgType      string            `json:"msg_type"`
	Error        *APIError         `json:"error"`
	Authorize    json.RawMessage   `json:"authorize"`
	Tick         *wireTick         `json:"tick"`
	History      *wireHistory      `json:"history"`
	Candles      []wireCandle      `json:"candles"`
	Ticks        []wireTick        `json:"ticks"` // legacy flat history
	EchoReq      *wireRequestEcho  `json:"echo_req"`
	Request      *wireRequestEcho  `json:"request"` // legacy echo key
	Subscription *wireSubscription `json:"subscription"`
}

// Decode classifies a raw inbound frame into exactly one Kind.
// Invalid JSON and frames missing required fields yield a *DecodeError.
func Decode(raw []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(raw, &w); err != nil {
		return Frame{}, &DecodeError{Reason: "invalid json", Err: err}
	}

	f := Frame{MsgType: w.MsgType}
	if w.Subscription != nil {
		f.SubscriptionID = w.Subscription.ID
	}

	if w.Error != nil {
		f.Err = w.Error
		if w.MsgType == "authorize" || (w.EchoReq != nil && w.EchoReq.Authorize != "") {
			f.Kind = AuthError
		} else {
			f.Kind = Unknown
		}
		return f, nil
	}

	switch w.MsgType {
	case "authorize":
		f.Kind = AuthAck
		return f, nil

	case "tick":
		if w.Tick == nil || w.Tick.Symbol == "" || w.Tick.Quote == nil || w.Tick.Epoch == nil {
			return Frame{}, &DecodeError{MsgType: w.MsgType, Reason: "tick requires symbol, quote and epoch"}
		}
		f.Kind = TickEvent
		f.Tick = model.PriceTick{
			Symbol: w.Tick.Symbol,
			Quote:  float64(*w.Tick.Quote),
			Epoch:  int64(*w.Tick.Epoch),
		}
		return f, nil

	case "history", "candles":
		symbol := historySymbol(w)
		if symbol == "" {
			return Frame{}, &DecodeError{MsgType: w.MsgType, Reason: "history without echoed symbol"}
		}
		closes, err := historyCloses(w)
		if err != nil {
			return Frame{}, &DecodeError{MsgType: w.MsgType, Err: err}
		}
		f.Kind = HistoryBatch
		f.Symbol = symbol
		f.Closes = closes
		return f, nil
	}

	if w.Subscription != nil {
		f.Kind = SubscriptionAck
		return f, nil
	}

	f.Kind = Unknown
	return f, nil
}

func historySymbol(w wireFrame) string {
	if w.EchoReq != nil && w.EchoReq.TicksHistory != "" {
		return w.EchoReq.TicksHistory
	}
	if w.Request != nil {
		return w.Request.TicksHistory
	}
	return ""
}

func historyCloses(w wireFrame) ([]float64, error) {
	switch {
	case w.MsgType == "candles" || len(w.Candles) > 0:
		out := make([]float64, 0, len(w.Candles))
		for i, c := range w.Candles {
			if c.Close == nil {
				return nil, fmt.Errorf("candle %d has no close", i)
			}
			out = append(out, float64(*c.Close))
		}
		return out, nil
	case w.History != nil:
		out := make([]float64, len(w.History.Prices))
		for i, p := range w.History.Prices {
			out[i] = float64(p)
		}
		return out, nil
	case w.Ticks != nil:
		out := make([]float64, 0, len(w.Ticks))
		for i, t := range w.Ticks {
			if t.Quote == nil {
				return nil, fmt.Errorf("history tick %d has no quote", i)
			}
			out = append(out, float64(*t.Quote))
		}
		return out, nil
	}
	return nil, fmt.Errorf("history without prices or candles")
}

// Outbound requests.

type authorizeRequest struct {
	Authorize string `json:"authorize"`
}

type subscribeRequest struct {
	Ticks     string `json:"ticks"`
	Subscribe int    `json:"subscribe"`
}

type historyRequest struct {
	TicksHistory string `json:"ticks_history"`
	End          string `json:"end"`
	Count        int    `json:"count"`
	Granularity  int    `json:"granularity,omitempty"`
	Style        string `json:"style"`
}

// AuthorizeRequest builds the authorization frame.
func AuthorizeRequest(token string) any {
	return authorizeRequest{Authorize: token}
}

// SubscribeRequest builds a live tick subscription frame.
func SubscribeRequest(symbol string) any {
	return subscribeRequest{Ticks: symbol, Subscribe: 1}
}

// HistoryRequest builds a backfill frame ending at the latest tick.
func HistoryRequest(symbol string, count, granularity int, style string) any {
	if style == "" {
		style = "ticks"
	}
	return historyRequest{
		TicksHistory: symbol,
		End:          "latest",
		Count:        count,
		Granularity:  granularity,
		Style:        style,
	}
}
