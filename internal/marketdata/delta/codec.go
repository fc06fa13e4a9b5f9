// Package delta encodes and decodes the Delta Exchange public WebSocket
// messages used by the candle feed: the subscribe request, candlestick
// snapshots, server errors and subscription acknowledgements.
package delta

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/valyala/fastjson"

	"gapsignal/internal/model"
)

// Message types on the wire.
const (
	TypeSubscribe     = "subscribe"
	TypeCandlestick5m = "candlestick_5m"
	TypeError         = "error"
	TypeSubscriptions = "subscriptions"
)

// Channel5m is the 5-minute candlestick channel name.
const Channel5m = TypeCandlestick5m

var (
	// ErrMalformed is returned for frames that are not a JSON object with a type.
	ErrMalformed = errors.New("delta: malformed message")
	// ErrBadCandle is returned when a candlestick message lacks a required field.
	ErrBadCandle = errors.New("delta: invalid candlestick")
)

// SubscribeRequest is sent once per connection after the socket opens.
type SubscribeRequest struct {
	Type    string           `json:"type"`
	Payload SubscribePayload `json:"payload"`
}

type SubscribePayload struct {
	Channels []ChannelSpec `json:"channels"`
}

type ChannelSpec struct {
	Name    string   `json:"name"`
	Symbols []string `json:"symbols"`
}

// NewSubscribe builds the subscribe request for one channel and symbol.
func NewSubscribe(channel, symbol string) SubscribeRequest {
	return SubscribeRequest{
		Type: TypeSubscribe,
		Payload: SubscribePayload{
			Channels: []ChannelSpec{{Name: channel, Symbols: []string{symbol}}},
		},
	}
}

// Kind classifies a decoded inbound message.
type Kind int

const (
	KindUnknown Kind = iota
	KindCandle
	KindError
	KindSubscriptions
)

func (k Kind) String() string {
	switch k {
	case KindCandle:
		return "candle"
	case KindError:
		return "error"
	case KindSubscriptions:
		return "subscriptions"
	default:
		return "unknown"
	}
}

// Message is one decoded inbound frame. Only the fields matching Kind are set.
type Message struct {
	Kind  Kind
	Type  string
	Bar   model.Bar // KindCandle
	Error string    // KindError
}

// Decode parses a raw text frame. The type field is sniffed first so that
// frames we do not care about are never fully decoded.
func Decode(raw []byte) (Message, error) {
	v, err := fastjson.ParseBytes(raw)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if v.Type() != fastjson.TypeObject || !v.Exists("type") {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	typ := string(v.GetStringBytes("type"))
	switch typ {
	case TypeCandlestick5m:
		bar, err := parseBar(v)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: KindCandle, Type: typ, Bar: bar}, nil

	case TypeError:
		msg := string(v.GetStringBytes("message"))
		if msg == "" {
			msg = "Unknown error"
		}
		return Message{Kind: KindError, Type: typ, Error: msg}, nil

	case TypeSubscriptions:
		return Message{Kind: KindSubscriptions, Type: typ}, nil
	}

	return Message{Kind: KindUnknown, Type: typ}, nil
}

func parseBar(v *fastjson.Value) (model.Bar, error) {
	var (
		bar model.Bar
		err error
	)
	bar.Symbol = string(v.GetStringBytes("symbol"))

	if bar.PeriodStart, err = intField(v, "candle_start_time"); err != nil {
		return model.Bar{}, err
	}
	if bar.Timestamp, err = intField(v, "timestamp"); err != nil {
		return model.Bar{}, err
	}

	fields := []struct {
		key string
		dst *decimal.Decimal
	}{
		{"open", &bar.Open},
		{"high", &bar.High},
		{"low", &bar.Low},
		{"close", &bar.Close},
		{"volume", &bar.Volume},
	}
	for _, f := range fields {
		if *f.dst, err = decimalField(v, f.key); err != nil {
			return model.Bar{}, err
		}
	}
	return bar, nil
}

// intField accepts both JSON numbers and numeric strings.
func intField(v *fastjson.Value, key string) (int64, error) {
	f := v.Get(key)
	if f == nil {
		return 0, fmt.Errorf("%w: missing %s", ErrBadCandle, key)
	}
	switch f.Type() {
	case fastjson.TypeNumber:
		n, err := f.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrBadCandle, key, err)
		}
		return n, nil
	case fastjson.TypeString:
		n, err := strconv.ParseInt(string(f.GetStringBytes()), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrBadCandle, key, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: %s has type %s", ErrBadCandle, key, f.Type())
}

// decimalField accepts both JSON numbers and numeric strings without going
// through float64.
func decimalField(v *fastjson.Value, key string) (decimal.Decimal, error) {
	f := v.Get(key)
	if f == nil {
		return decimal.Zero, fmt.Errorf("%w: missing %s", ErrBadCandle, key)
	}
	var s string
	switch f.Type() {
	case fastjson.TypeNumber:
		s = f.String()
	case fastjson.TypeString:
		s = string(f.GetStringBytes())
	default:
		return decimal.Zero, fmt.Errorf("%w: %s has type %s", ErrBadCandle, key, f.Type())
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrBadCandle, key, err)
	}
	return d, nil
}
