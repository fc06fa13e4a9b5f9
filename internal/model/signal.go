package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Direction is the outcome of a two-bar reversal evaluation.
type Direction string

const (
	DirectionNone    Direction = "NONE"
	DirectionBullish Direction = "BULLISH"
	DirectionBearish Direction = "BEARISH"
)

// Signal is a classified reversal on a finalized bar. Bar is the bar that
// completed the pattern; PrevOpen/PrevClose come from the bar before it.
type Signal struct {
	Strategy  string          `json:"strategy"`
	Direction Direction       `json:"direction"`
	Bar       Bar             `json:"bar"`
	LTP       decimal.Decimal `json:"ltp"` // last traded price, the bar's close
	PrevOpen  decimal.Decimal `json:"prev_open"`
	PrevClose decimal.Decimal `json:"prev_close"`
}

// Actionable is false for DirectionNone.
func (s *Signal) Actionable() bool {
	return s.Direction == DirectionBullish || s.Direction == DirectionBearish
}

// Icon returns the marker used in alert headers.
func (s *Signal) Icon() string {
	switch s.Direction {
	case DirectionBullish:
		return "🟢"
	case DirectionBearish:
		return "🔴"
	default:
		return ""
	}
}

// Title returns the alert headline, e.g. "Bullish Signal Detected".
func (s *Signal) Title() string {
	switch s.Direction {
	case DirectionBullish:
		return "Bullish Signal Detected"
	case DirectionBearish:
		return "Bearish Signal Detected"
	default:
		return "No Signal"
	}
}

// Body renders the alert details: time, LTP, the bar's OHLC and the previous
// bar's open/close.
func (s *Signal) Body() string {
	return fmt.Sprintf(
		"🕒 Time: %s IST\n💰 LTP: %s\nO:%s, H:%s, L:%s, C:%s\nPrev O:%s, Prev C:%s",
		s.Bar.LocalTime(), s.LTP,
		s.Bar.Open, s.Bar.High, s.Bar.Low, s.Bar.Close,
		s.PrevOpen, s.PrevClose,
	)
}
