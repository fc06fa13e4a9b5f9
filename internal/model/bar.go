package model

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// IST is the fixed UTC+05:30 zone used for every human-facing timestamp.
var IST = time.FixedZone("IST", 5*3600+30*60)

// LocalTimeLayout is the layout of bar times in the CSV log and in alerts.
const LocalTimeLayout = "2006-01-02 15:04:05"

// PeriodMicros is the length of one 5m bar in microseconds.
const PeriodMicros int64 = 300_000_000

// Bar is one OHLCV candle for a fixed period. PeriodStart and Timestamp are
// microsecond Unix epochs exactly as the exchange sends them.
// A Bar is a value: once finalized it is never mutated.
type Bar struct {
	Symbol      string          `json:"symbol"`
	PeriodStart int64           `json:"candle_start_time"` // µs, identifies the period
	Timestamp   int64           `json:"timestamp"`         // µs, time of this snapshot
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
}

// Time returns the snapshot timestamp in UTC.
func (b *Bar) Time() time.Time {
	return time.UnixMicro(b.Timestamp).UTC()
}

// StartTime returns the period start in UTC.
func (b *Bar) StartTime() time.Time {
	return time.UnixMicro(b.PeriodStart).UTC()
}

// LocalTime formats the snapshot timestamp in IST.
func (b *Bar) LocalTime() string {
	return time.UnixMicro(b.Timestamp).In(IST).Format(LocalTimeLayout)
}

// Key returns "symbol:periodStart".
func (b *Bar) Key() string {
	return b.Symbol + ":" + strconv.FormatInt(b.PeriodStart, 10)
}

// Follows reports whether b is the period immediately after prev.
func (b *Bar) Follows(prev Bar) bool {
	return b.Symbol == prev.Symbol && b.PeriodStart-prev.PeriodStart == PeriodMicros
}

// Bullish reports whether the bar closed above its open.
func (b *Bar) Bullish() bool {
	return b.Close.GreaterThan(b.Open)
}

// Bearish reports whether the bar closed below its open.
func (b *Bar) Bearish() bool {
	return b.Close.LessThan(b.Open)
}
