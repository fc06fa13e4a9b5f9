package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestBar_LocalTime(t *testing.T) {
	// 1700000000s = 2023-11-14 22:13:20 UTC
	b := Bar{Timestamp: 1700000000 * 1_000_000}
	assert.Equal(t, "2023-11-15 03:43:20", b.LocalTime())
	assert.Equal(t, "2023-11-14T22:13:20Z", b.Time().Format("2006-01-02T15:04:05Z07:00"))
}

func TestBar_KeyAndColor(t *testing.T) {
	b := Bar{
		Symbol:      "BTCUSD",
		PeriodStart: 1700000100000000,
		Open:        decimal.NewFromInt(100),
		Close:       decimal.NewFromInt(90),
	}
	assert.Equal(t, "BTCUSD:1700000100000000", b.Key())
	assert.True(t, b.Bearish())
	assert.False(t, b.Bullish())
}

func TestBar_Follows(t *testing.T) {
	prev := Bar{Symbol: "BTCUSD", PeriodStart: 1700000100000000}

	next := Bar{Symbol: "BTCUSD", PeriodStart: prev.PeriodStart + PeriodMicros}
	assert.True(t, next.Follows(prev))

	gap := Bar{Symbol: "BTCUSD", PeriodStart: prev.PeriodStart + 3*PeriodMicros}
	assert.False(t, gap.Follows(prev))

	same := prev
	assert.False(t, same.Follows(prev))

	other := Bar{Symbol: "ETHUSD", PeriodStart: next.PeriodStart}
	assert.False(t, other.Follows(prev))
}

func TestSignal_Body(t *testing.T) {
	s := Signal{
		Direction: DirectionBullish,
		Bar: Bar{
			Timestamp: 1700000000 * 1_000_000,
			Open:      decimal.NewFromInt(95),
			High:      decimal.NewFromInt(110),
			Low:       decimal.NewFromInt(94),
			Close:     decimal.NewFromInt(105),
		},
		LTP:       decimal.NewFromInt(105),
		PrevOpen:  decimal.NewFromInt(100),
		PrevClose: decimal.NewFromInt(90),
	}

	assert.True(t, s.Actionable())
	assert.Equal(t, "🟢", s.Icon())
	assert.Equal(t, "Bullish Signal Detected", s.Title())
	assert.Equal(t,
		"🕒 Time: 2023-11-15 03:43:20 IST\n💰 LTP: 105\nO:95, H:110, L:94, C:105\nPrev O:100, Prev C:90",
		s.Body())
}
