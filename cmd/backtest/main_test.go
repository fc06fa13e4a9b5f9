package main

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"gapsignal/internal/model"
	"gapsignal/internal/strategy"
)

const t0 int64 = 1700000100000000

func bar(n int64, open, close int64) model.Bar {
	return model.Bar{
		Symbol:      "BTCUSD",
		PeriodStart: t0 + n*model.PeriodMicros,
		Timestamp:   t0 + (n+1)*model.PeriodMicros - 1_000_000,
		Open:        decimal.NewFromInt(open),
		High:        decimal.NewFromInt(max(open, close) + 1),
		Low:         decimal.NewFromInt(min(open, close) - 1),
		Close:       decimal.NewFromInt(close),
		Volume:      decimal.NewFromInt(10),
	}
}

func feed(bars ...model.Bar) <-chan model.Bar {
	ch := make(chan model.Bar, len(bars))
	for _, b := range bars {
		ch <- b
	}
	close(ch)
	return ch
}

func TestEvaluate_ConsecutiveBullish(t *testing.T) {
	var out bytes.Buffer
	sum := evaluate(strategy.NewGapReversal(), feed(bar(0, 100, 90), bar(1, 95, 105)), &out)

	assert.Equal(t, 2, sum.processed)
	assert.Zero(t, sum.gaps)
	assert.Equal(t, 1, sum.counts[model.DirectionBullish])
	assert.Contains(t, out.String(), "Bullish Signal Detected")
}

func TestEvaluate_SkipsMissingPeriods(t *testing.T) {
	var out bytes.Buffer
	// Same shape as the bullish pair, but two periods are missing in between.
	sum := evaluate(strategy.NewGapReversal(), feed(bar(0, 100, 90), bar(3, 95, 105), bar(4, 105, 105)), &out)

	assert.Equal(t, 3, sum.processed)
	assert.Equal(t, 1, sum.gaps)
	assert.Zero(t, sum.counts[model.DirectionBullish])
	assert.Equal(t, 1, sum.counts[model.DirectionNone])
	assert.Empty(t, out.String())
}
