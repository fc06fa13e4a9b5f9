package strategy

import "gapsignal/internal/model"

// GapReversal detects a two-bar gap-and-flip reversal:
//
//	Bullish: prev closed red, curr opened above prev close and closed green.
//	Bearish: prev closed green, curr opened below prev close and closed red.
//
// All comparisons are strict, so an open equal to the previous close never
// matches. Only open and close are used; high, low and volume are reported.
type GapReversal struct{}

// NewGapReversal returns the gap-and-flip reversal strategy.
func NewGapReversal() *GapReversal {
	return &GapReversal{}
}

func (g *GapReversal) Name() string { return "gap_reversal" }

func (g *GapReversal) Evaluate(prev, curr model.Bar) model.Signal {
	return model.Signal{
		Strategy:  g.Name(),
		Direction: Classify(prev, curr),
		Bar:       curr,
		LTP:       curr.Close,
		PrevOpen:  prev.Open,
		PrevClose: prev.Close,
	}
}

// Classify returns the reversal direction for a pair of consecutive bars.
// The two branches cannot both hold: bullish needs prev.Open > prev.Close,
// bearish needs prev.Open < prev.Close.
func Classify(prev, curr model.Bar) model.Direction {
	switch {
	case curr.Open.GreaterThan(prev.Close) && prev.Bearish() && curr.Bullish():
		return model.DirectionBullish
	case curr.Open.LessThan(prev.Close) && prev.Bullish() && curr.Bearish():
		return model.DirectionBearish
	}
	return model.DirectionNone
}
