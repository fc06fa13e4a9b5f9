// Package strategy evaluates finalized bars for trading signals.
//
// A Strategy sees each pair of consecutive finalized bars (prev, curr) and
// classifies it. Strategies are pure: they hold no state between calls, the
// bar window is owned by the caller.
package strategy

import "gapsignal/internal/model"

// Strategy is implemented by every bar-pair pattern.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Evaluate classifies curr given the bar finalized immediately before it.
	// The returned signal has DirectionNone when nothing matched.
	Evaluate(prev, curr model.Bar) model.Signal
}
