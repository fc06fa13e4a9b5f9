// Package replay reads finalized bars back from the SQLite archive and emits
// them in period order at a configurable speed, so the pattern can be re-run
// over recorded sessions.
package replay

import (
	"context"
	"log"
	"time"

	"gapsignal/internal/model"
	sqlitestore "gapsignal/internal/store/sqlite"
)

// BarSource is the subset of the SQLite reader the replayer needs.
type BarSource interface {
	ReadBars(ctx context.Context, symbol string, after int64) ([]model.Bar, error)
}

// Replayer replays archived bars at a configurable speed multiplier.
type Replayer struct {
	src BarSource

	// MaxGap caps the sleep between two bars. Defaults to 5s.
	MaxGap time.Duration
}

var _ BarSource = (*sqlitestore.Reader)(nil)

// New creates a Replayer backed by a bar source, normally a SQLite reader.
func New(src BarSource) *Replayer {
	return &Replayer{src: src, MaxGap: 5 * time.Second}
}

// Run emits every archived bar of symbol whose period starts after `after`
// (µs, 0 = all) into outCh and returns the number emitted. speed controls
// playback: 1.0 = real time, 10.0 = 10x, 0 = as fast as possible.
func (r *Replayer) Run(ctx context.Context, symbol string, after int64, speed float64, outCh chan<- model.Bar) (int, error) {
	bars, err := r.src.ReadBars(ctx, symbol, after)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		log.Printf("[replay] no bars found for %s", symbol)
		return 0, nil
	}
	log.Printf("[replay] loaded %d bars for %s, speed=%.1fx", len(bars), symbol, speed)

	var prevStart time.Time
	emitted := 0

	for _, b := range bars {
		// Simulate the time between bars
		if speed > 0 && !prevStart.IsZero() {
			if gap := b.StartTime().Sub(prevStart); gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > r.MaxGap {
					scaled = r.MaxGap
				}
				select {
				case <-ctx.Done():
					return emitted, ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prevStart = b.StartTime()

		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d bars", emitted)
			return emitted, ctx.Err()
		case outCh <- b:
			emitted++
		}
	}

	log.Printf("[replay] completed: %d bars replayed", emitted)
	return emitted, nil
}
