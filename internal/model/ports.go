package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the bar pipeline from concrete sinks (CSV log,
// SQLite, Redis). Each sink satisfies one or both.

// BarRecorder persists finalized bars.
type BarRecorder interface {
	// Record appends one finalized bar. Called once per bar, in period order.
	Record(ctx context.Context, bar Bar) error
}

// SignalRecorder persists or publishes actionable signals.
type SignalRecorder interface {
	RecordSignal(ctx context.Context, sig Signal) error
}
