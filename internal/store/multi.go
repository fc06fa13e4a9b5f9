// Package store fans finalized bars and signals out to the configured sinks.
// The concrete sinks live in the csvlog, sqlite and redis subpackages.
package store

import (
	"context"

	"go.uber.org/multierr"

	"gapsignal/internal/model"
)

// Multi records every bar to all of its recorders. One failing sink does not
// keep the bar from the others.
type Multi []model.BarRecorder

func (m Multi) Record(ctx context.Context, bar model.Bar) error {
	var err error
	for _, r := range m {
		err = multierr.Append(err, r.Record(ctx, bar))
	}
	return err
}

// MultiSignal is Multi for signals.
type MultiSignal []model.SignalRecorder

func (m MultiSignal) RecordSignal(ctx context.Context, sig model.Signal) error {
	var err error
	for _, r := range m {
		err = multierr.Append(err, r.RecordSignal(ctx, sig))
	}
	return err
}
