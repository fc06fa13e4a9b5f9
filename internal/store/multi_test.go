package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"gapsignal/internal/model"
)

type sink struct {
	err     error
	bars    []model.Bar
	signals []model.Signal
}

func (s *sink) Record(_ context.Context, bar model.Bar) error {
	s.bars = append(s.bars, bar)
	return s.err
}

func (s *sink) RecordSignal(_ context.Context, sig model.Signal) error {
	s.signals = append(s.signals, sig)
	return s.err
}

func TestMulti_RecordsToAllSinks(t *testing.T) {
	boom := errors.New("disk full")
	bad, good := &sink{err: boom}, &sink{}

	err := Multi{bad, good}.Record(context.Background(), model.Bar{PeriodStart: 1})

	assert.ErrorIs(t, err, boom)
	assert.Len(t, bad.bars, 1)
	assert.Len(t, good.bars, 1)
}

func TestMultiSignal_Empty(t *testing.T) {
	assert.NoError(t, MultiSignal{}.RecordSignal(context.Background(), model.Signal{}))
}

func TestMultiSignal_RecordsToAllSinks(t *testing.T) {
	a, b := &sink{}, &sink{}
	assert.NoError(t, MultiSignal{a, b}.RecordSignal(context.Background(), model.Signal{Direction: model.DirectionBearish}))
	assert.Len(t, a.signals, 1)
	assert.Len(t, b.signals, 1)
}
