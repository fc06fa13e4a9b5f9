package barstore

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gapsignal/internal/model"
)

const (
	t1 = int64(1700000100000000)
	t2 = t1 + 300_000_000
	t3 = t2 + 300_000_000
	t4 = t3 + 300_000_000
)

func bar(start int64, open, close_ int64) model.Bar {
	return model.Bar{
		Symbol:      "BTCUSD",
		PeriodStart: start,
		Timestamp:   start + 1_000_000,
		Open:        decimal.NewFromInt(open),
		High:        decimal.NewFromInt(max(open, close_)),
		Low:         decimal.NewFromInt(min(open, close_)),
		Close:       decimal.NewFromInt(close_),
		Volume:      decimal.NewFromInt(1),
	}
}

func TestStore_FirstUpdateStartsBar(t *testing.T) {
	s := New()

	res := s.Ingest(bar(t1, 100, 90))
	assert.False(t, res.Closed())

	got, ok := s.InProgress()
	require.True(t, ok)
	assert.Equal(t, t1, got.PeriodStart)

	_, ok = s.LastFinal()
	assert.False(t, ok)
}

func TestStore_SamePeriodReplaces(t *testing.T) {
	s := New()

	s.Ingest(bar(t1, 100, 101))
	s.Ingest(bar(t1, 100, 95))
	res := s.Ingest(bar(t1, 100, 90))
	assert.False(t, res.Closed(), "same-period updates never finalize")

	res = s.Ingest(bar(t2, 95, 96))
	require.True(t, res.Closed())
	assert.Equal(t, "90", res.Finalized.Close.String(), "latest snapshot wins")
	assert.Nil(t, res.Previous, "first finalized bar has no previous")
	assert.Equal(t, uint64(1), s.Finalized())
}

func TestStore_SlidingWindow(t *testing.T) {
	s := New()

	s.Ingest(bar(t1, 100, 90))
	s.Ingest(bar(t2, 95, 105))

	res := s.Ingest(bar(t3, 106, 104))
	require.True(t, res.Closed())
	require.NotNil(t, res.Previous)
	assert.Equal(t, t2, res.Finalized.PeriodStart)
	assert.Equal(t, t1, res.Previous.PeriodStart)

	last, ok := s.LastFinal()
	require.True(t, ok)
	assert.Equal(t, t2, last.PeriodStart)

	prev, ok := s.PreviousFinal()
	require.True(t, ok)
	assert.Equal(t, t1, prev.PeriodStart)

	res = s.Ingest(bar(t4, 104, 103))
	require.True(t, res.Closed())
	assert.Equal(t, t3, res.Finalized.PeriodStart)
	assert.Equal(t, t2, res.Previous.PeriodStart)

	prev, _ = s.PreviousFinal()
	assert.Equal(t, t2, prev.PeriodStart)
}

func TestStore_NMinusOneFinalizations(t *testing.T) {
	s := New()
	starts := []int64{t1, t2, t3, t4}

	closed := 0
	for _, start := range starts {
		for i := int64(0); i < 3; i++ {
			if s.Ingest(bar(start, 100+i, 100-i)).Closed() {
				closed++
			}
		}
	}

	assert.Equal(t, len(starts)-1, closed)
	got, _ := s.InProgress()
	assert.Equal(t, t4, got.PeriodStart, "last period stays in progress")
}

func TestStore_ResultIsDetached(t *testing.T) {
	s := New()
	s.Ingest(bar(t1, 100, 90))
	res := s.Ingest(bar(t2, 95, 105))

	res.Finalized.Close = decimal.NewFromInt(1)

	last, _ := s.LastFinal()
	assert.Equal(t, "90", last.Close.String())
}

func TestStore_ConcurrentIngestFinalizesOnce(t *testing.T) {
	s := New()
	s.Ingest(bar(t1, 100, 90))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		closed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Ingest(bar(t2, 95, 105)).Closed() {
				mu.Lock()
				closed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, closed)
	assert.Equal(t, uint64(1), s.Finalized())
}
