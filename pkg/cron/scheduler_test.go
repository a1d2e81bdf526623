package cron

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/sweeper"
)

type countingSweeper struct {
	calls   atomic.Int32
	release chan struct{}
}

func (c *countingSweeper) Sweep(context.Context) (*sweeper.Report, error) {
	c.calls.Add(1)
	if c.release != nil {
		<-c.release
	}
	return &sweeper.Report{Imported: 1}, nil
}

type countingRefresher struct {
	refreshes atomic.Int32
	reloads   atomic.Int32
	err       error
}

func (c *countingRefresher) Refresh(context.Context) error {
	c.refreshes.Add(1)
	return c.err
}

func (c *countingRefresher) Reload() error {
	c.reloads.Add(1)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_Start(t *testing.T) {
	t.Run("registers configured jobs", func(t *testing.T) {
		r := &countingRefresher{}
		s := NewScheduler(Jobs{
			Sweeper:         &countingSweeper{},
			SweepSchedule:   "0 * * * *",
			Rules:           r,
			Plugins:         r,
			RefreshSchedule: "*/5 * * * *",
		}, testLogger())
		require.NoError(t, s.Start())
		defer s.Stop()
		assert.Len(t, s.cron.Entries(), 2)
	})

	t.Run("empty schedules disable jobs", func(t *testing.T) {
		s := NewScheduler(Jobs{Sweeper: &countingSweeper{}}, testLogger())
		require.NoError(t, s.Start())
		defer s.Stop()
		assert.Empty(t, s.cron.Entries())
	})

	t.Run("invalid schedule", func(t *testing.T) {
		s := NewScheduler(Jobs{Sweeper: &countingSweeper{}, SweepSchedule: "every day"}, testLogger())
		assert.Error(t, s.Start())
	})
}

func TestScheduler_SweepsDoNotOverlap(t *testing.T) {
	sw := &countingSweeper{release: make(chan struct{})}
	s := NewScheduler(Jobs{Sweeper: sw}, testLogger())

	s.RunNow()
	require.Eventually(t, func() bool { return sw.calls.Load() == 1 }, time.Second, time.Millisecond)

	// the first sweep is blocked, so this one is skipped
	s.sweep()
	assert.Equal(t, int32(1), sw.calls.Load())

	close(sw.release)
	require.Eventually(t, func() bool {
		if !s.sweepMu.TryLock() {
			return false
		}
		s.sweepMu.Unlock()
		return true
	}, time.Second, time.Millisecond)

	s.sweep()
	assert.Equal(t, int32(2), sw.calls.Load())
}

func TestScheduler_RefreshContinuesAfterRuleFailure(t *testing.T) {
	r := &countingRefresher{err: errors.New("database down")}
	s := NewScheduler(Jobs{Rules: r, Plugins: r}, testLogger())

	s.refresh()
	assert.Equal(t, int32(1), r.refreshes.Load())
	assert.Equal(t, int32(1), r.reloads.Load())
}
