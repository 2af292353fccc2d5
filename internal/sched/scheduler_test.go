package sched

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAdmitter struct {
	denials atomic.Int32
}

func (f *fakeAdmitter) Admit() bool {
	return f.denials.Add(-1) < 0
}

func (f *fakeAdmitter) NextAvailableSlot() time.Time {
	return time.Now()
}

func alwaysAdmit() *fakeAdmitter {
	return &fakeAdmitter{}
}

func TestScheduler_IntervalStaysClamped(t *testing.T) {
	s := New(time.Second, 10*time.Second, alwaysAdmit(), zap.NewNop())

	for i := 0; i < 1000; i++ {
		if rand.IntN(2) == 0 {
			s.IncreaseInterval()
		} else {
			s.DecreaseInterval()
		}
		iv := s.Interval()
		assert.GreaterOrEqual(t, iv, time.Second)
		assert.LessOrEqual(t, iv, 10*time.Second)
	}
}

func TestScheduler_SuccessNarrowsFailureWidens(t *testing.T) {
	s := New(time.Second, time.Minute, alwaysAdmit(), zap.NewNop())
	ctx := context.Background()

	err := s.Schedule(ctx, func(context.Context) error { return errors.New("boom") })
	require.Error(t, err)
	assert.Equal(t, 1500*time.Millisecond, s.Interval())

	err = s.Schedule(ctx, func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1200*time.Millisecond, s.Interval())
}

func TestScheduler_ForwardsFailures(t *testing.T) {
	s := New(time.Second, time.Minute, alwaysAdmit(), zap.NewNop())

	var forwarded error
	s.OnFailure(func(err error) { forwarded = err })

	boom := errors.New("boom")
	_ = s.Schedule(context.Background(), func(context.Context) error { return boom })
	assert.Equal(t, boom, forwarded)
}

func TestScheduler_WaitsForAdmission(t *testing.T) {
	admitter := &fakeAdmitter{}
	admitter.denials.Store(2)
	s := New(time.Second, time.Minute, admitter, zap.NewNop())

	var ran atomic.Bool
	start := time.Now()
	err := s.Schedule(context.Background(), func(context.Context) error {
		ran.Store(true)
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran.Load())
	// Two denials mean at least two admission waits at the floor.
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestScheduler_ScheduleRespectsCancellation(t *testing.T) {
	admitter := &fakeAdmitter{}
	admitter.denials.Store(1 << 30) // never admits
	s := New(time.Second, time.Minute, admitter, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Schedule(ctx, func(context.Context) error { return nil })
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Schedule did not return after cancellation")
	}
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	s := New(10*time.Millisecond, 50*time.Millisecond, alwaysAdmit(), zap.NewNop())

	var polls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx, func(context.Context) error {
			polls.Add(1)
			return nil
		})
		close(done)
	}()

	require.Eventually(t, func() bool { return polls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
