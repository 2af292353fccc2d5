package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() Config {
	return Config{
		ShortLimit:    5,
		ShortWindow:   10 * time.Minute,
		DailyLimit:    100,
		DailyWindow:   24 * time.Hour,
		FuseThreshold: 3,
		BackoffFloor:  time.Second,
		BackoffCap:    time.Minute,
	}
}

func newTestTracker(t *testing.T, cfg Config) (*Tracker, *time.Time) {
	t.Helper()
	tracker := NewTracker(cfg, zap.NewNop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker.SetClock(func() time.Time { return now })
	return tracker, &now
}

func TestTracker_ShortWindowExhaustion(t *testing.T) {
	tracker, now := newTestTracker(t, testConfig())
	start := *now

	for i := 0; i < 5; i++ {
		require.True(t, tracker.Admit(), "request %d should be admitted", i+1)
		tracker.Record()
		*now = now.Add(time.Second)
	}

	assert.False(t, tracker.Admit(), "6th request must be denied")

	// The slot opens when the first recorded timestamp ages out.
	slot := tracker.NextAvailableSlot()
	assert.Equal(t, start.Add(10*time.Minute), slot)

	// Window occupancy never exceeds the limit, so once the oldest entry
	// expires exactly one slot opens.
	*now = start.Add(10*time.Minute + time.Millisecond)
	assert.True(t, tracker.Admit())
}

func TestTracker_DailyWindowExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.ShortLimit = 1000
	cfg.DailyLimit = 3
	tracker, now := newTestTracker(t, cfg)

	for i := 0; i < 3; i++ {
		require.True(t, tracker.Admit())
		tracker.Record()
		*now = now.Add(time.Minute)
	}

	assert.False(t, tracker.Admit(), "daily cap must deny even with short headroom")
}

func TestTracker_FuseAfterConsecutiveFailures(t *testing.T) {
	tracker, now := newTestTracker(t, testConfig())

	require.True(t, tracker.Admit(), "windows start with headroom")

	tracker.RecordFailure()
	tracker.RecordFailure()
	assert.True(t, tracker.Admit(), "below threshold the fuse stays closed")

	tracker.RecordFailure()
	assert.False(t, tracker.Admit(), "third consecutive failure trips the fuse")

	slot := tracker.NextAvailableSlot()
	assert.True(t, slot.After(*now), "next slot must be in the future while fused")

	// Backoff doubles with jitter on each failure, so after three doublings
	// of the 1s floor the horizon sits inside the compounded jitter envelope.
	maxFuse := now.Add(time.Duration(float64(8*time.Second) * 1.15 * 1.15 * 1.15))
	assert.False(t, tracker.fuseUntilForTest().After(maxFuse))
}

func TestTracker_RecordSuccessResetsFailureState(t *testing.T) {
	tracker, _ := newTestTracker(t, testConfig())

	tracker.RecordFailure()
	tracker.RecordFailure()
	tracker.RecordSuccess()
	assert.Equal(t, time.Second, tracker.Backoff(), "success resets backoff to its floor")

	// The streak restarts; two more failures stay below the threshold.
	tracker.RecordFailure()
	tracker.RecordFailure()
	assert.True(t, tracker.Admit())
}

func TestTracker_TripFuseForcesDenialImmediately(t *testing.T) {
	tracker, _ := newTestTracker(t, testConfig())

	require.True(t, tracker.Admit())
	tracker.TripFuse()
	assert.False(t, tracker.Admit(), "forced fuse must deny on the first call")
}

func TestTracker_JitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(10 * time.Second)
		assert.GreaterOrEqual(t, d, 8500*time.Millisecond)
		assert.LessOrEqual(t, d, 11500*time.Millisecond)
	}
}

// fuseUntilForTest exposes the fuse horizon without widening the public API.
func (t *Tracker) fuseUntilForTest() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fuseUntil
}
