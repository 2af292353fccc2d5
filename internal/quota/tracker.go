// Package quota meters outbound pull requests against the provider's rolling
// short-window and daily allowances, which are tied to one set of credentials
// and therefore shared by every session in the process. It also carries the
// consecutive-failure fuse that hard-stops traffic when the provider signals
// displeasure, regardless of real window occupancy.
package quota

import (
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config sizes the two windows and the failure fuse.
type Config struct {
	ShortLimit    int
	ShortWindow   time.Duration
	DailyLimit    int
	DailyWindow   time.Duration
	FuseThreshold int
	BackoffFloor  time.Duration
	BackoffCap    time.Duration
}

// Tracker admits or denies pull requests. All methods are safe for concurrent
// use; a single mutex serializes the windows so two sessions cannot jointly
// over-admit.
type Tracker struct {
	mu    sync.Mutex
	short *window
	daily *window

	fuseThreshold       int
	consecutiveFailures int
	backoff             time.Duration
	backoffFloor        time.Duration
	backoffCap          time.Duration
	fuseUntil           time.Time

	now    func() time.Time
	logger *zap.Logger
}

func NewTracker(cfg Config, logger *zap.Logger) *Tracker {
	return &Tracker{
		short:         newWindow(cfg.ShortLimit, cfg.ShortWindow),
		daily:         newWindow(cfg.DailyLimit, cfg.DailyWindow),
		fuseThreshold: cfg.FuseThreshold,
		backoff:       cfg.BackoffFloor,
		backoffFloor:  cfg.BackoffFloor,
		backoffCap:    cfg.BackoffCap,
		now:           time.Now,
		logger:        logger,
	}
}

// Admit reports whether one request may be issued right now. It does not
// reserve the slot; callers that proceed must follow up with Record.
func (t *Tracker) Admit() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.short.prune(now)
	t.daily.prune(now)

	if now.Before(t.fuseUntil) {
		return false
	}
	return !t.short.full() && !t.daily.full()
}

// Record charges one request against both windows.
func (t *Tracker) Record() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.short.prune(now)
	t.daily.prune(now)
	t.short.record(now)
	t.daily.record(now)
}

// RecordFailure doubles the backoff with ±15% jitter and, once the fuse
// threshold is reached, saturates the short window with synthetic entries so
// Admit denies until they age out. The hard stop protects the credential from
// provider-side punitive action.
func (t *Tracker) RecordFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.consecutiveFailures++

	doubled := t.backoff * 2
	if doubled > t.backoffCap {
		doubled = t.backoffCap
	}
	t.backoff = jitter(doubled)

	if t.consecutiveFailures >= t.fuseThreshold {
		now := t.now()
		t.short.prune(now)
		t.short.saturate(now)
		t.fuseUntil = now.Add(t.backoff)
		t.logger.Warn("quota fuse tripped",
			zap.Int("consecutive_failures", t.consecutiveFailures),
			zap.Time("fuse_until", t.fuseUntil),
		)
	}
}

// TripFuse forces the fuse path immediately, as if the failure threshold had
// just been crossed. Used for failure classes that signal provider-side
// displeasure independent of raw request counts.
func (t *Tracker) TripFuse() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.consecutiveFailures++
	if t.consecutiveFailures < t.fuseThreshold {
		t.consecutiveFailures = t.fuseThreshold
	}

	doubled := t.backoff * 2
	if doubled > t.backoffCap {
		doubled = t.backoffCap
	}
	t.backoff = jitter(doubled)

	now := t.now()
	t.short.prune(now)
	t.short.saturate(now)
	t.fuseUntil = now.Add(t.backoff)
	t.logger.Warn("quota fuse forced", zap.Time("fuse_until", t.fuseUntil))
}

// RecordSuccess resets the failure streak and backoff to their floors.
func (t *Tracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutiveFailures = 0
	t.backoff = t.backoffFloor
}

// NextAvailableSlot returns the earliest instant at which Admit could return
// true: when the oldest entry of the most-constrained window expires, or when
// the fuse clears, whichever is later. Returns now when a slot is already
// open.
func (t *Tracker) NextAvailableSlot() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.short.prune(now)
	t.daily.prune(now)

	slot := now
	if t.short.full() {
		if exp := t.short.oldest().Add(t.short.duration); exp.After(slot) {
			slot = exp
		}
	}
	if t.daily.full() {
		if exp := t.daily.oldest().Add(t.daily.duration); exp.After(slot) {
			slot = exp
		}
	}
	if t.fuseUntil.After(slot) {
		slot = t.fuseUntil
	}
	return slot
}

// Backoff returns the current jittered backoff delay.
func (t *Tracker) Backoff() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.backoff
}

// SetClock replaces the time source. Test hook.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// jitter spreads d by ±15% so synchronized failures do not reconverge.
func jitter(d time.Duration) time.Duration {
	factor := 0.85 + rand.Float64()*0.3
	return time.Duration(float64(d) * factor)
}
