// Package sched owns the polling cadence for one session. The interval
// widens multiplicatively on failure and narrows on success, always staying
// inside the configured bounds, and every dispatch waits for quota admission
// without busy polling.
package sched

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// admissionWait is the floor for quota re-check sleeps, so a slot opening
// slightly early never turns into a hot loop.
const admissionWait = 100 * time.Millisecond

const (
	increaseFactor = 1.5
	decreaseFactor = 0.8
)

// Admitter is the quota gate consulted before each dispatch; satisfied by
// *quota.Tracker.
type Admitter interface {
	Admit() bool
	NextAvailableSlot() time.Time
}

type Scheduler struct {
	mu       sync.Mutex
	interval time.Duration
	min      time.Duration
	max      time.Duration

	quota     Admitter
	onFailure func(error)
	logger    *zap.Logger
}

func New(min, max time.Duration, quota Admitter, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		interval: min,
		min:      min,
		max:      max,
		quota:    quota,
		logger:   logger,
	}
}

// OnFailure registers a hook invoked with every task error, before the
// interval is widened. The session wires this to its retry coordinator.
func (s *Scheduler) OnFailure(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFailure = fn
}

// Schedule blocks until the quota admits a request, then executes task.
// Success narrows the polling interval, failure widens it and forwards the
// error to the failure hook. The task error is returned either way.
func (s *Scheduler) Schedule(ctx context.Context, task func(context.Context) error) error {
	if err := s.waitForAdmission(ctx); err != nil {
		return err
	}

	err := task(ctx)
	if err != nil {
		s.mu.Lock()
		hook := s.onFailure
		s.mu.Unlock()
		if hook != nil {
			hook(err)
		}
		s.IncreaseInterval()
		return err
	}
	s.DecreaseInterval()
	return nil
}

// Run drives the pull loop: one Schedule per cycle, then a single timer armed
// for the current interval. Task errors degrade the cadence but never stop
// the loop; only ctx cancellation terminates it.
func (s *Scheduler) Run(ctx context.Context, task func(context.Context) error) {
	for {
		if err := s.Schedule(ctx, task); err != nil && ctx.Err() != nil {
			return
		}

		timer := time.NewTimer(s.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// waitForAdmission suspends until the quota tracker admits, rechecking at the
// advertised next slot rather than spinning.
func (s *Scheduler) waitForAdmission(ctx context.Context) error {
	for {
		if s.quota.Admit() {
			return nil
		}

		wait := time.Until(s.quota.NextAvailableSlot())
		if wait < admissionWait {
			wait = admissionWait
		}
		s.logger.Debug("quota saturated, waiting", zap.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// IncreaseInterval widens the cadence by ×1.5, capped at the maximum.
func (s *Scheduler) IncreaseInterval() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = time.Duration(float64(s.interval) * increaseFactor)
	if s.interval > s.max {
		s.interval = s.max
	}
}

// DecreaseInterval narrows the cadence by ×0.8, floored at the minimum.
func (s *Scheduler) DecreaseInterval() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = time.Duration(float64(s.interval) * decreaseFactor)
	if s.interval < s.min {
		s.interval = s.min
	}
}
