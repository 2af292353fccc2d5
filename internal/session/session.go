package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skywatch/opensky-tracker/internal/opensky"
	"github.com/skywatch/opensky-tracker/internal/sched"
	"github.com/skywatch/opensky-tracker/internal/transport"
)

// subscriberBuffer sizes the update channel; a slow consumer loses updates
// rather than stalling acquisition.
const subscriberBuffer = 256

// Session is one consumer's view of the engine: a mutable tracked set, a
// snapshot subscription, and the push/pull machinery serving it.
type Session struct {
	ID string

	mgr       *Manager
	ctx       context.Context
	cancel    context.CancelFunc
	selector  *transport.Selector
	scheduler *sched.Scheduler
	logger    *zap.Logger

	mu            sync.Mutex
	tracked       map[string]struct{}
	order         []string
	lastDelivered map[string]int64
	stopped       bool
	out           chan opensky.Snapshot
}

var _ transport.Sink = (*Session)(nil)

func newSession(parent context.Context, m *Manager) *Session {
	ctx, cancel := context.WithCancel(parent)

	s := &Session{
		ID:            uuid.New().String(),
		mgr:           m,
		ctx:           ctx,
		cancel:        cancel,
		tracked:       make(map[string]struct{}),
		lastDelivered: make(map[string]int64),
		out:           make(chan opensky.Snapshot, subscriberBuffer),
	}
	s.logger = m.opts.Logger.With(zap.String("session_id", s.ID))
	s.selector = transport.NewSelector(m.opts.PushURL, m.opts.PushAttempts, s, s.logger)
	s.scheduler = sched.New(m.opts.MinInterval, m.opts.MaxInterval, m.opts.Quota, s.logger)
	s.scheduler.OnFailure(func(err error) {
		s.logger.Debug("poll cycle failed", zap.Error(err))
	})
	return s
}

// Track adds ids to the session's tracked set and extends the push
// subscription. Invalid ids are rejected; valid ones in the same call still
// take effect.
func (s *Session) Track(ids ...string) {
	var added []string

	s.mu.Lock()
	for _, id := range ids {
		if !opensky.ValidIcao24(id) {
			s.logger.Warn("ignoring invalid icao24", zap.String("id", id))
			continue
		}
		if _, ok := s.tracked[id]; ok {
			continue
		}
		s.tracked[id] = struct{}{}
		s.order = append(s.order, id)
		added = append(added, id)
	}
	s.mu.Unlock()

	if len(added) > 0 {
		if err := s.selector.Subscribe(added); err != nil {
			s.logger.Debug("push subscribe failed", zap.Error(err))
		}
	}
}

// Untrack removes ids from the tracked set and the push subscription.
func (s *Session) Untrack(ids ...string) {
	var removed []string

	s.mu.Lock()
	for _, id := range ids {
		if _, ok := s.tracked[id]; !ok {
			continue
		}
		delete(s.tracked, id)
		delete(s.lastDelivered, id)
		removed = append(removed, id)
	}
	if len(removed) > 0 {
		kept := s.order[:0]
		for _, id := range s.order {
			if _, ok := s.tracked[id]; ok {
				kept = append(kept, id)
			}
		}
		s.order = kept
	}
	s.mu.Unlock()

	if len(removed) > 0 {
		if err := s.selector.Unsubscribe(removed); err != nil {
			s.logger.Debug("push unsubscribe failed", zap.Error(err))
		}
	}
}

// Tracked returns the tracked ids in insertion order.
func (s *Session) Tracked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Updates is the session's snapshot subscription. The channel closes after
// Stop.
func (s *Session) Updates() <-chan opensky.Snapshot {
	return s.out
}

// Transport returns the session's transport selector, for state inspection
// and external reset signals.
func (s *Session) Transport() *transport.Selector {
	return s.selector
}

// Stop cancels the session's loops and unregisters it. In-flight requests
// run to completion but their results are discarded.
func (s *Session) Stop() {
	s.cancel()
}

// closeOnDone finalizes the session once its context ends: the update
// channel closes after the stopped flag guarantees no further sends.
func (s *Session) closeOnDone() {
	<-s.ctx.Done()

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	close(s.out)
	s.mgr.removeSession(s.ID)
	s.logger.Info("session stopped")
}

// watchTransport logs the one-shot unavailability signal when the selector
// gives up on the push channel.
func (s *Session) watchTransport() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.selector.Unavailable():
			s.logger.Warn("push transport unavailable, serving via pull only")
		}
	}
}

// poll runs one pull acquisition cycle: partition tracked ids by cache
// freshness, chunk the remainder, and dispatch the chunks through the
// process-wide concurrency gate. A cycle with any fatal batch reports the
// first such error to the scheduler; affected ids degrade to stale cache
// snapshots rather than failing visibly.
func (s *Session) poll(ctx context.Context) error {
	if s.selector.PushActive() {
		// Push is delivering; nothing to pull this cycle.
		return nil
	}

	ids := s.Tracked()
	if len(ids) == 0 {
		return nil
	}

	fresh, batches := s.mgr.splitForFetch(ids)
	for _, snap := range fresh {
		s.deliver(snap)
	}
	if len(batches) == 0 {
		return nil
	}

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)

	for _, chunk := range batches {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s.mgr.gate <- struct{}{}:
		}

		wg.Add(1)
		go func(chunk []string) {
			defer wg.Done()
			defer func() { <-s.mgr.gate }()

			result, err := s.mgr.fetchBatch(ctx, chunk)
			if ctx.Err() != nil {
				// Session stopping; the request completed only to release
				// the slot cleanly.
				return
			}
			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
				s.degrade(chunk)
				return
			}
			s.Ingest(result.Snapshots)
		}(chunk)
	}

	wg.Wait()
	return firstErr
}

// Ingest accepts snapshots from either transport: cache and store them, then
// deliver the ones this session tracks. Push frames land here directly,
// bypassing the pull quota.
func (s *Session) Ingest(snaps []opensky.Snapshot) {
	s.mgr.ingest(s.ctx, s.ID, snaps)

	s.mu.Lock()
	tracked := make([]opensky.Snapshot, 0, len(snaps))
	for _, snap := range snaps {
		if _, ok := s.tracked[snap.Icao24]; ok {
			tracked = append(tracked, snap)
		}
	}
	s.mu.Unlock()

	for _, snap := range tracked {
		s.deliver(snap)
	}
}

// degrade serves the last cached snapshot for each id, marked stale when
// expired, after the retry budget for a batch is spent.
func (s *Session) degrade(ids []string) {
	for _, id := range ids {
		if snap, ok := s.mgr.opts.Cache.GetStale(id); ok {
			s.deliver(snap)
		}
	}
}

// deliver pushes one snapshot to the subscriber, enforcing monotonic per-id
// freshness: a snapshot at or before the last delivered contact time for the
// same id is dropped. Slow subscribers lose updates instead of blocking.
func (s *Session) deliver(snap opensky.Snapshot) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	last, seen := s.lastDelivered[snap.Icao24]
	if seen && snap.LastContact <= last && !snap.Stale {
		s.mu.Unlock()
		return
	}
	if !snap.Stale {
		s.lastDelivered[snap.Icao24] = snap.LastContact
	}

	select {
	case s.out <- snap:
	default:
		s.logger.Debug("subscriber buffer full, dropping update",
			zap.String("icao24", snap.Icao24),
		)
	}
	s.mu.Unlock()
}
