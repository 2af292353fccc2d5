// Package session hosts the acquisition engine. A Manager owns the
// process-wide singletons: the shared quota tracker (one credential, one
// quota), the freshness cache, the tracking store, and the bounded
// concurrency gate for in-flight pulls. Each Session owns its tracked set,
// its transport selector, and its adaptive pull loop.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skywatch/opensky-tracker/internal/batch"
	"github.com/skywatch/opensky-tracker/internal/cache"
	"github.com/skywatch/opensky-tracker/internal/opensky"
	"github.com/skywatch/opensky-tracker/internal/quota"
	"github.com/skywatch/opensky-tracker/internal/retry"
	"github.com/skywatch/opensky-tracker/internal/store"
)

// Options wires the engine's shared collaborators and tuning knobs.
type Options struct {
	Fetcher      opensky.Fetcher
	Quota        *quota.Tracker
	Cache        *cache.Cache
	Store        store.Store
	Retry        *retry.Coordinator
	MaxBatchSize int
	MinInterval  time.Duration
	MaxInterval  time.Duration
	// MaxConcurrent bounds simultaneously in-flight pull requests
	// process-wide, independent of the quota windows.
	MaxConcurrent int
	PushURL       string
	PushAttempts  int
	Logger        *zap.Logger
}

type Manager struct {
	opts Options
	gate chan struct{}

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(opts Options) *Manager {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	return &Manager{
		opts:     opts,
		gate:     make(chan struct{}, opts.MaxConcurrent),
		sessions: make(map[string]*Session),
	}
}

// StartSession creates a session and launches its transport and pull loops.
// The session runs until Stop.
func (m *Manager) StartSession(ctx context.Context) *Session {
	s := newSession(ctx, m)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	go s.selector.Run(s.ctx)
	go s.watchTransport()
	go s.scheduler.Run(s.ctx, s.poll)
	go s.closeOnDone()

	m.opts.Logger.Info("session started", zap.String("session_id", s.ID))
	return s
}

// Sessions returns the currently running sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// StopAll stops every session and waits for their loops to wind down.
func (m *Manager) StopAll() {
	for _, s := range m.Sessions() {
		s.Stop()
	}
}

func (m *Manager) removeSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// fetchBatch issues one pull request for ids, charging the quota and driving
// the retry coordinator until success, a fatal verdict, or cancellation.
// Requests already admitted run on a cancel-detached context so the
// concurrency slot is always released cleanly; the caller discards results
// delivered after cancellation.
func (m *Manager) fetchBatch(ctx context.Context, ids []string) (*opensky.ParseResult, error) {
	attempt := 0
	for {
		if err := m.waitQuota(ctx); err != nil {
			return nil, err
		}

		m.opts.Quota.Record()
		result, err := m.opts.Fetcher.FetchStates(context.WithoutCancel(ctx), ids)
		if err == nil {
			m.opts.Quota.RecordSuccess()
			return result, nil
		}

		m.opts.Quota.RecordFailure()
		attempt++
		outcome := m.opts.Retry.Handle(err, attempt)
		if outcome.Fatal {
			return nil, err
		}

		timer := time.NewTimer(outcome.RetryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// waitQuota suspends until the shared tracker admits a request. Quota
// exhaustion is never treated as a retryable error; the caller simply waits
// for the advertised slot.
func (m *Manager) waitQuota(ctx context.Context) error {
	for {
		if m.opts.Quota.Admit() {
			return nil
		}

		wait := time.Until(m.opts.Quota.NextAvailableSlot())
		if wait < 100*time.Millisecond {
			wait = 100 * time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// splitForFetch is the cache-then-split pipeline: fresh snapshots are served
// from cache, the remainder is chunked to the tier's batch ceiling.
func (m *Manager) splitForFetch(ids []string) (fresh map[string]opensky.Snapshot, batches [][]string) {
	fresh, needFetch := m.opts.Cache.Partition(ids)
	return fresh, batch.Split(needFetch, m.opts.MaxBatchSize)
}

// ingest writes a batch of snapshots into the cache and the tracking store.
func (m *Manager) ingest(ctx context.Context, groupKey string, snaps []opensky.Snapshot) {
	if len(snaps) == 0 {
		return
	}

	byID := make(map[string]opensky.Snapshot, len(snaps))
	for _, snap := range snaps {
		byID[snap.Icao24] = snap
	}
	m.opts.Cache.SetMultiple(byID)

	if err := m.opts.Store.UpsertBatch(ctx, groupKey, snaps); err != nil {
		m.opts.Logger.Error("store upsert failed",
			zap.String("group", groupKey),
			zap.Int("snapshots", len(snaps)),
			zap.Error(err),
		)
	}
}
