// Package transport chooses between the provider's persistent push channel
// and scheduled batch pulls. It owns the push connection lifecycle with its
// own reconnect backoff, independent of the HTTP-level and quota backoffs,
// and falls back to the pull path permanently after too many consecutive
// connect failures so the system never oscillates between transports under a
// sustained partial outage.
package transport

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skywatch/opensky-tracker/internal/opensky"
)

const (
	reconnectBase = time.Second
	reconnectCap  = 30 * time.Second
)

// Sink receives snapshots parsed off the push channel. Push traffic writes
// straight through it to the freshness cache; the pull quota is not charged.
type Sink interface {
	Ingest(snaps []opensky.Snapshot)
}

// subscribeCmd is the control frame shape for both subscribe and unsubscribe.
type subscribeCmd struct {
	Cmd     string     `json:"cmd"`
	Filters cmdFilters `json:"filters"`
}

type cmdFilters struct {
	Ids []string `json:"ids"`
}

// Selector is the push/pull transport state machine. One instance per
// session; safe for concurrent use.
type Selector struct {
	mu          sync.Mutex
	state       State
	attempts    int
	maxAttempts int
	subscribed  map[string]struct{}
	conn        pushConn

	dial        dialFunc
	sink        Sink
	logger      *zap.Logger
	unavailable chan struct{}
	reset       chan struct{}

	backoffBase time.Duration
	backoffCap  time.Duration
}

func NewSelector(url string, maxAttempts int, sink Sink, logger *zap.Logger) *Selector {
	return &Selector{
		state:       Disconnected,
		maxAttempts: maxAttempts,
		subscribed:  make(map[string]struct{}),
		dial:        websocketDialer(url),
		sink:        sink,
		logger:      logger,
		unavailable: make(chan struct{}, 1),
		reset:       make(chan struct{}, 1),
		backoffBase: reconnectBase,
		backoffCap:  reconnectCap,
	}
}

// State returns the current connection state.
func (s *Selector) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PushActive reports whether inbound data is currently arriving over the
// push channel. Sessions route around the pull scheduler while this holds.
func (s *Selector) PushActive() bool {
	return s.State() == Connected
}

// Unavailable delivers exactly one signal each time the selector falls back
// permanently. Reconnect attempts in between are not reported.
func (s *Selector) Unavailable() <-chan struct{} {
	return s.unavailable
}

// Reset returns the machine to Disconnected after a permanent fallback, e.g.
// on a network-restored notification. A running Run loop resumes dialing.
func (s *Selector) Reset() {
	s.mu.Lock()
	if s.state != PermanentlyFallenBack {
		s.mu.Unlock()
		return
	}
	s.transitionLocked(Disconnected)
	s.attempts = 0
	s.mu.Unlock()

	select {
	case s.reset <- struct{}{}:
	default:
	}
}

// Subscribe adds ids to the push filter and, when connected, sends the
// subscribe control frame.
func (s *Selector) Subscribe(ids []string) error {
	s.mu.Lock()
	for _, id := range ids {
		s.subscribed[id] = struct{}{}
	}
	conn := s.conn
	connected := s.state == Connected
	s.mu.Unlock()

	if !connected {
		return nil
	}
	return s.writeCmd(conn, "subscribe", ids)
}

// Unsubscribe removes ids from the push filter and notifies the provider
// when connected.
func (s *Selector) Unsubscribe(ids []string) error {
	s.mu.Lock()
	for _, id := range ids {
		delete(s.subscribed, id)
	}
	conn := s.conn
	connected := s.state == Connected
	s.mu.Unlock()

	if !connected {
		return nil
	}
	return s.writeCmd(conn, "unsubscribe", ids)
}

// Run drives the connection lifecycle until ctx is cancelled. After a
// permanent fallback it parks until Reset or cancellation.
func (s *Selector) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		switch s.State() {
		case PermanentlyFallenBack:
			select {
			case <-ctx.Done():
				return
			case <-s.reset:
			}

		case Disconnected:
			s.transition(Connecting)

		case Connecting:
			if !s.connectOnce(ctx) {
				s.failAttempt()
			}

		case Backoff:
			delay := s.backoffDelay()
			s.logger.Debug("push reconnect backoff", zap.Duration("delay", delay))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			s.transition(Connecting)
		}
	}
}

// connectOnce dials, resubscribes the current filter, and pumps inbound
// frames until the channel errors. Returns false when the dial itself failed.
func (s *Selector) connectOnce(ctx context.Context) bool {
	conn, err := s.dial(ctx)
	if err != nil {
		s.logger.Debug("push dial failed", zap.Error(err))
		return false
	}

	s.mu.Lock()
	s.transitionLocked(Connected)
	s.attempts = 0
	s.conn = conn
	ids := make([]string, 0, len(s.subscribed))
	for id := range s.subscribed {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	s.logger.Info("push channel connected", zap.Int("subscriptions", len(ids)))

	if len(ids) > 0 {
		if err := s.writeCmd(conn, "subscribe", ids); err != nil {
			s.logger.Debug("resubscribe failed", zap.Error(err))
			s.dropConn(conn)
			return true
		}
	}

	s.readPump(ctx, conn)
	return true
}

// readPump consumes data frames until the connection breaks, then moves the
// machine to Backoff with the attempt counter at 1. Cancellation closes the
// connection to unblock the read and parks the machine in Disconnected.
func (s *Selector) readPump(ctx context.Context, conn pushConn) {
	defer s.dropConn(conn)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		data, err := conn.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				s.mu.Lock()
				s.transitionLocked(Disconnected)
				s.conn = nil
				s.mu.Unlock()
				return
			}
			s.logger.Debug("push channel error", zap.Error(err))
			return
		}

		result, err := opensky.ParseStates(data, time.Now())
		if err != nil {
			s.logger.Debug("unparseable push frame", zap.Error(err))
			continue
		}
		if len(result.Snapshots) > 0 {
			s.sink.Ingest(result.Snapshots)
		}
	}
}

// dropConn closes a broken connection and records the channel error, unless
// the pump already moved the machine out of Connected (shutdown path).
func (s *Selector) dropConn(conn pushConn) {
	conn.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected {
		return
	}
	s.conn = nil
	s.transitionLocked(Backoff)
	s.attempts = 1
}

// failAttempt records a failed connect and either backs off or, once the
// attempt ceiling is hit, falls back permanently with a single notification.
func (s *Selector) failAttempt() {
	s.mu.Lock()
	s.attempts++
	fellBack := s.attempts >= s.maxAttempts
	if fellBack {
		s.transitionLocked(PermanentlyFallenBack)
	} else {
		s.transitionLocked(Backoff)
	}
	attempts := s.attempts
	s.mu.Unlock()

	if fellBack {
		s.logger.Warn("push transport permanently fallen back",
			zap.Int("attempts", attempts),
		)
		select {
		case s.unavailable <- struct{}{}:
		default:
		}
	}
}

func (s *Selector) backoffDelay() time.Duration {
	s.mu.Lock()
	attempts := s.attempts
	s.mu.Unlock()

	delay := s.backoffBase << (attempts - 1)
	if delay > s.backoffCap {
		delay = s.backoffCap
	}
	return delay
}

func (s *Selector) writeCmd(conn pushConn, cmd string, ids []string) error {
	if conn == nil {
		return nil
	}
	return conn.WriteJSON(subscribeCmd{Cmd: cmd, Filters: cmdFilters{Ids: ids}})
}

func (s *Selector) transition(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitionLocked(to)
}

func (s *Selector) transitionLocked(to State) {
	if !canTransition(s.state, to) {
		s.logger.Error("invalid transport transition",
			zap.String("from", s.state.String()),
			zap.String("to", to.String()),
		)
		return
	}
	s.logger.Debug("transport state change",
		zap.String("from", s.state.String()),
		zap.String("to", to.String()),
	)
	s.state = to
}
