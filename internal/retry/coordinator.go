// Package retry classifies upstream failures and applies a per-class retry
// policy. Classes that indicate provider-side displeasure additionally force
// the shared quota tracker into cool-down instead of waiting for natural
// window exhaustion.
package retry

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/skywatch/opensky-tracker/internal/opensky"
)

// ErrorClass buckets upstream failures for policy lookup.
type ErrorClass int

const (
	RateLimited ErrorClass = iota
	AuthenticationFailure
	Timeout
	NetworkFailure
	UpstreamServerError
	MalformedResponse
)

func (c ErrorClass) String() string {
	switch c {
	case RateLimited:
		return "rate_limited"
	case AuthenticationFailure:
		return "authentication_failure"
	case Timeout:
		return "timeout"
	case NetworkFailure:
		return "network_failure"
	case UpstreamServerError:
		return "upstream_server_error"
	case MalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// Policy is the retry budget for one error class.
type Policy struct {
	MaxRetries       int
	BaseDelay        time.Duration
	ForcesQuotaReset bool
}

var policies = map[ErrorClass]Policy{
	RateLimited:           {MaxRetries: 5, BaseDelay: 10 * time.Second, ForcesQuotaReset: true},
	AuthenticationFailure: {MaxRetries: 3, BaseDelay: 5 * time.Second, ForcesQuotaReset: true},
	Timeout:               {MaxRetries: 3, BaseDelay: 3 * time.Second},
	NetworkFailure:        {MaxRetries: 3, BaseDelay: 5 * time.Second},
	UpstreamServerError:   {MaxRetries: 4, BaseDelay: 15 * time.Second, ForcesQuotaReset: true},
	MalformedResponse:     {MaxRetries: 0},
}

// Outcome is the verdict for one failure occurrence: either wait RetryAfter
// and try again, or give up.
type Outcome struct {
	RetryAfter time.Duration
	Fatal      bool
}

// fuser is the quota cool-down hook; satisfied by *quota.Tracker.
type fuser interface {
	TripFuse()
}

type Coordinator struct {
	quota  fuser
	logger *zap.Logger
}

func NewCoordinator(quota fuser, logger *zap.Logger) *Coordinator {
	return &Coordinator{quota: quota, logger: logger}
}

// Classify maps an error onto its class via the upstream sentinel errors.
func Classify(err error) ErrorClass {
	switch {
	case errors.Is(err, opensky.ErrRateLimited):
		return RateLimited
	case errors.Is(err, opensky.ErrAuthFailed):
		return AuthenticationFailure
	case errors.Is(err, opensky.ErrServer):
		return UpstreamServerError
	case errors.Is(err, opensky.ErrMalformed):
		return MalformedResponse
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}
	return NetworkFailure
}

// PolicyFor returns the policy for a class.
func PolicyFor(class ErrorClass) Policy {
	return policies[class]
}

// Handle decides what to do with the attempt-th occurrence of err (attempts
// are 1-based). The quota fuse is tripped on the first occurrence of a
// forcing class; later occurrences of the same streak only consume the retry
// budget. Exhausting the budget surfaces Fatal; the caller decides whether
// to degrade or abort, the error is never silently discarded.
func (c *Coordinator) Handle(err error, attempt int) Outcome {
	class := Classify(err)
	policy := PolicyFor(class)

	if policy.ForcesQuotaReset && attempt == 1 {
		c.quota.TripFuse()
	}

	if attempt > policy.MaxRetries {
		c.logger.Warn("retry budget exhausted",
			zap.String("class", class.String()),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return Outcome{Fatal: true}
	}

	delay := policy.BaseDelay << (attempt - 1)
	c.logger.Debug("scheduling retry",
		zap.String("class", class.String()),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
	)
	return Outcome{RetryAfter: delay}
}
