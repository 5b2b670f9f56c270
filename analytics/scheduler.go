package analytics

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/c0deZ3R0/go-telemetry-kit/platform"
)

// State is the upload scheduler state.
type State int

const (
	StateIdle State = iota
	StateScheduled
	StateInFlight
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateInFlight:
		return "in_flight"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ScheduleState is a snapshot of the upload scheduler.
type ScheduleState struct {
	State State
	// FireAt is set while Scheduled.
	FireAt time.Time
	// Pending is the earliest request that arrived while InFlight.
	Pending time.Time
	// LastSend is the time of the last successful upload.
	LastSend time.Time
	// NextBackoff is the delay the next transient failure will use.
	NextBackoff time.Duration
}

// schedulerConfig carries the timing inputs of the scheduler.
type schedulerConfig struct {
	BatchInterval             time.Duration
	MinBackgroundSendInterval time.Duration
	BackoffBase               time.Duration
	BackoffCap                time.Duration
}

// scheduler is the upload state machine. It is owned by the analytics run
// loop and never touched from another goroutine; every transition takes the
// current time explicitly.
type scheduler struct {
	cfg schedulerConfig

	// minBatchInterval is the server-tuned floor for the normal delay.
	minBatchInterval time.Duration

	state    State
	fireAt   time.Time
	pending  time.Time
	lastSend time.Time

	backoff     *backoff.ExponentialBackOff
	nextBackoff time.Duration
}

func newScheduler(cfg schedulerConfig) *scheduler {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BackoffBase
	b.MaxInterval = cfg.BackoffCap
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return &scheduler{cfg: cfg, backoff: b, nextBackoff: cfg.BackoffBase}
}

// normalDelay is the delay for a Normal priority request.
func (s *scheduler) normalDelay() time.Duration {
	return max(s.cfg.BatchInterval, s.minBatchInterval)
}

// candidate computes the fire time a request of priority p would ask for.
// It reports false when the request is suppressed.
func (s *scheduler) candidate(now time.Time, p Priority, app platform.AppState) (time.Time, bool) {
	switch p {
	case High:
		return now, true
	case Low:
		if app == platform.StateBackground && !s.lastSend.IsZero() &&
			now.Sub(s.lastSend) < s.cfg.MinBackgroundSendInterval {
			return time.Time{}, false
		}
	}
	return now.Add(s.normalDelay()), true
}

// request applies a schedule request and reports whether the armed fire time
// changed.
func (s *scheduler) request(now time.Time, p Priority, app platform.AppState) bool {
	at, ok := s.candidate(now, p, app)
	if !ok {
		return false
	}
	return s.requestAt(at)
}

func (s *scheduler) requestAt(at time.Time) bool {
	switch s.state {
	case StateIdle:
		s.state = StateScheduled
		s.fireAt = at
		return true
	case StateScheduled:
		if at.Before(s.fireAt) {
			s.fireAt = at
			return true
		}
	case StateInFlight:
		if s.pending.IsZero() || at.Before(s.pending) {
			s.pending = at
		}
	}
	return false
}

// begin moves a Scheduled machine to InFlight. It reports false when there was
// nothing scheduled.
func (s *scheduler) begin() bool {
	if s.state != StateScheduled {
		return false
	}
	s.state = StateInFlight
	s.fireAt = time.Time{}
	return true
}

// idle returns a Scheduled machine whose timer found an empty queue to Idle.
func (s *scheduler) idle() {
	if s.state == StateScheduled {
		s.state = StateIdle
		s.fireAt = time.Time{}
	}
}

// settle leaves InFlight for Idle and re-applies the pending request.
func (s *scheduler) settle(next time.Time) {
	pending := s.pending
	s.state = StateIdle
	s.pending = time.Time{}
	if !next.IsZero() {
		s.requestAt(next)
	}
	if !pending.IsZero() {
		s.requestAt(pending)
	}
}

// succeeded records a confirmed upload. overflow means the queue still holds
// events beyond the sent batch, which are then scheduled immediately.
func (s *scheduler) succeeded(now time.Time, overflow bool) {
	if s.state != StateInFlight {
		return
	}
	s.backoff.Reset()
	s.nextBackoff = s.cfg.BackoffBase
	s.lastSend = now
	var next time.Time
	if overflow {
		next = now
	}
	s.settle(next)
}

// failedTransient reschedules after the next backoff step.
func (s *scheduler) failedTransient(now time.Time) time.Duration {
	if s.state != StateInFlight {
		return 0
	}
	delay := s.backoff.NextBackOff()
	s.nextBackoff = min(delay*2, s.cfg.BackoffCap)
	s.settle(now.Add(delay))
	return delay
}

// failedPermanent records a dropped batch. Remaining events follow the
// normal delay.
func (s *scheduler) failedPermanent(now time.Time, overflow bool) {
	if s.state != StateInFlight {
		return
	}
	var next time.Time
	if overflow {
		next = now.Add(s.normalDelay())
	}
	s.settle(next)
}

// abandon drops the in-flight attempt without touching backoff or last send,
// used when collection is disabled while a batch is on the wire.
func (s *scheduler) abandon() {
	if s.state == StateInFlight {
		s.state = StateIdle
		s.pending = time.Time{}
	}
}

// cancel clears any armed or pending schedule. An in-flight attempt stays
// in flight until its result arrives.
func (s *scheduler) cancel() {
	if s.state == StateScheduled {
		s.state = StateIdle
		s.fireAt = time.Time{}
	}
	s.pending = time.Time{}
}

func (s *scheduler) snapshot() ScheduleState {
	return ScheduleState{
		State:       s.state,
		FireAt:      s.fireAt,
		Pending:     s.pending,
		LastSend:    s.lastSend,
		NextBackoff: s.nextBackoff,
	}
}
