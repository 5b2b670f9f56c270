package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-telemetry-kit/platform"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testScheduler() *scheduler {
	return newScheduler(schedulerConfig{
		BatchInterval:             15 * time.Second,
		MinBackgroundSendInterval: 900 * time.Second,
		BackoffBase:               60 * time.Second,
		BackoffCap:                200 * time.Second,
	})
}

func TestSchedulerCandidate(t *testing.T) {
	tests := []struct {
		name     string
		priority Priority
		app      platform.AppState
		lastSend time.Time
		want     time.Time
		ok       bool
	}{
		{"high fires now", High, platform.StateActive, time.Time{}, t0, true},
		{"high ignores background throttle", High, platform.StateBackground, t0.Add(-5 * time.Second), t0, true},
		{"normal waits batch interval", Normal, platform.StateActive, time.Time{}, t0.Add(15 * time.Second), true},
		{"low foreground behaves like normal", Low, platform.StateActive, t0.Add(-5 * time.Second), t0.Add(15 * time.Second), true},
		{"low background recent send suppressed", Low, platform.StateBackground, t0.Add(-5 * time.Second), time.Time{}, false},
		{"low background old send allowed", Low, platform.StateBackground, t0.Add(-901 * time.Second), t0.Add(15 * time.Second), true},
		{"low background never sent allowed", Low, platform.StateBackground, time.Time{}, t0.Add(15 * time.Second), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testScheduler()
			s.lastSend = tt.lastSend
			got, ok := s.candidate(t0, tt.priority, tt.app)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSchedulerSuppressedRequestStaysIdle(t *testing.T) {
	s := testScheduler()
	s.lastSend = t0.Add(-5 * time.Second)
	assert.False(t, s.request(t0, Low, platform.StateBackground))
	assert.Equal(t, StateIdle, s.snapshot().State)
}

func TestSchedulerNeverPushesLater(t *testing.T) {
	s := testScheduler()
	require.True(t, s.request(t0, Normal, platform.StateActive))
	assert.Equal(t, t0.Add(15*time.Second), s.fireAt)

	assert.False(t, s.request(t0.Add(time.Second), Normal, platform.StateActive), "later candidate must not move fire time")
	assert.Equal(t, t0.Add(15*time.Second), s.fireAt)

	assert.True(t, s.request(t0.Add(2*time.Second), High, platform.StateActive))
	assert.Equal(t, t0.Add(2*time.Second), s.fireAt)
	assert.Equal(t, StateScheduled, s.state)
}

func TestSchedulerCoalescesWhileInFlight(t *testing.T) {
	s := testScheduler()
	s.request(t0, High, platform.StateActive)
	require.True(t, s.begin())

	assert.False(t, s.request(t0, Normal, platform.StateActive))
	assert.False(t, s.request(t0.Add(time.Second), High, platform.StateActive))
	st := s.snapshot()
	assert.Equal(t, StateInFlight, st.State)
	assert.Equal(t, t0.Add(time.Second), st.Pending)

	s.succeeded(t0.Add(3*time.Second), false)
	st = s.snapshot()
	assert.Equal(t, StateScheduled, st.State)
	assert.Equal(t, t0.Add(time.Second), st.FireAt)
	assert.True(t, st.Pending.IsZero())
	assert.Equal(t, t0.Add(3*time.Second), st.LastSend)
}

func TestSchedulerSuccess(t *testing.T) {
	t.Run("drained queue goes idle", func(t *testing.T) {
		s := testScheduler()
		s.request(t0, High, platform.StateActive)
		s.begin()
		s.succeeded(t0, false)
		assert.Equal(t, StateIdle, s.state)
		assert.Equal(t, t0, s.lastSend)
	})

	t.Run("overflow reschedules immediately", func(t *testing.T) {
		s := testScheduler()
		s.request(t0, Normal, platform.StateActive)
		s.begin()
		s.succeeded(t0.Add(20*time.Second), true)
		assert.Equal(t, StateScheduled, s.state)
		assert.Equal(t, t0.Add(20*time.Second), s.fireAt)
	})
}

func TestSchedulerBackoff(t *testing.T) {
	s := testScheduler()
	fail := func(now time.Time) time.Duration {
		s.requestAt(now)
		require.True(t, s.begin())
		return s.failedTransient(now)
	}

	assert.Equal(t, 60*time.Second, fail(t0))
	assert.Equal(t, StateScheduled, s.state)
	assert.Equal(t, t0.Add(60*time.Second), s.fireAt)

	assert.Equal(t, 120*time.Second, fail(t0))
	assert.Equal(t, 200*time.Second, fail(t0), "capped")
	assert.Equal(t, 200*time.Second, fail(t0))
	assert.Equal(t, 200*time.Second, s.snapshot().NextBackoff)

	s.requestAt(t0)
	s.begin()
	s.succeeded(t0, false)
	assert.Equal(t, 60*time.Second, s.snapshot().NextBackoff)
	assert.Equal(t, 60*time.Second, fail(t0), "reset after success")
}

func TestSchedulerTransientKeepsEarlierPending(t *testing.T) {
	s := testScheduler()
	s.requestAt(t0)
	s.begin()
	s.requestAt(t0.Add(10 * time.Second))
	s.failedTransient(t0)
	assert.Equal(t, t0.Add(10*time.Second), s.fireAt)
}

func TestSchedulerPermanent(t *testing.T) {
	t.Run("idle after drop", func(t *testing.T) {
		s := testScheduler()
		s.requestAt(t0)
		s.begin()
		s.failedPermanent(t0, false)
		assert.Equal(t, StateIdle, s.state)
		assert.True(t, s.lastSend.IsZero())
	})

	t.Run("remainder follows normal delay", func(t *testing.T) {
		s := testScheduler()
		s.requestAt(t0)
		s.begin()
		s.failedPermanent(t0, true)
		assert.Equal(t, StateScheduled, s.state)
		assert.Equal(t, t0.Add(15*time.Second), s.fireAt)
	})
}

func TestSchedulerTunedMinInterval(t *testing.T) {
	s := testScheduler()
	s.minBatchInterval = 2 * time.Minute
	got, ok := s.candidate(t0, Normal, platform.StateActive)
	require.True(t, ok)
	assert.Equal(t, t0.Add(2*time.Minute), got)
}

func TestSchedulerCancelAndAbandon(t *testing.T) {
	s := testScheduler()
	s.requestAt(t0)
	s.cancel()
	assert.Equal(t, StateIdle, s.state)

	s.requestAt(t0)
	s.begin()
	s.requestAt(t0)
	s.abandon()
	st := s.snapshot()
	assert.Equal(t, StateIdle, st.State)
	assert.True(t, st.Pending.IsZero())
}

func TestSchedulerBeginRequiresSchedule(t *testing.T) {
	s := testScheduler()
	assert.False(t, s.begin())
	s.idle()
	assert.Equal(t, StateIdle, s.state)
}
