package remotedata

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Listener receives the current payloads of a subscription's types, ordered
// by type, whenever any of them changes.
type Listener func(payloads []Payload)

// Subscription is a registered Listener. Dispose it to stop deliveries.
type Subscription struct {
	id       string
	types    map[string]struct{}
	listener Listener
	manager  *Manager
	disposed atomic.Bool

	// mu is held while the listener runs.
	mu sync.Mutex

	// seen is the content last delivered per type. Only the delivery
	// executor touches it.
	seen map[string]digest
}

func newSubscription(id string, types []string, l Listener, m *Manager) *Subscription {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return &Subscription{
		id:       id,
		types:    set,
		listener: l,
		manager:  m,
		seen:     make(map[string]digest),
	}
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() string { return s.id }

// Types returns the subscribed payload types, sorted.
func (s *Subscription) Types() []string {
	out := make([]string, 0, len(s.types))
	for t := range s.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (s *Subscription) wants(payloadType string) bool {
	_, ok := s.types[payloadType]
	return ok
}

// Dispose unregisters the subscription. A delivery already running is waited
// for, so the listener is never called once Dispose returns. Dispose may be
// called from inside a listener, where it does not wait, and is idempotent.
func (s *Subscription) Dispose() {
	first := s.disposed.CompareAndSwap(false, true)
	if s.manager == nil {
		return
	}
	if !s.manager.exec.onExecutor() {
		s.mu.Lock()
		//nolint:staticcheck // empty critical section waits out a running listener
		s.mu.Unlock()
	}
	if first {
		s.manager.unsubscribe(s)
	}
}

// Disposed reports whether Dispose was called.
func (s *Subscription) Disposed() bool {
	return s.disposed.Load()
}

// deliver runs on the executor. snapshot holds every cached payload of the
// subscription's types at the time the change was committed.
func (s *Subscription) deliver(snapshot []Payload) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed.Load() {
		return false
	}
	changed := len(snapshot) != len(s.seen)
	current := make(map[string]digest, len(snapshot))
	for _, p := range snapshot {
		d := contentDigest(p.Data)
		current[p.Type] = d
		if prev, ok := s.seen[p.Type]; !ok || prev != d {
			changed = true
		}
	}
	if !changed {
		return false
	}
	s.seen = current
	s.listener(snapshot)
	return true
}
