package remotedata

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/c0deZ3R0/go-telemetry-kit/config"
	syncErrors "github.com/c0deZ3R0/go-telemetry-kit/errors"
	"github.com/c0deZ3R0/go-telemetry-kit/internal/clock"
	"github.com/c0deZ3R0/go-telemetry-kit/internal/idgen"
	"github.com/c0deZ3R0/go-telemetry-kit/logging"
	"github.com/c0deZ3R0/go-telemetry-kit/metrics"
	"github.com/c0deZ3R0/go-telemetry-kit/platform"
	"github.com/c0deZ3R0/go-telemetry-kit/storage"
	"github.com/c0deZ3R0/go-telemetry-kit/storage/memory"
	"github.com/c0deZ3R0/go-telemetry-kit/transport"
)

const (
	prefMetadata    = "remotedata.metadata"
	prefLastRefresh = "remotedata.last_refresh"

	refreshKey = "refresh"
)

// Option configures a Manager.
type Option func(*Manager)

// WithPayloadStore sets the payload cache. Defaults to an in-memory store.
func WithPayloadStore(s storage.PayloadStore) Option {
	return func(m *Manager) { m.store = s }
}

// WithPreferences sets the preference store. Defaults to in-memory preferences.
func WithPreferences(p storage.Preferences) Option {
	return func(m *Manager) { m.prefs = p }
}

// WithTransport sets the client used for fetches. Required.
func WithTransport(c transport.Client) Option {
	return func(m *Manager) { m.client = c }
}

func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithMetrics(c metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithEnvironment sets the providers the fetch metadata is built from.
func WithEnvironment(env *platform.Environment) Option {
	return func(m *Manager) { m.env = env }
}

// WithAppState sets the app state assumed before the first lifecycle
// signal. The periodic refresh runs only while active. Defaults to
// platform.StateActive.
func WithAppState(s platform.AppState) Option {
	return func(m *Manager) { m.appState = s }
}

// Manager is the remote data sync engine.
type Manager struct {
	cfg     config.Config
	store   storage.PayloadStore
	prefs   storage.Preferences
	client  transport.Client
	clock   clock.Clock
	logger  *logging.Logger
	metrics metrics.Collector
	env     *platform.Environment

	group  singleflight.Group
	exec   *executor
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	mu          sync.RWMutex
	closed      bool
	payloads    map[string]Payload
	meta        Metadata
	lastRefresh time.Time
	subs        []*Subscription
	appState    platform.AppState
	tickStop    chan struct{}
}

// New creates a Manager and loads the cached payloads and fetch state.
func New(cfg config.Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:      cfg,
		payloads: make(map[string]Payload),
		appState: platform.StateActive,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.client == nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpConfig, errors.New("remotedata: a transport client is required"))
	}
	if m.store == nil {
		m.store = memory.NewPayloadStore()
	}
	if m.prefs == nil {
		m.prefs = memory.NewPreferences()
	}
	if m.clock == nil {
		m.clock = clock.System{}
	}
	m.metrics = metrics.OrNoOp(m.metrics)
	m.logger = logging.OrDefault(m.logger).WithComponent("remote-data")

	m.runCtx, m.cancel = context.WithCancel(context.Background())
	if err := m.restore(m.runCtx); err != nil {
		m.cancel()
		return nil, err
	}
	m.exec = newExecutor()
	if m.appState == platform.StateActive {
		m.startTickerLocked()
	}
	return m, nil
}

func (m *Manager) restore(ctx context.Context) error {
	recs, err := m.store.ReadAll(ctx)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	for _, rec := range recs {
		p, err := payloadFromRecord(rec)
		if err != nil {
			m.logger.Warn("skipping unreadable cached payload", "type", rec.Type, "error", err)
			continue
		}
		m.payloads[p.Type] = p
	}
	if _, err := storage.GetJSON(ctx, m.prefs, prefMetadata, &m.meta); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	if m.lastRefresh, err = storage.GetTime(ctx, m.prefs, prefLastRefresh); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	m.logger.Debug("remote data cache loaded", "types", len(m.payloads), "last_refresh", m.lastRefresh)
	return nil
}

func closedError() error {
	return syncErrors.NewWithComponent(syncErrors.OpClose, "remote-data", syncErrors.ErrClosed)
}

// Refresh fetches remote data now. A call made while another fetch is
// outstanding does not issue a request; it receives that fetch's outcome.
// The returned channel yields the outcome once and never blocks the fetch.
func (m *Manager) Refresh(ctx context.Context) <-chan error {
	out := make(chan error, 1)
	ch := m.group.DoChan(refreshKey, func() (any, error) {
		if !m.begin() {
			return nil, closedError()
		}
		defer m.wg.Done()
		return nil, m.refresh(m.runCtx)
	})
	go func() {
		select {
		case res := <-ch:
			if res.Shared {
				m.logger.Debug("refresh shared with in-flight fetch",
					"info", syncErrors.NewDuplicateFetchSuppressed(syncErrors.OpRefresh))
			}
			out <- res.Err
		case <-ctx.Done():
			out <- ctx.Err()
		}
	}()
	return out
}

// ForegroundRefresh refreshes only when the refresh interval has elapsed
// since the last attempt, or when the locale or app version differ from the
// last successful fetch. Otherwise it reports success without a request.
func (m *Manager) ForegroundRefresh(ctx context.Context) <-chan error {
	m.mu.RLock()
	last, lastAt := m.meta, m.lastRefresh
	m.mu.RUnlock()

	current := currentMetadata(m.env)
	elapsed := m.clock.Now().Sub(lastAt)
	if !lastAt.IsZero() && elapsed < m.cfg.RemoteRefreshInterval && last.IsCurrent(current) {
		m.metrics.RecordRefresh(0, metrics.OutcomeThrottled)
		m.logger.Debug("foreground refresh skipped", "since_last", elapsed)
		out := make(chan error, 1)
		out <- nil
		return out
	}
	return m.Refresh(ctx)
}

// begin registers a fetch with Close. It reports false after Close.
func (m *Manager) begin() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.wg.Add(1)
	return true
}

func (m *Manager) refresh(ctx context.Context) error {
	m.mu.RLock()
	last := m.meta
	m.mu.RUnlock()
	current := currentMetadata(m.env)
	req := m.fetchRequest(last, current)

	started := time.Now()
	reqCtx := ctx
	if m.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, m.cfg.RequestTimeout)
		defer cancel()
	}
	m.logger.Debug("fetching remote data", "url", req.URL, "conditional", req.Header.Get("If-Modified-Since") != "")
	resp, err := m.client.Execute(reqCtx, req)
	duration := time.Since(started)

	now := m.clock.Now()
	res, err := parseFetch(resp, err, current)
	if err != nil || res.notModified {
		m.recordAttempt(ctx, now)
	}
	if err != nil {
		outcome := metrics.OutcomePermanent
		if syncErrors.IsTransient(err) {
			outcome = metrics.OutcomeTransient
		}
		m.metrics.RecordRefresh(duration, outcome)
		m.logger.LogError(ctx, err, "remote data refresh failed")
		return err
	}
	if res.notModified {
		m.metrics.RecordRefresh(duration, metrics.OutcomeNotModified)
		m.logger.Debug("remote data not modified")
		return nil
	}
	if err := m.apply(ctx, res, now); err != nil {
		m.recordAttempt(ctx, now)
		m.metrics.RecordRefresh(duration, metrics.OutcomePermanent)
		m.logger.LogError(ctx, err, "failed to store remote data")
		return err
	}
	m.metrics.RecordRefresh(duration, metrics.OutcomeSuccess)
	return nil
}

func (m *Manager) recordAttempt(ctx context.Context, at time.Time) {
	m.mu.Lock()
	m.lastRefresh = at
	m.mu.Unlock()
	if err := storage.SetTime(ctx, m.prefs, prefLastRefresh, at); err != nil {
		m.logger.LogError(ctx, err, "failed to persist refresh time")
	}
}

// apply commits a fetched payload set: it persists the types whose content,
// timestamp or metadata moved, deletes types the server no longer sends and
// schedules deliveries for the types whose content changed. The attempt time
// and the new metadata become visible together.
func (m *Manager) apply(ctx context.Context, res fetchResult, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := make(map[string]struct{})
	var writes []Payload
	for t, p := range res.payloads {
		old, ok := m.payloads[t]
		contentChanged := !ok || contentDigest(old.Data) != contentDigest(p.Data)
		if contentChanged {
			changed[t] = struct{}{}
		} else {
			p.Data = old.Data
		}
		if contentChanged || !old.Timestamp.Equal(p.Timestamp) || old.Metadata != p.Metadata {
			writes = append(writes, p)
		}
	}
	var deletes []string
	for t := range m.payloads {
		if _, ok := res.payloads[t]; !ok {
			deletes = append(deletes, t)
			changed[t] = struct{}{}
		}
	}
	sortPayloads(writes)
	sort.Strings(deletes)

	recs := make([]storage.PayloadRecord, 0, len(writes))
	for _, p := range writes {
		rec, err := p.record()
		if err != nil {
			return syncErrors.NewStorageError(syncErrors.OpStore, err)
		}
		recs = append(recs, rec)
	}
	if len(recs) > 0 || len(deletes) > 0 {
		if err := m.store.Apply(ctx, recs, deletes); err != nil {
			return syncErrors.NewStorageError(syncErrors.OpStore, err)
		}
	}

	for _, p := range writes {
		m.payloads[p.Type] = p
	}
	for _, t := range deletes {
		delete(m.payloads, t)
	}
	m.meta = res.meta
	m.lastRefresh = at
	if err := storage.SetJSON(ctx, m.prefs, prefMetadata, res.meta); err != nil {
		m.logger.LogError(ctx, err, "failed to persist remote data metadata")
	}
	if err := storage.SetTime(ctx, m.prefs, prefLastRefresh, at); err != nil {
		m.logger.LogError(ctx, err, "failed to persist refresh time")
	}

	if len(changed) == 0 {
		m.logger.Debug("remote data unchanged", "types", len(res.payloads))
		return nil
	}
	notified := 0
	for _, s := range m.subs {
		if !intersects(s, changed) {
			continue
		}
		m.enqueueLocked(s)
		notified++
	}
	m.metrics.RecordDelivery(notified)
	m.logger.Info("remote data updated",
		slog.Int("changed", len(changed)), slog.Int("removed", len(deletes)), slog.Int("subscribers", notified))
	return nil
}

func intersects(s *Subscription, changed map[string]struct{}) bool {
	for t := range changed {
		if s.wants(t) {
			return true
		}
	}
	return false
}

// enqueueLocked schedules delivery of s's current payloads. Callers hold mu,
// which keeps deliveries in commit order.
func (m *Manager) enqueueLocked(s *Subscription) {
	snapshot := m.snapshotLocked(s)
	m.exec.submit(func() { m.deliver(s, snapshot) })
}

func (m *Manager) snapshotLocked(s *Subscription) []Payload {
	var out []Payload
	for t := range s.types {
		if p, ok := m.payloads[t]; ok {
			out = append(out, p)
		}
	}
	sortPayloads(out)
	return out
}

func (m *Manager) deliver(s *Subscription, snapshot []Payload) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("remote data listener panicked", "subscription", s.id, "panic", r)
		}
	}()
	s.deliver(snapshot)
}

// Subscribe registers l for types. When any of them is already cached, l
// receives the cached payloads asynchronously before any later update.
func (m *Manager) Subscribe(types []string, l Listener) (*Subscription, error) {
	if len(types) == 0 {
		return nil, syncErrors.NewValidationError(syncErrors.OpSubscribe, errors.New("at least one payload type is required"))
	}
	if l == nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpSubscribe, errors.New("listener is nil"))
	}
	s := newSubscription(idgen.MustShort(idgen.SubscriptionPrefix), types, l, m)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, closedError()
	}
	m.subs = append(m.subs, s)
	if len(m.snapshotLocked(s)) > 0 {
		m.enqueueLocked(s)
	}
	m.logger.Debug("subscribed", "subscription", s.id, "types", s.Types())
	return s, nil
}

func (m *Manager) unsubscribe(s *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, sub := range m.subs {
		if sub == s {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			break
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (m *Manager) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// Payloads returns the cached payloads of types, or all of them when none
// are named, ordered by type.
func (m *Manager) Payloads(types ...string) []Payload {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Payload
	if len(types) == 0 {
		for _, p := range m.payloads {
			out = append(out, p)
		}
	} else {
		for _, t := range types {
			if p, ok := m.payloads[t]; ok {
				out = append(out, p)
			}
		}
	}
	sortPayloads(out)
	return out
}

// LastMetadata returns the metadata of the last successful fetch.
func (m *Manager) LastMetadata() Metadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta
}

// LastRefreshTime returns the time of the last fetch attempt.
func (m *Manager) LastRefreshTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRefresh
}

// HandleLifecycle reacts to host application signals: becoming active runs
// a foreground refresh and resumes the periodic refresh, entering the
// background pauses it, a locale change runs a foreground refresh.
func (m *Manager) HandleLifecycle(sig platform.Signal) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return closedError()
	}
	switch sig {
	case platform.DidBecomeActive:
		m.appState = platform.StateActive
		m.startTickerLocked()
	case platform.DidEnterBackground:
		m.appState = platform.StateBackground
		m.stopTickerLocked()
	}
	m.mu.Unlock()

	if sig == platform.DidBecomeActive || sig == platform.LocaleChanged {
		m.ForegroundRefresh(m.runCtx)
	}
	return nil
}

func (m *Manager) startTickerLocked() {
	if m.tickStop != nil || m.cfg.RemoteRefreshInterval <= 0 || m.closed {
		return
	}
	stop := make(chan struct{})
	m.tickStop = stop
	interval := m.cfg.RemoteRefreshInterval
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				// The ticker already spaces attempts by the interval. Going
				// through the foreground throttle would skip every other tick,
				// since the last attempt is stamped when its response lands.
				m.Refresh(m.runCtx)
			case <-stop:
				return
			}
		}
	}()
}

func (m *Manager) stopTickerLocked() {
	if m.tickStop != nil {
		close(m.tickStop)
		m.tickStop = nil
	}
}

// Close cancels any fetch in flight, stops the periodic refresh and waits
// for queued deliveries. It must not be called from a listener.
func (m *Manager) Close(ctx context.Context) error {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.stopTickerLocked()
		m.mu.Unlock()
		m.cancel()
	})
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		m.exec.close()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
