// Package analytics implements the event pipeline: event admission and
// enrichment, session identity, and the upload scheduler that batches
// persisted events to the analytics endpoint.
//
// Every mutation of the queue and of the scheduler runs on a single goroutine
// fed by one command channel. Timer firings, upload results, lifecycle
// signals and API calls all arrive through that channel.
package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

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
	"github.com/c0deZ3R0/go-telemetry-kit/version"
)

// Preference keys owned by the pipeline.
const (
	prefUserEnabled = "analytics.user_enabled"
	prefLastSend    = "analytics.last_send_time"
	prefTunedLimits = "analytics.tuned_limits"
	prefIdentifiers = "analytics.associated_identifiers"
)

var errNoResponse = errors.New("transport returned no response")

// Option configures an Analytics instance.
type Option func(*Analytics)

// WithEventQueue sets the persisted event queue. Defaults to an in-memory queue.
func WithEventQueue(q storage.EventQueue) Option {
	return func(a *Analytics) { a.queue = q }
}

// WithPreferences sets the preference store. Defaults to in-memory preferences.
func WithPreferences(p storage.Preferences) Option {
	return func(a *Analytics) { a.prefs = p }
}

// WithTransport sets the client used for uploads. Required.
func WithTransport(c transport.Client) Option {
	return func(a *Analytics) { a.client = c }
}

func WithClock(c clock.Clock) Option {
	return func(a *Analytics) { a.clock = c }
}

func WithLogger(l *logging.Logger) Option {
	return func(a *Analytics) { a.logger = l }
}

func WithMetrics(m metrics.Collector) Option {
	return func(a *Analytics) { a.metrics = m }
}

// WithEnvironment sets the platform providers used for enrichment and headers.
func WithEnvironment(env *platform.Environment) Option {
	return func(a *Analytics) { a.env = env }
}

// WithEventConsumer registers the initial event consumer.
func WithEventConsumer(c EventConsumer) Option {
	return func(a *Analytics) { a.consumer = c }
}

// WithAppState sets the app state assumed before the first lifecycle signal.
// Defaults to platform.StateActive.
func WithAppState(s platform.AppState) Option {
	return func(a *Analytics) { a.appState = s }
}

// WithExtensions shares an SDK extension registry.
func WithExtensions(e *version.Extensions) Option {
	return func(a *Analytics) { a.extensions = e }
}

// Analytics is the event pipeline. Create it with New and release it with Close.
type Analytics struct {
	cfg        config.Config
	queue      storage.EventQueue
	prefs      storage.Preferences
	client     transport.Client
	clock      clock.Clock
	logger     *logging.Logger
	schedLog   *logging.Logger
	metrics    metrics.Collector
	env        *platform.Environment
	extensions *version.Extensions

	cmds    chan command
	quit    chan struct{}
	stopped chan struct{}
	runCtx  context.Context
	cancel  context.CancelFunc
	closeMu sync.Once

	// Readable from any goroutine.
	enabled   atomic.Bool
	sessionMu sync.RWMutex
	sessionID string

	// Owned by the run loop.
	userEnabled  bool
	sched        *scheduler
	tuned        TunedLimits
	timer        *time.Timer
	timerGen     uint64
	armedAt      time.Time
	attempt      uint64
	inflight     *inflightUpload
	flushWaiters []chan error
	consumer     EventConsumer
	appState     platform.AppState
	backgroundAt time.Time
	screen       screenState
	conversion   conversion
}

type inflightUpload struct {
	attempt uint64
	batch   batch
	waiters []chan error
	started time.Time
}

type conversion struct {
	sendID   string
	metadata string
}

// New creates the pipeline, restores its persisted state and starts its run
// loop. A non-empty queue schedules a Normal priority upload.
func New(cfg config.Config, opts ...Option) (*Analytics, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Analytics{
		cfg:      cfg,
		cmds:     make(chan command, 64),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		appState: platform.StateActive,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.client == nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpConfig, errors.New("analytics: a transport client is required"))
	}
	if a.queue == nil {
		a.queue = memory.NewEventQueue()
	}
	if a.prefs == nil {
		a.prefs = memory.NewPreferences()
	}
	if a.clock == nil {
		a.clock = clock.System{}
	}
	if a.extensions == nil {
		a.extensions = version.NewExtensions()
	}
	a.metrics = metrics.OrNoOp(a.metrics)
	base := logging.OrDefault(a.logger)
	a.logger = base.WithComponent("analytics")
	a.schedLog = base.WithComponent("upload-scheduler")

	a.sched = newScheduler(schedulerConfig{
		BatchInterval:             cfg.BatchInterval,
		MinBackgroundSendInterval: cfg.MinBackgroundSendInterval,
		BackoffBase:               cfg.BackoffBase,
		BackoffCap:                cfg.BackoffCap,
	})
	a.sessionID = idgen.SessionID()

	a.runCtx, a.cancel = context.WithCancel(context.Background())
	if err := a.restore(a.runCtx); err != nil {
		a.cancel()
		return nil, err
	}

	go a.run()
	return a, nil
}

// restore loads persisted state before the run loop starts.
func (a *Analytics) restore(ctx context.Context) error {
	a.userEnabled = true
	if _, err := storage.GetJSON(ctx, a.prefs, prefUserEnabled, &a.userEnabled); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	lastSend, err := storage.GetTime(ctx, a.prefs, prefLastSend)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	a.sched.lastSend = lastSend
	if _, err := storage.GetJSON(ctx, a.prefs, prefTunedLimits, &a.tuned); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	a.sched.minBatchInterval = a.tuned.MinBatchInterval
	a.enabled.Store(a.cfg.Enabled && a.userEnabled)
	return nil
}

// run is the single writer of the queue and the scheduler.
func (a *Analytics) run() {
	defer close(a.stopped)
	a.startup()
	for {
		select {
		case cmd := <-a.cmds:
			cmd.apply(a)
		case <-a.quit:
			a.shutdown()
			return
		}
	}
}

func (a *Analytics) startup() {
	ctx := a.runCtx
	if a.appState == platform.StateBackground {
		a.backgroundAt = a.clock.Now()
	}
	if !a.enabled.Load() {
		if err := a.queue.DeleteAll(ctx); err != nil {
			a.logger.LogError(ctx, err, "failed to purge queue while disabled")
		}
		return
	}
	stats, err := a.queue.Stats(ctx)
	if err != nil {
		a.logger.LogError(ctx, err, "failed to read queue stats at startup")
		return
	}
	if stats.Count > 0 {
		a.logger.Info("scheduling upload for persisted events", "count", stats.Count, "bytes", stats.Bytes)
		a.sched.request(a.clock.Now(), Normal, a.appState)
		a.rearm()
	}
}

func (a *Analytics) shutdown() {
	a.stopTimer()
	a.cancel()
	a.notifyFlush(syncErrors.NewWithComponent(syncErrors.OpClose, "analytics", syncErrors.ErrClosed))
}

// send hands cmd to the run loop.
func (a *Analytics) send(cmd command) error {
	select {
	case <-a.quit:
		return syncErrors.NewWithComponent(syncErrors.OpClose, "analytics", syncErrors.ErrClosed)
	default:
	}
	select {
	case a.cmds <- cmd:
		return nil
	case <-a.quit:
		return syncErrors.NewWithComponent(syncErrors.OpClose, "analytics", syncErrors.ErrClosed)
	}
}

// call runs fn on the run loop and waits for it.
func (a *Analytics) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := a.send(callCmd{fn: fn, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.stopped:
		select {
		case <-done:
			return nil
		default:
		}
		return syncErrors.NewWithComponent(syncErrors.OpClose, "analytics", syncErrors.ErrClosed)
	}
}

func (a *Analytics) wait(ctx context.Context, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-a.stopped:
		select {
		case err := <-reply:
			return err
		default:
		}
		return syncErrors.NewWithComponent(syncErrors.OpClose, "analytics", syncErrors.ErrClosed)
	}
}

// Close stops the run loop. An upload in flight is cancelled and its events
// stay persisted. Close is idempotent.
func (a *Analytics) Close(ctx context.Context) error {
	a.closeMu.Do(func() { close(a.quit) })
	select {
	case <-a.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordEvent admits ev. It fails with a DISABLED error while collection is
// off, OVERSIZE when the enriched event exceeds the size limit, and
// VALIDATION_FAILURE for a malformed type. On success the event is durable and
// an upload is scheduled according to its priority.
func (a *Analytics) RecordEvent(ctx context.Context, ev Event) error {
	reply := make(chan error, 1)
	if err := a.send(recordCmd{ctx: ctx, event: ev, reply: reply}); err != nil {
		return err
	}
	return a.wait(ctx, reply)
}

// CurrentSession returns the live session identifier.
func (a *Analytics) CurrentSession() string {
	a.sessionMu.RLock()
	defer a.sessionMu.RUnlock()
	return a.sessionID
}

func (a *Analytics) setSession(id string) {
	a.sessionMu.Lock()
	a.sessionID = id
	a.sessionMu.Unlock()
}

// ScheduleUpload requests an upload attempt with priority p. It coalesces
// with any schedule already armed and never pushes a fire time later.
func (a *Analytics) ScheduleUpload(p Priority) error {
	return a.send(scheduleCmd{priority: p})
}

// Flush requests an immediate upload and waits for the attempt that carries
// the currently queued events. It returns nil at once when the queue is empty.
func (a *Analytics) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := a.send(flushCmd{reply: reply}); err != nil {
		return err
	}
	return a.wait(ctx, reply)
}

// IsEnabled reports whether events are currently admitted.
func (a *Analytics) IsEnabled() bool {
	return a.enabled.Load()
}

// SetEnabled sets and persists the user-level collection flag. Disabling
// purges every persisted event and cancels any pending upload.
func (a *Analytics) SetEnabled(ctx context.Context, enabled bool) error {
	reply := make(chan error, 1)
	if err := a.send(enableCmd{enabled: enabled, reply: reply}); err != nil {
		return err
	}
	return a.wait(ctx, reply)
}

// HandleLifecycle delivers a host application lifecycle signal.
func (a *Analytics) HandleLifecycle(sig platform.Signal) error {
	return a.send(lifecycleCmd{signal: sig})
}

// SetEventConsumer replaces the event consumer; nil clears it.
func (a *Analytics) SetEventConsumer(c EventConsumer) error {
	return a.call(context.Background(), func() { a.consumer = c })
}

// RegisterSDKExtension reports a wrapping framework in upload headers.
func (a *Analytics) RegisterSDKExtension(name, ver string) error {
	if err := a.extensions.Register(name, ver); err != nil {
		return syncErrors.NewValidationError(syncErrors.OpConfig, err)
	}
	return nil
}

// ScheduleState returns a snapshot of the upload scheduler.
func (a *Analytics) ScheduleState(ctx context.Context) (ScheduleState, error) {
	var st ScheduleState
	err := a.call(ctx, func() { st = a.sched.snapshot() })
	return st, err
}

// LastSendTime returns the time of the last successful upload, or the zero
// time if none happened.
func (a *Analytics) LastSendTime(ctx context.Context) (time.Time, error) {
	st, err := a.ScheduleState(ctx)
	return st.LastSend, err
}

// QueueStats reports the size of the persisted queue.
func (a *Analytics) QueueStats(ctx context.Context) (storage.QueueStats, error) {
	return a.queue.Stats(ctx)
}

// TunedLimits returns the limits last announced by the server.
func (a *Analytics) TunedLimits(ctx context.Context) (TunedLimits, error) {
	var t TunedLimits
	err := a.call(ctx, func() { t = a.tuned })
	return t, err
}

func (a *Analytics) maxBatchBytes() int {
	if a.tuned.MaxBatchBytes > 0 {
		return a.tuned.MaxBatchBytes
	}
	return a.cfg.MaxBatchBytes
}

func (a *Analytics) maxTotalBytes() int64 {
	if a.tuned.MaxTotalBytes > 0 {
		return a.tuned.MaxTotalBytes
	}
	return a.cfg.MaxTotalStoreBytes
}

// rearm makes the real timer match the scheduler's fire time.
func (a *Analytics) rearm() {
	if a.sched.state != StateScheduled {
		a.stopTimer()
		return
	}
	if a.timer != nil && a.armedAt.Equal(a.sched.fireAt) {
		return
	}
	a.stopTimer()
	gen := a.timerGen
	a.armedAt = a.sched.fireAt
	delay := max(a.sched.fireAt.Sub(a.clock.Now()), 0)
	a.schedLog.Debug("upload scheduled", "fire_at", a.armedAt, "delay", delay)
	a.timer = time.AfterFunc(delay, func() { _ = a.send(fireCmd{gen: gen}) })
}

func (a *Analytics) stopTimer() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.timerGen++
	a.armedAt = time.Time{}
}

func (a *Analytics) notifyFlush(err error) {
	for _, w := range a.flushWaiters {
		w <- err
	}
	a.flushWaiters = nil
	if a.inflight != nil {
		for _, w := range a.inflight.waiters {
			w <- err
		}
		a.inflight.waiters = nil
	}
}

// fire starts an upload when the armed timer expires.
func (a *Analytics) fire(gen uint64) {
	if gen != a.timerGen || a.sched.state != StateScheduled {
		return
	}
	a.timer = nil
	a.armedAt = time.Time{}
	ctx := a.runCtx

	records, err := a.queue.ReadAll(ctx)
	if err != nil {
		a.schedLog.LogError(ctx, err, "failed to read queue for upload")
		a.sched.begin()
		a.sched.failedTransient(a.clock.Now())
		a.rearm()
		return
	}
	if len(records) == 0 {
		a.sched.idle()
		for _, w := range a.flushWaiters {
			w <- nil
		}
		a.flushWaiters = nil
		return
	}

	b := buildBatch(records, a.cfg.MaxBatchEvents, a.maxBatchBytes())
	a.sched.begin()
	a.attempt++
	now := a.clock.Now()
	a.inflight = &inflightUpload{attempt: a.attempt, batch: b, waiters: a.flushWaiters, started: time.Now()}
	a.flushWaiters = nil

	req := a.uploadRequest(b, now)
	attempt := a.attempt
	a.schedLog.Info("uploading batch", "batch_id", b.id, "events", len(b.ids), "bytes", len(b.body), "overflow", b.overflow)

	go func() {
		reqCtx := a.runCtx
		if a.cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(reqCtx, a.cfg.RequestTimeout)
			defer cancel()
		}
		resp, err := a.client.Execute(reqCtx, req)
		_ = a.send(uploadDoneCmd{attempt: attempt, resp: resp, err: err})
	}()
}

// finishUpload applies an upload result to the queue and the scheduler.
func (a *Analytics) finishUpload(cmd uploadDoneCmd) {
	fl := a.inflight
	if fl == nil || fl.attempt != cmd.attempt {
		a.schedLog.Debug("ignoring result of abandoned upload", "attempt", cmd.attempt)
		return
	}
	a.inflight = nil
	ctx := a.runCtx
	now := a.clock.Now()
	b := fl.batch
	duration := time.Since(fl.started)
	result := classifyUpload(cmd.resp, cmd.err)

	switch {
	case result == nil:
		if err := a.queue.DeleteByIDs(ctx, b.ids); err != nil {
			a.schedLog.LogError(ctx, err, "failed to delete uploaded events", slog.String("batch_id", b.id))
		}
		a.sched.succeeded(now, b.overflow)
		if err := storage.SetTime(ctx, a.prefs, prefLastSend, now); err != nil {
			a.schedLog.LogError(ctx, err, "failed to persist last send time")
		}
		if limits, ok := parseTunedLimits(cmd.resp.Header); ok {
			a.applyTunedLimits(ctx, limits)
		}
		a.metrics.RecordUpload(duration, len(b.ids), metrics.OutcomeSuccess)
		a.schedLog.Info("batch uploaded", "batch_id", b.id, "events", len(b.ids), "duration", duration)

	case syncErrors.IsPermanent(result):
		if err := a.queue.DeleteByIDs(ctx, b.ids); err != nil {
			a.schedLog.LogError(ctx, err, "failed to drop rejected batch", slog.String("batch_id", b.id))
		}
		a.sched.failedPermanent(now, b.overflow)
		a.metrics.RecordUpload(duration, len(b.ids), metrics.OutcomePermanent)
		a.schedLog.LogError(ctx, result, "batch rejected and dropped",
			slog.String("batch_id", b.id), slog.Int("events", len(b.ids)))

	default:
		delay := a.sched.failedTransient(now)
		a.metrics.RecordUpload(duration, len(b.ids), metrics.OutcomeTransient)
		a.schedLog.Warn("batch upload failed, retrying", "batch_id", b.id, "retry_in", delay, "error", result)
	}

	for _, w := range fl.waiters {
		w <- result
	}
	a.rearm()
}

func (a *Analytics) applyTunedLimits(ctx context.Context, limits TunedLimits) {
	if limits == a.tuned {
		return
	}
	a.tuned = limits
	a.sched.minBatchInterval = limits.MinBatchInterval
	if err := storage.SetJSON(ctx, a.prefs, prefTunedLimits, limits); err != nil {
		a.schedLog.LogError(ctx, err, "failed to persist tuned limits")
	}
	a.schedLog.Debug("server tuned upload limits",
		"max_total_bytes", limits.MaxTotalBytes,
		"max_batch_bytes", limits.MaxBatchBytes,
		"min_batch_interval", limits.MinBatchInterval)
}

// setEnabled applies a user flag change on the run loop.
func (a *Analytics) setEnabled(ctx context.Context, enabled bool) error {
	if err := storage.SetJSON(ctx, a.prefs, prefUserEnabled, enabled); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	a.userEnabled = enabled
	was := a.enabled.Load()
	now := a.cfg.Enabled && enabled
	a.enabled.Store(now)
	if was && !now {
		a.disable(ctx)
	}
	return nil
}

// disable purges the queue and drops every schedule. A result from an upload
// already on the wire is ignored when it arrives.
func (a *Analytics) disable(ctx context.Context) {
	a.logger.Info("event collection disabled, purging queue")
	if err := a.queue.DeleteAll(ctx); err != nil {
		a.logger.LogError(ctx, err, "failed to purge queue")
	}
	disabled := syncErrors.NewDisabledError(syncErrors.OpUpload)
	a.notifyFlush(disabled)
	a.inflight = nil
	a.sched.abandon()
	a.sched.cancel()
	a.stopTimer()
}
