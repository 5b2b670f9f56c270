package analytics

import (
	"context"
	"encoding/json"
	"log/slog"

	syncErrors "github.com/c0deZ3R0/go-telemetry-kit/errors"
	"github.com/c0deZ3R0/go-telemetry-kit/internal/idgen"
	"github.com/c0deZ3R0/go-telemetry-kit/metrics"
	"github.com/c0deZ3R0/go-telemetry-kit/storage"
)

// admit validates, enriches, persists and schedules one event. It runs on
// the run loop.
func (a *Analytics) admit(ctx context.Context, ev Event) error {
	if ctx == nil {
		ctx = a.runCtx
	}
	if !a.enabled.Load() {
		a.metrics.RecordEventRejected(metrics.ReasonDisabled)
		a.logger.Debug("event dropped, collection disabled", "event_type", ev.Type)
		return syncErrors.NewDisabledError(syncErrors.OpRecordEvent)
	}
	if err := ValidateType(ev.Type); err != nil {
		a.metrics.RecordEventRejected(metrics.ReasonInvalid)
		return err
	}

	rec, err := a.encode(ev)
	if err != nil {
		a.metrics.RecordEventRejected(metrics.ReasonInvalid)
		return syncErrors.NewValidationError(syncErrors.OpRecordEvent, err)
	}
	if rec.Size > a.cfg.MaxEventSizeBytes {
		a.metrics.RecordEventRejected(metrics.ReasonOversize)
		a.logger.Warn("event exceeds maximum size, dropped",
			"event_type", rec.Type, "size_bytes", rec.Size, "limit_bytes", a.cfg.MaxEventSizeBytes)
		return syncErrors.NewOversizeError(syncErrors.OpRecordEvent, rec.Size, a.cfg.MaxEventSizeBytes)
	}

	if err := a.queue.Append(ctx, rec); err != nil {
		a.metrics.RecordEventRejected(metrics.ReasonStorage)
		a.logger.LogError(ctx, err, "failed to persist event", slog.String("event_type", rec.Type))
		return syncErrors.WrapOpComponent(err, syncErrors.OpRecordEvent, "analytics")
	}
	a.metrics.RecordEventAdmitted(rec.Type, ev.Priority.String())
	a.logger.Debug("event recorded", "event_id", rec.ID, "event_type", rec.Type, "priority", ev.Priority.String(), "size_bytes", rec.Size)

	if pruned, err := a.queue.PruneToSize(ctx, a.maxTotalBytes()); err != nil {
		a.logger.LogError(ctx, err, "failed to prune queue")
	} else if pruned > 0 {
		a.metrics.RecordEventsPruned(pruned)
		a.logger.Warn("queue over capacity, oldest events dropped", "count", pruned)
	}

	if a.consumer != nil {
		a.consumer.ConsumeEvent(ctx, rec)
	}

	if a.sched.request(a.clock.Now(), ev.Priority, a.appState) {
		a.rearm()
	}
	return nil
}

// encode stamps, enriches and serializes ev into its queue record. The
// producer's data is never modified.
func (a *Analytics) encode(ev Event) (storage.EventRecord, error) {
	if ev.ID == "" {
		ev.ID = idgen.EventID()
	}
	if ev.Time.IsZero() {
		ev.Time = a.clock.Now()
	}
	session := a.CurrentSession()

	data := ev.Data.Clone()
	setDefault := func(key string, v any) {
		if !data.Has(key) {
			data.Set(key, v)
		}
	}
	setDefault(KeySessionID, session)
	if v := a.env.ConnectionType(); v != "" {
		setDefault(KeyConnectionType, v)
	}
	if v := a.env.AuthorizationStatus(); v != "" {
		setDefault(KeyNotificationAuthorization, v)
	}
	if v := a.env.NotificationTypes(); v != nil {
		setDefault(KeyNotificationTypes, v)
	}

	body, err := json.Marshal(envelope{
		Type:    ev.Type,
		EventID: ev.ID,
		Time:    FormatTime(ev.Time),
		Data:    data,
	})
	if err != nil {
		return storage.EventRecord{}, err
	}
	return storage.EventRecord{
		ID:        ev.ID,
		Type:      ev.Type,
		Time:      FormatTime(ev.Time),
		Priority:  int(ev.Priority),
		SessionID: session,
		Body:      body,
		Size:      len(body),
	}, nil
}
