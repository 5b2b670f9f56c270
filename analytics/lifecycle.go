package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	syncErrors "github.com/c0deZ3R0/go-telemetry-kit/errors"
	"github.com/c0deZ3R0/go-telemetry-kit/internal/idgen"
	"github.com/c0deZ3R0/go-telemetry-kit/platform"
	"github.com/c0deZ3R0/go-telemetry-kit/storage"
	"github.com/c0deZ3R0/go-telemetry-kit/version"
)

// Event types recorded by the pipeline itself.
const (
	TypeAppForeground        = "app_foreground"
	TypeAppBackground        = "app_background"
	TypeScreenTracking       = "screen_tracking"
	TypeAssociateIdentifiers = "associate_identifiers"
)

// Associated identifier limits.
const (
	MaxAssociatedIdentifiers      = 100
	MaxAssociatedIdentifierLength = 255
)

func (a *Analytics) handleLifecycle(ctx context.Context, sig platform.Signal) {
	now := a.clock.Now()
	switch sig {
	case platform.DidEnterBackground:
		if a.appState == platform.StateBackground {
			return
		}
		a.stopScreen(ctx, now)
		a.appState = platform.StateBackground
		a.backgroundAt = now
		if a.cfg.TrackLifecycleEvents {
			a.recordInternal(ctx, TypeAppBackground, High, a.backgroundData())
		}

	case platform.DidBecomeActive:
		if a.appState == platform.StateActive {
			return
		}
		if !a.backgroundAt.IsZero() && now.Sub(a.backgroundAt) >= a.cfg.SessionTimeout {
			a.resetSession()
		}
		a.appState = platform.StateActive
		a.backgroundAt = time.Time{}
		if a.cfg.TrackLifecycleEvents {
			a.recordInternal(ctx, TypeAppForeground, Normal, a.foregroundData(now))
		}
		a.conversion = conversion{}
	}
}

// recordInternal admits a pipeline-generated event. Rejections are logged
// only; a disabled pipeline silently skips them.
func (a *Analytics) recordInternal(ctx context.Context, eventType string, p Priority, data *Data) {
	err := a.admit(ctx, NewEvent(eventType, p, data))
	if err != nil && !syncErrors.IsDisabled(err) {
		a.logger.LogError(ctx, err, "failed to record "+eventType)
	}
}

func (a *Analytics) foregroundData(now time.Time) *Data {
	d := NewData().
		Set("time_zone", a.env.Timezone()).
		Set("daylight_savings", fmt.Sprint(now.IsDST())).
		Set("lib_version", version.Version)
	if v := a.env.AppVersion(); v != "" {
		d.Set("package_version", v)
	}
	if a.conversion.sendID != "" {
		d.Set("push_id", a.conversion.sendID)
	}
	if a.conversion.metadata != "" {
		d.Set("metadata", a.conversion.metadata)
	}
	return d
}

func (a *Analytics) backgroundData() *Data {
	d := NewData()
	if a.conversion.sendID != "" {
		d.Set("push_id", a.conversion.sendID)
	}
	if a.conversion.metadata != "" {
		d.Set("metadata", a.conversion.metadata)
	}
	return d
}

func (a *Analytics) resetSession() {
	id := idgen.SessionID()
	a.setSession(id)
	a.logger.Debug("session regenerated", "session_id", id)
}

// ResetSession starts a new session.
func (a *Analytics) ResetSession() error {
	return a.call(context.Background(), a.resetSession)
}

// SetConversion records the notification the app was launched from. The send
// ID and metadata are attached to the next foreground event and then cleared.
func (a *Analytics) SetConversion(sendID, metadata string) error {
	return a.call(context.Background(), func() {
		a.conversion = conversion{sendID: sendID, metadata: metadata}
	})
}

// screenState tracks the screen currently on display.
type screenState struct {
	current  string
	previous string
	started  time.Time
}

// TrackScreen marks name as the screen on display. Leaving a screen records a
// screen_tracking event for it; tracking the current screen again does
// nothing, and an empty name only ends the current screen.
func (a *Analytics) TrackScreen(ctx context.Context, name string) error {
	return a.call(ctx, func() {
		if name == a.screen.current {
			return
		}
		now := a.clock.Now()
		a.stopScreen(ctx, now)
		if name != "" {
			a.screen.current = name
			a.screen.started = now
		}
	})
}

func (a *Analytics) stopScreen(ctx context.Context, now time.Time) {
	if a.screen.current == "" {
		return
	}
	d := NewData().
		Set("screen", a.screen.current).
		Set("entered_time", FormatTime(a.screen.started)).
		Set("exited_time", FormatTime(now)).
		Set("duration", FormatDuration(now.Sub(a.screen.started)))
	if a.screen.previous != "" {
		d.Set("previous_screen", a.screen.previous)
	}
	a.recordInternal(ctx, TypeScreenTracking, Normal, d)
	a.screen = screenState{previous: a.screen.current}
}

// FormatDuration renders d as seconds with millisecond precision.
func FormatDuration(d time.Duration) string {
	ms := max(d.Milliseconds(), 0)
	return fmt.Sprintf("%d.%03d", ms/1000, ms%1000)
}

// AssociateIdentifiers replaces the set of identifiers associated with this
// device, persists it and records an associate_identifiers event.
func (a *Analytics) AssociateIdentifiers(ctx context.Context, ids map[string]string) error {
	if len(ids) > MaxAssociatedIdentifiers {
		return syncErrors.NewValidationError(syncErrors.OpRecordEvent,
			fmt.Errorf("%d identifiers exceed the limit of %d", len(ids), MaxAssociatedIdentifiers))
	}
	for k, v := range ids {
		if k == "" || len(k) > MaxAssociatedIdentifierLength || len(v) > MaxAssociatedIdentifierLength {
			return syncErrors.NewValidationError(syncErrors.OpRecordEvent,
				fmt.Errorf("identifier %q: keys and values must be 1-%d characters", k, MaxAssociatedIdentifierLength))
		}
	}

	var result error
	err := a.call(ctx, func() {
		if !a.enabled.Load() {
			result = syncErrors.NewDisabledError(syncErrors.OpRecordEvent)
			return
		}
		if err := storage.SetJSON(ctx, a.prefs, prefIdentifiers, ids); err != nil {
			result = syncErrors.NewStorageError(syncErrors.OpStore, err)
			return
		}
		keys := make([]string, 0, len(ids))
		for k := range ids {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := NewData()
		for _, k := range keys {
			d.Set(k, ids[k])
		}
		result = a.admit(ctx, NewEvent(TypeAssociateIdentifiers, Normal, d))
	})
	if err != nil {
		return err
	}
	return result
}

// AssociatedIdentifiers returns the persisted identifier set.
func (a *Analytics) AssociatedIdentifiers(ctx context.Context) (map[string]string, error) {
	ids := map[string]string{}
	if _, err := storage.GetJSON(ctx, a.prefs, prefIdentifiers, &ids); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	return ids, nil
}
