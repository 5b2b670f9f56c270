// Package consumer provides event consumers that tap the admitted event
// stream: an OpenTelemetry log emitter, a Kafka mirror and a fan-out helper.
package consumer

import (
	"context"
	"strconv"
	"strings"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/noop"

	"github.com/c0deZ3R0/go-telemetry-kit/storage"
)

// LoggerName is the instrumentation scope of emitted event records.
const LoggerName = "github.com/c0deZ3R0/go-telemetry-kit/events"

// recordEmitter is the subset of otellog.Logger used here.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// OTelLogConsumer emits every admitted event as an OpenTelemetry log record
// whose body is the event's upload envelope.
type OTelLogConsumer struct {
	logger recordEmitter
}

// NewOTelLogConsumer returns a consumer emitting through provider. A nil
// provider yields a consumer that drops everything.
func NewOTelLogConsumer(provider otellog.LoggerProvider) *OTelLogConsumer {
	if provider == nil {
		provider = noop.NewLoggerProvider()
	}
	return &OTelLogConsumer{logger: provider.Logger(LoggerName)}
}

func (c *OTelLogConsumer) ConsumeEvent(ctx context.Context, rec storage.EventRecord) {
	var r otellog.Record
	now := time.Now()
	if ts, ok := parseEventTime(rec.Time); ok {
		r.SetTimestamp(ts)
	} else {
		r.SetTimestamp(now)
	}
	r.SetObservedTimestamp(now)
	r.SetSeverity(otellog.SeverityInfo)
	r.SetBody(otellog.StringValue(string(rec.Body)))
	r.AddAttributes(
		otellog.String("event.type", rec.Type),
		otellog.String("event.id", rec.ID),
		otellog.Int("event.priority", rec.Priority),
		otellog.Int("event.size", rec.Size),
	)
	if rec.SessionID != "" {
		r.AddAttributes(otellog.String("session.id", rec.SessionID))
	}
	c.logger.Emit(ctx, r)
}

// parseEventTime reads the "seconds.millis" event time format.
func parseEventTime(s string) (time.Time, bool) {
	secs, frac, _ := strings.Cut(s, ".")
	sec, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	var ms int64
	if frac != "" {
		if len(frac) > 3 {
			frac = frac[:3]
		}
		for len(frac) < 3 {
			frac += "0"
		}
		if ms, err = strconv.ParseInt(frac, 10, 64); err != nil {
			return time.Time{}, false
		}
	}
	return time.Unix(sec, ms*int64(time.Millisecond)), true
}
