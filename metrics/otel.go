package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope used by OTelCollector.
const MeterName = "github.com/c0deZ3R0/go-telemetry-kit"

// OTelCollector records measurements as OpenTelemetry instruments.
type OTelCollector struct {
	admitted        metric.Int64Counter
	rejected        metric.Int64Counter
	uploads         metric.Int64Counter
	uploadDuration  metric.Float64Histogram
	uploadedEvents  metric.Int64Counter
	pruned          metric.Int64Counter
	refreshes       metric.Int64Counter
	refreshDuration metric.Float64Histogram
	deliveries      metric.Int64Counter
}

// NewOTelCollector creates every instrument on meter.
func NewOTelCollector(meter metric.Meter) (*OTelCollector, error) {
	c := &OTelCollector{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&c.admitted, "telemetrykit.events.admitted", "Events persisted to the upload queue", "{event}"},
		{&c.rejected, "telemetrykit.events.rejected", "Events refused at admission", "{event}"},
		{&c.uploads, "telemetrykit.uploads", "Batch upload attempts", "{upload}"},
		{&c.uploadedEvents, "telemetrykit.uploads.events", "Events carried by upload attempts", "{event}"},
		{&c.pruned, "telemetrykit.events.pruned", "Events dropped by the queue size limit", "{event}"},
		{&c.refreshes, "telemetrykit.remotedata.refreshes", "Remote data refreshes", "{refresh}"},
		{&c.deliveries, "telemetrykit.remotedata.deliveries", "Subscriber callbacks issued", "{delivery}"},
	}
	for _, spec := range counters {
		*spec.dst, err = meter.Int64Counter(spec.name, metric.WithDescription(spec.desc), metric.WithUnit(spec.unit))
		if err != nil {
			return nil, fmt.Errorf("metrics: create %s: %w", spec.name, err)
		}
	}

	c.uploadDuration, err = meter.Float64Histogram("telemetrykit.uploads.duration",
		metric.WithDescription("Batch upload latency"), metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("metrics: create upload duration: %w", err)
	}
	c.refreshDuration, err = meter.Float64Histogram("telemetrykit.remotedata.refresh.duration",
		metric.WithDescription("Remote data refresh latency"), metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("metrics: create refresh duration: %w", err)
	}
	return c, nil
}

func (c *OTelCollector) RecordEventAdmitted(eventType, priority string) {
	c.admitted.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("priority", priority),
	))
}

func (c *OTelCollector) RecordEventRejected(reason string) {
	c.rejected.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (c *OTelCollector) RecordUpload(duration time.Duration, events int, outcome string) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	c.uploads.Add(ctx, 1, attrs)
	c.uploadedEvents.Add(ctx, int64(events), attrs)
	c.uploadDuration.Record(ctx, duration.Seconds(), attrs)
}

func (c *OTelCollector) RecordEventsPruned(count int) {
	if count <= 0 {
		return
	}
	c.pruned.Add(context.Background(), int64(count))
}

func (c *OTelCollector) RecordRefresh(duration time.Duration, outcome string) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	c.refreshes.Add(ctx, 1, attrs)
	if outcome != OutcomeThrottled {
		c.refreshDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

func (c *OTelCollector) RecordDelivery(subscribers int) {
	if subscribers <= 0 {
		return
	}
	c.deliveries.Add(context.Background(), int64(subscribers))
}
