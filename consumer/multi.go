package consumer

import (
	"context"

	"github.com/c0deZ3R0/go-telemetry-kit/analytics"
	"github.com/c0deZ3R0/go-telemetry-kit/storage"
)

// Multi combines consumers into the single consumer slot of the pipeline.
// Nil entries are skipped; it returns nil when nothing remains.
func Multi(consumers ...analytics.EventConsumer) analytics.EventConsumer {
	var live []analytics.EventConsumer
	for _, c := range consumers {
		if c != nil && !isNilMirror(c) {
			live = append(live, c)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	}
	return multi(live)
}

type multi []analytics.EventConsumer

func (m multi) ConsumeEvent(ctx context.Context, rec storage.EventRecord) {
	for _, c := range m {
		c.ConsumeEvent(ctx, rec)
	}
}

// isNilMirror catches a typed nil from NewKafkaMirror.
func isNilMirror(c analytics.EventConsumer) bool {
	m, ok := c.(*KafkaMirror)
	return ok && m == nil
}
