package analytics

import (
	"context"

	"github.com/c0deZ3R0/go-telemetry-kit/storage"
)

// EventConsumer observes admitted events. It is called on the pipeline
// goroutine right after the event is persisted, so it must not block and must
// not call back into the pipeline.
type EventConsumer interface {
	ConsumeEvent(ctx context.Context, rec storage.EventRecord)
}

// EventConsumerFunc adapts a function to EventConsumer.
type EventConsumerFunc func(ctx context.Context, rec storage.EventRecord)

func (f EventConsumerFunc) ConsumeEvent(ctx context.Context, rec storage.EventRecord) {
	f(ctx, rec)
}
