// Package metrics defines the instrumentation seam used by both engines.
package metrics

import "time"

// Upload and refresh outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeTransient   = "transient"
	OutcomePermanent   = "permanent"
	OutcomeNotModified = "not_modified"
	OutcomeThrottled   = "throttled"
)

// Rejection reasons for RecordEventRejected.
const (
	ReasonDisabled = "disabled"
	ReasonOversize = "oversize"
	ReasonInvalid  = "invalid"
	ReasonStorage  = "storage"
)

// Collector receives measurements from the event pipeline and the remote
// data manager. Implementations must be safe for concurrent use.
type Collector interface {
	// RecordEventAdmitted counts an event persisted to the queue
	RecordEventAdmitted(eventType, priority string)

	// RecordEventRejected counts an event refused at admission
	RecordEventRejected(reason string)

	// RecordUpload records one batch upload attempt
	RecordUpload(duration time.Duration, events int, outcome string)

	// RecordEventsPruned counts events dropped to honor the queue size limit
	RecordEventsPruned(count int)

	// RecordRefresh records one remote data refresh
	RecordRefresh(duration time.Duration, outcome string)

	// RecordDelivery counts subscriber callbacks issued by a fan-out
	RecordDelivery(subscribers int)
}

// NoOpCollector is the default Collector and does nothing.
type NoOpCollector struct{}

func (NoOpCollector) RecordEventAdmitted(eventType, priority string)                  {}
func (NoOpCollector) RecordEventRejected(reason string)                               {}
func (NoOpCollector) RecordUpload(duration time.Duration, events int, outcome string) {}
func (NoOpCollector) RecordEventsPruned(count int)                                    {}
func (NoOpCollector) RecordRefresh(duration time.Duration, outcome string)            {}
func (NoOpCollector) RecordDelivery(subscribers int)                                  {}

// OrNoOp returns c, or a NoOpCollector when c is nil.
func OrNoOp(c Collector) Collector {
	if c == nil {
		return NoOpCollector{}
	}
	return c
}
