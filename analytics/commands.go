package analytics

import (
	"context"

	syncErrors "github.com/c0deZ3R0/go-telemetry-kit/errors"
	"github.com/c0deZ3R0/go-telemetry-kit/platform"
	"github.com/c0deZ3R0/go-telemetry-kit/transport"
)

// command is one message on the run loop's ingress channel.
type command interface {
	apply(a *Analytics)
}

type recordCmd struct {
	ctx   context.Context
	event Event
	reply chan error
}

func (c recordCmd) apply(a *Analytics) {
	c.reply <- a.admit(c.ctx, c.event)
}

type scheduleCmd struct {
	priority Priority
}

func (c scheduleCmd) apply(a *Analytics) {
	if !a.enabled.Load() {
		return
	}
	if a.sched.request(a.clock.Now(), c.priority, a.appState) {
		a.rearm()
	}
}

type flushCmd struct {
	reply chan error
}

func (c flushCmd) apply(a *Analytics) {
	if !a.enabled.Load() {
		c.reply <- syncErrors.NewDisabledError(syncErrors.OpUpload)
		return
	}
	stats, err := a.queue.Stats(a.runCtx)
	if err != nil {
		c.reply <- err
		return
	}
	if stats.Count == 0 && a.inflight == nil {
		c.reply <- nil
		return
	}
	a.flushWaiters = append(a.flushWaiters, c.reply)
	if a.sched.requestAt(a.clock.Now()) {
		a.rearm()
	}
}

type fireCmd struct {
	gen uint64
}

func (c fireCmd) apply(a *Analytics) {
	a.fire(c.gen)
}

type uploadDoneCmd struct {
	attempt uint64
	resp    *transport.Response
	err     error
}

func (c uploadDoneCmd) apply(a *Analytics) {
	a.finishUpload(c)
}

type enableCmd struct {
	enabled bool
	reply   chan error
}

func (c enableCmd) apply(a *Analytics) {
	c.reply <- a.setEnabled(a.runCtx, c.enabled)
}

type lifecycleCmd struct {
	signal platform.Signal
}

func (c lifecycleCmd) apply(a *Analytics) {
	a.handleLifecycle(a.runCtx, c.signal)
}

type callCmd struct {
	fn   func()
	done chan struct{}
}

func (c callCmd) apply(a *Analytics) {
	c.fn()
	close(c.done)
}
