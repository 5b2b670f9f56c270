package remotedata

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// executor runs submitted functions one at a time, in submission order, on
// its own goroutine. Submitting never blocks.
type executor struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}

	// gid is the id of the goroutine running queued functions.
	gid atomic.Uint64
}

func newExecutor() *executor {
	e := &executor{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go e.run()
	return e
}

// submit queues fn. It reports false once the executor is closed.
func (e *executor) submit(fn func()) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.queue = append(e.queue, fn)
	e.mu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return true
}

// onExecutor reports whether the caller runs on the executor goroutine, that
// is, from inside a queued function.
func (e *executor) onExecutor() bool {
	return e.gid.Load() == goroutineID()
}

func (e *executor) run() {
	defer close(e.done)
	e.gid.Store(goroutineID())
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			closed := e.closed
			e.mu.Unlock()
			if closed {
				return
			}
			<-e.wake
			continue
		}
		fn := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()
		fn()
	}
}

// close stops accepting work, runs what is already queued and waits for it.
func (e *executor) close() {
	e.mu.Lock()
	already := e.closed
	e.closed = true
	e.mu.Unlock()
	if !already {
		select {
		case e.wake <- struct{}{}:
		default:
		}
	}
	<-e.done
}

// goroutineID parses the current goroutine's id from its stack header, as
// x/net/http2 does for its goroutine lock checks.
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	n, _ := strconv.ParseUint(string(b), 10, 64)
	return n
}
