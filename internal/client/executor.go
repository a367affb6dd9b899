package client

import "sync"

// Executor runs submitted functions.
type Executor interface {
	Execute(fn func())
}

// ExecutorFunc adapts a function to the Executor interface, for example to
// post callbacks onto a host event loop.
type ExecutorFunc func(fn func())

// Execute calls f(fn).
func (f ExecutorFunc) Execute(fn func()) {
	f(fn)
}

// GoroutineExecutor runs every function on a new goroutine.
type GoroutineExecutor struct{}

// Execute runs fn on a new goroutine.
func (GoroutineExecutor) Execute(fn func()) {
	go fn()
}

// SerialExecutor runs functions one at a time in submission order on a
// single dispatch goroutine.
type SerialExecutor struct {
	mu sync.Mutex

	// queue holds pending functions in FIFO order
	queue []func()

	// cond wakes the dispatch goroutine
	cond *sync.Cond

	// shuttingDown rejects new work; queued work still runs
	shuttingDown bool

	stopped chan struct{}
}

// NewSerialExecutor starts a serial executor. Close stops it.
func NewSerialExecutor() *SerialExecutor {
	e := &SerialExecutor{stopped: make(chan struct{})}
	e.cond = sync.NewCond(&e.mu)
	go e.run()
	return e
}

// Execute queues fn. It returns immediately; fn is dropped after Close.
func (e *SerialExecutor) Execute(fn func()) {
	e.TryExecute(fn)
}

// TryExecute queues fn and reports whether it was accepted. It returns
// false after Close.
func (e *SerialExecutor) TryExecute(fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.shuttingDown {
		return false
	}
	e.queue = append(e.queue, fn)
	e.cond.Signal()
	return true
}

// Close stops accepting work and waits until queued functions have run.
// It must not be called from a function running on the executor.
func (e *SerialExecutor) Close() {
	e.mu.Lock()
	e.shuttingDown = true
	e.cond.Broadcast()
	e.mu.Unlock()

	<-e.stopped
}

func (e *SerialExecutor) run() {
	defer close(e.stopped)

	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.shuttingDown {
			e.cond.Wait()
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		fn := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		fn()
	}
}
