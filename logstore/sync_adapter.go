package logstore

import (
	"sync"
)

// writeWaiter is a one-shot wait primitive for write_sync / append_sync.
// Each synchronous call constructs its own waiter -- per spec.md §9, a
// single shared waiter across concurrent synchronous callers would be
// incorrect.
type writeWaiter struct {
	done chan struct{}
	err  error
}

func newWriteWaiter() *writeWaiter {
	return &writeWaiter{done: make(chan struct{})}
}

func (w *writeWaiter) complete(err error) {
	w.err = err
	close(w.done)
}

func (w *writeWaiter) wait() error {
	<-w.done
	return w.err
}

// syncCompleter lets onWriteCompletion/failWrite dispatch straight to a
// waiter's cookie without going through the store's externally registered
// completion callback, so concurrent *_sync callers never contend over a
// single shared callback slot.
type syncCompleter interface {
	complete(err error)
}

// readWaiter is the read_sync analogue, additionally carrying the
// resulting payload.
type readWaiter struct {
	done    chan struct{}
	payload []byte
	err     error
}

func newReadWaiter() *readWaiter {
	return &readWaiter{done: make(chan struct{})}
}

func (w *readWaiter) complete(payload []byte, err error) {
	w.payload = payload
	w.err = err
	close(w.done)
}

func (w *readWaiter) wait() ([]byte, error) {
	<-w.done
	return w.payload, w.err
}

// flushWaiter implements flush_sync's blocking wait: a dedicated
// mutex/condition-variable pair, separate from the store's main lock, so
// that the lock-free atomics it polls (contiguous_completed_upto) can be
// read without contending with tracker mutation. Every waiter re-checks
// its own predicate on each wakeup to tolerate spurious wakes and
// overlapping concurrent flush_sync callers with different targets.
type flushWaiter struct {
	mu   sync.Mutex
	cond *sync.Cond
}

func newFlushWaiter() *flushWaiter {
	fw := &flushWaiter{}
	fw.cond = sync.NewCond(&fw.mu)
	return fw
}

// waitUntil blocks until predicate() is true, re-checking on every
// broadcast.
func (fw *flushWaiter) waitUntil(predicate func() bool) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	for !predicate() {
		fw.cond.Wait()
	}
}

// broadcast wakes every waiter to re-check its predicate.
func (fw *flushWaiter) broadcast() {
	fw.mu.Lock()
	fw.cond.Broadcast()
	fw.mu.Unlock()
}
