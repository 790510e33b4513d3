// Package procbase implements the worker-pool control plane shared by every pipeline
// stage (spec §4.6, component C6): state machine (new → started → (stopping|cancelling) →
// done), poison-pill shutdown, and a 10 ms poison-pill retry loop in Wait. Grounded
// directly in original_source/include/dottorrent/chunk_processor_base.hpp — the start/
// request_stop/request_cancellation/wait/done method shapes and the
// std::atomic<bool> + per-thread done[] fields there are ported verbatim into Go's
// sync/atomic, and the worker-pool shape itself (a pool of goroutines reading jobs off a
// shared channel) is the teacher's internal/torrent/generator.go pieceChan pattern
// generalized to an arbitrary item type and handler.
package procbase

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/omnicloud/torrentbuild/internal/errs"
	"github.com/omnicloud/torrentbuild/internal/workqueue"
)

// waitPollInterval is the poison-pill retry cadence from spec §4.6 ("10 ms polling").
const waitPollInterval = 10 * time.Millisecond

// Job wraps a work item with the poison-pill marker used to signal a worker to check for
// shutdown.
type Job[T any] struct {
	Poison bool
	Value  T
}

// Handler processes one work item on worker threadIdx. Returning an error marks the base
// cancelled and is aggregated for Wait's return value (spec §7 "worker-panic").
type Handler[T any] func(threadIdx int, item T) error

// Base is a generic worker pool over workqueue.Queue[Job[T]].
type Base[T any] struct {
	queue      *workqueue.Queue[Job[T]]
	handler    Handler[T]
	numWorkers int

	started       atomic.Bool
	cancelled     atomic.Bool
	stopRequested atomic.Bool
	done          []atomic.Bool

	wg sync.WaitGroup

	errMu sync.Mutex
	err   *multierror.Error
}

// New builds a pool of numWorkers goroutines draining queue via handler. Workers are not
// started until Start is called.
func New[T any](queue *workqueue.Queue[Job[T]], numWorkers int, handler Handler[T]) *Base[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Base[T]{
		queue:      queue,
		handler:    handler,
		numWorkers: numWorkers,
		done:       make([]atomic.Bool, numWorkers),
	}
}

// Queue returns the input queue, so callers (the reader, upstream hashers) can Push/
// TryPush work items directly.
func (b *Base[T]) Queue() *workqueue.Queue[Job[T]] { return b.queue }

// Start spawns the worker goroutines. Forbidden after Done or Cancelled (spec §4.6).
func (b *Base[T]) Start() error {
	if b.Started() {
		return errs.Wrap(errs.ErrInvalidState, "procbase: start called twice")
	}
	if b.Cancelled() {
		return errs.Wrap(errs.ErrInvalidState, "procbase: start called after cancellation")
	}
	b.wg.Add(b.numWorkers)
	for i := 0; i < b.numWorkers; i++ {
		go b.run(i)
	}
	b.started.Store(true)
	return nil
}

func (b *Base[T]) run(idx int) {
	defer b.wg.Done()
	defer b.done[idx].Store(true)

	for {
		job, ok := b.queue.Pop()
		if !ok {
			return
		}
		if job.Poison {
			if b.stopRequested.Load() {
				return
			}
			continue
		}
		if b.Cancelled() {
			continue // discard remaining queue items after the job that triggered cancellation
		}
		if err := b.handler(idx, job.Value); err != nil {
			b.recordErr(err)
			b.RequestCancellation()
		}
	}
}

func (b *Base[T]) recordErr(err error) {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	b.err = multierror.Append(b.err, err)
}

// RequestStop asks every worker to exit once it next sees a poison pill.
func (b *Base[T]) RequestStop() { b.stopRequested.Store(true) }

// RequestCancellation sets the cancelled flag and requests stop; workers discard any
// remaining queued items after finishing their current job.
func (b *Base[T]) RequestCancellation() {
	b.cancelled.Store(true)
	b.RequestStop()
}

// Wait enqueues one poison pill per worker, then re-enqueues additional pills every
// 10 ms until every worker has exited, then joins them all. Returns the aggregated
// worker errors, if any. Safe to call more than once.
func (b *Base[T]) Wait() error {
	if !b.Started() {
		return nil
	}
	// Wait is the terminal call: its own poison pills must actually stop workers,
	// independent of whether a caller already called RequestStop explicitly.
	b.stopRequested.Store(true)
	for i := 0; i < b.numWorkers; i++ {
		b.queue.Push(Job[T]{Poison: true})
	}
	for !b.Done() {
		b.queue.Push(Job[T]{Poison: true})
		time.Sleep(waitPollInterval)
	}
	b.wg.Wait()

	b.errMu.Lock()
	defer b.errMu.Unlock()
	if b.err == nil {
		return nil
	}
	return b.err.ErrorOrNil()
}

func (b *Base[T]) Started() bool   { return b.started.Load() }
func (b *Base[T]) Cancelled() bool { return b.cancelled.Load() }

// Done reports whether every worker has exited, or the pool was cancelled.
func (b *Base[T]) Done() bool {
	if b.Cancelled() {
		return true
	}
	if !b.Started() {
		return false
	}
	for i := range b.done {
		if !b.done[i].Load() {
			return false
		}
	}
	return true
}

// Shutdown provides the destructor-equivalent guarantee of spec §4.6: if the pool was
// started but never drained, it requests stop and waits. Callers that already called
// Wait may call Shutdown again harmlessly (Wait is idempotent).
func (b *Base[T]) Shutdown() error {
	if b.Started() && !b.Done() {
		b.RequestStop()
	}
	return b.Wait()
}
