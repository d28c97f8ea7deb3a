package realm

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// task is a unit of work for a worker.
type task struct {
	run func()

	// abort is called instead of run for tasks still queued when the
	// worker stops. May be nil.
	abort func()
}

// worker runs tasks one at a time, in submission order, on a single
// goroutine it owns. Everything a worker's tasks touch is confined to that
// goroutine.
type worker struct {
	name  string
	log   *slog.Logger
	queue *queue[task]
	done  chan struct{}
	final func() // set by stop before the queue closes
}

func startWorker(name string, log *slog.Logger) *worker {
	w := &worker{
		name:  name,
		log:   log,
		queue: newQueue[task](),
		done:  make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *worker) loop() {
	defer close(w.done)
	w.log.Debug("worker starting", "worker", w.name)

	for {
		t, ok := w.queue.TryDequeue()
		if ok {
			if w.queue.IsClosed() {
				if t.abort != nil {
					t.abort()
				}
				continue
			}
			t.run()
			continue
		}

		// The signal channel is closed with the queue, so this never
		// blocks after stop.
		<-w.queue.Wait()
		if w.queue.IsClosed() && w.queue.Len() == 0 {
			break
		}
	}

	if w.final != nil {
		w.final()
	}
	w.log.Debug("worker stopped", "worker", w.name)
}

// submit queues t. Returns false once the worker is stopping.
func (w *worker) submit(t task) bool {
	return w.queue.Enqueue(t)
}

// do runs fn on the worker goroutine and waits for it. Returns ErrClosed
// if the worker stopped before fn started.
func (w *worker) do(fn func()) error {
	ran := make(chan bool, 1)
	ok := w.submit(task{
		run: func() {
			defer func() { ran <- true }()
			fn()
		},
		abort: func() { ran <- false },
	})
	if !ok || !<-ran {
		return ErrClosed
	}
	return nil
}

// Task states for doContext.
const (
	taskQueued int32 = iota
	taskStarted
	taskAbandoned
)

// doContext is do for a caller that may give up. If ctx is done before fn
// starts, doContext returns ctx.Err() at once and fn never runs. Once fn
// has started, doContext waits for it.
func (w *worker) doContext(ctx context.Context, fn func()) error {
	var state atomic.Int32
	ran := make(chan bool, 1)
	ok := w.submit(task{
		run: func() {
			if !state.CompareAndSwap(taskQueued, taskStarted) {
				return
			}
			defer func() { ran <- true }()
			fn()
		},
		abort: func() { ran <- false },
	})
	if !ok {
		return ErrClosed
	}

	select {
	case started := <-ran:
		if !started {
			return ErrClosed
		}
		return nil
	case <-ctx.Done():
		if state.CompareAndSwap(taskQueued, taskAbandoned) {
			return ctx.Err()
		}
		if !<-ran {
			return ErrClosed
		}
		return nil
	}
}

// stop refuses new tasks, lets the running task finish, aborts the queued
// ones, runs final on the worker goroutine and waits for the goroutine to
// exit. Must not be called from a task.
func (w *worker) stop(final func()) {
	w.final = final
	w.queue.Close()
	<-w.done
}
