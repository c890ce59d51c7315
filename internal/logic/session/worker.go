package session

import (
	"context"
	"sync"
)

// worker runs blocking hardware tasks one at a time, in submission order.
// The queue is unbounded so that submitting never blocks the caller.
type worker struct {
	mu      sync.Mutex
	queue   []func(context.Context)
	stopped bool

	wake chan struct{}
	done chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func newWorker() *worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	go w.run()
	return w
}

// submit queues a task. It returns false once the worker is stopped.
func (w *worker) submit(task func(context.Context)) bool {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return false
	}
	w.queue = append(w.queue, task)
	w.mu.Unlock()
	w.signal()
	return true
}

func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			stopped := w.stopped
			w.mu.Unlock()
			if stopped {
				return
			}
			<-w.wake
			continue
		}
		task := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		w.mu.Unlock()

		task(w.ctx)
	}
}

// stop refuses new tasks; queued tasks still run before the goroutine exits.
func (w *worker) stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.signal()
}

// abandon cancels the context passed to running and queued tasks.
func (w *worker) abandon() {
	w.cancel()
}

func (w *worker) wait() {
	<-w.done
	w.cancel()
}
