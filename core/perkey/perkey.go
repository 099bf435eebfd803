// Package perkey provides a scheduler that serializes work per key
// while allowing work for different keys to execute concurrently.
//
// The object store uses it to give every state entry its own worker: all
// reads and writes of one key run one after another, in submission order,
// while other keys make progress in parallel. A task that panics is
// recovered by the worker and reported as a [*PanicError]; the key stays
// usable afterwards.
package perkey

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

var (
	// ErrSchedulerClosed is returned when Do is called on a closed scheduler.
	ErrSchedulerClosed = errors.New("perkey: scheduler is closed")
	// ErrTaskPanicked matches every *PanicError via errors.Is.
	ErrTaskPanicked = errors.New("perkey: task panicked")
)

// PanicError carries the value recovered from a panicking task.
type PanicError struct {
	Recovered any
	Stack     []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("perkey: task panicked: %v", e.Recovered)
}

func (e *PanicError) Is(target error) bool { return target == ErrTaskPanicked }

// Option configures a Scheduler.
type Option func(*config)

type config struct {
	bufferSize int
}

// WithBufferSize sets the task buffer size per worker (default: 64).
func WithBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

// Scheduler runs tasks such that for any given key K tasks are executed
// sequentially, in submission order. Tasks for different keys proceed in
// parallel. Workers exist only while a key has pending tasks.
type Scheduler[K comparable] struct {
	mu         sync.Mutex
	workers    map[K]*worker
	closed     bool
	wg         sync.WaitGroup // in-flight Do calls
	bufferSize int
}

type worker struct {
	tasks   chan *task
	pending int // guarded by Scheduler.mu
}

type task struct {
	fn   func() error
	done chan error
}

// New creates a new Scheduler.
func New[K comparable](opts ...Option) *Scheduler[K] {
	cfg := &config{bufferSize: 64}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Scheduler[K]{
		workers:    make(map[K]*worker),
		bufferSize: cfg.bufferSize,
	}
}

// Do schedules fn for key and blocks until it has run, returning its error.
func (s *Scheduler[K]) Do(key K, fn func() error) error {
	return s.DoContext(context.Background(), key, fn)
}

// DoContext is like Do but respects context cancellation. If the context is
// cancelled after the task was enqueued, the task still runs but the caller
// does not wait for it.
func (s *Scheduler[K]) DoContext(ctx context.Context, key K, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	s.wg.Add(1)
	defer s.wg.Done()
	w := s.acquireLocked(key)
	s.mu.Unlock()

	t := &task{
		fn:   fn,
		done: make(chan error, 1),
	}

	select {
	case w.tasks <- t:
	case <-ctx.Done():
		s.release(key, w)
		return ctx.Err()
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the number of keys that currently have a worker.
func (s *Scheduler[K]) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Close stops accepting new tasks and waits for in-flight Do calls to return.
// Tasks already queued still run.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler[K]) acquireLocked(key K) *worker {
	w, ok := s.workers[key]
	if !ok {
		w = &worker{tasks: make(chan *task, s.bufferSize)}
		s.workers[key] = w
		go s.runWorker(key, w)
	}
	w.pending++
	return w
}

// release gives back a slot that never got enqueued.
func (s *Scheduler[K]) release(key K, w *worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.pending--
	if w.pending == 0 {
		delete(s.workers, key)
		close(w.tasks)
	}
}

// runWorker processes tasks sequentially for a single key and exits once the
// key has nothing left to do.
func (s *Scheduler[K]) runWorker(key K, w *worker) {
	for t := range w.tasks {
		t.done <- runTask(t.fn)

		s.mu.Lock()
		w.pending--
		if w.pending == 0 {
			delete(s.workers, key)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

func runTask(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Recovered: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}
