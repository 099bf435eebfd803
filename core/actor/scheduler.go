package actor

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// scheduler runs functions on goroutines, at most max at a time. If max <= 0
// concurrency is unlimited.
type scheduler struct {
	ctx      context.Context
	log      *slog.Logger
	inflight atomic.Int32
	sem      chan struct{}
	wg       sync.WaitGroup

	report   func(count int)
	duration func() func()
	done     func(success bool)
}

func newScheduler(ctx context.Context, max int, log *slog.Logger) *scheduler {
	var sem chan struct{}
	if max > 0 {
		sem = make(chan struct{}, max)
	}
	return &scheduler{
		ctx:      ctx,
		log:      log,
		sem:      sem,
		report:   func(int) {},
		duration: func() func() { return func() {} },
		done:     func(bool) {},
	}
}

// Go waits for a free slot, then runs f on a new goroutine. It gives up and
// returns false once stop is closed, even if a slot is free.
func (s *scheduler) Go(stop <-chan struct{}, f func()) bool {
	if closed(stop) {
		return false
	}
	if s.sem != nil {
		select {
		case <-stop:
			return false
		case s.sem <- struct{}{}:
		}
		// both cases may have been ready
		if closed(stop) {
			<-s.sem
			return false
		}
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(f)
	}()
	return true
}

// Schedule runs f on a new goroutine that waits for a slot itself, so the
// caller never blocks. Nothing runs once ctx is done.
func (s *scheduler) Schedule(f func()) {
	select {
	case <-s.ctx.Done():
		return
	default:
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.sem != nil {
			select {
			case <-s.ctx.Done():
				return
			case s.sem <- struct{}{}:
			}
			if closed(s.ctx.Done()) {
				<-s.sem
				return
			}
		}
		s.run(f)
	}()
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (s *scheduler) run(f func()) {
	s.report(int(s.inflight.Add(1)))
	defer func() {
		if s.sem != nil {
			<-s.sem
		}
		s.report(int(s.inflight.Add(-1)))
	}()

	stop := s.duration()
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			s.done(false)
			s.log.Error("scheduled task panicked", slog.Any("recovered", r), slog.String("stack", string(debug.Stack())))
		}
	}()

	f()
	s.done(true)
}

func (s *scheduler) Inflight() int { return int(s.inflight.Load()) }

// Wait blocks until all started functions returned or ctx is done.
func (s *scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
