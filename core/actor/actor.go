package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codewandler/peeractor/core/comm"
	"github.com/codewandler/peeractor/core/objectstore"
)

const (
	DefaultInboundSize           = 512
	DefaultMaxConcurrentHandlers = 256
	DefaultMaxConcurrentTasks    = 32
	DefaultShutdownGrace         = 5 * time.Second
)

// OnPanic is called with the recovered value and stack of a panicking
// handler.
type OnPanic func(recovered any, stack []byte, msg NamedMessage)

// Options configure an Actor. The zero value is usable; Builder fills it.
type Options struct {
	Context context.Context
	Logger  *slog.Logger
	Metrics Metrics
	OnPanic OnPanic
	// MaxConcurrentHandlers caps running handler invocations. When all
	// slots are busy the loop stops draining the inbound channel and the
	// communication layer rejects what does not fit. If negative,
	// concurrency is unlimited.
	MaxConcurrentHandlers int
	// MaxConcurrentTasks caps tasks run via HandlerCtx.Schedule. If
	// negative, scheduling is unlimited.
	MaxConcurrentTasks int
	ShutdownGrace      time.Duration
	// ListenAddrs is the configured listen set in insertion order, Addrs
	// the addresses actually bound, in the same order.
	ListenAddrs []string
	Addrs       []string
}

// Actor serves handlers for the requests its communication layer admits.
type Actor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	comm     Communication
	registry *Registry
	objects  *objectstore.Store
	metrics  Metrics
	onPanic  OnPanic

	handlers *scheduler
	tasks    *scheduler
	replies  sync.WaitGroup

	grace       time.Duration
	listenAddrs []string
	addrs       []string

	state     atomic.Int32
	abandoned chan struct{}
	loopDone  chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
	done         chan struct{}
}

// New starts an actor on top of an already built communication layer. Most
// callers use Builder instead.
func New(c Communication, opt Options) *Actor {
	if opt.Context == nil {
		opt.Context = context.Background()
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Metrics == nil {
		opt.Metrics = NopMetrics()
	}
	if opt.MaxConcurrentHandlers == 0 {
		opt.MaxConcurrentHandlers = DefaultMaxConcurrentHandlers
	}
	if opt.MaxConcurrentTasks == 0 {
		opt.MaxConcurrentTasks = DefaultMaxConcurrentTasks
	}
	if opt.ShutdownGrace <= 0 {
		opt.ShutdownGrace = DefaultShutdownGrace
	}

	log := opt.Logger.With(slog.String("peer_id", c.PeerID().Short()))
	if opt.OnPanic == nil {
		opt.OnPanic = func(recovered any, stack []byte, msg NamedMessage) {
			log.Error("handler panicked",
				slog.String("name", msg.Name),
				slog.Any("recovered", recovered),
				slog.String("stack", string(stack)),
			)
		}
	}

	// Handlers outlive the parent context during the grace period.
	ctx, cancel := context.WithCancel(context.WithoutCancel(opt.Context))

	a := &Actor{
		ctx:         ctx,
		cancel:      cancel,
		log:         log,
		comm:        c,
		registry:    NewRegistry(),
		objects:     objectstore.New(objectstore.Options{Logger: log}),
		metrics:     opt.Metrics,
		onPanic:     opt.OnPanic,
		handlers:    newScheduler(ctx, opt.MaxConcurrentHandlers, log),
		tasks:       newScheduler(ctx, opt.MaxConcurrentTasks, log),
		grace:       opt.ShutdownGrace,
		listenAddrs: opt.ListenAddrs,
		addrs:       opt.Addrs,
		abandoned:   make(chan struct{}),
		loopDone:    make(chan struct{}),
		done:        make(chan struct{}),
	}
	a.handlers.report = a.metrics.HandlersInflight
	a.tasks.report = a.metrics.SchedulerInflight
	a.tasks.duration = func() func() { return a.metrics.SchedulerTaskDuration().ObserveDuration }
	a.tasks.done = a.metrics.SchedulerTaskCompleted

	go a.loop()

	if parent := opt.Context; parent.Done() != nil {
		go func() {
			select {
			case <-parent.Done():
				_ = a.Shutdown(context.Background())
			case <-a.done:
			}
		}()
	}

	log.Info("actor started", slog.Any("addrs", a.addrs))
	return a
}

func (a *Actor) PeerID() PeerID              { return a.comm.PeerID() }
func (a *Actor) Registry() *Registry         { return a.registry }
func (a *Actor) Objects() *objectstore.Store { return a.objects }
func (a *Actor) Firewall() *comm.Firewall    { return a.comm.Firewall() }
func (a *Actor) Peers() []PeerID             { return a.comm.Peers() }
func (a *Actor) State() State                { return State(a.state.Load()) }

// Done is closed once shutdown has completed.
func (a *Actor) Done() <-chan struct{} { return a.done }

// ListenAddrs returns the configured listen addresses in insertion order.
func (a *Actor) ListenAddrs() []string { return append([]string(nil), a.listenAddrs...) }

// Addrs returns the bound addresses, in the order of ListenAddrs.
func (a *Actor) Addrs() []string { return append([]string(nil), a.addrs...) }

// Handle registers h for name, replacing any previous handler. It is safe
// to call while the actor is serving.
func (a *Actor) Handle(name string, h Handler) bool {
	replaced := a.registry.Register(name, h)
	a.log.Debug("handler registered", slog.String("name", name), slog.Bool("replaced", replaced))
	return replaced
}

func (a *Actor) HandleFunc(name string, fn func(hc HandlerCtx, msg NamedMessage) (NamedMessage, error)) bool {
	return a.Handle(name, HandlerFunc(fn))
}

// Unhandle removes the handler for name.
func (a *Actor) Unhandle(name string) bool { return a.registry.Unregister(name) }

// Dial connects to the actor at addr and returns its peer id.
func (a *Actor) Dial(ctx context.Context, addr string) (PeerID, error) {
	return a.comm.Dial(ctx, addr)
}

// Send calls handler msg.Name on peer.
func (a *Actor) Send(ctx context.Context, peer PeerID, msg NamedMessage) (NamedMessage, error) {
	return a.comm.Send(ctx, peer, msg)
}

func (a *Actor) setState(s State) { a.state.Store(int32(s)) }

// loop is the only reader of the inbound channel. It ends when the channel
// is closed.
func (a *Actor) loop() {
	defer func() {
		close(a.loopDone)
		go func() { _ = a.Shutdown(context.Background()) }()
	}()

	in := a.comm.Inbound()
	for {
		a.setState(StateIdle)
		rr, ok := <-in
		if !ok {
			return
		}
		a.setState(StateReceiving)
		a.metrics.InboundDepth(len(in))
		a.dispatch(rr)
	}
}

func (a *Actor) dispatch(rr *ReceiveRequest) {
	name := rr.Request.Name

	h, ok := a.registry.Lookup(name)
	if !ok {
		a.metrics.HandlerNotFound(name)
		a.log.Debug("no handler", slog.String("name", name), slog.String("peer", rr.Peer.Short()))
		a.respondAsync(rr, failure(comm.FailureHandlerNotFound, name))
		return
	}

	a.setState(StateDispatching)
	if !a.handlers.Go(a.abandoned, func() { a.invoke(h, rr) }) {
		a.respondAsync(rr, failure(comm.FailureShutdown, ""))
	}
}

func (a *Actor) invoke(h Handler, rr *ReceiveRequest) {
	name := rr.Request.Name
	hc := &handlerCtx{
		Context: a.ctx,
		a:       a,
		log:     a.log.With(slog.String("name", name), slog.String("peer", rr.Peer.Short())),
		rr:      rr,
	}

	timer := a.metrics.MessageDuration(name)
	res, err := a.safeHandle(hc, h, rr.Request)
	timer.ObserveDuration()
	a.metrics.MessageProcessed(name, err == nil)

	if err != nil {
		hc.log.Debug("handler failed", slog.Any("error", err))
		var f *Failure
		if errors.As(err, &f) {
			a.respond(rr, Response{Err: f})
			return
		}
		a.respond(rr, failure(comm.FailureHandlerFailed, err.Error()))
		return
	}
	if res.Name == "" {
		res.Name = name
	}
	a.respond(rr, Response{Message: res})
}

func (a *Actor) safeHandle(hc HandlerCtx, h Handler, msg NamedMessage) (res NamedMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.metrics.MessagePanic(msg.Name)
			a.onPanic(r, debug.Stack(), msg)
			err = fmt.Errorf("%w: panic: %v", ErrHandlerFailed, r)
		}
	}()
	return h.Handle(hc, msg)
}

func failure(code comm.FailureCode, message string) Response {
	return Response{Err: &Failure{Code: code, Message: message}}
}

func (a *Actor) respond(rr *ReceiveRequest, resp Response) {
	err := rr.Respond(resp)
	switch {
	case err == nil:
	case errors.Is(err, comm.ErrResponseChannelClosed):
		a.metrics.ResponseDropped()
		a.log.Debug("requester gone, response dropped",
			slog.String("name", rr.Request.Name),
			slog.String("peer", rr.Peer.Short()),
		)
	default:
		a.log.Warn("failed to respond", slog.String("name", rr.Request.Name), slog.Any("error", err))
	}
}

// respondAsync keeps writes to slow peers off the loop.
func (a *Actor) respondAsync(rr *ReceiveRequest, resp Response) {
	a.replies.Add(1)
	go func() {
		defer a.replies.Done()
		a.respond(rr, resp)
	}()
}

// Shutdown stops intake and waits for handlers that are already running, at
// most for the shutdown grace period or until ctx is done. Responses still
// outstanding after that are abandoned and ErrShutdownTimeout is returned.
// The communication layer is closed in both cases. Shutdown is idempotent.
func (a *Actor) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.log.Info("shutting down")
		a.comm.CloseInbound()

		ctx, cancel := context.WithTimeout(ctx, a.grace)
		defer cancel()

		err := a.drain(ctx)
		if err != nil {
			close(a.abandoned)
			a.log.Warn("shutdown grace period exceeded, abandoning handlers",
				slog.Int("inflight", a.handlers.Inflight()),
				slog.Any("error", err),
			)
			a.shutdownErr = fmt.Errorf("%w: %w", ErrShutdownTimeout, err)
		} else {
			a.objects.Close()
		}

		a.cancel()
		a.setState(StateShutdown)
		if err := a.comm.Close(); err != nil {
			a.log.Warn("failed to close communication layer", slog.Any("error", err))
		}
		a.log.Info("actor stopped")
		close(a.done)
	})
	<-a.done
	return a.shutdownErr
}

func (a *Actor) drain(ctx context.Context) error {
	select {
	case <-a.loopDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := a.handlers.Wait(ctx); err != nil {
		return err
	}
	if err := a.tasks.Wait(ctx); err != nil {
		return err
	}

	replied := make(chan struct{})
	go func() {
		a.replies.Wait()
		close(replied)
	}()
	select {
	case <-replied:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
