package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codewandler/peeractor/core/comm"
	"github.com/codewandler/peeractor/core/ds"
)

// Builder collects the configuration of an actor. Setters record values and
// never fail; everything is validated once, in Build. A Builder builds one
// actor.
type Builder struct {
	ctx         context.Context
	log         *slog.Logger
	keys        comm.Keypair
	listen      *ds.Set[string]
	commOpts    []comm.Option
	metrics     Metrics
	onPanic     OnPanic
	inboundSize int
	maxHandlers int
	maxTasks    int
	grace       time.Duration

	errs []error
	used atomic.Bool
}

// NewBuilder returns a builder with a 512 slot inbound channel and an
// allow-all firewall. Restrict traffic with WithCommOptions(comm.WithFirewall(...))
// or later through Actor.Firewall().
func NewBuilder() *Builder {
	return &Builder{
		listen:      ds.NewSet[string](),
		inboundSize: DefaultInboundSize,
		maxHandlers: DefaultMaxConcurrentHandlers,
		maxTasks:    DefaultMaxConcurrentTasks,
		grace:       DefaultShutdownGrace,
	}
}

// Keys sets the identity. Without it a fresh keypair is generated.
func (b *Builder) Keys(k comm.Keypair) *Builder {
	if k.IsZero() {
		b.errs = append(b.errs, errors.New("keys: empty keypair"))
	}
	b.keys = k
	return b
}

// ListenOn adds addr to the listen set. Repeated addresses are ignored.
func (b *Builder) ListenOn(addr string) *Builder {
	if addr == "" {
		b.errs = append(b.errs, errors.New("listen: empty address"))
		return b
	}
	b.listen.Add(addr)
	return b
}

func (b *Builder) WithContext(ctx context.Context) *Builder {
	b.ctx = ctx
	return b
}

func (b *Builder) WithLogger(log *slog.Logger) *Builder {
	b.log = log
	return b
}

func (b *Builder) WithMetrics(m Metrics) *Builder {
	b.metrics = m
	return b
}

func (b *Builder) WithOnPanic(fn OnPanic) *Builder {
	b.onPanic = fn
	return b
}

// WithCommOptions passes options to the communication layer. They are
// applied after the builder's own defaults, so they win.
func (b *Builder) WithCommOptions(opts ...comm.Option) *Builder {
	b.commOpts = append(b.commOpts, opts...)
	return b
}

func (b *Builder) WithInboundSize(n int) *Builder {
	if n <= 0 {
		b.errs = append(b.errs, fmt.Errorf("inbound size must be positive, got %d", n))
	}
	b.inboundSize = n
	return b
}

// WithMaxConcurrentHandlers caps running handler invocations; negative means
// unlimited.
func (b *Builder) WithMaxConcurrentHandlers(n int) *Builder {
	b.maxHandlers = n
	return b
}

func (b *Builder) WithMaxConcurrentTasks(n int) *Builder {
	b.maxTasks = n
	return b
}

func (b *Builder) WithShutdownGrace(d time.Duration) *Builder {
	if d <= 0 {
		b.errs = append(b.errs, fmt.Errorf("shutdown grace must be positive, got %s", d))
	}
	b.grace = d
	return b
}

// Build builds the actor on the default TCP transport.
func (b *Builder) Build(ctx context.Context) (*Actor, error) {
	return b.BuildWithTransport(ctx, comm.NewTCPTransport())
}

// BuildWithTransport finalizes the communication layer on t, binds every
// listen address and starts the actor. Setup and bind failures are returned
// as *CommunicationSetupError. Unless WithContext was used, ctx also bounds
// the lifetime of the actor: it shuts down when ctx is done.
func (b *Builder) BuildWithTransport(ctx context.Context, t comm.Transport) (*Actor, error) {
	if !b.used.CompareAndSwap(false, true) {
		return nil, ErrBuilderConsumed
	}
	if err := errors.Join(b.errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if t == nil {
		return nil, &CommunicationSetupError{Err: errors.New("nil transport")}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if b.ctx == nil {
		b.ctx = ctx
	}
	if b.log == nil {
		b.log = slog.Default()
	}

	opts := []comm.Option{
		comm.WithFirewall(comm.AllowAll()),
		comm.WithLogger(b.log),
	}
	if !b.keys.IsZero() {
		opts = append(opts, comm.WithKeys(b.keys))
	}
	opts = append(opts, b.commOpts...)

	inbound := make(chan *comm.ReceiveRequest, b.inboundSize)
	c, err := comm.NewBuilder(inbound, opts...).Build(ctx, t)
	if err != nil {
		return nil, &CommunicationSetupError{Err: err}
	}

	listen := b.listen.Values()
	bound := make([]string, len(listen))
	g, gctx := errgroup.WithContext(ctx)
	for i, addr := range listen {
		g.Go(func() error {
			a, err := c.Listen(gctx, addr)
			if err != nil {
				return &CommunicationSetupError{Addr: addr, Err: err}
			}
			bound[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_ = c.Close()
		return nil, err
	}

	return New(c, Options{
		Context:               b.ctx,
		Logger:                b.log,
		Metrics:               b.metrics,
		OnPanic:               b.onPanic,
		MaxConcurrentHandlers: b.maxHandlers,
		MaxConcurrentTasks:    b.maxTasks,
		ShutdownGrace:         b.grace,
		ListenAddrs:           listen,
		Addrs:                 bound,
	}), nil
}
