package comm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/codewandler/peeractor/core/ds"
	"github.com/codewandler/peeractor/core/sf"
)

const (
	DefaultRequestTimeout   = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

type options struct {
	keys             Keypair
	firewall         Rule
	log              *slog.Logger
	metrics          Metrics
	requestTimeout   time.Duration
	handshakeTimeout time.Duration
}

// Option configures the communication layer.
type Option func(*options)

// WithKeys sets the node identity. Without it a fresh keypair is generated.
func WithKeys(k Keypair) Option { return func(o *options) { o.keys = k } }

// WithFirewall sets the admission rule. Without it everything is allowed.
func WithFirewall(r Rule) Option { return func(o *options) { o.firewall = r } }

func WithLogger(log *slog.Logger) Option { return func(o *options) { o.log = log } }

func WithMetrics(m Metrics) Option { return func(o *options) { o.metrics = m } }

// WithRequestTimeout bounds outbound requests whose context has no deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) { o.handshakeTimeout = d }
}

// Builder assembles a Comm around a caller-owned inbound channel.
type Builder struct {
	inbound chan *ReceiveRequest
	opts    []Option
}

func NewBuilder(inbound chan *ReceiveRequest, opts ...Option) *Builder {
	return &Builder{inbound: inbound, opts: opts}
}

// With appends options; later options win.
func (b *Builder) With(opts ...Option) *Builder {
	b.opts = append(b.opts, opts...)
	return b
}

// Build finalizes the layer on top of t. A nil t selects TCP.
func (b *Builder) Build(ctx context.Context, t Transport) (*Comm, error) {
	if b.inbound == nil {
		return nil, errors.New("comm: inbound channel is required")
	}
	o := options{
		requestTimeout:   DefaultRequestTimeout,
		handshakeTimeout: DefaultHandshakeTimeout,
	}
	for _, opt := range b.opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = NopMetrics()
	}
	if o.keys.IsZero() {
		k, err := GenerateKeypair()
		if err != nil {
			return nil, err
		}
		o.keys = k
	}
	if t == nil {
		t = NewTCPTransport()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	id := o.keys.PeerID()
	log := o.log.With(slog.String("peer_id", id.Short()))

	c := &Comm{
		log:              log,
		keys:             o.keys,
		id:               id,
		transport:        t,
		firewall:         NewFirewall(o.firewall, log),
		inbound:          b.inbound,
		metrics:          o.metrics,
		requestTimeout:   o.requestTimeout,
		handshakeTimeout: o.handshakeTimeout,
		conns:            make(map[PeerID]*peerConn),
		addrPeers:        make(map[string]PeerID),
		addrs:            ds.NewSet[string](),
	}
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	log.Debug("communication layer built")
	return c, nil
}

// Comm is a running communication layer.
type Comm struct {
	log              *slog.Logger
	keys             Keypair
	id               PeerID
	transport        Transport
	firewall         *Firewall
	metrics          Metrics
	requestTimeout   time.Duration
	handshakeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// inMu guards sends on inbound against closing it.
	inMu          sync.RWMutex
	inbound       chan *ReceiveRequest
	inboundClosed bool

	mu        sync.Mutex
	conns     map[PeerID]*peerConn
	addrPeers map[string]PeerID
	listeners []Listener
	addrs     *ds.Set[string]
	closed    bool

	dials sf.Group[PeerID]
	wg    sync.WaitGroup
}

func (c *Comm) PeerID() PeerID       { return c.id }
func (c *Comm) Keys() Keypair        { return c.keys }
func (c *Comm) Firewall() *Firewall  { return c.firewall }
func (c *Comm) Transport() Transport { return c.transport }

// Inbound is the channel admitted requests are pushed to. It is closed by
// CloseInbound.
func (c *Comm) Inbound() <-chan *ReceiveRequest { return c.inbound }

// Addrs returns the bound addresses in the order they were bound.
func (c *Comm) Addrs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addrs.Values()
}

// Peers returns the connected peers, sorted.
func (c *Comm) Peers() []PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PeerID, 0, len(c.conns))
	for p := range c.conns {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Listen binds addr and starts accepting connections on it. It returns the
// bound address.
func (c *Comm) Listen(ctx context.Context, addr string) (string, error) {
	c.mu.Lock()
	if c.closed || c.isInboundClosed() {
		c.mu.Unlock()
		return "", ErrClosed
	}
	c.mu.Unlock()

	l, err := c.transport.Listen(ctx, addr)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = l.Close()
		return "", ErrClosed
	}
	c.listeners = append(c.listeners, l)
	c.addrs.Add(l.Addr())
	c.wg.Add(1)
	c.mu.Unlock()

	c.log.Info("listening", slog.String("addr", l.Addr()))
	go c.acceptLoop(l)
	return l.Addr(), nil
}

func (c *Comm) acceptLoop(l Listener) {
	defer c.wg.Done()
	for {
		conn, err := l.Accept()
		if err != nil {
			c.log.Debug("listener stopped", slog.String("addr", l.Addr()), slog.Any("error", err))
			return
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			pc := newPeerConn(c, conn)
			if err := pc.handshake(false, c.handshakeTimeout); err != nil {
				c.metrics.HandshakeFailed()
				c.log.Warn("inbound handshake failed", slog.Any("error", err))
				_ = conn.Close()
				return
			}
			if !c.register(pc) {
				return
			}
			pc.readLoop()
		}()
	}
}

// Dial connects to addr, or reuses the connection made to it earlier, and
// returns the remote peer id. Concurrent dials to one address share a
// single connection attempt.
func (c *Comm) Dial(ctx context.Context, addr string) (PeerID, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if p, ok := c.addrPeers[addr]; ok {
		if _, alive := c.conns[p]; alive {
			c.mu.Unlock()
			return p, nil
		}
	}
	c.mu.Unlock()

	return c.dials.Do(addr, func() (PeerID, error) {
		return c.dial(ctx, addr)
	})
}

func (c *Comm) dial(ctx context.Context, addr string) (PeerID, error) {
	conn, err := c.transport.Dial(ctx, addr)
	if err != nil {
		return "", err
	}
	pc := newPeerConn(c, conn)
	pc.addr = addr
	if err := pc.handshake(true, c.handshakeTimeout); err != nil {
		c.metrics.HandshakeFailed()
		_ = conn.Close()
		return "", err
	}
	if !c.register(pc) {
		return "", ErrClosed
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		pc.readLoop()
	}()

	c.log.Info("connected", slog.String("addr", addr), slog.String("peer", pc.peer.Short()))
	return pc.peer, nil
}

// register makes pc the connection for its peer. An older connection to the
// same peer keeps serving its in-flight requests but gets no new ones.
func (c *Comm) register(pc *peerConn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = pc.conn.Close()
		return false
	}
	c.conns[pc.peer] = pc
	if pc.addr != "" {
		c.addrPeers[pc.addr] = pc.peer
	}
	c.metrics.PeersConnected(len(c.conns))
	return true
}

func (c *Comm) forget(pc *peerConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.conns[pc.peer]; ok && cur == pc {
		delete(c.conns, pc.peer)
	}
	if pc.addr != "" && c.addrPeers[pc.addr] == pc.peer {
		delete(c.addrPeers, pc.addr)
	}
	c.metrics.PeersConnected(len(c.conns))
}

// Send delivers msg to peer and waits for the response. A remote failure is
// returned as *Failure.
func (c *Comm) Send(ctx context.Context, peer PeerID, msg NamedMessage) (NamedMessage, error) {
	if err := msg.Validate(); err != nil {
		return NamedMessage{}, err
	}

	c.mu.Lock()
	closed := c.closed
	pc, ok := c.conns[peer]
	c.mu.Unlock()
	if closed {
		return NamedMessage{}, ErrClosed
	}
	if !ok {
		return NamedMessage{}, fmt.Errorf("%w: %s", ErrUnknownPeer, peer.Short())
	}

	if _, has := ctx.Deadline(); !has && c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	defer c.metrics.RequestDuration(msg.Name).ObserveDuration()
	res, err := pc.request(ctx, msg)
	c.metrics.RequestCompleted(msg.Name, err == nil)
	return res, err
}

// admit runs an inbound request through the firewall and onto the inbound
// channel. It never blocks the read loop.
func (c *Comm) admit(pc *peerConn, f frame) {
	rr := NewReceiveRequest(pc.peer, NamedMessage{Name: f.Name, Data: f.Data}, pc.reply(f.ID))

	reject := func(code FailureCode, message string) {
		c.metrics.InboundRejected(code)
		go func() {
			if err := rr.Fail(code, message); err != nil {
				c.metrics.ResponseDropped()
				pc.log.Debug("failed to send rejection", slog.Any("error", err))
			}
		}()
	}

	if err := rr.Request.Validate(); err != nil {
		reject(FailureHandlerNotFound, err.Error())
		return
	}
	if !c.firewall.Allow(pc.peer, f.Name) {
		reject(FailureFirewallRejected, "")
		return
	}

	c.inMu.RLock()
	defer c.inMu.RUnlock()
	if c.inboundClosed {
		reject(FailureShutdown, "")
		return
	}
	select {
	case c.inbound <- rr:
		c.metrics.InboundAccepted(f.Name)
	default:
		pc.log.Warn("inbound queue full, rejecting request", slog.String("name", f.Name))
		reject(FailureInboundFull, "")
	}
}

func (c *Comm) isInboundClosed() bool {
	c.inMu.RLock()
	defer c.inMu.RUnlock()
	return c.inboundClosed
}

// CloseInbound stops intake: listeners are closed, further requests are
// answered with FailureShutdown and the inbound channel is closed. Existing
// connections stay up so responses to requests already handed out can still
// be delivered.
func (c *Comm) CloseInbound() {
	c.inMu.Lock()
	if c.inboundClosed {
		c.inMu.Unlock()
		return
	}
	c.inboundClosed = true
	close(c.inbound)
	c.inMu.Unlock()

	c.mu.Lock()
	ls := c.listeners
	c.listeners = nil
	c.mu.Unlock()
	for _, l := range ls {
		_ = l.Close()
	}
	c.log.Debug("inbound closed")
}

// Close shuts the layer down: intake stops and all connections are closed.
func (c *Comm) Close() error {
	c.CloseInbound()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conns := make([]*peerConn, 0, len(c.conns))
	for _, pc := range c.conns {
		conns = append(conns, pc)
	}
	c.mu.Unlock()

	c.cancel()
	for _, pc := range conns {
		pc.close(ErrClosed)
	}
	c.wg.Wait()
	c.log.Debug("closed")
	return nil
}
