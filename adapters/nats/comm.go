package nats

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	natsgo "github.com/nats-io/nats.go"

	"github.com/codewandler/peeractor/core/actor"
	"github.com/codewandler/peeractor/core/comm"
	"github.com/codewandler/peeractor/core/ds"
)

const (
	// AddrScheme prefixes the addresses a Comm listens on: nats:<peer id>.
	AddrScheme = "nats:"

	defaultSubjectPrefix = "peeractor"
	defaultInboundSize   = 512
	signContext          = "peeractor-nats:"
)

type frameKind string

const (
	frameHello   frameKind = "hello"
	frameRequest frameKind = "req"
)

// requestFrame is published to the subject of the target peer. Sig covers
// the JSON encoding of the frame with Sig unset, so the receiver can check
// who sent it and that it was meant for them.
type requestFrame struct {
	Kind  frameKind   `json:"k"`
	ID    string      `json:"id"`
	From  comm.PeerID `json:"from"`
	To    comm.PeerID `json:"to"`
	Key   []byte      `json:"key"`
	Name  string      `json:"name,omitempty"`
	Data  []byte      `json:"data,omitempty"`
	Nonce []byte      `json:"nonce,omitempty"`
	Sig   []byte      `json:"sig,omitempty"`
}

func (f requestFrame) signedBytes() []byte {
	f.Sig = nil
	b, _ := json.Marshal(f)
	return append([]byte(signContext), b...)
}

// responseFrame answers one requestFrame. Hello answers carry Key and a
// signature over the nonce of the hello.
type responseFrame struct {
	Name string        `json:"name,omitempty"`
	Data []byte        `json:"data,omitempty"`
	Err  *comm.Failure `json:"err,omitempty"`
	Key  []byte        `json:"key,omitempty"`
	Sig  []byte        `json:"sig,omitempty"`
}

type CommConfig struct {
	Connect Connector    // If nil, ConnectDefault() is used.
	Log     *slog.Logger // Log for diagnostics (optional)
	// SubjectPrefix for peer subjects, e.g. "peeractor" -> peeractor.<peer id>
	SubjectPrefix string
	Keys          comm.Keypair // generated when zero
	Firewall      comm.Rule    // nil allows everything
	Metrics       comm.Metrics
	// RequestTimeout bounds Send when ctx has no deadline (default 30s).
	RequestTimeout time.Duration
	InboundSize    int
}

// Comm is a communication layer that reaches peers through NATS subjects
// instead of direct connections. Every peer listens on
// <prefix>.<peer id>; requests are signed with the sender's key.
type Comm struct {
	nc       *natsgo.Conn
	closeNc  closeFunc
	log      *slog.Logger
	prefix   string
	keys     comm.Keypair
	firewall *comm.Firewall
	metrics  comm.Metrics
	timeout  time.Duration

	inMu          sync.RWMutex
	inbound       chan *comm.ReceiveRequest
	inboundClosed bool

	mu    sync.Mutex
	sub   *natsgo.Subscription
	addrs []string
	peers *ds.Set[comm.PeerID]

	closed atomic.Bool
}

var _ actor.Communication = (*Comm)(nil)

func NewComm(cfg CommConfig) (*Comm, error) {
	connFn := cfg.Connect
	if connFn == nil {
		connFn = ConnectDefault()
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	keys := cfg.Keys
	if keys.IsZero() {
		var err error
		if keys, err = comm.GenerateKeypair(); err != nil {
			return nil, err
		}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = comm.NopMetrics()
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	size := cfg.InboundSize
	if size <= 0 {
		size = defaultInboundSize
	}

	nc, closeNc, err := connFn()
	if err != nil {
		return nil, err
	}

	log = log.With(slog.String("comm", "nats"), slog.String("peer", keys.PeerID().Short()))
	return &Comm{
		nc:       nc,
		closeNc:  closeNc,
		log:      log,
		prefix:   prefix,
		keys:     keys,
		firewall: comm.NewFirewall(cfg.Firewall, log),
		metrics:  metrics,
		timeout:  timeout,
		inbound:  make(chan *comm.ReceiveRequest, size),
		peers:    ds.NewSet[comm.PeerID](),
	}, nil
}

func (c *Comm) subject(peer comm.PeerID) string { return c.prefix + "." + string(peer) }

func (c *Comm) PeerID() comm.PeerID                   { return c.keys.PeerID() }
func (c *Comm) Firewall() *comm.Firewall              { return c.firewall }
func (c *Comm) Inbound() <-chan *comm.ReceiveRequest { return c.inbound }

func (c *Comm) Addrs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.addrs)
}

// Peers returns the peers that were dialed or sent a request, sorted.
func (c *Comm) Peers() []comm.PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.peers.Values()
	slices.Sort(out)
	return out
}

func (c *Comm) addPeer(p comm.PeerID) {
	c.mu.Lock()
	added := c.peers.Add(p)
	n := c.peers.Len()
	c.mu.Unlock()
	if added {
		c.metrics.PeersConnected(n)
		c.log.Debug("peer seen", slog.String("remote", p.Short()))
	}
}

func (c *Comm) knows(p comm.PeerID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peers.Contains(p)
}

// Listen subscribes to the subject of this peer. addr is ignored; all
// listens share one subscription and report nats:<peer id>.
func (c *Comm) Listen(_ context.Context, _ string) (string, error) {
	if c.closed.Load() {
		return "", comm.ErrClosed
	}
	c.inMu.RLock()
	inboundClosed := c.inboundClosed
	c.inMu.RUnlock()
	if inboundClosed {
		return "", comm.ErrClosed
	}

	addr := AddrScheme + string(c.PeerID())
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub == nil {
		sub, err := c.nc.Subscribe(c.subject(c.PeerID()), c.onMsg)
		if err != nil {
			return "", fmt.Errorf("nats: subscribe: %w", err)
		}
		if err := c.nc.Flush(); err != nil {
			_ = sub.Unsubscribe()
			return "", fmt.Errorf("nats: flush subscription: %w", err)
		}
		c.sub = sub
		c.addrs = append(c.addrs, addr)
	}
	return addr, nil
}

// Dial proves the identity of the peer at addr (nats:<peer id> or a bare
// peer id) and registers it. It fails with comm.ErrUnknownPeer when nobody
// listens on its subject.
func (c *Comm) Dial(ctx context.Context, addr string) (comm.PeerID, error) {
	if c.closed.Load() {
		return "", comm.ErrClosed
	}
	peer := comm.PeerID(strings.TrimPrefix(addr, AddrScheme))
	if peer == "" {
		return "", fmt.Errorf("%w: empty address", comm.ErrHandshake)
	}
	if peer == c.PeerID() {
		return "", fmt.Errorf("%w: connected to self", comm.ErrHandshake)
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	rf, err := c.request(ctx, peer, requestFrame{Kind: frameHello, Nonce: nonce})
	if err != nil {
		return "", err
	}
	if err := verifyHello(peer, nonce, rf); err != nil {
		c.metrics.HandshakeFailed()
		return "", err
	}
	c.addPeer(peer)
	return peer, nil
}

func verifyHello(peer comm.PeerID, nonce []byte, rf responseFrame) error {
	if len(rf.Key) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: bad public key", comm.ErrHandshake)
	}
	pub := ed25519.PublicKey(rf.Key)
	if comm.PeerIDFromPublicKey(pub) != peer {
		return fmt.Errorf("%w: peer id does not match key", comm.ErrHandshake)
	}
	if !ed25519.Verify(pub, append([]byte(signContext), nonce...), rf.Sig) {
		return fmt.Errorf("%w: bad signature", comm.ErrHandshake)
	}
	return nil
}

// Send calls peer, which must have been dialed or have sent us a request.
func (c *Comm) Send(ctx context.Context, peer comm.PeerID, msg comm.NamedMessage) (comm.NamedMessage, error) {
	if err := msg.Validate(); err != nil {
		return comm.NamedMessage{}, err
	}
	if c.closed.Load() {
		return comm.NamedMessage{}, comm.ErrClosed
	}
	if !c.knows(peer) {
		return comm.NamedMessage{}, fmt.Errorf("%w: %s", comm.ErrUnknownPeer, peer.Short())
	}

	defer c.metrics.RequestDuration(msg.Name).ObserveDuration()
	rf, err := c.request(ctx, peer, requestFrame{Kind: frameRequest, Name: msg.Name, Data: msg.Data})
	if err == nil && rf.Err != nil {
		err = rf.Err
	}
	c.metrics.RequestCompleted(msg.Name, err == nil)
	if err != nil {
		return comm.NamedMessage{}, err
	}
	return comm.NamedMessage{Name: rf.Name, Data: rf.Data}, nil
}

func (c *Comm) request(ctx context.Context, peer comm.PeerID, f requestFrame) (responseFrame, error) {
	if _, has := ctx.Deadline(); !has {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	f.ID = gonanoid.Must()
	f.From = c.PeerID()
	f.To = peer
	f.Key = c.keys.PublicKey()
	f.Sig = c.keys.Sign(f.signedBytes())
	payload, err := json.Marshal(f)
	if err != nil {
		return responseFrame{}, fmt.Errorf("encode request: %w", err)
	}

	msg, err := c.nc.RequestWithContext(ctx, c.subject(peer), payload)
	switch {
	case errors.Is(err, natsgo.ErrNoResponders):
		return responseFrame{}, fmt.Errorf("%w: %s", comm.ErrUnknownPeer, peer.Short())
	case errors.Is(err, natsgo.ErrConnectionClosed):
		return responseFrame{}, comm.ErrClosed
	case err != nil:
		return responseFrame{}, fmt.Errorf("nats: request: %w", err)
	}

	var rf responseFrame
	if err := json.Unmarshal(msg.Data, &rf); err != nil {
		return responseFrame{}, fmt.Errorf("decode response: %w", err)
	}
	return rf, nil
}

// onMsg runs on the subscription's goroutine and must not block.
func (c *Comm) onMsg(msg *natsgo.Msg) {
	var f requestFrame
	if err := json.Unmarshal(msg.Data, &f); err != nil {
		c.log.Warn("dropping undecodable request", slog.Any("error", err))
		return
	}
	if err := c.verify(f); err != nil {
		c.metrics.HandshakeFailed()
		c.log.Warn("dropping unauthenticated request", slog.String("from", f.From.Short()), slog.Any("error", err))
		return
	}
	c.addPeer(f.From)

	switch f.Kind {
	case frameHello:
		rf := responseFrame{
			Key: c.keys.PublicKey(),
			Sig: c.keys.Sign(append([]byte(signContext), f.Nonce...)),
		}
		if err := c.publish(msg.Reply, rf); err != nil {
			c.log.Debug("failed to answer hello", slog.Any("error", err))
		}
	case frameRequest:
		c.admit(msg.Reply, f)
	default:
		c.log.Warn("dropping unknown frame", slog.String("kind", string(f.Kind)))
	}
}

func (c *Comm) verify(f requestFrame) error {
	if f.To != c.PeerID() {
		return fmt.Errorf("%w: addressed to %s", comm.ErrHandshake, f.To.Short())
	}
	if len(f.Key) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: bad public key", comm.ErrHandshake)
	}
	pub := ed25519.PublicKey(f.Key)
	if comm.PeerIDFromPublicKey(pub) != f.From {
		return fmt.Errorf("%w: peer id does not match key", comm.ErrHandshake)
	}
	if !ed25519.Verify(pub, f.signedBytes(), f.Sig) {
		return fmt.Errorf("%w: bad signature", comm.ErrHandshake)
	}
	return nil
}

func (c *Comm) publish(reply string, rf responseFrame) error {
	if reply == "" {
		return comm.ErrResponseChannelClosed
	}
	if c.closed.Load() {
		return comm.ErrResponseChannelClosed
	}
	b, err := json.Marshal(rf)
	if err != nil {
		return err
	}
	if err := c.nc.Publish(reply, b); err != nil {
		return fmt.Errorf("%w: %w", comm.ErrResponseChannelClosed, err)
	}
	return nil
}

func (c *Comm) admit(reply string, f requestFrame) {
	rr := comm.NewReceiveRequest(f.From, comm.NamedMessage{Name: f.Name, Data: f.Data}, func(resp comm.Response) error {
		return c.publish(reply, responseFrame{Name: resp.Message.Name, Data: resp.Message.Data, Err: resp.Err})
	})

	reject := func(code comm.FailureCode, message string) {
		c.metrics.InboundRejected(code)
		if err := rr.Fail(code, message); err != nil {
			c.metrics.ResponseDropped()
			c.log.Debug("failed to send rejection", slog.Any("error", err))
		}
	}

	if err := rr.Request.Validate(); err != nil {
		reject(comm.FailureHandlerNotFound, err.Error())
		return
	}
	if !c.firewall.Allow(f.From, f.Name) {
		reject(comm.FailureFirewallRejected, "")
		return
	}

	c.inMu.RLock()
	defer c.inMu.RUnlock()
	if c.inboundClosed {
		reject(comm.FailureShutdown, "")
		return
	}
	select {
	case c.inbound <- rr:
		c.metrics.InboundAccepted(f.Name)
	default:
		c.log.Warn("inbound queue full, rejecting request", slog.String("name", f.Name))
		reject(comm.FailureInboundFull, "")
	}
}

// CloseInbound closes the inbound channel. The subscription stays so later
// requests are answered with FailureShutdown and responses to requests
// already handed out still go through.
func (c *Comm) CloseInbound() {
	c.inMu.Lock()
	defer c.inMu.Unlock()
	if c.inboundClosed {
		return
	}
	c.inboundClosed = true
	close(c.inbound)
}

// Close unsubscribes and releases the connection. It is idempotent.
func (c *Comm) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.CloseInbound()

	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Unsubscribe()
	}
	// pending replies
	_ = c.nc.Flush()
	c.closeNc()
	return err
}
