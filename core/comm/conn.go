package comm

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/peeractor/internal/codec"
)

const (
	nonceSize        = 32
	handshakeContext = "peeractor-handshake:"
)

type frameKind string

const (
	frameRequest  frameKind = "req"
	frameResponse frameKind = "res"
)

type frame struct {
	Kind frameKind `json:"k"`
	ID   string    `json:"id"`
	Name string    `json:"name,omitempty"`
	Data []byte    `json:"data,omitempty"`
	Err  *Failure  `json:"err,omitempty"`
}

type handshake struct {
	Nonce     []byte `json:"nonce,omitempty"`
	PeerID    PeerID `json:"peer_id,omitempty"`
	PublicKey []byte `json:"public_key,omitempty"`
	Signature []byte `json:"signature,omitempty"`
}

func newNonce() ([]byte, error) {
	n := make([]byte, nonceSize)
	if _, err := rand.Read(n); err != nil {
		return nil, err
	}
	return n, nil
}

func signNonce(keys Keypair, nonce []byte) []byte {
	return keys.Sign(append([]byte(handshakeContext), nonce...))
}

// verify checks that h proves possession of the key behind h.PeerID for the
// nonce we sent.
func (h handshake) verify(nonce []byte) (PeerID, error) {
	if len(h.PublicKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: bad public key", ErrHandshake)
	}
	pub := ed25519.PublicKey(h.PublicKey)
	if PeerIDFromPublicKey(pub) != h.PeerID {
		return "", fmt.Errorf("%w: peer id does not match key", ErrHandshake)
	}
	if !ed25519.Verify(pub, append([]byte(handshakeContext), nonce...), h.Signature) {
		return "", fmt.Errorf("%w: bad signature", ErrHandshake)
	}
	return h.PeerID, nil
}

// peerConn multiplexes requests in both directions over one connection.
type peerConn struct {
	c    *Comm
	log  *slog.Logger
	peer PeerID
	addr string // dialed address, empty for inbound connections

	conn Conn
	w    *codec.Writer
	r    *codec.Reader

	mu      sync.Mutex
	pending map[string]chan frame
	closed  bool
	done    chan struct{}
}

func newPeerConn(c *Comm, conn Conn) *peerConn {
	return &peerConn{
		c:       c,
		log:     c.log,
		conn:    conn,
		w:       codec.NewWriter(conn, nil),
		r:       codec.NewReader(conn, nil),
		pending: make(map[string]chan frame),
		done:    make(chan struct{}),
	}
}

// handshake authenticates both ends. The dialer speaks first so that
// unbuffered streams (net.Pipe) never see both ends writing at once.
func (pc *peerConn) handshake(dialer bool, timeout time.Duration) (err error) {
	if d, ok := pc.conn.(interface{ SetDeadline(time.Time) error }); ok && timeout > 0 {
		_ = d.SetDeadline(time.Now().Add(timeout))
		defer func() { _ = d.SetDeadline(time.Time{}) }()
	}

	keys := pc.c.keys
	ours, err := newNonce()
	if err != nil {
		return err
	}
	hello := func(theirs []byte, withNonce bool) handshake {
		h := handshake{
			PeerID:    keys.PeerID(),
			PublicKey: keys.PublicKey(),
			Signature: signNonce(keys, theirs),
		}
		if withNonce {
			h.Nonce = ours
		}
		return h
	}

	var remote handshake
	if dialer {
		if err = pc.w.WriteFrame(handshake{Nonce: ours}); err != nil {
			return fmt.Errorf("%w: %w", ErrHandshake, err)
		}
		if err = pc.r.ReadFrame(&remote); err != nil {
			return fmt.Errorf("%w: %w", ErrHandshake, err)
		}
		if pc.peer, err = remote.verify(ours); err != nil {
			return err
		}
		if err = pc.w.WriteFrame(hello(remote.Nonce, false)); err != nil {
			return fmt.Errorf("%w: %w", ErrHandshake, err)
		}
	} else {
		var challenge handshake
		if err = pc.r.ReadFrame(&challenge); err != nil {
			return fmt.Errorf("%w: %w", ErrHandshake, err)
		}
		if len(challenge.Nonce) != nonceSize {
			return fmt.Errorf("%w: bad nonce", ErrHandshake)
		}
		if err = pc.w.WriteFrame(hello(challenge.Nonce, true)); err != nil {
			return fmt.Errorf("%w: %w", ErrHandshake, err)
		}
		if err = pc.r.ReadFrame(&remote); err != nil {
			return fmt.Errorf("%w: %w", ErrHandshake, err)
		}
		if pc.peer, err = remote.verify(ours); err != nil {
			return err
		}
	}

	if pc.peer == keys.PeerID() {
		return fmt.Errorf("%w: connected to self", ErrHandshake)
	}
	pc.log = pc.c.log.With(slog.String("peer", pc.peer.Short()))
	return nil
}

func (pc *peerConn) readLoop() {
	var err error
	defer func() { pc.close(err) }()

	for {
		var f frame
		if err = pc.r.ReadFrame(&f); err != nil {
			return
		}
		switch f.Kind {
		case frameRequest:
			pc.c.admit(pc, f)
		case frameResponse:
			pc.deliver(f)
		default:
			pc.log.Warn("dropping unknown frame", slog.String("kind", string(f.Kind)))
		}
	}
}

func (pc *peerConn) deliver(f frame) {
	pc.mu.Lock()
	ch, ok := pc.pending[f.ID]
	delete(pc.pending, f.ID)
	pc.mu.Unlock()

	if !ok {
		pc.log.Debug("dropping late response", slog.String("id", f.ID))
		return
	}
	ch <- f
}

// request sends msg and waits for the matching response frame.
func (pc *peerConn) request(ctx context.Context, msg NamedMessage) (NamedMessage, error) {
	id := gonanoid.Must()
	ch := make(chan frame, 1)

	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return NamedMessage{}, ErrClosed
	}
	pc.pending[id] = ch
	pc.mu.Unlock()

	defer func() {
		pc.mu.Lock()
		delete(pc.pending, id)
		pc.mu.Unlock()
	}()

	if err := pc.w.WriteFrame(frame{Kind: frameRequest, ID: id, Name: msg.Name, Data: msg.Data}); err != nil {
		pc.close(err)
		return NamedMessage{}, fmt.Errorf("comm: write request: %w", err)
	}

	select {
	case <-ctx.Done():
		return NamedMessage{}, ctx.Err()
	case <-pc.done:
		return NamedMessage{}, ErrClosed
	case f := <-ch:
		if f.Err != nil {
			return NamedMessage{}, f.Err
		}
		return NamedMessage{Name: f.Name, Data: f.Data}, nil
	}
}

// reply returns the response channel for inbound request id.
func (pc *peerConn) reply(id string) ReplyFunc {
	return func(resp Response) error {
		select {
		case <-pc.done:
			return ErrResponseChannelClosed
		default:
		}
		f := frame{Kind: frameResponse, ID: id, Name: resp.Message.Name, Data: resp.Message.Data, Err: resp.Err}
		if err := pc.w.WriteFrame(f); err != nil {
			return fmt.Errorf("%w: %w", ErrResponseChannelClosed, err)
		}
		return nil
	}
}

func (pc *peerConn) close(cause error) {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return
	}
	pc.closed = true
	close(pc.done)
	pc.mu.Unlock()

	_ = pc.conn.Close()
	pc.c.forget(pc)

	if cause != nil && !errors.Is(cause, io.EOF) && !errors.Is(cause, net.ErrClosed) && !errors.Is(cause, io.ErrClosedPipe) {
		pc.log.Debug("connection closed", slog.Any("error", cause))
	}
}
