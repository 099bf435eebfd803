// Package websocket carries the communication layer over websocket
// connections, for peers that can only reach each other through HTTP
// infrastructure. Each direction of a connection is a stream of binary
// frames; the framing of the communication layer runs on top unchanged.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/codewandler/peeractor/core/comm"
)

const (
	scheme      = "ws://"
	DefaultPath = "/peeractor"
)

// Transport implements comm.Transport. Listen addresses are host:port,
// optionally with ws:// scheme and path; Listen reports ws://host:port/path.
type Transport struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{log: log.With(slog.String("transport", "websocket"))}
}

func splitAddr(addr string) (hostport, path string) {
	addr = strings.TrimPrefix(addr, scheme)
	hostport, path, found := strings.Cut(addr, "/")
	if !found || path == "" {
		return hostport, DefaultPath
	}
	return hostport, "/" + path
}

func (t *Transport) Listen(ctx context.Context, addr string) (comm.Listener, error) {
	hostport, path := splitAddr(addr)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", hostport)
	if err != nil {
		return nil, err
	}

	l := &listener{
		addr:   scheme + ln.Addr().String() + path,
		accept: make(chan comm.Conn),
		done:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.Handle(path, websocket.Server{Handler: l.serve})
	l.srv = &http.Server{Handler: mux}

	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Error("websocket server failed", slog.String("addr", l.addr), slog.Any("error", err))
		}
	}()

	t.log.Debug("listen", slog.String("addr", l.addr))
	return l, nil
}

func (t *Transport) Dial(ctx context.Context, addr string) (comm.Conn, error) {
	hostport, path := splitAddr(addr)
	cfg, err := websocket.NewConfig(scheme+hostport+path, "http://"+hostport)
	if err != nil {
		return nil, fmt.Errorf("websocket: dial %s: %w", addr, err)
	}
	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("websocket: dial %s: %w", addr, err)
	}
	return newConn(ws), nil
}

// conn is a websocket connection in binary mode.
type conn struct {
	*websocket.Conn
	once   sync.Once
	closed chan struct{}
}

func newConn(ws *websocket.Conn) *conn {
	ws.PayloadType = websocket.BinaryFrame
	return &conn{Conn: ws, closed: make(chan struct{})}
}

func (c *conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.Conn.Close()
	})
	return err
}

type listener struct {
	addr   string
	srv    *http.Server
	accept chan comm.Conn
	done   chan struct{}
	once   sync.Once
}

// serve hands the connection to Accept and keeps the handler alive until it
// is closed; the websocket package closes it when the handler returns.
func (l *listener) serve(ws *websocket.Conn) {
	c := newConn(ws)
	select {
	case l.accept <- c:
	case <-l.done:
		return
	}
	<-c.closed
}

func (l *listener) Accept() (comm.Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

// Close stops accepting. Connections already handed out stay open until
// their owner closes them.
func (l *listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.srv.Close()
	})
	return err
}

func (l *listener) Addr() string { return l.addr }

var _ comm.Transport = (*Transport)(nil)
