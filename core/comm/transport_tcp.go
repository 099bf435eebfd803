package comm

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPTransport is the default transport.
type TCPTransport struct {
	DialTimeout time.Duration
	KeepAlive   time.Duration
}

func NewTCPTransport() *TCPTransport {
	return &TCPTransport{DialTimeout: 10 * time.Second, KeepAlive: 30 * time.Second}
}

func (t *TCPTransport) Listen(ctx context.Context, addr string) (Listener, error) {
	lc := net.ListenConfig{KeepAlive: t.KeepAlive}
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: listen %s: %w", addr, err)
	}
	return &tcpListener{l: l}, nil
}

func (t *TCPTransport) Dial(ctx context.Context, addr string) (Conn, error) {
	d := net.Dialer{Timeout: t.DialTimeout, KeepAlive: t.KeepAlive}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: dial %s: %w", addr, err)
	}
	return c, nil
}

type tcpListener struct {
	l net.Listener
}

func (l *tcpListener) Accept() (Conn, error) { return l.l.Accept() }
func (l *tcpListener) Close() error          { return l.l.Close() }
func (l *tcpListener) Addr() string          { return l.l.Addr().String() }

var _ Transport = (*TCPTransport)(nil)
