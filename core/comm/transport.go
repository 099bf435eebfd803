package comm

import (
	"context"
	"io"
)

// Conn is a duplex byte stream between two nodes.
type Conn = io.ReadWriteCloser

// Listener accepts inbound connections on one address.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	// Addr is the address actually bound, e.g. with the port filled in.
	Addr() string
}

// Transport opens byte streams. Implementations must be safe for concurrent
// Listen and Dial calls; the layer shares one value across all of them.
type Transport interface {
	Listen(ctx context.Context, addr string) (Listener, error)
	Dial(ctx context.Context, addr string) (Conn, error)
}
