package comm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func CreateMemoryTransport(t *testing.T) *MemoryTransport {
	tr := NewMemoryTransport()
	t.Cleanup(func() {
		require.NoError(t, tr.Close())
	})
	return tr
}

// CreateTestComm builds a Comm on tr, binds one address and returns it with
// its inbound channel. It is closed when the test ends.
func CreateTestComm(t *testing.T, tr Transport, inboundSize int, opts ...Option) (*Comm, chan *ReceiveRequest) {
	inbound := make(chan *ReceiveRequest, inboundSize)
	c, err := NewBuilder(inbound, opts...).Build(t.Context(), tr)
	require.NoError(t, err)
	_, err = c.Listen(t.Context(), "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, c.Close())
	})
	return c, inbound
}

// Serve answers every inbound request with fn until the channel closes.
func Serve(inbound <-chan *ReceiveRequest, fn func(*ReceiveRequest)) {
	go func() {
		for rr := range inbound {
			fn(rr)
		}
	}()
}
