package actor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/peeractor/core/comm"
)

// CreateTestActor builds an actor listening on a fresh address of tr. It is
// shut down when the test ends.
func CreateTestActor(t *testing.T, tr comm.Transport, configure ...func(*Builder)) *Actor {
	b := NewBuilder().ListenOn("127.0.0.1:0")
	for _, fn := range configure {
		fn(b)
	}
	a, err := b.BuildWithTransport(t.Context(), tr)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Shutdown(context.Background())
	})
	return a
}

// ConnectTestActors dials b from a and returns b's peer id.
func ConnectTestActors(t *testing.T, a, b *Actor) PeerID {
	peer, err := a.Dial(t.Context(), b.Addrs()[0])
	require.NoError(t, err)
	require.Equal(t, b.PeerID(), peer)
	return peer
}
