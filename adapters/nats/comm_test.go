package nats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/peeractor/core/actor"
	"github.com/codewandler/peeractor/core/comm"
)

type add struct {
	A int `json:"a"`
	B int `json:"b"`
}

type sum struct {
	N int `json:"n"`
}

func newTestComm(t *testing.T, connect Connector, rule comm.Rule) *Comm {
	c, err := NewComm(CommConfig{
		Connect:        connect,
		SubjectPrefix:  "test-peeractor",
		Firewall:       rule,
		RequestTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newNatsActor(t *testing.T, connect Connector, rule comm.Rule) *actor.Actor {
	c := newTestComm(t, connect, rule)
	addr, err := c.Listen(t.Context(), "")
	require.NoError(t, err)
	a := actor.New(c, actor.Options{Addrs: []string{addr}})
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestComm_ListenReportsPeerAddress(t *testing.T) {
	c := newTestComm(t, NewTestContainer(t), nil)

	addr, err := c.Listen(t.Context(), "ignored")
	require.NoError(t, err)
	require.Equal(t, AddrScheme+string(c.PeerID()), addr)

	again, err := c.Listen(t.Context(), "")
	require.NoError(t, err)
	require.Equal(t, addr, again)
	require.Equal(t, []string{addr}, c.Addrs())
}

func TestComm_ActorRoundTrip(t *testing.T) {
	connect := NewTestContainer(t)
	server := newNatsActor(t, connect, nil)
	client := newNatsActor(t, connect, nil)

	actor.HandleRequest(server, "add", func(_ actor.HandlerCtx, in add) (*sum, error) {
		return &sum{N: in.A + in.B}, nil
	})

	peer, err := client.Dial(t.Context(), server.Addrs()[0])
	require.NoError(t, err)
	require.Equal(t, server.PeerID(), peer)
	require.Contains(t, client.Peers(), server.PeerID())

	out, err := actor.Request[add, sum](t.Context(), client, peer, "add", add{A: 2, B: 40})
	require.NoError(t, err)
	require.Equal(t, 42, out.N)

	// the server learns the client from its signed requests
	assert.Contains(t, server.Peers(), client.PeerID())

	_, err = client.Send(t.Context(), peer, comm.NamedMessage{Name: "missing"})
	require.ErrorIs(t, err, comm.ErrHandlerNotFound)
}

func TestComm_SendRequiresKnownPeer(t *testing.T) {
	connect := NewTestContainer(t)
	a := newTestComm(t, connect, nil)
	b := newTestComm(t, connect, nil)
	_, err := b.Listen(t.Context(), "")
	require.NoError(t, err)

	_, err = a.Send(t.Context(), b.PeerID(), comm.NamedMessage{Name: "ping"})
	require.ErrorIs(t, err, comm.ErrUnknownPeer)
}

func TestComm_DialWithoutListener(t *testing.T) {
	connect := NewTestContainer(t)
	a := newTestComm(t, connect, nil)
	keys, err := comm.GenerateKeypair()
	require.NoError(t, err)

	_, err = a.Dial(t.Context(), AddrScheme+string(keys.PeerID()))
	require.ErrorIs(t, err, comm.ErrUnknownPeer)

	_, err = a.Dial(t.Context(), AddrScheme+string(a.PeerID()))
	require.ErrorIs(t, err, comm.ErrHandshake)
}

func TestComm_FirewallRejects(t *testing.T) {
	connect := NewTestContainer(t)
	server := newNatsActor(t, connect, comm.AllowNames("open"))
	client := newNatsActor(t, connect, nil)
	server.HandleFunc("open", func(_ actor.HandlerCtx, msg comm.NamedMessage) (comm.NamedMessage, error) { return msg, nil })
	server.HandleFunc("closed", func(_ actor.HandlerCtx, msg comm.NamedMessage) (comm.NamedMessage, error) { return msg, nil })

	peer, err := client.Dial(t.Context(), server.Addrs()[0])
	require.NoError(t, err)

	_, err = client.Send(t.Context(), peer, comm.NamedMessage{Name: "open", Data: []byte("x")})
	require.NoError(t, err)

	_, err = client.Send(t.Context(), peer, comm.NamedMessage{Name: "closed", Data: []byte("x")})
	require.ErrorIs(t, err, comm.ErrFirewallRejected)
}

func TestComm_RejectsAfterCloseInbound(t *testing.T) {
	connect := NewTestContainer(t)
	server := newTestComm(t, connect, nil)
	client := newTestComm(t, connect, nil)
	addr, err := server.Listen(t.Context(), "")
	require.NoError(t, err)
	peer, err := client.Dial(t.Context(), addr)
	require.NoError(t, err)

	server.CloseInbound()
	_, open := <-server.Inbound()
	require.False(t, open)

	_, err = client.Send(t.Context(), peer, comm.NamedMessage{Name: "ping"})
	require.ErrorIs(t, err, comm.ErrShuttingDown)

	require.NoError(t, server.Close())
	require.NoError(t, server.Close())
	_, err = client.Send(t.Context(), peer, comm.NamedMessage{Name: "ping"})
	require.ErrorIs(t, err, comm.ErrUnknownPeer)
}

func TestComm_ActorShutdownClosesComm(t *testing.T) {
	connect := NewTestContainer(t)
	c := newTestComm(t, connect, nil)
	_, err := c.Listen(t.Context(), "")
	require.NoError(t, err)
	a := actor.New(c, actor.Options{})

	require.NoError(t, a.Shutdown(t.Context()))
	require.Equal(t, actor.StateShutdown, a.State())

	_, err = c.Listen(t.Context(), "")
	require.ErrorIs(t, err, comm.ErrClosed)
}
