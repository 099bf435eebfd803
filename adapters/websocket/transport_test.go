package websocket

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/peeractor/core/comm"
)

func TestSplitAddr(t *testing.T) {
	for in, want := range map[string][2]string{
		"127.0.0.1:0":              {"127.0.0.1:0", DefaultPath},
		"ws://127.0.0.1:80":        {"127.0.0.1:80", DefaultPath},
		"ws://127.0.0.1:80/":       {"127.0.0.1:80", DefaultPath},
		"ws://127.0.0.1:80/a/b":    {"127.0.0.1:80", "/a/b"},
		"localhost:9000/peeractor": {"localhost:9000", "/peeractor"},
	} {
		hp, p := splitAddr(in)
		require.Equal(t, want, [2]string{hp, p}, in)
	}
}

func TestTransport_Stream(t *testing.T) {
	tr := New(nil)
	l, err := tr.Listen(t.Context(), "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	require.Contains(t, l.Addr(), "ws://127.0.0.1:")

	accepted := make(chan comm.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	client, err := tr.Dial(t.Context(), l.Addr())
	require.NoError(t, err)
	defer client.Close()

	var server comm.Conn
	select {
	case server = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("no connection accepted")
	}
	defer server.Close()

	_, err = client.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = client.Write([]byte("world"))
	require.NoError(t, err)

	buf := make([]byte, 11)
	_, err = io.ReadFull(server, buf)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(buf))

	require.NoError(t, l.Close())
	_, err = l.Accept()
	require.Error(t, err)
}

func TestTransport_Comm(t *testing.T) {
	tr := New(nil)
	server, inbound := comm.CreateTestComm(t, tr, 8)
	client, _ := comm.CreateTestComm(t, tr, 8)
	comm.Serve(inbound, func(rr *comm.ReceiveRequest) {
		_ = rr.Ok(comm.NamedMessage{Name: "pong", Data: rr.Request.Data})
	})

	peer, err := client.Dial(t.Context(), server.Addrs()[0])
	require.NoError(t, err)
	require.Equal(t, server.PeerID(), peer)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	res, err := client.Send(ctx, peer, comm.NamedMessage{Name: "ping", Data: []byte("over websocket")})
	require.NoError(t, err)
	require.Equal(t, "over websocket", string(res.Data))
}
