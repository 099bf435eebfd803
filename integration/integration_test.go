package integration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/peeractor/adapters/websocket"
	"github.com/codewandler/peeractor/core/actor"
	"github.com/codewandler/peeractor/core/comm"
)

type (
	sumRequest  struct{ A, B int }
	sumResponse struct{ V int }
	relay       struct {
		To  actor.PeerID
		Req sumRequest
	}
	notify struct{ N int }
)

var errBoom = errors.New("boom")

func transports() map[string]func(*testing.T) comm.Transport {
	return map[string]func(*testing.T) comm.Transport{
		"memory":    func(t *testing.T) comm.Transport { return comm.CreateMemoryTransport(t) },
		"tcp":       func(*testing.T) comm.Transport { return comm.NewTCPTransport() },
		"websocket": func(*testing.T) comm.Transport { return websocket.New(nil) },
	}
}

func setup(a *actor.Actor, notified *atomic.Int64) {
	actor.HandleRequest(a, "sum", func(_ actor.HandlerCtx, in sumRequest) (*sumResponse, error) {
		return &sumResponse{V: in.A + in.B}, nil
	})
	actor.HandleRequest(a, "relay", func(hc actor.HandlerCtx, in relay) (*sumResponse, error) {
		return actor.Request[sumRequest, sumResponse](hc, hc, in.To, "sum", in.Req)
	})
	actor.HandleMsg(a, "notify", func(_ actor.HandlerCtx, in notify) error {
		notified.Add(int64(in.N))
		return nil
	})
	actor.HandleMsg(a, "fail", func(actor.HandlerCtx, struct{}) error {
		return errBoom
	})
}

func TestIntegration(t *testing.T) {
	for name, newTransport := range transports() {
		t.Run(name, func(t *testing.T) {
			tr := newTransport(t)

			var notified atomic.Int64
			nodes := make([]*actor.Actor, 3)
			for i := range nodes {
				nodes[i] = actor.CreateTestActor(t, tr)
				setup(nodes[i], &notified)
			}
			// a full mesh, dialed one way
			for i := range nodes {
				for j := i + 1; j < len(nodes); j++ {
					actor.ConnectTestActors(t, nodes[i], nodes[j])
				}
			}
			require.Eventually(t, func() bool {
				for _, n := range nodes {
					if len(n.Peers()) != len(nodes)-1 {
						return false
					}
				}
				return true
			}, 5*time.Second, 10*time.Millisecond)

			a, b, c := nodes[0], nodes[1], nodes[2]

			res, err := actor.Request[sumRequest, sumResponse](t.Context(), a, b.PeerID(), "sum", sumRequest{A: 1, B: 2})
			require.NoError(t, err)
			assert.Equal(t, 3, res.V)

			// c reaches a over the connection a dialed
			res, err = actor.Request[sumRequest, sumResponse](t.Context(), c, a.PeerID(), "sum", sumRequest{A: 4, B: 5})
			require.NoError(t, err)
			assert.Equal(t, 9, res.V)

			res, err = actor.Request[relay, sumResponse](t.Context(), a, b.PeerID(), "relay", relay{To: c.PeerID(), Req: sumRequest{A: 10, B: 20}})
			require.NoError(t, err)
			assert.Equal(t, 30, res.V)

			_, err = a.Send(t.Context(), b.PeerID(), actor.NamedMessage{Name: "nope"})
			require.ErrorIs(t, err, actor.ErrHandlerNotFound)

			_, err = a.Send(t.Context(), b.PeerID(), actor.NamedMessage{Name: "fail"})
			require.ErrorIs(t, err, actor.ErrHandlerFailed)

			var wg sync.WaitGroup
			for i := range 50 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					from, to := nodes[i%3], nodes[(i+1)%3]
					_, err := from.Send(t.Context(), to.PeerID(), actor.NamedMessage{Name: "notify", Data: []byte(`{"N":1}`)})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()
			assert.Equal(t, int64(50), notified.Load())
		})
	}
}

// A request in flight when the remote begins to shut down still gets its
// answer; requests arriving afterwards are refused.
func TestGracefulShutdown(t *testing.T) {
	for name, newTransport := range transports() {
		t.Run(name, func(t *testing.T) {
			tr := newTransport(t)
			server := actor.CreateTestActor(t, tr)
			client := actor.CreateTestActor(t, tr)

			started := make(chan struct{})
			release := make(chan struct{})
			server.HandleFunc("slow", func(_ actor.HandlerCtx, msg actor.NamedMessage) (actor.NamedMessage, error) {
				close(started)
				<-release
				return msg, nil
			})
			peer := actor.ConnectTestActors(t, client, server)

			type result struct {
				msg actor.NamedMessage
				err error
			}
			done := make(chan result, 1)
			go func() {
				msg, err := client.Send(t.Context(), peer, actor.NamedMessage{Name: "slow", Data: []byte(`"ok"`)})
				done <- result{msg, err}
			}()
			<-started

			shutdown := make(chan error, 1)
			go func() { shutdown <- server.Shutdown(context.Background()) }()

			require.Eventually(t, func() bool {
				_, err := client.Send(t.Context(), peer, actor.NamedMessage{Name: "probe"})
				return errors.Is(err, actor.ErrShuttingDown)
			}, 5*time.Second, 10*time.Millisecond)

			close(release)
			r := <-done
			require.NoError(t, r.err)
			assert.Equal(t, `"ok"`, string(r.msg.Data))
			require.NoError(t, <-shutdown)
			assert.Equal(t, actor.StateShutdown, server.State())
		})
	}
}
