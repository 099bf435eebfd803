package actor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/peeractor/core/comm"
	"github.com/codewandler/peeractor/core/objectstore"
)

type counter struct {
	N int `json:"n"`
}

func (*counter) Kind() string { return "counter" }

func echo(_ HandlerCtx, msg NamedMessage) (NamedMessage, error) { return msg, nil }

// newTestPair returns a server actor and the peer id a client actor reaches
// it under.
func newTestPair(t *testing.T, configure ...func(*Builder)) (server, client *Actor, peer PeerID) {
	tr := comm.CreateMemoryTransport(t)
	server = CreateTestActor(t, tr, configure...)
	client = CreateTestActor(t, tr)
	peer = ConnectTestActors(t, client, server)
	return
}

func TestActor_ScenarioA_HandlerNotFound(t *testing.T) {
	_, client, peer := newTestPair(t)

	_, err := client.Send(t.Context(), peer, NamedMessage{Name: "ping", Data: []byte{}})
	require.ErrorIs(t, err, ErrHandlerNotFound)

	var f *Failure
	require.ErrorAs(t, err, &f)
	require.Equal(t, comm.FailureHandlerNotFound, f.Code)
	require.Equal(t, "ping", f.Message)
}

func TestActor_ScenarioB_Echo(t *testing.T) {
	server, client, peer := newTestPair(t)
	require.False(t, server.HandleFunc("echo", echo))

	res, err := client.Send(t.Context(), peer, NamedMessage{Name: "echo", Data: []byte{1, 2, 3}})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, res.Data)
	require.Equal(t, "echo", res.Name)
}

func TestActor_ScenarioC_Counter(t *testing.T) {
	server, client, peer := newTestPair(t)
	require.NoError(t, server.Objects().Insert(t.Context(), "counter", &counter{}))

	HandleRequest(server, "counter", func(hc HandlerCtx, _ struct{}) (*counter, error) {
		return objectstore.Mutate(hc, hc.Objects(), "counter", func(c *counter) (*counter, error) {
			return &counter{N: c.N + 1}, nil
		})
	})

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		counts []int
	)
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := Request[struct{}, counter](t.Context(), client, peer, "counter", struct{}{})
			require.NoError(t, err)
			mu.Lock()
			counts = append(counts, res.N)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Ints(counts)
	require.Equal(t, []int{1, 2, 3}, counts)

	c, err := objectstore.Get[*counter](t.Context(), server.Objects(), "counter")
	require.NoError(t, err)
	require.Equal(t, 3, c.N)
}

func TestActor_ScenarioD_ShutdownDrainsInflight(t *testing.T) {
	server, client, peer := newTestPair(t)

	started := make(chan struct{})
	release := make(chan struct{})
	server.HandleFunc("slow", func(hc HandlerCtx, msg NamedMessage) (NamedMessage, error) {
		close(started)
		<-release
		return NamedMessage{Data: []byte("done")}, nil
	})
	server.HandleFunc("ping", echo)

	type result struct {
		msg NamedMessage
		err error
	}
	slow := make(chan result, 1)
	go func() {
		msg, err := client.Send(t.Context(), peer, NamedMessage{Name: "slow"})
		slow <- result{msg, err}
	}()
	<-started

	shutdown := make(chan error, 1)
	go func() { shutdown <- server.Shutdown(t.Context()) }()

	// new requests are turned away while the slow one is still running
	require.Eventually(t, func() bool {
		_, err := client.Send(t.Context(), peer, NamedMessage{Name: "ping"})
		return errors.Is(err, ErrShuttingDown)
	}, time.Second, 5*time.Millisecond)

	select {
	case <-server.Done():
		t.Fatal("actor stopped before the in-flight handler finished")
	default:
	}

	close(release)
	r := <-slow
	require.NoError(t, r.err)
	require.Equal(t, "done", string(r.msg.Data))

	require.NoError(t, <-shutdown)
	<-server.Done()
	require.Equal(t, StateShutdown, server.State())
}

func TestActor_ShutdownTimeout(t *testing.T) {
	server, client, peer := newTestPair(t, func(b *Builder) {
		b.WithShutdownGrace(50 * time.Millisecond)
	})

	started := make(chan struct{})
	server.HandleFunc("stuck", func(hc HandlerCtx, msg NamedMessage) (NamedMessage, error) {
		close(started)
		<-hc.Done()
		return NamedMessage{}, hc.Err()
	})

	go func() { _, _ = client.Send(t.Context(), peer, NamedMessage{Name: "stuck"}) }()
	<-started

	err := server.Shutdown(t.Context())
	require.ErrorIs(t, err, ErrShutdownTimeout)
	require.ErrorIs(t, server.Shutdown(t.Context()), ErrShutdownTimeout)
	<-server.Done()
}

func TestActor_HandlerPanic(t *testing.T) {
	var panics atomic.Int32
	server, client, peer := newTestPair(t, func(b *Builder) {
		b.WithOnPanic(func(recovered any, stack []byte, msg NamedMessage) {
			require.Equal(t, "boom", recovered)
			require.NotEmpty(t, stack)
			require.Equal(t, "explode", msg.Name)
			panics.Add(1)
		})
	})
	server.HandleFunc("explode", func(HandlerCtx, NamedMessage) (NamedMessage, error) {
		panic("boom")
	})
	server.HandleFunc("echo", echo)

	_, err := client.Send(t.Context(), peer, NamedMessage{Name: "explode"})
	require.ErrorIs(t, err, ErrHandlerFailed)
	require.ErrorContains(t, err, "boom")
	require.EqualValues(t, 1, panics.Load())

	// the loop survives
	res, err := client.Send(t.Context(), peer, NamedMessage{Name: "echo", Data: []byte("ok")})
	require.NoError(t, err)
	require.Equal(t, "ok", string(res.Data))
}

func TestActor_HandlerErrors(t *testing.T) {
	server, client, peer := newTestPair(t)
	server.HandleFunc("fail", func(HandlerCtx, NamedMessage) (NamedMessage, error) {
		return NamedMessage{}, errors.New("uups")
	})
	server.HandleFunc("custom", func(HandlerCtx, NamedMessage) (NamedMessage, error) {
		return NamedMessage{}, fmt.Errorf("wrapped: %w", &Failure{Code: comm.FailureHandlerNotFound, Message: "nested"})
	})

	_, err := client.Send(t.Context(), peer, NamedMessage{Name: "fail"})
	require.ErrorIs(t, err, ErrHandlerFailed)
	require.ErrorContains(t, err, "uups")

	_, err = client.Send(t.Context(), peer, NamedMessage{Name: "custom"})
	require.ErrorIs(t, err, ErrHandlerNotFound)
	require.ErrorContains(t, err, "nested")
}

func TestActor_ExactlyOneResponse(t *testing.T) {
	in := make(chan *comm.ReceiveRequest, 8)
	c := &fakeComm{in: in}
	a := New(c, Options{})
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	a.HandleFunc("ok", echo)
	a.HandleFunc("err", func(HandlerCtx, NamedMessage) (NamedMessage, error) {
		return NamedMessage{}, errors.New("x")
	})
	a.HandleFunc("panic", func(HandlerCtx, NamedMessage) (NamedMessage, error) { panic("x") })

	var (
		mu    sync.Mutex
		calls = map[string]int{}
		wg    sync.WaitGroup
	)
	for _, name := range []string{"ok", "err", "panic", "missing"} {
		for i := range 10 {
			id := fmt.Sprintf("%s-%d", name, i)
			wg.Add(1)
			in <- comm.NewReceiveRequest("p", NamedMessage{Name: name}, func(comm.Response) error {
				mu.Lock()
				calls[id]++
				mu.Unlock()
				wg.Done()
				return nil
			})
		}
	}
	wg.Wait()

	require.NoError(t, a.Shutdown(t.Context()))
	require.Len(t, calls, 40)
	for id, n := range calls {
		require.Equal(t, 1, n, id)
	}
}

func TestActor_DifferentNamesDoNotSerialize(t *testing.T) {
	server, client, peer := newTestPair(t)

	started := make(chan struct{})
	release := make(chan struct{})
	server.HandleFunc("slow", func(HandlerCtx, NamedMessage) (NamedMessage, error) {
		close(started)
		<-release
		return NamedMessage{}, nil
	})
	server.HandleFunc("fast", echo)

	slowDone := make(chan error, 1)
	go func() {
		_, err := client.Send(t.Context(), peer, NamedMessage{Name: "slow"})
		slowDone <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	_, err := client.Send(ctx, peer, NamedMessage{Name: "fast"})
	require.NoError(t, err, "fast handler waited for the slow one")

	close(release)
	require.NoError(t, <-slowDone)
}

func TestActor_RegistrationReplacesAtomically(t *testing.T) {
	server, client, peer := newTestPair(t)
	version := func(v string) HandlerFunc {
		return func(HandlerCtx, NamedMessage) (NamedMessage, error) {
			return NamedMessage{Data: []byte(v)}, nil
		}
	}

	require.False(t, server.Handle("v", version("1")))
	res, err := client.Send(t.Context(), peer, NamedMessage{Name: "v"})
	require.NoError(t, err)
	require.Equal(t, "1", string(res.Data))

	require.True(t, server.Handle("v", version("2")))
	res, err = client.Send(t.Context(), peer, NamedMessage{Name: "v"})
	require.NoError(t, err)
	require.Equal(t, "2", string(res.Data))

	// flip while serving: every answer comes from one of the two versions
	stop := make(chan struct{})
	go func() {
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			server.Handle("v", version(fmt.Sprint(1+i%2)))
		}
	}()
	defer close(stop)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := client.Send(t.Context(), peer, NamedMessage{Name: "v"})
			require.NoError(t, err)
			require.Contains(t, []string{"1", "2"}, string(res.Data))
		}()
	}
	wg.Wait()

	require.True(t, server.Unhandle("v"))
}

func TestActor_TypedRequest(t *testing.T) {
	type (
		addReq struct{ A, B int }
		addRes struct{ Sum int }
	)
	server, client, peer := newTestPair(t)
	HandleRequest(server, "add", func(hc HandlerCtx, in addReq) (*addRes, error) {
		require.Equal(t, client.PeerID(), hc.Peer())
		require.Equal(t, "add", hc.Name())
		return &addRes{Sum: in.A + in.B}, nil
	})

	res, err := Request[addReq, addRes](t.Context(), client, peer, "add", addReq{A: 1, B: 2})
	require.NoError(t, err)
	require.Equal(t, 3, res.Sum)

	got := make(chan string, 1)
	HandleMsg(server, "note", func(hc HandlerCtx, in string) error {
		got <- in
		return nil
	})
	res2, err := Request[string, struct{}](t.Context(), client, peer, "note", "hi")
	require.NoError(t, err)
	require.Nil(t, res2)
	require.Equal(t, "hi", <-got)

	_, err = client.Send(t.Context(), peer, NamedMessage{Name: "add", Data: []byte("{broken")})
	require.ErrorIs(t, err, ErrHandlerFailed)
}

func TestActor_ScheduleAndReply(t *testing.T) {
	server, client, peer := newTestPair(t)

	ran := make(chan struct{})
	server.HandleFunc("later", func(hc HandlerCtx, msg NamedMessage) (NamedMessage, error) {
		hc.Schedule(func() { close(ran) })
		return msg, nil
	})
	// handlers can call back into the requester
	client.HandleFunc("whoami", func(hc HandlerCtx, msg NamedMessage) (NamedMessage, error) {
		return NamedMessage{Data: []byte(hc.Peer())}, nil
	})
	server.HandleFunc("callback", func(hc HandlerCtx, msg NamedMessage) (NamedMessage, error) {
		return hc.Send(hc, hc.Peer(), NamedMessage{Name: "whoami"})
	})

	_, err := client.Send(t.Context(), peer, NamedMessage{Name: "later"})
	require.NoError(t, err)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("scheduled task did not run")
	}

	res, err := client.Send(t.Context(), peer, NamedMessage{Name: "callback"})
	require.NoError(t, err)
	require.Equal(t, string(server.PeerID()), string(res.Data))
}

func TestActor_ParentContextStopsActor(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	a := CreateTestActor(t, comm.CreateMemoryTransport(t), func(b *Builder) {
		b.WithContext(ctx)
	})
	require.NotEqual(t, StateShutdown, a.State())

	cancel()
	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("actor did not stop")
	}
	require.Equal(t, StateShutdown, a.State())
}

// fakeComm feeds the loop directly, without a network.
type fakeComm struct {
	in   chan *comm.ReceiveRequest
	once sync.Once
}

func (f *fakeComm) Inbound() <-chan *comm.ReceiveRequest { return f.in }
func (f *fakeComm) Send(context.Context, PeerID, NamedMessage) (NamedMessage, error) {
	return NamedMessage{}, comm.ErrUnknownPeer
}
func (f *fakeComm) Dial(context.Context, string) (PeerID, error)   { return "", comm.ErrClosed }
func (f *fakeComm) Listen(context.Context, string) (string, error) { return "", comm.ErrClosed }
func (f *fakeComm) PeerID() PeerID                                 { return "fake" }
func (f *fakeComm) Addrs() []string                                { return nil }
func (f *fakeComm) Peers() []PeerID                                { return nil }
func (f *fakeComm) Firewall() *comm.Firewall                       { return comm.NewFirewall(nil, nil) }
func (f *fakeComm) CloseInbound()                                  { f.once.Do(func() { close(f.in) }) }

func (f *fakeComm) Close() error {
	f.CloseInbound()
	return nil
}
