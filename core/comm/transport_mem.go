package comm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
)

const memScheme = "mem://"

// MemoryTransport connects nodes inside one process through net.Pipe. All
// nodes that should reach each other must share the same value.
type MemoryTransport struct {
	mu  sync.RWMutex
	log *slog.Logger

	closed    bool
	listeners map[string]*memListener

	seq uint64
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		log:       slog.New(slog.DiscardHandler),
		listeners: make(map[string]*memListener),
	}
}

func (t *MemoryTransport) WithLog(log *slog.Logger) *MemoryTransport {
	t.log = log.With(slog.String("transport", "mem"))
	return t
}

// Listen binds addr. An empty address, or one ending in ":0", gets a fresh
// unique name.
func (t *MemoryTransport) Listen(_ context.Context, addr string) (Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	if addr == "" || strings.HasSuffix(addr, ":0") {
		addr = fmt.Sprintf("node-%d", atomic.AddUint64(&t.seq, 1))
	}
	addr = memScheme + strings.TrimPrefix(addr, memScheme)

	if _, ok := t.listeners[addr]; ok {
		return nil, fmt.Errorf("mem: listen %s: address in use", addr)
	}
	l := &memListener{
		t:      t,
		addr:   addr,
		accept: make(chan net.Conn),
		done:   make(chan struct{}),
	}
	t.listeners[addr] = l
	t.log.Debug("listen", slog.String("addr", addr))
	return l, nil
}

func (t *MemoryTransport) Dial(ctx context.Context, addr string) (Conn, error) {
	addr = memScheme + strings.TrimPrefix(addr, memScheme)

	t.mu.RLock()
	closed := t.closed
	l := t.listeners[addr]
	t.mu.RUnlock()

	if closed {
		return nil, ErrClosed
	}
	if l == nil {
		return nil, fmt.Errorf("mem: dial %s: connection refused", addr)
	}

	client, server := net.Pipe()
	select {
	case l.accept <- server:
		return client, nil
	case <-l.done:
		_ = client.Close()
		_ = server.Close()
		return nil, fmt.Errorf("mem: dial %s: listener closed", addr)
	case <-ctx.Done():
		_ = client.Close()
		_ = server.Close()
		return nil, ctx.Err()
	}
}

// Close closes every listener.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	ls := make([]*memListener, 0, len(t.listeners))
	for _, l := range t.listeners {
		ls = append(ls, l)
	}
	t.mu.Unlock()

	for _, l := range ls {
		_ = l.Close()
	}
	t.log.Debug("closed")
	return nil
}

type memListener struct {
	t      *MemoryTransport
	addr   string
	accept chan net.Conn
	done   chan struct{}
	once   sync.Once
}

func (l *memListener) Accept() (Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *memListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.t.mu.Lock()
		delete(l.t.listeners, l.addr)
		l.t.mu.Unlock()
	})
	return nil
}

func (l *memListener) Addr() string { return l.addr }

var _ Transport = (*MemoryTransport)(nil)
