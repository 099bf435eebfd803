package nats

import (
	"log/slog"
	"os"
	"sync"

	natsgo "github.com/nats-io/nats.go"
)

type closeFunc = func()

// Connector opens a NATS connection. The returned close func releases it.
type Connector func() (nc *natsgo.Conn, close closeFunc, err error)

// sharedConn hands out leases on one connection.
type sharedConn struct {
	connect Connector

	mu     sync.Mutex
	nc     *natsgo.Conn
	close  closeFunc
	leases int
}

func (s *sharedConn) lease() (*natsgo.Conn, closeFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nc == nil {
		nc, closeConn, err := s.connect()
		if err != nil {
			return nil, nil, err
		}
		s.nc, s.close = nc, closeConn
	}
	s.leases++

	var once sync.Once
	return s.nc, func() { once.Do(s.release) }, nil
}

func (s *sharedConn) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leases--
	if s.leases == 0 {
		s.close()
		s.nc, s.close = nil, nil
	}
}

// ReuseConnection shares one connection between all callers of the returned
// Connector. The connection is closed when the last lease is released and
// reopened by the next caller.
func ReuseConnection(connect Connector) Connector {
	s := &sharedConn{connect: connect}
	return s.lease
}

// ConnectURL dials natsURL. Connection state changes are logged through the
// default logger.
func ConnectURL(natsURL string, opts ...natsgo.Option) Connector {
	return func() (*natsgo.Conn, closeFunc, error) {
		log := slog.Default().With(slog.String("nats", natsURL))
		nc, err := natsgo.Connect(
			natsURL,
			append([]natsgo.Option{
				natsgo.Name("peeractor"),
				natsgo.MaxReconnects(3),
				natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
					if err != nil {
						log.Warn("nats disconnected", slog.Any("error", err))
					}
				}),
				natsgo.ReconnectHandler(func(*natsgo.Conn) {
					log.Info("nats reconnected")
				}),
			}, opts...)...,
		)
		if err != nil {
			return nil, nil, err
		}
		return nc, nc.Close, nil
	}
}

// ConnectDefault connects to $NATS_URL, or the NATS default URL.
func ConnectDefault() Connector {
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		return ConnectURL(natsURL)
	}
	return ConnectURL(natsgo.DefaultURL)
}
