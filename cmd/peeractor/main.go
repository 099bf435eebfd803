// Command peeractor runs a single actor node.
//
// It reads a YAML config file (see internal/config), listens on the
// configured addresses and connects to the configured peers. Every node
// answers the built-in requests:
//
//	echo           returns the request payload
//	counter.add    adds to a named counter held in the object store
//	counter.get    reads a named counter
//	peers          lists the connected peers
//
// Counters are checkpointed to a NATS JetStream bucket when a NATS url is
// configured. Changes to the firewall section of the config file are applied
// without a restart.
//
// Run with: go run ./cmd/peeractor -config peeractor.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codewandler/peeractor/adapters/nats"
	promadapter "github.com/codewandler/peeractor/adapters/prometheus"
	"github.com/codewandler/peeractor/adapters/websocket"
	"github.com/codewandler/peeractor/core/actor"
	"github.com/codewandler/peeractor/core/comm"
	"github.com/codewandler/peeractor/internal/config"
	"github.com/codewandler/peeractor/ports/kv"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(log)

	if err := run(ctx, log, loader, *configPath, cfg); err != nil {
		log.Error("peeractor failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func newLogger(c config.LogConfig) (*slog.Logger, error) {
	lvl, err := c.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
}

func run(ctx context.Context, log *slog.Logger, loader *config.Loader, configPath string, cfg *config.Config) error {
	keys, err := cfg.Keys()
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}

	metrics := promadapter.NewAllMetrics(prometheus.DefaultRegisterer)
	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(log, cfg.Metrics.Addr)
		defer func() { _ = srv.Shutdown(context.Background()) }()
	}

	var transport comm.Transport = comm.NewTCPTransport()
	if cfg.Node.Transport == config.TransportWebsocket {
		transport = websocket.New(log)
	}

	a, err := buildActor(ctx, cfg, keys, log, metrics, transport)
	if err != nil {
		return err
	}
	log.Info("node ready",
		slog.String("peer", a.PeerID().String()),
		slog.String("transport", cfg.Node.Transport),
	)

	registerHandlers(a)

	var cp *checkpointer
	if cfg.Checkpoint.NatsURL != "" {
		if cp, err = startCheckpoints(ctx, log, a, cfg.Checkpoint); err != nil {
			_ = a.Shutdown(context.Background())
			return err
		}
	}

	if configPath != "" {
		w := config.NewWatcher(loader, configPath, cfg, log)
		w.OnChange(func(_, next *config.Config) {
			a.Firewall().SetRule(next.Firewall.Rule())
			log.Info("firewall updated")
		})
		if err := w.Start(); err != nil {
			log.Warn("config hot reload disabled", slog.Any("error", err))
		} else {
			defer func() { _ = w.Close() }()
		}
	}

	for _, addr := range cfg.Peers {
		peer, err := a.Dial(ctx, addr)
		if err != nil {
			log.Warn("failed to connect peer", slog.String("addr", addr), slog.Any("error", err))
			continue
		}
		log.Info("connected peer", slog.String("addr", addr), slog.String("peer", peer.Short()))
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}

	log.Info("shutting down")
	return stopNode(log, a, cp, cfg.Actor.ShutdownGrace+time.Second)
}

// buildActor starts the node's actor. It is detached from ctx: the actor
// only stops through stopNode, after the last checkpoint.
func buildActor(ctx context.Context, cfg *config.Config, keys comm.Keypair, log *slog.Logger, m *promadapter.AllMetrics, transport comm.Transport) (*actor.Actor, error) {
	b := actor.NewBuilder().
		Keys(keys).
		WithContext(context.Background()).
		WithLogger(log).
		WithMetrics(m.Actor).
		WithInboundSize(cfg.Actor.InboundSize).
		WithMaxConcurrentHandlers(cfg.Actor.MaxConcurrentHandlers).
		WithShutdownGrace(cfg.Actor.ShutdownGrace).
		WithCommOptions(
			comm.WithMetrics(m.Comm),
			comm.WithFirewall(cfg.Firewall.Rule()),
			comm.WithRequestTimeout(cfg.Actor.RequestTimeout),
		)
	for _, addr := range cfg.Node.Listen {
		b.ListenOn(addr)
	}
	return b.BuildWithTransport(ctx, transport)
}

// stopNode writes the final checkpoint while the object store is still open,
// then shuts the actor down.
func stopNode(log *slog.Logger, a *actor.Actor, cp *checkpointer, timeout time.Duration) error {
	if cp != nil {
		if err := cp.Close(); err != nil {
			log.Error("final checkpoint failed", slog.Any("error", err))
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil && !errors.Is(err, actor.ErrShutdownTimeout) {
		return err
	} else if err != nil {
		log.Warn("shutdown abandoned running handlers", slog.Any("error", err))
	}
	return nil
}

func serveMetrics(log *slog.Logger, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("prometheus metrics server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("prometheus server error", slog.Any("error", err))
		}
	}()
	return srv
}

type checkpointer struct {
	log        *slog.Logger
	a          *actor.Actor
	store      kv.Store
	closeStore func()
	stop       context.CancelFunc
	done       chan struct{}
}

// startCheckpoints opens the NATS bucket and starts checkpointing into it.
func startCheckpoints(ctx context.Context, log *slog.Logger, a *actor.Actor, c config.CheckpointConfig) (*checkpointer, error) {
	store, err := nats.NewKvStore(ctx, nats.KvConfig{
		Connect: nats.ConnectURL(c.NatsURL),
		Bucket:  c.Bucket,
		Log:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint store: %w", err)
	}
	cp, err := newCheckpointer(ctx, log, a, store, store.Close, c.Interval)
	if err != nil {
		return nil, err
	}
	log.Info("checkpointing counters", slog.String("bucket", c.Bucket))
	return cp, nil
}

// newCheckpointer restores counters from store and saves the object store
// every interval. closeStore runs after the final checkpoint.
func newCheckpointer(ctx context.Context, log *slog.Logger, a *actor.Actor, store kv.Store, closeStore func(), interval time.Duration) (*checkpointer, error) {
	n, err := restoreCounters(ctx, a, store)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("restore checkpoint: %w", err)
	}
	log.Info("restored counters", slog.Int("count", n))

	loopCtx, stop := context.WithCancel(context.Background())
	cp := &checkpointer{
		log:        log,
		a:          a,
		store:      store,
		closeStore: closeStore,
		stop:       stop,
		done:       make(chan struct{}),
	}
	go cp.loop(loopCtx, interval)
	return cp, nil
}

func (cp *checkpointer) loop(ctx context.Context, interval time.Duration) {
	defer close(cp.done)
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := cp.a.Objects().SaveAll(ctx, cp.store); err != nil {
				cp.log.Error("checkpoint failed", slog.Any("error", err))
			}
		}
	}
}

// Close stops the periodic checkpoints and writes a last one.
func (cp *checkpointer) Close() error {
	cp.stop()
	<-cp.done
	defer cp.closeStore()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return cp.a.Objects().SaveAll(ctx, cp.store)
}
