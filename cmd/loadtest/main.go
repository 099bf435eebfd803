// Command loadtest measures request throughput between two in-process
// actors.
//
//	N=100000 B=10000 C=64 TRANSPORT=tcp go run ./cmd/loadtest
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codewandler/peeractor/adapters/websocket"
	"github.com/codewandler/peeractor/core/actor"
	"github.com/codewandler/peeractor/core/comm"
)

// === Config ===

var (
	logLevel      = slog.LevelWarn
	N             = getEnvInt("N", 100_000)
	batchSize     = getEnvInt("B", 10_000)
	concurrency   = getEnvInt("C", 64)
	transportType = getEnv("TRANSPORT", "memory")
)

func getEnv(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, fmt.Sprintf("%d", fallback)))
	if err != nil {
		return fallback
	}
	return v
}

type (
	addRequest  struct{ A, B int }
	addResponse struct{ Sum int }
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	fmt.Printf("Transport:   %s\n", transportType)
	fmt.Printf("Concurrency: %d\n", concurrency)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	tr := createTransport(log)
	server := createActor(ctx, log.With(slog.String("node", "server")), tr)
	defer server.Shutdown(context.Background())
	client := createActor(ctx, log.With(slog.String("node", "client")), tr)
	defer client.Shutdown(context.Background())

	actor.HandleRequest(server, "add", func(_ actor.HandlerCtx, in addRequest) (*addResponse, error) {
		return &addResponse{Sum: in.A + in.B}, nil
	})

	peer, err := client.Dial(ctx, server.Addrs()[0])
	checkErr(err)

	// === START ===

	println("==================================")
	println("Starting ...")

	var (
		next     atomic.Int64
		finished atomic.Int64
		startAt  = time.Now()
		lastTime = startAt
	)

	g, gctx := errgroup.WithContext(ctx)
	for range concurrency {
		g.Go(func() error {
			for {
				i := int(next.Add(1))
				if i > N {
					return nil
				}
				res, err := actor.Request[addRequest, addResponse](gctx, client, peer, "add", addRequest{A: i, B: 1})
				if err != nil {
					return fmt.Errorf("request %d: %w", i, err)
				}
				if res.Sum != i+1 {
					return fmt.Errorf("request %d: got %d", i, res.Sum)
				}
				finished.Add(1)
			}
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	reported := int64(0)
wait:
	for {
		select {
		case err := <-done:
			checkErr(err)
			break wait
		case <-ticker.C:
			if f := finished.Load(); f-reported >= int64(batchSize) {
				mu := getMemUsage()
				n := time.Now()
				took := n.Sub(lastTime)
				fmt.Printf(" | %7d requests | %6d ms | %7d req/s | (%d / %d) MiB mem (sys) |\n",
					f-reported, took.Milliseconds(), int(float64(f-reported)/took.Seconds()), mu.Alloc/1024/1024, mu.Sys/1024/1024)
				reported, lastTime = f, n
			}
		}
	}

	// === stats ===
	println("")
	println("==========================================")

	took := time.Since(startAt)
	runtime.GC()

	fmt.Printf("total runtime: %.3f seconds\n", took.Seconds())
	fmt.Printf("     requests: %d\n", finished.Load())
	fmt.Printf("  avg. req/s: %d\n", int(float64(N)/took.Seconds()))
}

// === stats helpers ===

type MemUsage struct {
	Alloc      uint64 // bytes allocated and not yet freed (heap)
	TotalAlloc uint64 // cumulative bytes allocated
	Sys        uint64 // total bytes obtained from OS
	NumGC      uint32 // gc cycles
}

func getMemUsage() MemUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemUsage{
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
	}
}

// === Setup ===

func createTransport(log *slog.Logger) comm.Transport {
	switch transportType {
	case "tcp":
		return comm.NewTCPTransport()
	case "ws", "websocket":
		return websocket.New(log)
	default:
		return comm.NewMemoryTransport().WithLog(log)
	}
}

func createActor(ctx context.Context, log *slog.Logger, tr comm.Transport) *actor.Actor {
	a, err := actor.NewBuilder().
		ListenOn("127.0.0.1:0").
		WithLogger(log).
		WithInboundSize(4 * concurrency).
		BuildWithTransport(ctx, tr)
	checkErr(err)
	return a
}

// === Helpers ===

func checkErr(err error) {
	if err != nil {
		panic(err)
	}
}
