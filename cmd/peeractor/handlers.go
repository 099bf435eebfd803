package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/codewandler/peeractor/core/actor"
	"github.com/codewandler/peeractor/core/objectstore"
	"github.com/codewandler/peeractor/ports/kv"
)

const counterPrefix = "counter/"

type counter struct {
	Value int64 `json:"value"`
}

func (*counter) Kind() string { return "counter" }

type (
	CounterAdd struct {
		Name  string `json:"name"`
		Delta int64  `json:"delta"`
	}
	CounterGet struct {
		Name string `json:"name"`
	}
	CounterValue struct {
		Name  string `json:"name"`
		Value int64  `json:"value"`
	}
	PeerList struct {
		Self  string   `json:"self"`
		Peers []string `json:"peers"`
	}
)

var errEmptyName = errors.New("counter name is required")

func registerHandlers(a *actor.Actor) {
	a.HandleFunc("echo", func(_ actor.HandlerCtx, msg actor.NamedMessage) (actor.NamedMessage, error) {
		return msg, nil
	})

	actor.HandleRequest(a, "counter.add", func(hc actor.HandlerCtx, in CounterAdd) (*CounterValue, error) {
		if in.Name == "" {
			return nil, errEmptyName
		}
		c, err := objectstore.Upsert(hc, hc.Objects(), counterPrefix+in.Name,
			func() *counter { return &counter{} },
			// stored counters are never changed in place
			func(c *counter) (*counter, error) {
				return &counter{Value: c.Value + in.Delta}, nil
			},
		)
		if err != nil {
			return nil, err
		}
		return &CounterValue{Name: in.Name, Value: c.Value}, nil
	})

	actor.HandleRequest(a, "counter.get", func(hc actor.HandlerCtx, in CounterGet) (*CounterValue, error) {
		if in.Name == "" {
			return nil, errEmptyName
		}
		out := &CounterValue{Name: in.Name}
		err := objectstore.View(hc, hc.Objects(), counterPrefix+in.Name, func(c *counter) error {
			out.Value = c.Value
			return nil
		})
		if err != nil && !errors.Is(err, objectstore.ErrNotFound) {
			return nil, err
		}
		return out, nil
	})

	actor.HandleRequest(a, "peers", func(_ actor.HandlerCtx, _ struct{}) (*PeerList, error) {
		out := &PeerList{Self: a.PeerID().String()}
		for _, p := range a.Peers() {
			out.Peers = append(out.Peers, p.String())
		}
		return out, nil
	})
}

func restoreCounters(ctx context.Context, a *actor.Actor, src kv.Store) (int, error) {
	keys, err := kv.KeysWithPrefix(ctx, src, counterPrefix)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, key := range keys {
		if _, err := objectstore.Load[*counter](ctx, a.Objects(), src, key); err != nil {
			return n, fmt.Errorf("%s: %w", key, err)
		}
		n++
	}
	return n, nil
}
