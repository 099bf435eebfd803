// Package kv is the key/value port the object store checkpoints through.
// MemStore serves tests and single-process deployments; adapters/nats
// provides a JetStream backed implementation.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("kv: not found")

// Entry is one stored value. Meta carries small annotations next to the
// payload, such as the kind of object a checkpoint was taken from.
type Entry struct {
	Data []byte
	Meta map[string]any
}

// Kind returns Meta["kind"], or "" if unset.
func (e Entry) Kind() string {
	k, _ := e.Meta["kind"].(string)
	return k
}

type PutOptions struct {
	// TTL expires the entry after the given duration; zero keeps it forever.
	TTL time.Duration
}

type Store interface {
	Put(ctx context.Context, key string, entry Entry, opts PutOptions) error
	// Get returns ErrNotFound for missing and expired keys.
	Get(ctx context.Context, key string) (Entry, error)
	// Delete of a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists all live keys in ascending order.
	Keys(ctx context.Context) ([]string, error)
}

// Put stores v JSON encoded under key.
func Put[T any](ctx context.Context, store Store, key string, v T, opts PutOptions) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	return store.Put(ctx, key, Entry{Data: data}, opts)
}

// Get loads and decodes the JSON value stored under key.
func Get[T any](ctx context.Context, store Store, key string) (out T, err error) {
	entry, err := store.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err = json.Unmarshal(entry.Data, &out); err != nil {
		return out, fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return out, nil
}

// KeysWithPrefix lists the keys of store that start with prefix.
func KeysWithPrefix(ctx context.Context, store Store, prefix string) ([]string, error) {
	keys, err := store.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := keys[:0]
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}
