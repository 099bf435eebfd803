package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/codewandler/peeractor/ports/kv"
)

// Save writes the JSON encoding of the object at key to dst under the same
// key.
func (s *Store) Save(ctx context.Context, dst kv.Store, key string) error {
	return s.do(ctx, key, func() error {
		o, ok := s.load(key)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("objectstore: encode %s: %w", key, err)
		}
		return dst.Put(ctx, key, kv.Entry{
			Data: data,
			Meta: map[string]any{"kind": o.Kind()},
		}, kv.PutOptions{})
	})
}

// SaveAll saves every key currently in the store.
func (s *Store) SaveAll(ctx context.Context, dst kv.Store) error {
	for _, key := range s.Keys() {
		if err := s.Save(ctx, dst, key); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// Load reads key from src, decodes it as T and inserts it.
func Load[T Object](ctx context.Context, s *Store, src kv.Store, key string) (T, error) {
	v, err := kv.Get[T](ctx, src, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return v, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return v, err
	}
	if err := s.Insert(ctx, key, v); err != nil {
		return v, err
	}
	return v, nil
}
