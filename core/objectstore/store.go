package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/codewandler/peeractor/core/perkey"
)

// Object is a piece of state kept in the store. Kind names the concrete
// type; it shows up in errors and checkpoints.
type Object interface {
	Kind() string
}

type Options struct {
	Logger *slog.Logger
	// BufferSize is the per-key queue length (default: 64).
	BufferSize int
}

// Store maps keys to objects with per-key serialized access.
type Store struct {
	log   *slog.Logger
	sched *perkey.Scheduler[string]

	mu      sync.RWMutex
	entries map[string]Object
}

func New(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64
	}
	return &Store{
		log:     opts.Logger.With(slog.String("component", "objectstore")),
		sched:   perkey.New[string](perkey.WithBufferSize(opts.BufferSize)),
		entries: make(map[string]Object),
	}
}

// do runs fn on the worker of key.
func (s *Store) do(ctx context.Context, key string, fn func() error) error {
	if key == "" {
		return ErrInvalidKey
	}
	err := s.sched.DoContext(ctx, key, fn)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, perkey.ErrSchedulerClosed):
		return ErrClosed
	case errors.Is(err, perkey.ErrTaskPanicked):
		var pe *perkey.PanicError
		if errors.As(err, &pe) {
			s.log.Error("object operation panicked",
				slog.String("key", key),
				slog.Any("recovered", pe.Recovered),
				slog.String("stack", string(pe.Stack)),
			)
		}
		return fmt.Errorf("%w: key=%s: %w", ErrPanicked, key, err)
	}
	return err
}

func (s *Store) load(key string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.entries[key]
	return o, ok
}

func (s *Store) store(key string, o Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = o
}

// Insert sets key to o, replacing any previous object.
func (s *Store) Insert(ctx context.Context, key string, o Object) error {
	if o == nil {
		return fmt.Errorf("objectstore: insert %s: nil object", key)
	}
	return s.do(ctx, key, func() error {
		s.store(key, o)
		return nil
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.do(ctx, key, func() error {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil
	})
}

// Has reports whether key is present.
func (s *Store) Has(key string) bool {
	_, ok := s.load(key)
	return ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys returns a sorted snapshot of all keys.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Close waits for running operations and rejects new ones with ErrClosed.
func (s *Store) Close() {
	s.sched.Close()
}

func typed[T Object](key string, o Object) (T, error) {
	v, ok := o.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: key=%s kind=%s want=%T", ErrKindMismatch, key, o.Kind(), zero)
	}
	return v, nil
}

// View calls fn with the object at key while holding the key.
func View[T Object](ctx context.Context, s *Store, key string, fn func(T) error) error {
	return s.do(ctx, key, func() error {
		o, ok := s.load(key)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		v, err := typed[T](key, o)
		if err != nil {
			return err
		}
		return fn(v)
	})
}

// Get returns the object at key. Pointer objects are shared, not copied;
// change them through Mutate only.
func Get[T Object](ctx context.Context, s *Store, key string) (T, error) {
	var res T
	if err := View(ctx, s, key, func(v T) error {
		res = v
		return nil
	}); err != nil {
		var zero T
		return zero, err
	}
	return res, nil
}

// Mutate replaces the object at key with the result of fn and returns it.
// If fn fails or panics the entry is left as it was.
func Mutate[T Object](ctx context.Context, s *Store, key string, fn func(T) (T, error)) (T, error) {
	var res T
	err := s.do(ctx, key, func() error {
		o, ok := s.load(key)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		v, err := typed[T](key, o)
		if err != nil {
			return err
		}
		next, err := fn(v)
		if err != nil {
			return err
		}
		s.store(key, next)
		res = next
		return nil
	})
	// res is only written by the worker; it is safe to read once the
	// worker has reported success.
	if err != nil {
		var zero T
		return zero, err
	}
	return res, nil
}

// Upsert is Mutate that starts from fresh() when key is missing.
func Upsert[T Object](ctx context.Context, s *Store, key string, fresh func() T, fn func(T) (T, error)) (T, error) {
	var res T
	err := s.do(ctx, key, func() error {
		var v T
		if o, ok := s.load(key); ok {
			var err error
			if v, err = typed[T](key, o); err != nil {
				return err
			}
		} else {
			v = fresh()
		}
		next, err := fn(v)
		if err != nil {
			return err
		}
		s.store(key, next)
		res = next
		return nil
	})
	// res is only written by the worker; it is safe to read once the
	// worker has reported success.
	if err != nil {
		var zero T
		return zero, err
	}
	return res, nil
}
