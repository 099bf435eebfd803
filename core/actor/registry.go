package actor

import (
	"sort"
	"sync"

	"github.com/codewandler/peeractor/internal/shard"
)

const registryShards = 32

// Registry maps message names to handlers. Names are spread over shards so
// registering a handler only locks the shard of its name.
type Registry struct {
	shards [registryShards]registryShard
}

type registryShard struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].handlers = make(map[string]Handler)
	}
	return r
}

func (r *Registry) shard(name string) *registryShard {
	return &r.shards[shard.ForKey(name, registryShards)]
}

// Register sets the handler for name, replacing any previous one, and
// reports whether one was replaced. It panics on an empty name or a nil
// handler.
func (r *Registry) Register(name string, h Handler) (replaced bool) {
	if name == "" {
		panic("actor: empty handler name")
	}
	if h == nil {
		panic("actor: nil handler for " + name)
	}
	s := r.shard(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, replaced = s.handlers[name]
	s.handlers[name] = h
	return replaced
}

// Unregister removes the handler for name and reports whether there was one.
func (r *Registry) Unregister(name string) bool {
	s := r.shard(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handlers[name]
	delete(s.handlers, name)
	return ok
}

func (r *Registry) Lookup(name string) (Handler, bool) {
	s := r.shard(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[name]
	return h, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	var names []string
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for name := range s.handlers {
			names = append(names, name)
		}
		s.mu.RUnlock()
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		n += len(s.handlers)
		s.mu.RUnlock()
	}
	return n
}
