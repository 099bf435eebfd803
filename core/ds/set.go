// Package ds provides small generic data structures shared by the runtime.
package ds

import (
	"encoding/json"
	"fmt"
)

// Set is an ordered set: O(1) membership tests and stable insertion order.
// The builder keeps listen addresses in one (order is the reporting order)
// and the firewall keeps peer and message-name lists in them.
//
// A Set is not safe for concurrent mutation; callers that share one
// replace it wholesale instead.
type Set[T comparable] struct {
	items map[T]struct{}
	order []T
}

// NewSet creates a new set with the given items; duplicates are dropped.
func NewSet[T comparable](items ...T) *Set[T] {
	set := &Set[T]{items: map[T]struct{}{}, order: make([]T, 0, len(items))}
	for _, item := range items {
		set.Add(item)
	}
	return set
}

func (s *Set[T]) String() string { return fmt.Sprintf("%v", s.order) }

// Add adds v and reports whether it was new.
func (s *Set[T]) Add(v T) bool {
	if s.Contains(v) {
		return false
	}
	s.items[v] = struct{}{}
	s.order = append(s.order, v)
	return true
}

// Remove removes the given values. O(n) in the set size.
func (s *Set[T]) Remove(vs ...T) {
	removed := false
	for _, v := range vs {
		if _, ok := s.items[v]; ok {
			delete(s.items, v)
			removed = true
		}
	}
	if !removed {
		return
	}
	order := make([]T, 0, len(s.items))
	for _, v := range s.order {
		if _, ok := s.items[v]; ok {
			order = append(order, v)
		}
	}
	s.order = order
}

func (s *Set[T]) Contains(v T) bool {
	if s == nil {
		return false
	}
	_, ok := s.items[v]
	return ok
}

func (s *Set[T]) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

func (s *Set[T]) IsEmpty() bool { return s.Len() == 0 }

// Values returns a copy of the elements in insertion order.
func (s *Set[T]) Values() []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s.order))
	copy(out, s.order)
	return out
}

// Diff returns what has to be added to s and removed from s to obtain other.
// add follows other's order, remove follows s's order.
func (s *Set[T]) Diff(other *Set[T]) (add *Set[T], remove *Set[T]) {
	add, remove = NewSet[T](), NewSet[T]()
	for _, v := range other.Values() {
		if !s.Contains(v) {
			add.Add(v)
		}
	}
	for _, v := range s.Values() {
		if !other.Contains(v) {
			remove.Add(v)
		}
	}
	return add, remove
}

// MarshalJSON serializes the set as an ordered JSON array.
func (s Set[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

// UnmarshalJSON replaces the contents with a JSON array.
func (s *Set[T]) UnmarshalJSON(data []byte) error {
	var vs []T
	if err := json.Unmarshal(data, &vs); err != nil {
		return err
	}
	*s = *NewSet(vs...)
	return nil
}
