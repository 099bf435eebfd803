package sf

import "golang.org/x/sync/singleflight"

// Group deduplicates concurrent calls with the same key. The zero value is
// ready to use.
type Group[T any] struct {
	group singleflight.Group
}

// Do executes fn for key unless a call for key is already in flight, in which
// case it waits for that call and returns its result.
func (g *Group[T]) Do(key string, fn func() (T, error)) (T, error) {
	v, err, _ := g.group.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Forget makes the next Do for key run fn again even if a call is in flight.
func (g *Group[T]) Forget(key string) { g.group.Forget(key) }
