// Package objectstore holds the shared application state handlers work on.
//
// Entries are keyed by string and hold an [Object]. Every operation on a key
// runs on that key's worker (see package perkey), so reads and writes of one
// key are mutually exclusive while different keys never contend:
//
//	store.Insert(ctx, "counter", &Counter{})
//	n, err := objectstore.Mutate(ctx, store, "counter", func(c *Counter) (*Counter, error) {
//	    c.N++
//	    return c, nil
//	})
//
// A function passed to View or Mutate must not access its own key again,
// that would wait on itself. A panic inside such a function is recovered,
// reported as [ErrPanicked] and leaves the entry unchanged.
package objectstore
