// Package shard spreads string keys over a fixed number of buckets.
package shard

import "hash/fnv"

// ForKey returns the bucket of key in [0, count) using FNV-32a. count must be
// positive.
func ForKey(key string, count int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(count))
}
