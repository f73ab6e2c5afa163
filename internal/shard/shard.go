// Package shard provides the pure routing function mapping a shard-key
// value to one of N independent engine instances.
package shard

import "hash/fnv"

// Index returns the shard index for the given key value.
// With numShards<=1, everything routes to shard 0.
func Index(value string, numShards int) int {
	if numShards <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(value))
	return int(h.Sum32() % uint32(numShards))
}
