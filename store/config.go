package store

// Config holds configuration for a single-shard store.
type Config struct {
	// Path is the store file location.
	Path string

	// SizeLimit is the maximum store file size in bytes.
	// 0 = unlimited.
	SizeLimit int64

	// MaxCollections caps the number of collections in the store file:
	// one for records plus one per composite definition.
	// 0 = unlimited.
	MaxCollections int
}

// RouterConfig holds configuration for a sharded deployment: one
// independent store file per shard under Dir.
type RouterConfig struct {
	// Dir is the directory holding the per-shard store files.
	Dir string

	// NumShards is the number of independent engine instances.
	// Default: 1 (no sharding)
	// Max: 256
	NumShards int

	// ShardField is the declared field whose value routes an insert to
	// its shard. Required when NumShards > 1.
	ShardField string

	// SizeLimit and MaxCollections apply to each shard's store file.
	SizeLimit      int64
	MaxCollections int
}

// validate clamps values to acceptable bounds.
func (c *RouterConfig) validate() {
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > 256 {
		c.NumShards = 256
	}
}
