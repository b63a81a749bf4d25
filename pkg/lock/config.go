package lock

import (
	"math"
	"time"
)

const (
	// DefaultShardCount is the default number of independent shards in the
	// lock table.
	DefaultShardCount = 16

	// DefaultTableSize is the default number of slots per shard.
	DefaultTableSize = 128

	// DefaultTimeout is the default acquisition timeout used when the
	// caller passes a non-positive timeout to Acquire.
	DefaultTimeout = 5 * time.Second
)

// Config holds the sizing and timeout knobs of a Manager.
//
// ShardCount and TableSize trade memory for collision probability: a key is
// mapped to one of ShardCount*TableSize slots, and keys that share a slot
// share the mutex guarding their lock entries. Falsely-colliding keys stay
// functionally correct but serialize their table operations, so the slot
// space should be sized well above the expected number of distinct,
// concurrently active keys. Use ExpectedCollisions to bound the effect
// instead of guessing.
type Config struct {
	// ShardCount is the number of independent shards.
	ShardCount int

	// TableSize is the number of slots per shard.
	TableSize int

	// DefaultTimeout is applied to Acquire calls that pass a non-positive
	// timeout.
	DefaultTimeout time.Duration
}

// DefaultConfig returns sensible default sizing for the lock table.
func DefaultConfig() Config {
	return Config{
		ShardCount:     DefaultShardCount,
		TableSize:      DefaultTableSize,
		DefaultTimeout: DefaultTimeout,
	}
}

// withDefaults returns a copy of the config with zero values replaced by
// defaults.
func (c Config) withDefaults() Config {
	if c.ShardCount <= 0 {
		c.ShardCount = DefaultShardCount
	}

	if c.TableSize <= 0 {
		c.TableSize = DefaultTableSize
	}

	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}

	return c
}

// slotSpace returns the total number of independently locked slots.
func (c Config) slotSpace() int {
	return c.ShardCount * c.TableSize
}

// ExpectedCollisions estimates how many of activeKeys distinct,
// concurrently active keys are expected to share a slot with at least one
// other key under this config, assuming a uniform hash.
//
// The estimate is n - s*(1-(1-1/s)^n) for n keys over s slots: the expected
// number of keys minus the expected number of occupied slots' "first"
// occupants. A result close to zero means false contention is negligible at
// that concurrency level.
func (c Config) ExpectedCollisions(activeKeys int) float64 {
	cfg := c.withDefaults()

	n := float64(activeKeys)
	s := float64(cfg.slotSpace())

	if n <= 1 {
		return 0
	}

	occupied := s * (1 - math.Pow(1-1/s, n))

	return n - occupied
}
