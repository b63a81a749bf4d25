package lock

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Guard represents one transaction's held locks. It is constructed only by
// a successful Manager acquisition and is owned by the transaction that
// acquired it.
//
// Release is idempotent: callers are expected to `defer guard.Release(ctx)`
// immediately after acquiring, so that no early return or panic can skip
// cleanup, and may still release explicitly before scope end.
type Guard struct {
	table    *shardedTable
	owner    TxID
	keys     []Key // canonical order
	acquired time.Time
	released atomic.Bool
}

func newGuard(table *shardedTable, owner TxID, keys []Key) *Guard {
	return &Guard{
		table:    table,
		owner:    owner,
		keys:     keys,
		acquired: time.Now(),
	}
}

// Owner returns the transaction that holds the guard.
func (g *Guard) Owner() TxID {
	return g.owner
}

// Keys returns the held keys in canonical order. Keys the transaction
// already held through another guard are not included.
func (g *Guard) Keys() []Key {
	return slices.Clone(g.keys)
}

// Released reports whether the guard has been released.
func (g *Guard) Released() bool {
	return g.released.Load()
}

// Release hands every held key back to the lock table and wakes each key's
// head waiter. Keys are walked in reverse canonical order, symmetric with
// acquisition.
//
// Release is a no-op on the second and subsequent calls.
func (g *Guard) Release(ctx context.Context) {
	if !g.released.CompareAndSwap(false, true) {
		return
	}

	var woken int64

	for i := len(g.keys) - 1; i >= 0; i-- {
		released, woke := g.table.release(g.keys[i], g.owner)
		if !released {
			// The guard is the only path to these keys, so a failed
			// release means the manager itself corrupted lock state.
			panic(fmt.Sprintf("lock: guard owned by %q does not hold key %q", g.owner, g.keys[i]))
		}

		if woke {
			woken++
		}
	}

	recordHoldDuration(ctx, time.Since(g.acquired).Seconds())
	recordWakeups(ctx, woken)

	zerolog.Ctx(ctx).Debug().
		Str("tx", string(g.owner)).
		Int("keys", len(g.keys)).
		Dur("held", time.Since(g.acquired)).
		Msg("released object locks")
}
