package lock

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// slotHashShift separates the shard index from the slot index: the shard
// uses the low bits of the key hash, the slot uses bits starting here. A
// single-level `hash mod size` over a small table funnels unrelated keys
// into the same slot; the two-level split keeps the address space wide so
// false contention stays a measured rarity rather than a structural
// property.
const slotHashShift = 16

// acquireStatus is the outcome of a non-blocking acquisition attempt.
type acquireStatus int

const (
	// statusAcquired means the caller now holds the key.
	statusAcquired acquireStatus = iota

	// statusHeldByOther means another transaction holds the key.
	statusHeldByOther

	// statusAlreadyHeld means the calling transaction already holds the
	// key; re-entrant acquisition is satisfied without any state change.
	statusAlreadyHeld

	// statusNotRegistered means the key is unknown to the table.
	statusNotRegistered
)

// lockEntry tracks occupancy of one registered key. held distinguishes a
// free entry from one held by the zero TxID. Entries are created at
// registration and never deleted.
type lockEntry struct {
	held    bool
	holder  TxID
	waiters waiterQueue
}

// tableSlot is one independently locked bucket of lock entries. Its mutex
// guards every entry mapped to this slot and is only ever held for O(1)
// check-and-set or queue operations, never across caller work.
type tableSlot struct {
	mu      sync.Mutex
	entries map[Key]*lockEntry
}

// shardedTable partitions the key space across shardCount*tableSize
// independently locked slots, addressed by a two-level hash. The address
// is a performance partition, not a correctness one: keys that falsely
// collide share a mutex and merely serialize their table operations.
type shardedTable struct {
	shards     [][]*tableSlot
	shardCount uint64
	tableSize  uint64
}

func newShardedTable(shardCount, tableSize int) *shardedTable {
	shards := make([][]*tableSlot, shardCount)
	for i := range shards {
		slots := make([]*tableSlot, tableSize)
		for j := range slots {
			slots[j] = &tableSlot{entries: make(map[Key]*lockEntry)}
		}

		shards[i] = slots
	}

	return &shardedTable{
		shards:     shards,
		shardCount: uint64(shardCount),
		tableSize:  uint64(tableSize),
	}
}

// slotFor maps a key to its slot. The shard index uses the low hash bits,
// the slot index uses higher bits, so the two levels do not degenerate
// into one.
func (t *shardedTable) slotFor(key Key) *tableSlot {
	h := xxhash.Sum64String(string(key))

	shard := h % t.shardCount
	slot := (h >> slotHashShift) % t.tableSize

	return t.shards[shard][slot]
}

// register creates the lock entry for a key. Registering an existing key is
// a no-op; in particular it never disturbs a held entry.
func (t *shardedTable) register(key Key) {
	s := t.slotFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		s.entries[key] = &lockEntry{}
	}
}

// registered reports whether the key has a lock entry.
func (t *shardedTable) registered(key Key) bool {
	s := t.slotFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[key]

	return ok
}

// tryAcquire atomically takes the key if it is free. It never blocks and
// never enqueues.
func (t *shardedTable) tryAcquire(key Key, tx TxID) acquireStatus {
	s := t.slotFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tryAcquireLocked(key, tx)
}

// acquireOrWait attempts to take the key and, if it is held by another
// transaction, registers tx as a waiter in the same critical section. The
// check and the enqueue must be atomic: done separately, a release slipping
// between them would wake nobody and strand the waiter.
//
// front re-queues at the head of the FIFO, used by a woken waiter that lost
// the re-acquire race so advisory wakes do not cost it its place in line.
//
// The returned waiter is non-nil only for statusHeldByOther.
func (t *shardedTable) acquireOrWait(key Key, tx TxID, w *waiter, front bool) (acquireStatus, *waiter) {
	s := t.slotFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.tryAcquireLocked(key, tx)
	if st != statusHeldByOther {
		return st, nil
	}

	if w == nil {
		w = newWaiter(tx)
	} else {
		w.drain()
	}

	entry := s.entries[key]
	if front {
		entry.waiters.pushFront(w)
	} else {
		entry.waiters.pushBack(w)
	}

	return statusHeldByOther, w
}

func (s *tableSlot) tryAcquireLocked(key Key, tx TxID) acquireStatus {
	entry, ok := s.entries[key]
	if !ok {
		return statusNotRegistered
	}

	if !entry.held {
		entry.held = true
		entry.holder = tx

		return statusAcquired
	}

	if entry.holder == tx {
		return statusAlreadyHeld
	}

	return statusHeldByOther
}

// release hands the key back and wakes the head waiter, if any. The holder
// check is deliberate: releasing a key held by a different transaction
// would evict its lock, which is exactly the corruption this table exists
// to prevent. Callers treat released == false as a fatal logic error.
func (t *shardedTable) release(key Key, tx TxID) (released, woke bool) {
	s := t.slotFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !entry.held || entry.holder != tx {
		return false, false
	}

	entry.held = false
	entry.holder = ""

	if next := entry.waiters.popFront(); next != nil {
		next.signal()

		return true, true
	}

	return true, false
}

// cancelWait withdraws a timed-out or canceled waiter. If the waiter was
// already popped and signaled by a concurrent release, its wake token must
// not be lost: the wake is forwarded to the next queued waiter instead.
func (t *shardedTable) cancelWait(key Key, w *waiter) {
	s := t.slotFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		panic(fmt.Sprintf("lock: canceling wait on unregistered key %q", key))
	}

	if entry.waiters.remove(w) {
		return
	}

	// Already woken. Pass the wake on, unless the key was re-taken in the
	// meantime, in which case its eventual release will wake the head.
	if !entry.held {
		if next := entry.waiters.popFront(); next != nil {
			next.signal()
		}
	}
}

// holder returns the current holder of the key, if it is held.
func (t *shardedTable) holder(key Key) (TxID, bool) {
	s := t.slotFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !entry.held {
		return "", false
	}

	return entry.holder, true
}

// waiterCount reports the number of queued waiters for a key. Test hook.
func (t *shardedTable) waiterCount(key Key) int {
	s := t.slotFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return 0
	}

	return entry.waiters.len()
}
