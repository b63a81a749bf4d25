package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Manager coordinates multi-key exclusive lock acquisition over a sharded
// lock table.
//
// A Manager is an explicitly constructed instance, not a process-wide
// singleton: the owning object store creates one, registers its objects,
// and passes it to the transaction-execution layer.
type Manager struct {
	cfg   Config
	table *shardedTable
}

// NewManager returns a Manager sized by cfg. Zero config fields fall back
// to defaults.
func NewManager(cfg Config) *Manager {
	cfg = cfg.withDefaults()

	return &Manager{
		cfg:   cfg,
		table: newShardedTable(cfg.ShardCount, cfg.TableSize),
	}
}

// RegisterObject makes a key lockable. The object store calls this when a
// new object first becomes known; the manager tracks occupancy only, never
// object content. Registering an existing key is a no-op.
func (m *Manager) RegisterObject(key Key) {
	m.table.register(key)
}

// RegisterObjects registers every given key.
func (m *Manager) RegisterObjects(keys ...Key) {
	for _, key := range keys {
		m.table.register(key)
	}
}

// Registered reports whether the key is known to the manager.
func (m *Manager) Registered(key Key) bool {
	return m.table.registered(key)
}

// Held reports whether the key is currently exclusively held.
func (m *Manager) Held(key Key) bool {
	_, held := m.table.holder(key)

	return held
}

// HeldBy returns the transaction currently holding the key, if any.
func (m *Manager) HeldBy(key Key) (TxID, bool) {
	return m.table.holder(key)
}

// Acquire obtains an exclusive lock on every key in keys for tx, blocking
// on contended keys until the lock is granted or timeout elapses. A
// non-positive timeout selects the configured default.
//
// Keys are acquired sequentially in canonical order; this is what makes
// overlapping acquisitions deadlock-free, at the accepted cost of not
// acquiring a single transaction's independent keys in parallel. Keys that
// tx already holds are silently skipped and remain owned by their original
// guard.
//
// On timeout or context cancellation every key acquired so far is released
// again (waking its waiters) before the error is returned, so a failed
// attempt never leaves partial lock state behind. Errors match
// ErrAcquireTimeout, ErrAcquireCanceled, or ErrKeyNotFound via errors.Is.
func (m *Manager) Acquire(ctx context.Context, tx TxID, keys []Key, timeout time.Duration) (*Guard, error) {
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}

	ordered := CanonicalKeys(keys)

	// Registration is validated for the whole set up front so that an
	// unknown key can never cause partial lock state.
	for _, key := range ordered {
		if !m.table.registered(key) {
			recordAcquisition(ctx, ResultNotFound, len(ordered))

			return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
		}
	}

	start := time.Now()
	deadline := start.Add(timeout)

	held := make([]Key, 0, len(ordered))

	for _, key := range ordered {
		taken, err := m.acquireKey(ctx, tx, key, deadline)
		if err != nil {
			m.rollback(ctx, tx, held)

			result := ResultTimeout
			if errors.Is(err, ErrAcquireCanceled) {
				result = ResultCanceled
			}

			recordAcquisition(ctx, result, len(ordered))
			recordAcquireWait(ctx, result, time.Since(start).Seconds())

			zerolog.Ctx(ctx).Warn().
				Err(err).
				Str("tx", string(tx)).
				Str("key", string(key)).
				Int("keys_rolled_back", len(held)).
				Msg("lock acquisition failed")

			return nil, err
		}

		if taken {
			held = append(held, key)
		}
	}

	recordAcquisition(ctx, ResultSuccess, len(ordered))
	recordAcquireWait(ctx, ResultSuccess, time.Since(start).Seconds())

	zerolog.Ctx(ctx).Debug().
		Str("tx", string(tx)).
		Int("keys", len(held)).
		Dur("wait", time.Since(start)).
		Msg("acquired object locks")

	return newGuard(m.table, tx, held), nil
}

// acquireKey obtains a single key, parking on the key's waiter queue while
// it is contended. It reports whether the key was newly taken; false with a
// nil error means tx already held it.
func (m *Manager) acquireKey(ctx context.Context, tx TxID, key Key, deadline time.Time) (bool, error) {
	var (
		w     *waiter
		front bool
	)

	for {
		status, queued := m.table.acquireOrWait(key, tx, w, front)

		switch status {
		case statusAcquired:
			return true, nil
		case statusAlreadyHeld:
			return false, nil
		case statusNotRegistered:
			// Entries are never deleted, so a key that passed the
			// registration pre-check cannot disappear.
			return false, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
		case statusHeldByOther:
		}

		w = queued

		// The deadline is absolute: each wait cycle blocks only for the
		// remaining time, so repeated wake-and-lose cycles cannot inflate
		// the overall timeout.
		remaining := time.Until(deadline)
		if remaining <= 0 {
			m.table.cancelWait(key, w)

			return false, fmt.Errorf("%w: key %q", ErrAcquireTimeout, key)
		}

		timer := time.NewTimer(remaining)

		select {
		case <-w.wake:
			timer.Stop()

			// The wake is a hint, not a grant: a fresh fast-path caller
			// may have raced in first. Retry, re-queueing at the head of
			// the line if the key is still taken.
			front = true

		case <-timer.C:
			m.table.cancelWait(key, w)

			return false, fmt.Errorf("%w: key %q", ErrAcquireTimeout, key)

		case <-ctx.Done():
			timer.Stop()
			m.table.cancelWait(key, w)

			return false, fmt.Errorf("%w: key %q: %w", ErrAcquireCanceled, key, ctx.Err())
		}
	}
}

// TryAcquire attempts to obtain every key without blocking. It either
// returns a guard holding the full set, or (nil, false, nil) leaving no key
// held, if any key is taken by another transaction.
func (m *Manager) TryAcquire(ctx context.Context, tx TxID, keys []Key) (*Guard, bool, error) {
	ordered := CanonicalKeys(keys)

	for _, key := range ordered {
		if !m.table.registered(key) {
			recordAcquisition(ctx, ResultNotFound, len(ordered))

			return nil, false, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
		}
	}

	held := make([]Key, 0, len(ordered))

	for _, key := range ordered {
		switch m.table.tryAcquire(key, tx) {
		case statusAcquired:
			held = append(held, key)
		case statusAlreadyHeld:
		case statusHeldByOther, statusNotRegistered:
			m.rollback(ctx, tx, held)
			recordAcquisition(ctx, ResultContention, len(ordered))

			return nil, false, nil
		}
	}

	recordAcquisition(ctx, ResultSuccess, len(ordered))

	return newGuard(m.table, tx, held), true, nil
}

// rollback releases a partial acquisition in reverse order, waking each
// key's head waiter, so a failed attempt leaves the table exactly as it
// found it.
func (m *Manager) rollback(ctx context.Context, tx TxID, held []Key) {
	if len(held) == 0 {
		return
	}

	var woken int64

	for i := len(held) - 1; i >= 0; i-- {
		released, woke := m.table.release(held[i], tx)
		if !released {
			panic(fmt.Sprintf("lock: rollback of %q does not hold key %q", tx, held[i]))
		}

		if woke {
			woken++
		}
	}

	recordRollback(ctx, len(held))
	recordWakeups(ctx, woken)
}
