// Package lock implements an object-granular lock manager for a
// transaction-processing store.
//
// Every transaction must hold an exclusive lock on each object it reads or
// writes before executing. Locks are acquired through a Manager, which
// canonicalizes the requested key set, acquires each key in that order
// (blocking on contended keys up to an absolute deadline), and hands back a
// Guard on success. A Guard releases every held key exactly once, no matter
// how the transaction terminates.
//
// Acquiring in a single canonical order across all call sites is what makes
// the manager deadlock-free: two transactions requesting overlapping key
// sets can never form a circular wait.
package lock

import (
	"slices"

	"github.com/google/uuid"
)

// Key identifies a lockable object. Keys are compared by their natural
// string order and hashed into the sharded lock table.
type Key string

// TxID identifies the transaction attempting to lock objects. The manager
// treats it as opaque; it only ever compares IDs for equality.
type TxID string

// NewTxID returns a fresh random transaction ID for callers that do not
// bring their own identifiers.
func NewTxID() TxID {
	return TxID(uuid.New().String())
}

// CanonicalKeys returns the canonical acquisition order for a key set:
// sorted by natural key order with duplicates removed. Every acquisition
// path uses this order, which is the deadlock-avoidance mechanism.
//
// The input slice is not modified.
func CanonicalKeys(keys []Key) []Key {
	ordered := slices.Clone(keys)
	slices.Sort(ordered)

	return slices.Compact(ordered)
}
