package lock

import "errors"

// ErrAcquireTimeout is returned when an acquisition attempt reaches its
// deadline before obtaining every requested key. Any partially acquired
// keys have already been rolled back; the system is left in its
// pre-attempt state.
var ErrAcquireTimeout = errors.New("lock acquisition timed out")

// ErrAcquireCanceled is returned when the caller's context is canceled
// while an acquisition attempt is blocked. Like a timeout, partial
// progress is fully rolled back.
var ErrAcquireCanceled = errors.New("lock acquisition canceled")

// ErrKeyNotFound is returned when a requested key does not correspond to a
// registered object. It is detected before any acquisition begins, so it
// never leaves partial lock state behind.
var ErrKeyNotFound = errors.New("object key is not registered")
