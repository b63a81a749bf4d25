// Package testhelper provides helpers for tests that need populations of
// lockable objects.
package testhelper

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/kalbasit/objectlock/pkg/lock"
)

const keyChars = "abcdefghijklmnopqrstuvwxyz0123456789"

func randChars(n int, charSet string, r io.Reader) (string, error) {
	ret := make([]byte, n)

	for i := 0; i < n; i++ {
		num, err := rand.Int(r, big.NewInt(int64(len(charSet))))
		if err != nil {
			return "", err
		}

		ret[i] = charSet[num.Int64()]
	}

	return string(ret), nil
}

// RandKey returns a random object key of the given suffix length using
// crypto/rand.Reader as the random reader.
func RandKey(n int) (lock.Key, error) {
	suffix, err := randChars(n, keyChars, rand.Reader)
	if err != nil {
		return "", err
	}

	return lock.Key("obj_" + suffix), nil
}

// MustRandKey returns the key returned by RandKey. If RandKey returns an
// error, it will panic.
func MustRandKey(n int) lock.Key {
	key, err := RandKey(n)
	if err != nil {
		panic(err)
	}

	return key
}

// MustRandKeys returns count distinct random object keys.
func MustRandKeys(count, n int) []lock.Key {
	seen := make(map[lock.Key]struct{}, count)
	keys := make([]lock.Key, 0, count)

	for len(keys) < count {
		key := MustRandKey(n)
		if _, dup := seen[key]; dup {
			continue
		}

		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	return keys
}

// PickOverlapping deterministically selects size keys from population
// starting at offset, wrapping around. Workers with different offsets get
// overlapping, differently ordered key sets, which is the contention shape
// lock-manager stress tests want.
func PickOverlapping(population []lock.Key, offset, size int) []lock.Key {
	if size > len(population) {
		panic(fmt.Sprintf("testhelper: cannot pick %d keys from %d", size, len(population)))
	}

	picked := make([]lock.Key, 0, size)
	for i := 0; i < size; i++ {
		picked = append(picked, population[(offset+i)%len(population)])
	}

	return picked
}
