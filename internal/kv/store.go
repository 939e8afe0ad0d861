// Package kv defines the ordered key-value store the scheduler persists into
// and provides in-memory and SQLite backends.
package kv

import (
	"context"
	"encoding/binary"
	"errors"
)

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("store closed")

// Reader reads a consistent view of the store
type Reader interface {
	// Get returns the value stored under key and whether it exists
	Get(key []byte) ([]byte, bool, error)

	// Scan visits every key starting with prefix in ascending byte order
	// until fn returns false. The visited set is fixed when Scan starts, so
	// fn may write to the store.
	Scan(prefix []byte, fn func(key, value []byte) bool) error
}

// Writer extends Reader with mutations applied inside one transaction
type Writer interface {
	Reader

	// Set stores value under key
	Set(key, value []byte) error

	// Delete removes key; deleting a missing key is not an error
	Delete(key []byte) error
}

// Store is an ordered key-value store with atomic multi-key updates
type Store interface {
	// View runs fn against a read-only view
	View(ctx context.Context, fn func(r Reader) error) error

	// Update runs fn in a write transaction. Every write made by fn is
	// committed together, or none is when fn returns an error.
	Update(ctx context.Context, fn func(w Writer) error) error

	// Close releases the resources held by the store
	Close() error
}

// Key joins parts into a single key
func Key(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	key := make([]byte, 0, n)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

// Uint64 encodes n big-endian so numeric order equals byte order
func Uint64(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// ParseUint64 decodes the last 8 bytes of key as a big-endian integer
func ParseUint64(key []byte) (uint64, bool) {
	if len(key) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(key)-8:]), true
}

// prefixEnd returns the smallest key greater than every key with prefix,
// or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
