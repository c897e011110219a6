// Package store implements the persistent key-value layer shared by both
// engines and the block-scoped overlay every transaction executes against.
package store

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by KV.Get for missing keys.
var ErrNotFound = errors.New("not found")

// KV is the minimal persistent store the bridge needs.
type KV interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	NewBatch() Batch
	// Iterate walks keys with the given prefix in ascending order until fn
	// returns false.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
	Close() error
}

// Batch buffers writes until Write is called.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Write() error
}

// Open returns the backend selected by engine. dir is ignored for memory.
func Open(engine, dir string, cacheMB int) (KV, error) {
	switch strings.ToLower(engine) {
	case "", "memory":
		return NewMemory(), nil
	case "leveldb":
		return OpenLevelDB(dir, cacheMB)
	case "pebble":
		return OpenPebble(dir, cacheMB)
	}
	return nil, fmt.Errorf("unknown db engine %q", engine)
}

// prefixEnd returns the smallest key greater than every key with prefix, or
// nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
