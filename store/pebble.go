package store

import (
	"errors"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/log"
)

// Pebble is a KV backed by cockroachdb/pebble.
type Pebble struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) a Pebble database in dir.
func OpenPebble(dir string, cacheMB int) (*Pebble, error) {
	if cacheMB < 8 {
		cacheMB = 8
	}
	cache := pebble.NewCache(int64(cacheMB) * 1024 * 1024)
	defer cache.Unref()
	db, err := pebble.Open(dir, &pebble.Options{
		Cache:        cache,
		MemTableSize: uint64(cacheMB) * 1024 * 1024 / 4,
	})
	if err != nil {
		return nil, err
	}
	log.Info("Opened pebble store", "dir", dir, "cache", cacheMB)
	return &Pebble{db: db}, nil
}

func (p *Pebble) Has(key []byte) (bool, error) {
	_, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (p *Pebble) Get(key []byte) ([]byte, error) {
	v, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

func (p *Pebble) Put(key, value []byte) error { return p.db.Set(key, value, pebble.Sync) }

func (p *Pebble) Delete(key []byte) error { return p.db.Delete(key, pebble.Sync) }

func (p *Pebble) NewBatch() Batch { return &pebbleBatch{b: p.db.NewBatch()} }

func (p *Pebble) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	it, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return err
	}
	for valid := it.First(); valid; valid = it.Next() {
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	return it.Close()
}

func (p *Pebble) Close() error { return p.db.Close() }

type pebbleBatch struct {
	b *pebble.Batch
}

func (b *pebbleBatch) Put(key, value []byte) error { return b.b.Set(key, value, nil) }
func (b *pebbleBatch) Delete(key []byte) error     { return b.b.Delete(key, nil) }
func (b *pebbleBatch) Write() error                { return b.b.Commit(pebble.Sync) }
