package store

import (
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
)

// Memory is a KV held entirely in memory, used by tests and the devnet.
type Memory struct {
	db *memorydb.Database
}

func NewMemory() *Memory {
	return &Memory{db: memorydb.New()}
}

func (m *Memory) Has(key []byte) (bool, error) { return m.db.Has(key) }

func (m *Memory) Get(key []byte) ([]byte, error) {
	ok, err := m.db.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return m.db.Get(key)
}

func (m *Memory) Put(key, value []byte) error { return m.db.Put(key, value) }

func (m *Memory) Delete(key []byte) error { return m.db.Delete(key) }

func (m *Memory) NewBatch() Batch { return &memoryBatch{b: m.db.NewBatch()} }

func (m *Memory) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	it := m.db.NewIterator(prefix, nil)
	defer it.Release()
	for it.Next() {
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	return it.Error()
}

func (m *Memory) Close() error { return m.db.Close() }

type memoryBatch struct {
	b ethdb.Batch
}

func (b *memoryBatch) Put(key, value []byte) error { return b.b.Put(key, value) }
func (b *memoryBatch) Delete(key []byte) error     { return b.b.Delete(key) }
func (b *memoryBatch) Write() error                { return b.b.Write() }
