package store

import (
	"bytes"
	"errors"
	"sort"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/log"
)

// Store is the read/write view every bridge component operates on. It is
// satisfied by *Overlay at both block and transaction scope.
type Store interface {
	Get(key []byte) ([]byte, bool)
	Has(key []byte) bool
	Set(key, value []byte)
	Delete(key []byte)
	// Iterate visits the live keys with prefix in ascending order until fn
	// returns false.
	Iterate(prefix []byte, fn func(key, value []byte) bool)
}

type entry struct {
	value   []byte
	deleted bool
}

// Overlay is a pending journal over a KV. The root overlay lives for one
// block and is flushed in a single batch at commit; each transaction runs on
// a Clone that is either merged back with Commit or dropped.
type Overlay struct {
	mu      sync.Mutex
	db      KV
	parent  *Overlay
	pending map[string]entry
	cache   *fastcache.Cache // root only

	// err memoizes the first backend failure. Reads that hit it behave as
	// misses and the block pipeline checks Err before committing.
	err error
}

// NewOverlay creates a root overlay with a read cache of cacheMB megabytes.
func NewOverlay(db KV, cacheMB int) *Overlay {
	if cacheMB <= 0 {
		cacheMB = 1
	}
	return &Overlay{
		db:      db,
		pending: make(map[string]entry),
		cache:   fastcache.New(cacheMB * 1024 * 1024),
	}
}

func (o *Overlay) root() *Overlay {
	for o.parent != nil {
		o = o.parent
	}
	return o
}

func (o *Overlay) setError(err error) {
	r := o.root()
	r.mu.Lock()
	if r.err == nil {
		r.err = err
		log.Error("Store backend failure", "err", err)
	}
	r.mu.Unlock()
}

// Err returns the first backend error observed through this overlay tree.
func (o *Overlay) Err() error {
	r := o.root()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Get returns a copy of the value stored under key.
func (o *Overlay) Get(key []byte) ([]byte, bool) {
	o.mu.Lock()
	if e, ok := o.pending[string(key)]; ok {
		o.mu.Unlock()
		if e.deleted {
			return nil, false
		}
		return append([]byte(nil), e.value...), true
	}
	o.mu.Unlock()

	if o.parent != nil {
		return o.parent.Get(key)
	}
	return o.readDB(key)
}

func (o *Overlay) readDB(key []byte) ([]byte, bool) {
	if v, ok := o.cache.HasGet(nil, key); ok {
		cacheHitCounter.Inc(1)
		return v, true
	}
	cacheMissCounter.Inc(1)
	v, err := o.db.Get(key)
	if errors.Is(err, ErrNotFound) {
		return nil, false
	}
	if err != nil {
		o.setError(err)
		return nil, false
	}
	o.cache.Set(key, v)
	return v, true
}

func (o *Overlay) Has(key []byte) bool {
	_, ok := o.Get(key)
	return ok
}

// Set records a write. The value is copied.
func (o *Overlay) Set(key, value []byte) {
	o.mu.Lock()
	o.pending[string(key)] = entry{value: append([]byte(nil), value...)}
	o.mu.Unlock()
}

func (o *Overlay) Delete(key []byte) {
	o.mu.Lock()
	o.pending[string(key)] = entry{deleted: true}
	o.mu.Unlock()
}

func (o *Overlay) Iterate(prefix []byte, fn func(key, value []byte) bool) {
	merged := o.collect(prefix)
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fn([]byte(k), merged[k]) {
			return
		}
	}
}

func (o *Overlay) collect(prefix []byte) map[string][]byte {
	var merged map[string][]byte
	if o.parent != nil {
		merged = o.parent.collect(prefix)
	} else {
		merged = make(map[string][]byte)
		err := o.db.Iterate(prefix, func(k, v []byte) bool {
			merged[string(k)] = append([]byte(nil), v...)
			return true
		})
		if err != nil {
			o.setError(err)
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for k, e := range o.pending {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if e.deleted {
			delete(merged, k)
		} else {
			merged[k] = e.value
		}
	}
	return merged
}

// Dirty reports how many keys this layer has written or deleted.
func (o *Overlay) Dirty() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Flush writes the root journal to the backing KV in one batch and clears it.
func (o *Overlay) Flush() error {
	if o.parent != nil {
		return errors.New("flush on a transaction overlay")
	}
	if err := o.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.pending) == 0 {
		return nil
	}
	batch := o.db.NewBatch()
	for k, e := range o.pending {
		var err error
		if e.deleted {
			err = batch.Delete([]byte(k))
		} else {
			err = batch.Put([]byte(k), e.value)
		}
		if err != nil {
			return err
		}
	}
	if err := batch.Write(); err != nil {
		return err
	}
	for k, e := range o.pending {
		if e.deleted {
			o.cache.Del([]byte(k))
		} else {
			o.cache.Set([]byte(k), e.value)
		}
	}
	log.Debug("Flushed block overlay", "keys", len(o.pending))
	flushedKeysMeter.Mark(int64(len(o.pending)))
	o.pending = make(map[string]entry)
	return nil
}

// Discard drops every pending write in this layer.
func (o *Overlay) Discard() {
	o.mu.Lock()
	o.pending = make(map[string]entry)
	o.mu.Unlock()
}
