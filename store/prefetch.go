package store

import "errors"

// Prefetch loads the given keys from the backing KV into the read cache so a
// block's transactions resolve them without touching disk. Best effort:
// missing keys are skipped and the call is a no-op on transaction overlays.
func (o *Overlay) Prefetch(keys [][]byte) int {
	if o.parent != nil || len(keys) == 0 {
		return 0
	}
	loaded := 0
	for _, k := range keys {
		if o.cache.Has(k) {
			continue
		}
		v, err := o.db.Get(k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			o.setError(err)
			return loaded
		}
		o.cache.Set(k, v)
		loaded++
	}
	prefetchMeter.Mark(int64(loaded))
	return loaded
}
