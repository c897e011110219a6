package store

import "github.com/ethereum/go-ethereum/metrics"

var (
	cacheHitCounter  = metrics.NewRegisteredCounter("store/cache/hit", nil)
	cacheMissCounter = metrics.NewRegisteredCounter("store/cache/miss", nil)
	flushedKeysMeter = metrics.NewRegisteredMeter("store/flush/keys", nil)
	prefetchMeter    = metrics.NewRegisteredMeter("store/prefetch/keys", nil)
)

// ResetProfileCounters zeros the read cache counters.
func ResetProfileCounters() {
	cacheHitCounter.Clear()
	cacheMissCounter.Clear()
}

// ProfileCounters returns (hits, misses) since the last reset.
func ProfileCounters() (int64, int64) {
	return cacheHitCounter.Snapshot().Count(), cacheMissCounter.Snapshot().Count()
}
