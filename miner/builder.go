// Package miner seals blocks out of submitted transactions on a single
// devnet node.
package miner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dualvm/bridge/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
)

var (
	ErrPoolFull  = errors.New("transaction pool is full")
	ErrKnownTx   = errors.New("already known")
	ErrNoPending = errors.New("no pending transactions")

	pendingGauge = metrics.NewRegisteredGauge("miner/pending", nil)
	sealedMeter  = metrics.NewRegisteredMeter("miner/sealed", nil)
)

// Chain is the part of core.BlockChain the builder drives.
type Chain interface {
	InsertBlock(txs []*core.Tx, time uint64) (*core.Block, *core.ProcessResult, error)
}

// Config bounds the pool and the blocks built from it.
type Config struct {
	PoolSize    int
	MaxBlockTxs int
	Interval    time.Duration
}

var DefaultConfig = Config{
	PoolSize:    4096,
	MaxBlockTxs: 256,
	Interval:    time.Second,
}

// Builder queues transactions in arrival order and seals them into blocks.
type Builder struct {
	cfg   Config
	chain Chain
	now   func() time.Time

	mu      sync.Mutex
	pending []*core.Tx
	known   mapset.Set[common.Hash]

	notify chan struct{}
	log    log.Logger
}

func New(chain Chain, cfg Config) *Builder {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultConfig.PoolSize
	}
	if cfg.MaxBlockTxs <= 0 {
		cfg.MaxBlockTxs = DefaultConfig.MaxBlockTxs
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig.Interval
	}
	return &Builder{
		cfg:    cfg,
		chain:  chain,
		now:    time.Now,
		known:  mapset.NewThreadUnsafeSet[common.Hash](),
		notify: make(chan struct{}, 1),
		log:    log.New("module", "miner"),
	}
}

// Add queues tx for the next block.
func (b *Builder) Add(tx *core.Tx) (common.Hash, error) {
	hash := tx.Hash()
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.known.Contains(hash) {
		return hash, fmt.Errorf("%w: %s", ErrKnownTx, hash)
	}
	if len(b.pending) >= b.cfg.PoolSize {
		return hash, fmt.Errorf("%w at size %d", ErrPoolFull, b.cfg.PoolSize)
	}
	b.pending = append(b.pending, tx)
	b.known.Add(hash)
	pendingGauge.Update(int64(len(b.pending)))

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return hash, nil
}

func (b *Builder) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Builder) take() []*core.Tx {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := min(len(b.pending), b.cfg.MaxBlockTxs)
	txs := append([]*core.Tx(nil), b.pending[:n]...)
	b.pending = b.pending[n:]
	for _, tx := range txs {
		b.known.Remove(tx.Hash())
	}
	pendingGauge.Update(int64(len(b.pending)))
	return txs
}

// Seal builds one block from the head of the pool.
func (b *Builder) Seal() (*core.Block, error) {
	txs := b.take()
	if len(txs) == 0 {
		return nil, ErrNoPending
	}
	block, res, err := b.chain.InsertBlock(txs, uint64(b.now().Unix()))
	if err != nil {
		return nil, fmt.Errorf("seal %d txs: %w", len(txs), err)
	}
	sealedMeter.Mark(1)
	failed := 0
	for _, r := range res.Results {
		if !r.Success {
			failed++
		}
	}
	b.log.Debug("Sealed block", "number", block.NumberU64(), "txs", len(txs), "failed", failed)
	return block, nil
}

// Loop seals a block whenever transactions are pending, at most once per
// interval, until ctx is done.
func (b *Builder) Loop(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.notify:
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		for b.Pending() > 0 {
			if _, err := b.Seal(); err != nil {
				b.log.Error("Failed to seal block", "err", err)
				break
			}
		}
	}
}
