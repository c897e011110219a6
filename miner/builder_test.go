package miner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dualvm/bridge/core"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	mu     sync.Mutex
	blocks [][]*core.Tx
	fail   error
	sealed chan struct{}
}

func (c *fakeChain) InsertBlock(txs []*core.Tx, time uint64) (*core.Block, *core.ProcessResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return nil, nil, c.fail
	}
	c.blocks = append(c.blocks, txs)
	res := &core.ProcessResult{}
	for _, tx := range txs {
		res.Results = append(res.Results, &core.TxResult{TxHash: tx.Hash(), Success: true})
	}
	if c.sealed != nil {
		c.sealed <- struct{}{}
	}
	header := &core.Header{Number: uint64(len(c.blocks)), Time: time}
	return &core.Block{Header: header, Txs: txs}, res, nil
}

func send(nonce uint64) *core.Tx {
	return core.MustTx(core.KindBankSend, nonce, core.BankSend{From: "a", To: "b", Denom: "usei"})
}

func TestSealTakesInOrder(t *testing.T) {
	chain := &fakeChain{}
	b := New(chain, Config{MaxBlockTxs: 2})
	for i := uint64(1); i <= 3; i++ {
		_, err := b.Add(send(i))
		require.NoError(t, err)
	}
	_, err := b.Add(send(2))
	require.ErrorIs(t, err, ErrKnownTx)

	block, err := b.Seal()
	require.NoError(t, err)
	require.Equal(t, uint64(1), block.NumberU64())
	require.Len(t, chain.blocks[0], 2)
	require.Equal(t, uint64(1), chain.blocks[0][0].Nonce)
	require.Equal(t, 1, b.Pending())

	// Sealed transactions may be submitted again.
	_, err = b.Add(send(1))
	require.NoError(t, err)
	_, err = b.Seal()
	require.NoError(t, err)
	require.Equal(t, []uint64{3, 1}, []uint64{chain.blocks[1][0].Nonce, chain.blocks[1][1].Nonce})

	_, err = b.Seal()
	require.ErrorIs(t, err, ErrNoPending)
}

func TestPoolLimit(t *testing.T) {
	b := New(&fakeChain{}, Config{PoolSize: 1})
	_, err := b.Add(send(1))
	require.NoError(t, err)
	_, err = b.Add(send(2))
	require.ErrorIs(t, err, ErrPoolFull)
}

func TestSealFailureSurfaces(t *testing.T) {
	b := New(&fakeChain{fail: errors.New("disk full")}, Config{})
	_, err := b.Add(send(1))
	require.NoError(t, err)
	_, err = b.Seal()
	require.ErrorContains(t, err, "disk full")
}

func TestLoopSealsPending(t *testing.T) {
	chain := &fakeChain{sealed: make(chan struct{}, 1)}
	b := New(chain, Config{Interval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Loop(ctx) }()

	_, err := b.Add(send(1))
	require.NoError(t, err)
	select {
	case <-chain.sealed:
	case <-time.After(2 * time.Second):
		t.Fatal("block not sealed")
	}
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
