package core

import (
	"fmt"
	"time"

	"github.com/dualvm/bridge/association"
	"github.com/dualvm/bridge/params"
	"github.com/dualvm/bridge/pointer"
	"github.com/dualvm/bridge/proxy"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
)

var (
	blockProcessTimer = metrics.NewRegisteredTimer("core/block/process", nil)
	txFailedMeter     = metrics.NewRegisteredMeter("core/tx/failed", nil)
	shellReceiptMeter = metrics.NewRegisteredMeter("core/receipt/shell", nil)
)

// StateProcessor executes the transactions of a block against the bridge's
// block overlay.
type StateProcessor struct {
	bridge *Bridge
}

func NewStateProcessor(b *Bridge) *StateProcessor {
	return &StateProcessor{bridge: b}
}

// ProcessResult holds what processing a block produced. Receipts are in
// standard-listing form: synthetic logs and shell receipts included, log
// indices block-global.
type ProcessResult struct {
	Receipts []*Receipt
	Results  []*TxResult
	Traces   []*CallFrame // parallel to Results
	Logs     []*Log
	GasUsed  uint64
	Bloom    types.Bloom
}

// Process runs every transaction of block on its own layer of the block
// overlay. A failing transaction leaves no state behind. The block overlay
// is not flushed here; the caller commits it with the block.
func (p *StateProcessor) Process(block *Block) (*ProcessResult, error) {
	start := time.Now()
	defer func() { blockProcessTimer.UpdateSince(start) }()

	var (
		b      = p.bridge
		header = block.Header
		result = &ProcessResult{}
	)
	if n := b.Store.Prefetch(prefetchKeys(block)); n > 0 {
		log.Trace("Prefetched block keys", "number", header.Number, "keys", n)
	}
	for i, tx := range block.Txs {
		hash := tx.Hash()
		exec, err := NewTxExecutor(tx.Kind)
		if err != nil {
			return nil, fmt.Errorf("tx %d [%v]: %w", i, hash.Hex(), err)
		}
		layer := b.Store.Clone()
		snap := b.Host.Snapshot()
		env := &ExecEnv{Bridge: b, Store: layer, Height: header.Number, Time: header.Time}

		out, execErr := exec.ExecuteTx(env, tx)
		if err := b.Store.Err(); err != nil {
			layer.Discard()
			return nil, fmt.Errorf("tx %d [%v]: store failure: %w", i, hash.Hex(), err)
		}
		if out == nil {
			out = &Outcome{Frame: tx.Kind.String()}
		}

		var synthetic []*types.Log
		if execErr != nil {
			layer.Discard()
			b.Host.RevertToSnapshot(snap)
			b.Assoc.Purge()
			txFailedMeter.Mark(1)
			log.Debug("Transaction failed", "index", i, "hash", hash, "kind", tx.Kind, "engine", exec.Engine(), "err", execErr)
		} else {
			// Allowances in Approval logs are read from the post-execution
			// state, before the layer is folded into the block.
			synthetic = b.Projector.Project(layer, out.Events)
			layer.Commit()
		}

		res := &TxResult{TxHash: hash, Kind: tx.Kind, Success: execErr == nil, GasUsed: out.GasUsed, Ret: out.Ret}
		frame := &CallFrame{Type: out.Frame, From: out.From, To: out.To, Input: out.Input, Output: out.Ret, GasUsed: out.GasUsed}
		if execErr != nil {
			res.Error, frame.Error = execErr.Error(), execErr.Error()
		}
		result.Results = append(result.Results, res)
		result.Traces = append(result.Traces, frame)
		result.GasUsed += out.GasUsed

		receipt := p.receipt(tx, uint(i), out, execErr, synthetic, result.GasUsed)
		if receipt != nil {
			receipt.TxHash, receipt.BlockNumber = hash, header.Number
			result.Receipts = append(result.Receipts, receipt)
		}
	}
	b.Host.Finalise()

	var index uint
	for _, r := range result.Receipts {
		for _, l := range r.Logs {
			l.BlockNumber, l.TxHash, l.TxIndex, l.Index = r.BlockNumber, r.TxHash, r.TxIndex, index
			index++
			result.Logs = append(result.Logs, l)
		}
		r.Bloom = logsBloom(r.Logs)
		result.Bloom = orBloom(result.Bloom, r.Bloom)
	}
	return result, nil
}

// receipt builds the EVM receipt of a transaction. EVM calls always get
// one; wasm transactions only when they produced synthetic logs, in which
// case a shell receipt carries them.
func (p *StateProcessor) receipt(tx *Tx, index uint, out *Outcome, execErr error, synthetic []*types.Log, cumulative uint64) *Receipt {
	if !tx.Kind.IsEVM() && len(synthetic) == 0 {
		return nil
	}
	r := &Receipt{
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: cumulative,
		GasUsed:           out.GasUsed,
		TxIndex:           index,
		From:              out.From,
		To:                out.To,
		ContractAddress:   out.ContractAddress,
	}
	if !tx.Kind.IsEVM() {
		r.Type = params.ShellTxType
		shellReceiptMeter.Mark(1)
	}
	if execErr != nil {
		r.Status = types.ReceiptStatusFailed
		r.RevertData = proxy.EncodeRevert(execErr.Error())
		return r
	}
	for _, l := range out.Logs {
		r.Logs = append(r.Logs, newLog(l, false))
	}
	for _, l := range synthetic {
		r.Logs = append(r.Logs, newLog(l, true))
	}
	return r
}

// prefetchKeys lists the pointer and association records the EVM calls of
// block will look up.
func prefetchKeys(block *Block) [][]byte {
	var keys [][]byte
	for _, tx := range block.Txs {
		if tx.Kind != KindEVMCall {
			continue
		}
		var call EVMCall
		if tx.Decode(&call) != nil {
			continue
		}
		keys = append(keys, pointer.LookupKey(call.To))
		keys = append(keys, association.LookupKeys(call.From)...)
		keys = append(keys, association.LookupKeys(call.To)...)
	}
	return keys
}

func orBloom(a, b types.Bloom) types.Bloom {
	for i := range a {
		a[i] |= b[i]
	}
	return a
}

// seal fills the commitments of the block header from a processing result.
// Block hashes are not part of what is committed to; readers attach them.
func seal(block *Block, res *ProcessResult, stateRoot common.Hash) {
	header := block.Header
	header.StateRoot = stateRoot
	header.TxHash = txsHash(block.Txs)
	header.ReceiptHash = receiptsHash(res.Receipts)
	header.Bloom = res.Bloom
	header.GasUsed = res.GasUsed
}
