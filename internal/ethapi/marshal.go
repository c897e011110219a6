package ethapi

import (
	"fmt"

	"github.com/dualvm/bridge/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// marshalBlock renders a block. Its transaction list is the receipt-bearing
// transactions of the listing, in block order.
func marshalBlock(block *core.Block, receipts []*core.Receipt, fullTx bool) map[string]interface{} {
	fields := marshalHeader(block.Header)
	txs := make([]interface{}, 0, len(receipts))
	for _, r := range receipts {
		if fullTx {
			txs = append(txs, marshalTx(block.Txs[r.TxIndex], r))
		} else {
			txs = append(txs, r.TxHash)
		}
	}
	fields["transactions"] = txs
	return fields
}

func marshalHeader(head *core.Header) map[string]interface{} {
	return map[string]interface{}{
		"number":           hexutil.Uint64(head.Number),
		"hash":             head.Hash(),
		"parentHash":       head.ParentHash,
		"timestamp":        hexutil.Uint64(head.Time),
		"stateRoot":        head.StateRoot,
		"transactionsRoot": head.TxHash,
		"receiptsRoot":     head.ReceiptHash,
		"logsBloom":        head.Bloom,
		"gasUsed":          hexutil.Uint64(head.GasUsed),
	}
}

func marshalTx(tx *core.Tx, r *core.Receipt) map[string]interface{} {
	fields := map[string]interface{}{
		"hash":             r.TxHash,
		"blockHash":        r.BlockHash,
		"blockNumber":      hexutil.Uint64(r.BlockNumber),
		"transactionIndex": hexutil.Uint64(r.TxIndex),
		"type":             hexutil.Uint64(r.Type),
		"nonce":            hexutil.Uint64(tx.Nonce),
		"from":             r.From,
		"to":               r.To,
		"value":            (*hexutil.Big)(common.Big0),
		"input":            hexutil.Bytes(tx.Payload),
		"kind":             tx.Kind.String(),
	}
	var call core.EVMCall
	if tx.Kind == core.KindEVMCall && tx.Decode(&call) == nil {
		fields["input"] = hexutil.Bytes(call.Data)
		if call.Value != nil {
			fields["value"] = (*hexutil.Big)(call.Value)
		}
	}
	return fields
}

func marshalReceipt(r *core.Receipt) map[string]interface{} {
	logs := make([]*types.Log, len(r.Logs))
	for i, l := range r.Logs {
		logs[i] = l.EthLog()
	}
	fields := map[string]interface{}{
		"blockHash":         r.BlockHash,
		"blockNumber":       hexutil.Uint64(r.BlockNumber),
		"transactionHash":   r.TxHash,
		"transactionIndex":  hexutil.Uint64(r.TxIndex),
		"from":              r.From,
		"to":                r.To,
		"gasUsed":           hexutil.Uint64(r.GasUsed),
		"cumulativeGasUsed": hexutil.Uint64(r.CumulativeGasUsed),
		"contractAddress":   nil,
		"logs":              logs,
		"logsBloom":         r.Bloom,
		"type":              hexutil.Uint64(r.Type),
		"status":            hexutil.Uint64(r.Status),
	}
	if r.ContractAddress != (common.Address{}) {
		fields["contractAddress"] = r.ContractAddress
	}
	if len(r.RevertData) > 0 {
		fields["revertReason"] = hexutil.Bytes(r.RevertData)
	}
	return fields
}

type callFrame struct {
	Type    string         `json:"type"`
	From    common.Address `json:"from"`
	To      common.Address `json:"to"`
	Input   hexutil.Bytes  `json:"input"`
	Output  hexutil.Bytes  `json:"output,omitempty"`
	GasUsed hexutil.Uint64 `json:"gasUsed"`
	Error   string         `json:"error,omitempty"`
}

type txTraceResult struct {
	TxHash common.Hash `json:"txHash"`
	Result *callFrame  `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func newTxTraceResult(t *core.TxTrace) *txTraceResult {
	out := &txTraceResult{TxHash: t.TxHash, Error: t.Error}
	if f := t.Result; f != nil {
		out.Result = &callFrame{
			Type:    f.Type,
			From:    f.From,
			To:      f.To,
			Input:   f.Input,
			Output:  f.Output,
			GasUsed: hexutil.Uint64(f.GasUsed),
			Error:   f.Error,
		}
	}
	return out
}

// FilterCriteria is the eth_getLogs argument. Address takes a single
// address or a list; each topic position takes null, a hash or a list.
type FilterCriteria struct {
	BlockHash *common.Hash
	FromBlock *rpc.BlockNumber
	ToBlock   *rpc.BlockNumber
	Addresses []common.Address
	Topics    [][]common.Hash
}

func (c *FilterCriteria) UnmarshalJSON(data []byte) error {
	var raw struct {
		BlockHash *common.Hash          `json:"blockHash"`
		FromBlock *rpc.BlockNumber      `json:"fromBlock"`
		ToBlock   *rpc.BlockNumber      `json:"toBlock"`
		Address   jsoniter.RawMessage   `json:"address"`
		Topics    []jsoniter.RawMessage `json:"topics"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.BlockHash, c.FromBlock, c.ToBlock = raw.BlockHash, raw.FromBlock, raw.ToBlock

	addrs, err := decodeOneOrMany[common.Address](raw.Address)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	c.Addresses = addrs
	c.Topics = make([][]common.Hash, len(raw.Topics))
	for i, t := range raw.Topics {
		hashes, err := decodeOneOrMany[common.Hash](t)
		if err != nil {
			return fmt.Errorf("invalid topic %d: %w", i, err)
		}
		c.Topics[i] = hashes
	}
	return nil
}

func decodeOneOrMany[T any](raw jsoniter.RawMessage) ([]T, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '[' {
		var many []T
		if err := json.Unmarshal(raw, &many); err != nil {
			return nil, err
		}
		return many, nil
	}
	var one T
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return []T{one}, nil
}
