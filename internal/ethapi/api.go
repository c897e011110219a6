// Package ethapi serves the chain over JSON-RPC.
package ethapi

import (
	"context"
	"errors"

	"github.com/dualvm/bridge/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
)

// Backend is the chain the APIs read from.
type Backend interface {
	CurrentHeader() *core.Header
	NumberOf(hash common.Hash) (uint64, bool)
	GetBlockByNumber(num uint64) (*core.Block, error)
	GetReceipts(num uint64, listing core.Listing) ([]*core.Receipt, error)
	GetTraces(num uint64, listing core.Listing) ([]*core.TxTrace, error)
	GetLogs(q core.FilterQuery, listing core.Listing) ([]*core.Log, error)
	SubscribeLogsEvent(ch chan<- []*core.Log) event.Subscription
	SubscribeChainHeadEvent(ch chan<- core.ChainHeadEvent) event.Subscription
}

// GetAPIs returns the eth, sei and bridge namespaces.
func GetAPIs(chain Backend, bridge *BridgeAPI) []rpc.API {
	return []rpc.API{
		{Namespace: "eth", Service: NewBlockChainAPI(chain)},
		{Namespace: "eth", Service: NewFilterAPI(chain)},
		{Namespace: "eth", Service: NewCallAPI(chain, bridge)},
		{Namespace: "sei", Service: NewSeiAPI(chain)},
		{Namespace: "bridge", Service: bridge},
	}
}

// blockReader answers block queries through one listing.
type blockReader struct {
	b       Backend
	listing core.Listing
}

func (r blockReader) number(n rpc.BlockNumber) (uint64, bool) {
	head := r.b.CurrentHeader().Number
	if n < 0 {
		// latest, pending, safe and finalized are all the head on a
		// single-node chain
		return head, true
	}
	if uint64(n) > head {
		return 0, false
	}
	return uint64(n), true
}

func (r blockReader) numberOrHash(bnh rpc.BlockNumberOrHash) (uint64, bool) {
	if hash, ok := bnh.Hash(); ok {
		return r.b.NumberOf(hash)
	}
	if n, ok := bnh.Number(); ok {
		return r.number(n)
	}
	return 0, false
}

func (r blockReader) block(num uint64, fullTx bool) (map[string]interface{}, error) {
	block, err := r.b.GetBlockByNumber(num)
	if err != nil {
		return nil, err
	}
	receipts, err := r.b.GetReceipts(num, r.listing)
	if err != nil {
		return nil, err
	}
	return marshalBlock(block, receipts, fullTx), nil
}

func (r blockReader) byNumber(n rpc.BlockNumber, fullTx bool) (map[string]interface{}, error) {
	num, ok := r.number(n)
	if !ok {
		return nil, nil
	}
	return r.block(num, fullTx)
}

func (r blockReader) byHash(hash common.Hash, fullTx bool) (map[string]interface{}, error) {
	num, ok := r.b.NumberOf(hash)
	if !ok {
		return nil, nil
	}
	return r.block(num, fullTx)
}

func (r blockReader) receipts(bnh rpc.BlockNumberOrHash) ([]map[string]interface{}, error) {
	num, ok := r.numberOrHash(bnh)
	if !ok {
		return nil, nil
	}
	receipts, err := r.b.GetReceipts(num, r.listing)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, len(receipts))
	for i, receipt := range receipts {
		out[i] = marshalReceipt(receipt)
	}
	return out, nil
}

var errBlockHashWithRange = errors.New("cannot specify both BlockHash and FromBlock/ToBlock")

func (r blockReader) logs(crit FilterCriteria) ([]*types.Log, error) {
	q := core.FilterQuery{Addresses: crit.Addresses, Topics: crit.Topics}
	if crit.BlockHash != nil {
		if crit.FromBlock != nil || crit.ToBlock != nil {
			return nil, errBlockHashWithRange
		}
		num, ok := r.b.NumberOf(*crit.BlockHash)
		if !ok {
			return nil, errors.New("unknown block")
		}
		q.FromBlock, q.ToBlock = num, num
	} else {
		head := r.b.CurrentHeader().Number
		q.FromBlock, q.ToBlock = head, head
		if crit.FromBlock != nil {
			q.FromBlock, _ = r.clamp(*crit.FromBlock)
		}
		if crit.ToBlock != nil {
			q.ToBlock, _ = r.clamp(*crit.ToBlock)
		}
		if q.FromBlock > q.ToBlock {
			return []*types.Log{}, nil
		}
	}
	logs, err := r.b.GetLogs(q, r.listing)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Log, len(logs))
	for i, l := range logs {
		out[i] = l.EthLog()
	}
	return out, nil
}

func (r blockReader) clamp(n rpc.BlockNumber) (uint64, bool) {
	if num, ok := r.number(n); ok {
		return num, true
	}
	return r.b.CurrentHeader().Number, false
}

func (r blockReader) traces(num uint64, ok bool) ([]*txTraceResult, error) {
	if !ok {
		return nil, errors.New("block not found")
	}
	traces, err := r.b.GetTraces(num, r.listing)
	if err != nil {
		return nil, err
	}
	out := make([]*txTraceResult, len(traces))
	for i, t := range traces {
		out[i] = newTxTraceResult(t)
	}
	return out, nil
}

// BlockChainAPI is the eth namespace. It sees every receipt of a block,
// including shell receipts carrying synthetic logs.
type BlockChainAPI struct {
	r blockReader
}

func NewBlockChainAPI(b Backend) *BlockChainAPI {
	return &BlockChainAPI{r: blockReader{b: b, listing: core.ListingStandard}}
}

// BlockNumber returns the number of the head block.
func (api *BlockChainAPI) BlockNumber() hexutil.Uint64 {
	return hexutil.Uint64(api.r.b.CurrentHeader().Number)
}

func (api *BlockChainAPI) GetBlockByNumber(ctx context.Context, number rpc.BlockNumber, fullTx bool) (map[string]interface{}, error) {
	return api.r.byNumber(number, fullTx)
}

func (api *BlockChainAPI) GetBlockByHash(ctx context.Context, hash common.Hash, fullTx bool) (map[string]interface{}, error) {
	return api.r.byHash(hash, fullTx)
}

func (api *BlockChainAPI) GetBlockReceipts(ctx context.Context, blockNrOrHash rpc.BlockNumberOrHash) ([]map[string]interface{}, error) {
	return api.r.receipts(blockNrOrHash)
}

// GetLogs returns the logs matching crit, synthetic logs included.
func (api *BlockChainAPI) GetLogs(ctx context.Context, crit FilterCriteria) ([]*types.Log, error) {
	return api.r.logs(crit)
}

// SeiAPI is the sei namespace. Its ExcludeTraceFail methods hide what has
// no EVM execution frame: shell receipts and synthetic logs.
type SeiAPI struct {
	standard blockReader
	exclude  blockReader
}

func NewSeiAPI(b Backend) *SeiAPI {
	return &SeiAPI{
		standard: blockReader{b: b, listing: core.ListingStandard},
		exclude:  blockReader{b: b, listing: core.ListingExcludeTraceFail},
	}
}

func (api *SeiAPI) GetBlockByNumberExcludeTraceFail(ctx context.Context, number rpc.BlockNumber, fullTx bool) (map[string]interface{}, error) {
	return api.exclude.byNumber(number, fullTx)
}

func (api *SeiAPI) GetBlockByHashExcludeTraceFail(ctx context.Context, hash common.Hash, fullTx bool) (map[string]interface{}, error) {
	return api.exclude.byHash(hash, fullTx)
}

func (api *SeiAPI) GetBlockReceiptsExcludeTraceFail(ctx context.Context, blockNrOrHash rpc.BlockNumberOrHash) ([]map[string]interface{}, error) {
	return api.exclude.receipts(blockNrOrHash)
}

func (api *SeiAPI) GetLogsExcludeTraceFail(ctx context.Context, crit FilterCriteria) ([]*types.Log, error) {
	return api.exclude.logs(crit)
}

// TraceBlockByNumber traces every receipt-bearing transaction. Shell
// receipts report that they have no execution frame.
func (api *SeiAPI) TraceBlockByNumber(ctx context.Context, number rpc.BlockNumber) ([]*txTraceResult, error) {
	return api.standard.traces(api.standard.number(number))
}

func (api *SeiAPI) TraceBlockByHash(ctx context.Context, hash common.Hash) ([]*txTraceResult, error) {
	return api.standard.traces(api.standard.b.NumberOf(hash))
}

func (api *SeiAPI) TraceBlockByNumberExcludeTraceFail(ctx context.Context, number rpc.BlockNumber) ([]*txTraceResult, error) {
	return api.exclude.traces(api.exclude.number(number))
}

func (api *SeiAPI) TraceBlockByHashExcludeTraceFail(ctx context.Context, hash common.Hash) ([]*txTraceResult, error) {
	return api.exclude.traces(api.exclude.b.NumberOf(hash))
}
