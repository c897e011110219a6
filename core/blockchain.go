package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dualvm/bridge/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
)

var (
	headKey       = []byte("chain/head")
	headerPrefix  = []byte("chain/hdr/")  // num -> header
	hashPrefix    = []byte("chain/hash/") // hash -> num
	bodyPrefix    = []byte("chain/body/") // num -> txs
	receiptPrefix = []byte("chain/rcpt/") // num -> receipts
	resultPrefix  = []byte("chain/res/")  // num -> storedResults

	ErrUnknownBlock = errors.New("unknown block")
)

// ChainHeadEvent is posted after a block is committed.
type ChainHeadEvent struct {
	Header *Header
}

type storedResults struct {
	Results []*TxResult
	Traces  []*CallFrame
}

// FilterQuery selects logs. An empty Addresses matches any address; Topics
// is positional, an empty position matches anything.
type FilterQuery struct {
	FromBlock uint64
	ToBlock   uint64
	Addresses []common.Address
	Topics    [][]common.Hash
}

// BlockChain seals blocks through the StateProcessor and persists them next
// to the state they produced, in the same flush.
type BlockChain struct {
	bridge    *Bridge
	processor *StateProcessor

	mu   sync.RWMutex
	head *Header

	logsFeed event.Feed
	headFeed event.Feed
	scope    event.SubscriptionScope
	log      log.Logger
}

// NewBlockChain opens the chain stored in b, writing genesis first if the
// store is empty.
func NewBlockChain(b *Bridge, genesis *Genesis) (*BlockChain, error) {
	bc := &BlockChain{
		bridge:    b,
		processor: NewStateProcessor(b),
		log:       log.New("module", "chain"),
	}
	if enc, ok := b.Store.Get(headKey); ok {
		head, err := bc.readHeader(binary.BigEndian.Uint64(enc))
		if err != nil {
			return nil, fmt.Errorf("load head: %w", err)
		}
		bc.head = head
		bc.log.Info("Loaded chain", "number", head.Number, "hash", head.Hash())
		return bc, nil
	}
	if genesis == nil {
		genesis = DefaultGenesis(b.Config)
	}
	if err := genesis.apply(b); err != nil {
		b.Store.Discard()
		return nil, fmt.Errorf("genesis: %w", err)
	}
	block := &Block{Header: &Header{Time: genesis.Time}}
	seal(block, &ProcessResult{}, b.Host.Root())
	if err := bc.commit(block, &ProcessResult{}); err != nil {
		return nil, err
	}
	bc.log.Info("Wrote genesis", "hash", block.Hash())
	return bc, nil
}

func numKey(prefix []byte, n uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), prefix...), n)
}

func hashKey(h common.Hash) []byte {
	return append(append([]byte(nil), hashPrefix...), h.Bytes()...)
}

// CurrentHeader returns the head of the chain.
func (bc *BlockChain) CurrentHeader() *Header {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.head
}

// State runs fn against the committed state. Blocks being inserted are not
// visible to fn.
func (bc *BlockChain) State(fn func(st store.Store)) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	fn(bc.bridge.Store)
}

// InsertBlock executes txs as the next block and commits it. Subscribers
// are notified after the chain lock is released.
func (bc *BlockChain) InsertBlock(txs []*Tx, time uint64) (*Block, *ProcessResult, error) {
	block, res, err := bc.insertBlock(txs, time)
	if err != nil {
		return nil, nil, err
	}
	bc.headFeed.Send(ChainHeadEvent{Header: block.Header})
	if len(res.Logs) > 0 {
		bc.logsFeed.Send(ListLogs(res.Receipts, block.Hash(), ListingStandard))
	}
	return block, res, nil
}

func (bc *BlockChain) insertBlock(txs []*Tx, time uint64) (*Block, *ProcessResult, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	parent := bc.head
	block := &Block{
		Header: &Header{ParentHash: parent.Hash(), Number: parent.Number + 1, Time: time},
		Txs:    txs,
	}
	snap := bc.bridge.Host.Snapshot()
	res, err := bc.processor.Process(block)
	if err != nil {
		bc.bridge.Store.Discard()
		bc.bridge.Host.RevertToSnapshot(snap)
		bc.bridge.Assoc.Purge()
		return nil, nil, err
	}
	seal(block, res, bc.bridge.Host.Root())
	if err := bc.commit(block, res); err != nil {
		return nil, nil, err
	}
	hits, misses := store.ProfileCounters()
	store.ResetProfileCounters()
	bc.log.Info("Imported block", "number", block.NumberU64(), "hash", block.Hash(), "txs", len(txs), "receipts", len(res.Receipts), "gas", res.GasUsed, "cachehits", hits, "cachemiss", misses)
	return block, res, nil
}

// commit writes block data into the block overlay and flushes it together
// with the block's state changes.
func (bc *BlockChain) commit(block *Block, res *ProcessResult) error {
	st := bc.bridge.Store
	num := block.NumberU64()
	for key, v := range map[string]interface{}{
		string(numKey(headerPrefix, num)):  block.Header,
		string(numKey(bodyPrefix, num)):    block.Txs,
		string(numKey(receiptPrefix, num)): res.Receipts,
		string(numKey(resultPrefix, num)):  &storedResults{Results: res.Results, Traces: res.Traces},
	} {
		enc, err := rlp.EncodeToBytes(v)
		if err != nil {
			st.Discard()
			return fmt.Errorf("encode block %d: %w", num, err)
		}
		st.Set([]byte(key), enc)
	}
	st.Set(hashKey(block.Hash()), binary.BigEndian.AppendUint64(nil, num))
	st.Set(headKey, binary.BigEndian.AppendUint64(nil, num))
	if err := st.Flush(); err != nil {
		return fmt.Errorf("commit block %d: %w", num, err)
	}
	bc.head = block.Header
	return nil
}

func (bc *BlockChain) read(key []byte, out interface{}) error {
	enc, ok := bc.bridge.Store.Get(key)
	if !ok {
		return ErrUnknownBlock
	}
	return rlp.DecodeBytes(enc, out)
}

func (bc *BlockChain) readHeader(num uint64) (*Header, error) {
	h := new(Header)
	if err := bc.read(numKey(headerPrefix, num), h); err != nil {
		return nil, err
	}
	return h, nil
}

func (bc *BlockChain) GetHeaderByNumber(num uint64) (*Header, error) {
	return bc.readHeader(num)
}

func (bc *BlockChain) GetHeaderByHash(hash common.Hash) (*Header, error) {
	num, ok := bc.NumberOf(hash)
	if !ok {
		return nil, ErrUnknownBlock
	}
	return bc.readHeader(num)
}

// NumberOf maps a block hash to its number.
func (bc *BlockChain) NumberOf(hash common.Hash) (uint64, bool) {
	enc, ok := bc.bridge.Store.Get(hashKey(hash))
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint64(enc), true
}

func (bc *BlockChain) GetBlockByNumber(num uint64) (*Block, error) {
	header, err := bc.readHeader(num)
	if err != nil {
		return nil, err
	}
	var txs []*Tx
	if err := bc.read(numKey(bodyPrefix, num), &txs); err != nil {
		return nil, err
	}
	return &Block{Header: header, Txs: txs}, nil
}

func (bc *BlockChain) GetBlockByHash(hash common.Hash) (*Block, error) {
	num, ok := bc.NumberOf(hash)
	if !ok {
		return nil, ErrUnknownBlock
	}
	return bc.GetBlockByNumber(num)
}

// GetReceipts returns the receipts of block num as seen through listing.
func (bc *BlockChain) GetReceipts(num uint64, listing Listing) ([]*Receipt, error) {
	header, err := bc.readHeader(num)
	if err != nil {
		return nil, err
	}
	var receipts []*Receipt
	if err := bc.read(numKey(receiptPrefix, num), &receipts); err != nil {
		return nil, err
	}
	return ListReceipts(receipts, header.Hash(), listing), nil
}

// GetTxResults returns the outcome and trace frame of every transaction of
// block num.
func (bc *BlockChain) GetTxResults(num uint64) ([]*TxResult, []*CallFrame, error) {
	var stored storedResults
	if err := bc.read(numKey(resultPrefix, num), &stored); err != nil {
		return nil, nil, err
	}
	return stored.Results, stored.Traces, nil
}

// GetTraces traces the receipt-bearing transactions of block num.
func (bc *BlockChain) GetTraces(num uint64, listing Listing) ([]*TxTrace, error) {
	receipts, err := bc.GetReceipts(num, ListingStandard)
	if err != nil {
		return nil, err
	}
	_, frames, err := bc.GetTxResults(num)
	if err != nil {
		return nil, err
	}
	return ListTraces(receipts, frames, listing), nil
}

// GetLogs walks the blocks in [FromBlock, ToBlock], clamped to the head.
func (bc *BlockChain) GetLogs(q FilterQuery, listing Listing) ([]*Log, error) {
	head := bc.CurrentHeader().Number
	to := q.ToBlock
	if to > head {
		to = head
	}
	var out []*Log
	for num := q.FromBlock; num <= to; num++ {
		receipts, err := bc.GetReceipts(num, listing)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", num, err)
		}
		for _, r := range receipts {
			for _, l := range r.Logs {
				if q.Match(l) {
					out = append(out, l)
				}
			}
		}
	}
	return out, nil
}

// Match reports whether l passes the address and topic criteria of q. The
// block range is not checked.
func (q FilterQuery) Match(l *Log) bool {
	if len(q.Addresses) > 0 {
		found := false
		for _, a := range q.Addresses {
			if a == l.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(q.Topics) > len(l.Topics) {
		return false
	}
	for i, alternatives := range q.Topics {
		if len(alternatives) == 0 {
			continue
		}
		found := false
		for _, t := range alternatives {
			if t == l.Topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// SubscribeLogsEvent delivers the standard-listing logs of each new block.
func (bc *BlockChain) SubscribeLogsEvent(ch chan<- []*Log) event.Subscription {
	return bc.scope.Track(bc.logsFeed.Subscribe(ch))
}

func (bc *BlockChain) SubscribeChainHeadEvent(ch chan<- ChainHeadEvent) event.Subscription {
	return bc.scope.Track(bc.headFeed.Subscribe(ch))
}

// Stop ends all subscriptions.
func (bc *BlockChain) Stop() {
	bc.scope.Close()
}
