package core

import (
	"github.com/ethereum/go-ethereum/common"
)

// Listing selects how much of a block EVM queries see.
type Listing uint8

const (
	// ListingStandard shows every receipt and log, synthetic ones included.
	ListingStandard Listing = iota
	// ListingExcludeTraceFail hides shell receipts and synthetic logs, which
	// have no EVM execution frame to trace.
	ListingExcludeTraceFail
)

func (l Listing) String() string {
	if l == ListingExcludeTraceFail {
		return "exclude_trace_fail"
	}
	return "standard"
}

// NoExecutionFrame is reported when tracing a shell receipt.
const NoExecutionFrame = "no execution frame"

// ListReceipts returns copies of receipts as seen through listing, with
// blockHash attached and log indices renumbered block-wide from zero.
func ListReceipts(receipts []*Receipt, blockHash common.Hash, listing Listing) []*Receipt {
	out := make([]*Receipt, 0, len(receipts))
	var index uint
	for _, r := range receipts {
		if listing == ListingExcludeTraceFail && r.IsShell() {
			continue
		}
		c := r.copy()
		c.BlockHash = blockHash
		kept := c.Logs[:0]
		for _, l := range c.Logs {
			if listing == ListingExcludeTraceFail && l.Synthetic {
				continue
			}
			l.BlockHash, l.Index = blockHash, index
			index++
			kept = append(kept, l)
		}
		c.Logs = kept
		if listing == ListingExcludeTraceFail {
			c.Bloom = logsBloom(kept)
		}
		out = append(out, c)
	}
	return out
}

// ListLogs flattens the logs of ListReceipts.
func ListLogs(receipts []*Receipt, blockHash common.Hash, listing Listing) []*Log {
	var logs []*Log
	for _, r := range ListReceipts(receipts, blockHash, listing) {
		logs = append(logs, r.Logs...)
	}
	return logs
}

// TxTrace is the trace of one receipt-bearing transaction.
type TxTrace struct {
	TxHash common.Hash
	Result *CallFrame
	Error  string
}

// ListTraces traces the receipts visible in listing. frames holds one frame
// per transaction of the block, indexed by transaction position.
func ListTraces(receipts []*Receipt, frames []*CallFrame, listing Listing) []*TxTrace {
	var out []*TxTrace
	for _, r := range receipts {
		if r.IsShell() {
			if listing == ListingStandard {
				out = append(out, &TxTrace{TxHash: r.TxHash, Error: NoExecutionFrame})
			}
			continue
		}
		t := &TxTrace{TxHash: r.TxHash}
		if int(r.TxIndex) < len(frames) {
			t.Result = frames[r.TxIndex]
		} else {
			t.Error = NoExecutionFrame
		}
		out = append(out, t)
	}
	return out
}
