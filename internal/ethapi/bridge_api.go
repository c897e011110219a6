package ethapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/dualvm/bridge/amount"
	"github.com/dualvm/bridge/core"
	"github.com/dualvm/bridge/core/vm"
	"github.com/dualvm/bridge/gov"
	"github.com/dualvm/bridge/pointer"
	"github.com/dualvm/bridge/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"
)

var (
	errNotAssociated = errors.New("address is not associated")
	errNoPool        = errors.New("node does not accept transactions")
)

// StateReader gives consistent reads of the committed state.
type StateReader interface {
	State(fn func(st store.Store))
}

// TxPool queues transactions for sealing.
type TxPool interface {
	Add(tx *core.Tx) (common.Hash, error)
}

// BridgeAPI is the bridge namespace: pointer, association and toggle
// lookups against the head state, and transaction submission.
type BridgeAPI struct {
	chain StateReader
	b     *core.Bridge
	pool  TxPool // nil on read-only nodes
}

func NewBridgeAPI(chain StateReader, b *core.Bridge, pool TxPool) *BridgeAPI {
	return &BridgeAPI{chain: chain, b: b, pool: pool}
}

// SendRawTransaction queues an rlp-encoded transaction.
func (api *BridgeAPI) SendRawTransaction(ctx context.Context, input hexutil.Bytes) (common.Hash, error) {
	if api.pool == nil {
		return common.Hash{}, errNoPool
	}
	tx := new(core.Tx)
	if err := rlp.DecodeBytes(input, tx); err != nil {
		return common.Hash{}, fmt.Errorf("decode transaction: %w", err)
	}
	if _, err := core.NewTxExecutor(tx.Kind); err != nil {
		return common.Hash{}, err
	}
	return api.pool.Add(tx)
}

// PointerInfo describes one pointer contract.
type PointerInfo struct {
	Standard string         `json:"standard"`
	Pointee  string         `json:"pointee"`
	Pointer  common.Address `json:"pointer"`
	Version  hexutil.Uint   `json:"version"`
}

func newPointerInfo(rec pointer.Record) *PointerInfo {
	return &PointerInfo{
		Standard: rec.Standard.String(),
		Pointee:  rec.Pointee,
		Pointer:  rec.Pointer,
		Version:  hexutil.Uint(rec.Version),
	}
}

// GetPointer returns the current pointer of pointee, or null.
func (api *BridgeAPI) GetPointer(ctx context.Context, standard string, pointee string) (*PointerInfo, error) {
	std, err := vm.ParseStandard(standard)
	if err != nil {
		return nil, err
	}
	var info *PointerInfo
	api.chain.State(func(st store.Store) {
		if rec, ok := api.b.Pointers.GetPointer(st, std, pointee); ok {
			info = newPointerInfo(rec)
		}
	})
	return info, nil
}

// GetPointers lists every version of pointee's pointer, oldest first.
func (api *BridgeAPI) GetPointers(ctx context.Context, standard string, pointee string) ([]*PointerInfo, error) {
	std, err := vm.ParseStandard(standard)
	if err != nil {
		return nil, err
	}
	out := []*PointerInfo{}
	api.chain.State(func(st store.Store) {
		for _, rec := range api.b.Pointers.Pointers(st, std, pointee) {
			out = append(out, newPointerInfo(rec))
		}
	})
	return out, nil
}

// GetPointee returns what the pointer at addr fronts, or null.
func (api *BridgeAPI) GetPointee(ctx context.Context, addr common.Address) (*PointerInfo, error) {
	var info *PointerInfo
	api.chain.State(func(st store.Store) {
		if rec, ok := api.b.Pointers.GetPointee(st, addr); ok {
			info = newPointerInfo(rec)
		}
	})
	return info, nil
}

func (api *BridgeAPI) StandardVersion(ctx context.Context, standard string) (hexutil.Uint, error) {
	std, err := vm.ParseStandard(standard)
	if err != nil {
		return 0, err
	}
	var version uint16
	api.chain.State(func(st store.Store) {
		version = api.b.Pointers.StandardVersion(st, std)
	})
	return hexutil.Uint(version), nil
}

// Resolve maps a bech32 account to the EVM address it acts as.
func (api *BridgeAPI) Resolve(ctx context.Context, bech string) (common.Address, error) {
	native, err := api.b.Codec.Decode(bech)
	if err != nil {
		return common.Address{}, err
	}
	var evm common.Address
	api.chain.State(func(st store.Store) {
		evm = api.b.Assoc.Resolve(st, native)
	})
	return evm, nil
}

// ResolveReverse maps an EVM address to its bound bech32 account.
func (api *BridgeAPI) ResolveReverse(ctx context.Context, addr common.Address) (string, error) {
	var (
		native []byte
		ok     bool
	)
	api.chain.State(func(st store.Store) {
		native, ok = api.b.Assoc.ResolveReverse(st, addr)
	})
	if !ok {
		return "", fmt.Errorf("%w: %s", errNotAssociated, addr)
	}
	return api.b.Codec.Encode(native)
}

// WasmEnablement reports the toggle state and when it was last written.
func (api *BridgeAPI) WasmEnablement(ctx context.Context) map[string]interface{} {
	var rec gov.ToggleRecord
	api.chain.State(func(st store.Store) {
		rec = api.b.Gov.Toggle(st)
	})
	return map[string]interface{}{
		"state":     rec.State.String(),
		"revision":  hexutil.Uint64(rec.Revision),
		"updatedAt": hexutil.Uint64(rec.UpdatedAt),
	}
}

// Balance returns the balance of bech in denom as a decimal string.
func (api *BridgeAPI) Balance(ctx context.Context, bech string, denom string) (string, error) {
	native, err := api.b.Codec.Decode(bech)
	if err != nil {
		return "", err
	}
	if denom == "" {
		denom = api.b.Config.BaseDenom
	}
	var bal string
	api.chain.State(func(st store.Store) {
		bal = amount.Format(api.b.Bank.Balance(st, native, denom))
	})
	return bal, nil
}
