package ethapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/dualvm/bridge/proxy"
	"github.com/dualvm/bridge/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
)

var (
	errMissingTo  = errors.New("call target is required")
	errNotHead    = errors.New("only the head state can be called")
	errBadValue   = errors.New("call value does not fit 256 bits")
	errBadMessage = errors.New("query message is not valid json")
)

// CallArgs are the eth_call fields this node reads. Gas and fee fields
// are accepted and ignored.
type CallArgs struct {
	From  *common.Address `json:"from"`
	To    *common.Address `json:"to"`
	Data  *hexutil.Bytes  `json:"data"`
	Input *hexutil.Bytes  `json:"input"`
	Value *hexutil.Big    `json:"value"`
}

func (args *CallArgs) data() []byte {
	if args.Input != nil {
		return *args.Input
	}
	if args.Data != nil {
		return *args.Data
	}
	return nil
}

// revertError is a failed call. Its data is the Solidity encoding of the
// failure reason.
type revertError struct {
	error
	reason string
}

func newRevertError(err error) *revertError {
	return &revertError{
		error:  fmt.Errorf("execution reverted: %w", err),
		reason: hexutil.Encode(proxy.EncodeRevert(err.Error())),
	}
}

// ErrorCode is the code geth returns for reverted calls.
func (e *revertError) ErrorCode() int { return 3 }

func (e *revertError) ErrorData() interface{} { return e.reason }

// CallAPI serves eth_call against pointer contracts.
type CallAPI struct {
	chain  Backend
	bridge *BridgeAPI
}

func NewCallAPI(chain Backend, bridge *BridgeAPI) *CallAPI {
	return &CallAPI{chain: chain, bridge: bridge}
}

// Call runs a pointer call on a throwaway copy of the head state. Targets
// that are not pointers have no code and return empty output.
func (api *CallAPI) Call(ctx context.Context, args CallArgs, blockNrOrHash *rpc.BlockNumberOrHash) (hexutil.Bytes, error) {
	if args.To == nil {
		return nil, errMissingTo
	}
	if blockNrOrHash != nil {
		num, ok := blockReader{b: api.chain}.numberOrHash(*blockNrOrHash)
		if !ok || num != api.chain.CurrentHeader().Number {
			return nil, errNotHead
		}
	}
	var value *uint256.Int
	if args.Value != nil {
		v, overflow := uint256.FromBig(args.Value.ToInt())
		if overflow {
			return nil, errBadValue
		}
		value = v
	}
	var from common.Address
	if args.From != nil {
		from = *args.From
	}
	var (
		ret []byte
		err error
	)
	api.bridge.simulate(func(st store.Store) {
		if _, ok := api.bridge.b.Pointers.GetPointee(st, *args.To); !ok {
			return
		}
		var res *proxy.Result
		res, err = api.bridge.b.Proxy.Call(proxy.Call{
			Store:  st,
			Caller: from,
			To:     *args.To,
			Data:   args.data(),
			Value:  value,
		})
		if err == nil {
			ret = res.Ret
		}
	})
	if err != nil {
		return nil, newRevertError(err)
	}
	return ret, nil
}

// simulate runs fn on a layer over the head state that is always
// discarded.
func (api *BridgeAPI) simulate(fn func(st store.Store)) {
	api.chain.State(func(store.Store) {
		layer := api.b.Store.Clone()
		defer layer.Discard()
		fn(layer)
	})
}

// QueryPointer answers a wasm query message addressed to the pointer at
// addr, the way a contract on the wasm side would see it.
func (api *BridgeAPI) QueryPointer(ctx context.Context, addr common.Address, msg interface{}) (interface{}, error) {
	raw, err := json.Marshal(msg)
	if err != nil || msg == nil {
		return nil, errBadMessage
	}
	var ret []byte
	api.simulate(func(st store.Store) {
		ret, err = api.b.Proxy.Query(st, addr, raw)
	})
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(ret, &out); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	return out, nil
}
