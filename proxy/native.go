package proxy

import (
	"math/big"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dualvm/bridge/amount"
	"github.com/dualvm/bridge/bank"
	"github.com/dualvm/bridge/core/vm"
	"github.com/dualvm/bridge/params"
	"github.com/dualvm/bridge/tracing"
	"github.com/dualvm/bridge/wasm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func registerNative(calls *vm.Table[abiHandler], queries *vm.Table[queryHandler]) {
	std := vm.StandardNative
	calls.Register(std, "name", func(c *callContext, _ []interface{}) ([]interface{}, error) {
		return []interface{}{c.nativeMetadata().Name}, nil
	})
	calls.Register(std, "symbol", func(c *callContext, _ []interface{}) ([]interface{}, error) {
		return []interface{}{c.nativeMetadata().Symbol}, nil
	})
	calls.Register(std, "decimals", func(c *callContext, _ []interface{}) ([]interface{}, error) {
		return []interface{}{c.nativeMetadata().Decimals}, nil
	})
	calls.Register(std, "totalSupply", func(c *callContext, _ []interface{}) ([]interface{}, error) {
		v, err := c.nativeToEVM(c.p.bank.Supply(c.st, c.rec.Pointee))
		return []interface{}{v}, err
	})
	calls.Register(std, "balanceOf", func(c *callContext, args []interface{}) ([]interface{}, error) {
		holder := c.p.assoc.RecipientFor(c.st, args[0].(common.Address))
		v, err := c.nativeToEVM(c.p.bank.Balance(c.st, holder, c.rec.Pointee))
		return []interface{}{v}, err
	})
	calls.Register(std, "transfer", nativeTransfer)
	calls.Unsupported(std, mapset.NewSet("approve", "allowance", "transferFrom"))

	queries.Register(std, "balance", nativeBalanceQuery)
	queries.Register(std, "token_info", func(c *callContext, _ []byte) ([]byte, error) {
		md := c.nativeMetadata()
		return jsonAPI.Marshal(wasm.TokenInfoResponse{
			Name:        md.Name,
			Symbol:      md.Symbol,
			Decimals:    md.Decimals,
			TotalSupply: wasm.NewUint128(c.p.bank.Supply(c.st, c.rec.Pointee)),
		})
	})
	queries.Unsupported(std, mapset.NewSet("allowance"))
}

// scaled reports whether the pointee is the base denom, whose EVM face
// carries the fixed decimal ratio.
func (c *callContext) scaled() bool { return c.rec.Pointee == c.p.baseDenom }

func (c *callContext) nativeMetadata() bank.Metadata {
	md, ok := c.p.bank.Metadata(c.st, c.rec.Pointee)
	if !ok {
		md = bank.Metadata{Denom: c.rec.Pointee, Name: c.rec.Pointee, Symbol: c.rec.Pointee}
	}
	if c.scaled() {
		md.Decimals = params.EVMDecimals
	}
	return md
}

func (c *callContext) nativeToEVM(v *uint256.Int) (*big.Int, error) {
	if !c.scaled() {
		return toBig(v), nil
	}
	scaled, err := amount.ToEVM(v)
	if err != nil {
		return nil, err
	}
	return toBig(scaled), nil
}

func nativeTransfer(c *callContext, args []interface{}) ([]interface{}, error) {
	to := args[0].(common.Address)
	val, err := fromBig(args[1].(*big.Int))
	if err != nil {
		return nil, vm.ExecutionFailed(err)
	}
	from, err := c.originNative()
	if err != nil {
		return nil, err
	}
	moved := val
	if c.scaled() {
		n, _ := amount.ToNative(val)
		if n.IsZero() && !val.IsZero() {
			return nil, vm.ExecutionFailedReason("amount below native unit")
		}
		val = n
		if moved, err = amount.ToEVM(n); err != nil {
			return nil, vm.ExecutionFailed(err)
		}
	}
	if err := c.p.bank.Send(c.st, from, c.p.assoc.RecipientFor(c.st, to), c.rec.Pointee, val, tracing.BalanceChangePointerTransfer); err != nil {
		return nil, vm.ExecutionFailed(err)
	}
	c.emit([]common.Hash{TransferTopic, AddressTopic(c.caller), AddressTopic(to)}, wordOf(toBig(moved)))
	return []interface{}{true}, nil
}

func nativeBalanceQuery(c *callContext, msg []byte) ([]byte, error) {
	var q struct {
		Balance struct {
			Address string `json:"address"`
		} `json:"balance"`
	}
	if err := jsonAPI.Unmarshal(msg, &q); err != nil {
		return nil, vm.ExecutionFailed(err)
	}
	raw, ok := c.p.codec.Parse(q.Balance.Address)
	if !ok {
		return nil, vm.ExecutionFailedReason("invalid address %q", q.Balance.Address)
	}
	holder := raw
	if len(raw) == common.AddressLength && !isBech32(c, q.Balance.Address) {
		holder = c.p.assoc.RecipientFor(c.st, common.BytesToAddress(raw))
	}
	return jsonAPI.Marshal(wasm.BalanceResponse{Balance: wasm.NewUint128(c.p.bank.Balance(c.st, holder, c.rec.Pointee))})
}

func isBech32(c *callContext, s string) bool {
	_, err := c.p.codec.Decode(s)
	return err == nil
}
