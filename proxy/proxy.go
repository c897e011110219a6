// Package proxy implements the pointer contracts: EVM calls arriving at a
// pointer address are decoded, translated into the pointee's vocabulary and
// executed against the native ledger or the wasm contract the pointer
// fronts.
package proxy

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/dualvm/bridge/address"
	"github.com/dualvm/bridge/association"
	"github.com/dualvm/bridge/bank"
	"github.com/dualvm/bridge/core/vm"
	"github.com/dualvm/bridge/pointer"
	"github.com/dualvm/bridge/store"
	"github.com/dualvm/bridge/wasm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/holiman/uint256"
	jsoniter "github.com/json-iterator/go"
)

var (
	unsupportedMeter = metrics.NewRegisteredMeter("proxy/unsupported", nil)

	jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary
)

// PointerLookup resolves pointer addresses to their records.
type PointerLookup interface {
	GetPointee(st store.Store, ptr common.Address) (pointer.Record, bool)
}

// Call is an EVM call routed to a pointer.
type Call struct {
	Store  store.Store
	Caller common.Address
	To     common.Address
	Data   []byte
	Value  *uint256.Int
}

// Result is the outcome of a pointer call. Logs are only set on success.
type Result struct {
	Ret  []byte
	Logs []*types.Log
}

type abiHandler func(c *callContext, args []interface{}) ([]interface{}, error)

type queryHandler func(c *callContext, msg []byte) ([]byte, error)

// Proxy serves every pointer standard.
type Proxy struct {
	pointers  PointerLookup
	assoc     *association.Registry
	bank      *bank.Keeper
	wasm      wasm.Host
	codec     address.Codec
	baseDenom string

	calls   *vm.Table[abiHandler]
	queries *vm.Table[queryHandler]
	log     log.Logger
}

func New(pointers PointerLookup, assoc *association.Registry, bk *bank.Keeper, host wasm.Host, codec address.Codec, baseDenom string) *Proxy {
	p := &Proxy{
		pointers:  pointers,
		assoc:     assoc,
		bank:      bk,
		wasm:      host,
		codec:     codec,
		baseDenom: baseDenom,
		calls:     vm.NewTable[abiHandler](),
		queries:   vm.NewTable[queryHandler](),
		log:       log.New("module", "proxy"),
	}
	registerNative(p.calls, p.queries)
	registerCW20(p.calls, p.queries)
	registerCW721(p.calls, p.queries)
	registerCW1155(p.calls, p.queries)
	return p
}

// IsPointer reports whether addr is a registered pointer.
func (p *Proxy) IsPointer(st store.Store, addr common.Address) bool {
	_, ok := p.pointers.GetPointee(st, addr)
	return ok
}

// Operations lists the supported ABI operations of std.
func (p *Proxy) Operations(std vm.Standard) []string { return p.calls.Ops(std) }

// Unsupported lists the ABI operations of std that always fail with
// ErrUnsupportedOperation.
func (p *Proxy) Unsupported(std vm.Standard) []string { return p.calls.UnsupportedOps(std) }

// callContext is the per-call state handed to handlers.
type callContext struct {
	p      *Proxy
	st     store.Store
	caller common.Address
	rec    pointer.Record
	logs   []*types.Log
}

// Call executes ABI calldata against the pointer at c.To.
func (p *Proxy) Call(c Call) (*Result, error) {
	rec, ok := p.pointers.GetPointee(c.Store, c.To)
	if !ok {
		return nil, vm.ExecutionFailedReason("%s is not a pointer", c.To)
	}
	markCall(rec.Standard)
	if c.Value != nil && !c.Value.IsZero() {
		return nil, vm.ExecutionFailedReason("pointer does not accept value")
	}
	if len(c.Data) < 4 {
		return nil, vm.ExecutionFailedReason("calldata too short")
	}
	contract := ABIFor(rec.Standard)
	method, err := contract.MethodById(c.Data[:4])
	if err != nil {
		unsupportedMeter.Mark(1)
		return nil, &vm.UnsupportedOperationError{Standard: rec.Standard, Op: fmt.Sprintf("%#x", c.Data[:4])}
	}
	h, err := p.calls.Lookup(rec.Standard, method.RawName)
	if err != nil {
		unsupportedMeter.Mark(1)
		return nil, err
	}
	args, err := method.Inputs.Unpack(c.Data[4:])
	if err != nil {
		return nil, vm.ExecutionFailedReason("malformed calldata for %s: %v", method.Sig, err)
	}
	ctx := &callContext{p: p, st: c.Store, caller: c.Caller, rec: rec}
	out, err := h(ctx, args)
	if err != nil {
		p.log.Debug("Pointer call failed", "pointer", c.To, "standard", rec.Standard, "method", method.Sig, "err", err)
		return nil, classify(err)
	}
	ret, err := method.Outputs.Pack(out...)
	if err != nil {
		return nil, vm.ExecutionFailed(err)
	}
	return &Result{Ret: ret, Logs: ctx.logs}, nil
}

// Query serves the CosmWasm-style query face of a pointer: {"op":{...}}
// messages in the pointee's vocabulary.
func (p *Proxy) Query(st store.Store, ptr common.Address, msg []byte) ([]byte, error) {
	rec, ok := p.pointers.GetPointee(st, ptr)
	if !ok {
		return nil, vm.ExecutionFailedReason("%s is not a pointer", ptr)
	}
	op, _, err := wasm.SplitMessage(msg)
	if err != nil {
		return nil, vm.ExecutionFailed(err)
	}
	h, err := p.queries.Lookup(rec.Standard, op)
	if err != nil {
		unsupportedMeter.Mark(1)
		return nil, err
	}
	out, err := h(&callContext{p: p, st: st, rec: rec}, msg)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func classify(err error) error {
	var unsupported *vm.UnsupportedOperationError
	if errors.As(err, &unsupported) || errors.Is(err, vm.ErrExecutionFailed) {
		return err
	}
	return vm.ExecutionFailed(err)
}

func markCall(std vm.Standard) {
	metrics.GetOrRegisterMeter("proxy/"+std.String()+"/call", nil).Mark(1)
}

// origin resolves the caller to the native account it acts for. Callers
// that originate a mutation must be associated.
func (c *callContext) origin() (string, error) {
	native, err := c.originNative()
	if err != nil {
		return "", err
	}
	return c.p.codec.Encode(native)
}

func (c *callContext) originNative() ([]byte, error) {
	native, ok := c.p.assoc.ResolveReverse(c.st, c.caller)
	if !ok {
		return nil, vm.ExecutionFailedReason("caller %s not associated", c.caller)
	}
	return native, nil
}

// target resolves an EVM address argument to the native account it is
// attributed to.
func (c *callContext) target(addr common.Address) string {
	return c.p.codec.MustEncode(c.p.assoc.RecipientFor(c.st, addr))
}

// evmOf maps a bech32 native address back to the EVM address that
// represents it.
func (c *callContext) evmOf(bech string) (common.Address, error) {
	raw, err := c.p.codec.Decode(bech)
	if err != nil {
		return common.Address{}, err
	}
	return c.p.assoc.Resolve(c.st, raw), nil
}

func (c *callContext) emit(topics []common.Hash, data []byte) {
	c.logs = append(c.logs, &types.Log{Address: c.rec.Pointer, Topics: topics, Data: data})
}

func (c *callContext) query(msg []byte, out interface{}) error {
	res, err := c.p.wasm.Query(c.st, c.rec.Pointee, msg)
	if err != nil {
		return err
	}
	return jsonAPI.Unmarshal(res, out)
}

func (c *callContext) execute(sender string, msg []byte) error {
	_, _, err := c.p.wasm.Execute(c.st, sender, c.rec.Pointee, msg, nil)
	return err
}

// forward passes a query face message to the pointee unchanged.
func forward(c *callContext, msg []byte) ([]byte, error) {
	return c.p.wasm.Query(c.st, c.rec.Pointee, msg)
}

func toBig(v *uint256.Int) *big.Int { return v.ToBig() }

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount")
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("amount overflows 256 bits")
	}
	return u, nil
}

func uint128(v *big.Int) (wasm.Uint128, error) {
	u, err := fromBig(v)
	if err != nil {
		return "", err
	}
	return wasm.NewUint128(u), nil
}

func parseUint128(u wasm.Uint128) (*big.Int, error) {
	v, err := u.Int()
	if err != nil {
		return nil, err
	}
	return v.ToBig(), nil
}

func wordOf(v *big.Int) []byte { return common.BigToHash(v).Bytes() }
