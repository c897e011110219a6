package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/dualvm/bridge/amount"
	"github.com/dualvm/bridge/core/vm"
	"github.com/dualvm/bridge/gov"
	"github.com/dualvm/bridge/params"
	"github.com/dualvm/bridge/pointer"
	"github.com/dualvm/bridge/proxy"
	"github.com/dualvm/bridge/store"
	"github.com/dualvm/bridge/tracing"
	"github.com/dualvm/bridge/wasm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// TxExecutor is one execution backend. The StateProcessor picks the backend
// by message family and never branches on the concrete engine.
type TxExecutor interface {
	// Engine returns a short human identifier ("vme", "vmw", ...).
	Engine() string

	// ExecuteTx runs tx against env.Store. On failure the returned Outcome,
	// when non-nil, still describes the call so a receipt can be written.
	ExecuteTx(env *ExecEnv, tx *Tx) (*Outcome, error)
}

// ExecEnv is what a transaction executes against: the bridge components and
// the transaction-scoped store layer.
type ExecEnv struct {
	*Bridge
	Store  store.Store
	Height uint64
	Time   uint64
}

// Outcome is the result of one executed transaction.
type Outcome struct {
	From            common.Address
	To              common.Address
	ContractAddress common.Address
	Input           []byte
	Ret             []byte
	Logs            []*types.Log
	Events          []wasm.Event // wasm events, projected by the processor
	GasUsed         uint64
	Frame           string
}

var executors = map[string]TxExecutor{
	"vme":      vmeExecutor{},
	"vmw":      vmwExecutor{},
	"registry": registryExecutor{},
	"bank":     bankExecutor{},
	"gov":      govExecutor{},
}

// NewTxExecutor returns the backend serving kind.
func NewTxExecutor(kind TxKind) (TxExecutor, error) {
	var engine string
	switch kind {
	case KindEVMCall:
		engine = "vme"
	case KindWasmStoreCode, KindWasmInstantiate, KindWasmExecute, KindWasmMigrate:
		engine = "vmw"
	case KindAssociate, KindRegisterPointer:
		engine = "registry"
	case KindBankSend:
		engine = "bank"
	case KindSubmitProposal, KindPassProposal, KindRejectProposal:
		engine = "gov"
	default:
		return nil, fmt.Errorf("no executor for %s", kind)
	}
	return executors[engine], nil
}

// nativeSender decodes a bech32 sender and materializes its implicit binding,
// returning the native account and its EVM address.
func (env *ExecEnv) nativeSender(bech string) ([]byte, common.Address, error) {
	native, err := env.Codec.Decode(bech)
	if err != nil {
		return nil, common.Address{}, err
	}
	return native, env.Assoc.EnsureImplicit(env.Store, native), nil
}

// evmSender finds the native account paying for an EVM value transfer.
// Addresses nobody has bound stand for their own cast account, whose
// implicit binding is recorded now.
func (env *ExecEnv) evmSender(from common.Address) ([]byte, error) {
	if native, ok := env.Assoc.ResolveReverse(env.Store, from); ok {
		return native, nil
	}
	if env.Assoc.IsOrphaned(env.Store, from) {
		return nil, vm.ExecutionFailedReason("sender %s is a retired placeholder", from)
	}
	native := from.Bytes()
	env.Assoc.EnsureImplicit(env.Store, native)
	return native, nil
}

type vmeExecutor struct{}

func (vmeExecutor) Engine() string { return "vme" }

func (vmeExecutor) ExecuteTx(env *ExecEnv, tx *Tx) (*Outcome, error) {
	var call EVMCall
	if err := tx.Decode(&call); err != nil {
		return nil, err
	}
	out := &Outcome{From: call.From, To: call.To, Input: call.Data, Frame: "CALL", GasUsed: params.TxGas}
	value := new(uint256.Int)
	if call.Value != nil {
		if call.Value.Sign() < 0 {
			return out, vm.ExecutionFailedReason("negative value")
		}
		if value.SetFromBig(call.Value) {
			return out, vm.ExecutionFailed(amount.ErrOverflow)
		}
	}
	meta := &vm.CallMetadata{From: call.From, To: call.To, Data: call.Data, Value: value.Dec()}

	if env.Proxy.IsPointer(env.Store, call.To) {
		out.GasUsed = params.PointerCallGas
		res, err := env.Proxy.Call(proxy.Call{Store: env.Store, Caller: meta.From, To: meta.To, Data: meta.Data, Value: value})
		if err != nil {
			return out, err
		}
		out.Ret, out.Logs = res.Ret, res.Logs
		return out, nil
	}
	if value.IsZero() {
		return out, nil
	}
	return out, transferValue(env, meta)
}

// transferValue moves base-denom funds for an EVM call to a non-pointer
// address. Dust below one native unit is not moved.
func transferValue(env *ExecEnv, meta *vm.CallMetadata) error {
	value, err := meta.ValueAmount()
	if err != nil {
		return vm.ExecutionFailed(err)
	}
	native, _ := amount.ToNative(value)
	if native.IsZero() {
		return vm.ExecutionFailedReason("amount below native unit")
	}
	from, err := env.evmSender(meta.From)
	if err != nil {
		return err
	}
	to := env.Assoc.RecipientFor(env.Store, meta.To)
	if err := env.Bank.Send(env.Store, from, to, env.Config.BaseDenom, native, tracing.BalanceChangeEVMValue); err != nil {
		return vm.ExecutionFailed(err)
	}
	return nil
}

type vmwExecutor struct{}

func (vmwExecutor) Engine() string { return "vmw" }

func (vmwExecutor) ExecuteTx(env *ExecEnv, tx *Tx) (*Outcome, error) {
	out := &Outcome{GasUsed: params.WasmExecuteGas}
	switch tx.Kind {
	case KindWasmStoreCode:
		var m WasmStoreCode
		if err := tx.Decode(&m); err != nil {
			return nil, err
		}
		out.Frame = "WASM_STORE_CODE"
		_, from, err := env.nativeSender(m.Sender)
		if err != nil {
			return nil, err
		}
		out.From = from
		id, err := env.Wasm.StoreCode(env.Store, m.Sender, m.Code)
		if err != nil {
			return out, err
		}
		out.Ret = binary.BigEndian.AppendUint64(nil, id)
	case KindWasmInstantiate:
		var m WasmInstantiate
		if err := tx.Decode(&m); err != nil {
			return nil, err
		}
		out.Frame, out.Input = "WASM_INSTANTIATE", m.Msg
		_, from, err := env.nativeSender(m.Sender)
		if err != nil {
			return nil, err
		}
		out.From = from
		addr, evts, err := env.Wasm.Instantiate(env.Store, m.Sender, m.CodeID, m.Msg, m.Label, m.Funds)
		if err != nil {
			return out, err
		}
		out.Ret, out.Events = []byte(addr), evts
	case KindWasmExecute:
		var m WasmExecute
		if err := tx.Decode(&m); err != nil {
			return nil, err
		}
		out.Frame, out.Input = "WASM_EXECUTE", m.Msg
		_, from, err := env.nativeSender(m.Sender)
		if err != nil {
			return nil, err
		}
		out.From = from
		if raw, err := env.Codec.Decode(m.Contract); err == nil {
			out.To = common.BytesToAddress(raw)
		}
		data, evts, err := env.Wasm.Execute(env.Store, m.Sender, m.Contract, m.Msg, m.Funds)
		if err != nil {
			return out, err
		}
		out.Ret, out.Events = data, evts
	case KindWasmMigrate:
		var m WasmMigrate
		if err := tx.Decode(&m); err != nil {
			return nil, err
		}
		out.Frame = "WASM_MIGRATE"
		_, from, err := env.nativeSender(m.Sender)
		if err != nil {
			return nil, err
		}
		out.From = from
		evts, err := env.Wasm.Migrate(env.Store, m.Sender, m.Contract, m.CodeID)
		if err != nil {
			return out, err
		}
		out.Events = evts
	default:
		return nil, fmt.Errorf("vmw: unexpected %s", tx.Kind)
	}
	return out, nil
}

type registryExecutor struct{}

func (registryExecutor) Engine() string { return "registry" }

func (registryExecutor) ExecuteTx(env *ExecEnv, tx *Tx) (*Outcome, error) {
	out := &Outcome{GasUsed: params.RegistryWriteGas}
	switch tx.Kind {
	case KindAssociate:
		var m Associate
		if err := tx.Decode(&m); err != nil {
			return nil, err
		}
		out.Frame = "ASSOCIATE"
		native, evm, err := env.Assoc.AssociateSigned(env.Store, m.Message, m.Signature)
		if err != nil {
			return out, err
		}
		out.From, out.Ret = evm, native
	case KindRegisterPointer:
		var m RegisterPointer
		if err := tx.Decode(&m); err != nil {
			return nil, err
		}
		out.Frame, out.Input = "REGISTER_POINTER", []byte(m.Pointee)
		if m.Sender != "" {
			_, from, err := env.nativeSender(m.Sender)
			if err != nil {
				return nil, err
			}
			out.From = from
		}
		var (
			rec pointer.Record
			err error
		)
		if m.Version == 0 {
			rec, err = env.Pointers.RegisterPointer(env.Store, m.Standard, m.Pointee)
		} else {
			rec, err = env.Pointers.DeployPointer(env.Store, pointer.DeployRequest{Standard: m.Standard, Pointee: m.Pointee, Version: m.Version})
		}
		if err != nil {
			return out, err
		}
		out.ContractAddress, out.Ret = rec.Pointer, rec.Pointer.Bytes()
	default:
		return nil, fmt.Errorf("registry: unexpected %s", tx.Kind)
	}
	return out, nil
}

type bankExecutor struct{}

func (bankExecutor) Engine() string { return "bank" }

func (bankExecutor) ExecuteTx(env *ExecEnv, tx *Tx) (*Outcome, error) {
	var m BankSend
	if err := tx.Decode(&m); err != nil {
		return nil, err
	}
	out := &Outcome{Frame: "BANK_SEND", GasUsed: params.TxGas}
	from, fromEVM, err := env.nativeSender(m.From)
	if err != nil {
		return nil, err
	}
	out.From = fromEVM
	to, err := env.Codec.Decode(m.To)
	if err != nil {
		return out, err
	}
	out.To = env.Assoc.Resolve(env.Store, to)
	amt, overflow := uint256.FromBig(nonNegative(m.Amount))
	if overflow {
		return out, amount.ErrOverflow
	}
	return out, env.Bank.Send(env.Store, from, to, m.Denom, amt, tracing.BalanceChangeTransfer)
}

func nonNegative(v *big.Int) *big.Int {
	if v == nil || v.Sign() < 0 {
		return new(big.Int)
	}
	return v
}

type govExecutor struct{}

func (govExecutor) Engine() string { return "gov" }

func (govExecutor) ExecuteTx(env *ExecEnv, tx *Tx) (*Outcome, error) {
	out := &Outcome{Frame: "GOV", GasUsed: params.RegistryWriteGas}
	switch tx.Kind {
	case KindSubmitProposal:
		var m SubmitProposal
		if err := tx.Decode(&m); err != nil {
			return nil, err
		}
		_, from, err := env.nativeSender(m.Proposer)
		if err != nil {
			return nil, err
		}
		out.From, out.Input = from, m.Payload
		id, err := env.Gov.SubmitProposal(env.Store, m.Proposer, m.Kind, m.Payload, env.Height)
		if err != nil {
			return out, err
		}
		out.Ret = binary.BigEndian.AppendUint64(nil, id)
	case KindPassProposal:
		var m PassProposal
		if err := tx.Decode(&m); err != nil {
			return nil, err
		}
		_, from, err := env.nativeSender(m.Sender)
		if err != nil {
			return nil, err
		}
		out.From = from
		err = env.Gov.PassProposal(env.Store, m.ID, env.Height)
		var failed *gov.ProposalFailedError
		if errors.As(err, &failed) {
			// The transaction succeeded in deciding the proposal.
			out.Ret = []byte(failed.Error())
			return out, nil
		}
		return out, err
	case KindRejectProposal:
		var m RejectProposal
		if err := tx.Decode(&m); err != nil {
			return nil, err
		}
		_, from, err := env.nativeSender(m.Sender)
		if err != nil {
			return nil, err
		}
		out.From = from
		return out, env.Gov.RejectProposal(env.Store, m.ID, env.Height)
	default:
		return nil, fmt.Errorf("gov: unexpected %s", tx.Kind)
	}
	return out, nil
}
