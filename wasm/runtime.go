package wasm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/dualvm/bridge/address"
	"github.com/dualvm/bridge/params"
	"github.com/dualvm/bridge/store"
	"github.com/dualvm/bridge/tracing"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/tetratelabs/wazero"
)

// ProgramSection names the custom section that binds uploaded code to one
// of the runtime's programs.
const ProgramSection = "bridge_program"

var (
	codeSeqKey     = []byte("w/seq/code")
	contractSeqKey = []byte("w/seq/contract")
	codePrefix     = []byte("w/code/")
	blobPrefix     = []byte("w/wasm/")
	contractPrefix = []byte("w/ci/")
	statePrefix    = []byte("w/s/")

	executeMeter = metrics.NewRegisteredMeter("wasm/execute", nil)
	queryMeter   = metrics.NewRegisteredMeter("wasm/query", nil)
	failMeter    = metrics.NewRegisteredMeter("wasm/failed", nil)
)

// FundsMover moves native funds attached to a call.
type FundsMover interface {
	Send(st store.Store, from, to []byte, denom string, amt *uint256.Int, reason tracing.BalanceChangeReason) error
}

// Runtime is an in-process wasm engine. Uploaded bytecode is validated by
// compiling it with wazero; its ProgramSection selects the Go program that
// executes it.
type Runtime struct {
	engine   wazero.Runtime
	codec    address.Codec
	bank     FundsMover
	programs map[string]Program
	log      log.Logger
}

// NewRuntime creates a runtime with the cw20, cw721 and cw1155 programs
// registered.
func NewRuntime(ctx context.Context, codec address.Codec, bank FundsMover) *Runtime {
	cfg := wazero.NewRuntimeConfig().
		WithCustomSections(true).
		WithCompilationCache(wazero.NewCompilationCache())
	r := &Runtime{
		engine:   wazero.NewRuntimeWithConfig(ctx, cfg),
		codec:    codec,
		bank:     bank,
		programs: make(map[string]Program),
		log:      log.New("module", "wasm"),
	}
	r.Register(ProgramCW20, cw20Program{})
	r.Register(ProgramCW721, cw721Program{})
	r.Register(ProgramCW1155, cw1155Program{})
	return r
}

// Register binds name to p. Registering a name twice panics.
func (r *Runtime) Register(name string, p Program) {
	if _, ok := r.programs[name]; ok {
		panic(fmt.Sprintf("wasm: program %q registered twice", name))
	}
	r.programs[name] = p
}

// Programs lists the registered program names.
func (r *Runtime) Programs() []string {
	names := make([]string, 0, len(r.programs))
	for n := range r.programs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Runtime) Close(ctx context.Context) error {
	return r.engine.Close(ctx)
}

// BuildModule returns the smallest valid wasm module that binds to program.
func BuildModule(program string) []byte {
	payload := binary.AppendUvarint(nil, uint64(len(ProgramSection)))
	payload = append(payload, ProgramSection...)
	payload = append(payload, program...)

	mod := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	mod = append(mod, 0x00) // custom section id
	mod = binary.AppendUvarint(mod, uint64(len(payload)))
	return append(mod, payload...)
}

func seqNext(st store.Store, key []byte) uint64 {
	var n uint64
	if v, ok := st.Get(key); ok && len(v) == 8 {
		n = binary.BigEndian.Uint64(v)
	}
	n++
	st.Set(key, binary.BigEndian.AppendUint64(nil, n))
	return n
}

func prefixed(prefix, id []byte) []byte {
	return append(append(make([]byte, 0, len(prefix)+len(id)), prefix...), id...)
}

func (r *Runtime) program(code []byte) (string, error) {
	ctx := context.Background()
	compiled, err := r.engine.CompileModule(ctx, code)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	defer compiled.Close(ctx)
	for _, s := range compiled.CustomSections() {
		if s.Name() == ProgramSection {
			name := string(s.Data())
			if _, ok := r.programs[name]; !ok {
				return "", fmt.Errorf("%w: no program %q", ErrInvalidCode, name)
			}
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: missing %s section", ErrInvalidCode, ProgramSection)
}

// StoreCode validates and stores code, returning its code id.
func (r *Runtime) StoreCode(st store.Store, sender string, code []byte) (uint64, error) {
	if _, err := r.codec.Decode(sender); err != nil {
		return 0, err
	}
	name, err := r.program(code)
	if err != nil {
		return 0, err
	}
	info := CodeInfo{
		CodeID:   seqNext(st, codeSeqKey),
		Checksum: sha256.Sum256(code),
		Creator:  sender,
		Program:  name,
	}
	enc, err := rlp.EncodeToBytes(&info)
	if err != nil {
		return 0, err
	}
	st.Set(prefixed(codePrefix, binary.BigEndian.AppendUint64(nil, info.CodeID)), enc)
	st.Set(prefixed(blobPrefix, info.Checksum[:]), code)
	r.log.Info("Stored wasm code", "id", info.CodeID, "program", name, "checksum", fmt.Sprintf("%x", info.Checksum[:8]))
	return info.CodeID, nil
}

// CodeInfo returns the description of uploaded code.
func (r *Runtime) CodeInfo(st store.Store, id uint64) (CodeInfo, bool) {
	enc, ok := st.Get(prefixed(codePrefix, binary.BigEndian.AppendUint64(nil, id)))
	if !ok {
		return CodeInfo{}, false
	}
	var info CodeInfo
	if err := rlp.DecodeBytes(enc, &info); err != nil {
		r.log.Error("Corrupt code info", "id", id, "err", err)
		return CodeInfo{}, false
	}
	return info, true
}

// ContractAddress derives the address of the seq-th contract instantiated
// from codeID.
func ContractAddress(codeID, seq uint64) []byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], codeID)
	binary.BigEndian.PutUint64(buf[8:], seq)
	return crypto.Keccak256(params.ContractAddrNamespace, buf[:])[12:]
}

func (r *Runtime) Instantiate(st store.Store, sender string, codeID uint64, msg []byte, label string, funds []Coin) (string, []Event, error) {
	code, ok := r.CodeInfo(st, codeID)
	if !ok {
		return "", nil, fmt.Errorf("%w: %d", ErrUnknownCode, codeID)
	}
	raw := ContractAddress(codeID, seqNext(st, contractSeqKey))
	contract, err := r.codec.Encode(raw)
	if err != nil {
		return "", nil, err
	}
	info := ContractInfo{Address: contract, CodeID: codeID, Creator: sender, Label: label}
	enc, err := rlp.EncodeToBytes(&info)
	if err != nil {
		return "", nil, err
	}
	st.Set(prefixed(contractPrefix, raw), enc)

	if err := r.moveFunds(st, sender, raw, funds); err != nil {
		return "", nil, err
	}
	resp, err := r.run(st, raw, contract, func(p Program, deps Deps) (*Response, error) {
		return p.Instantiate(deps, MessageInfo{Sender: sender, Funds: funds}, msg)
	}, code.Program)
	if err != nil {
		return "", nil, err
	}
	events := []Event{{
		Type:       "instantiate",
		Attributes: []Attribute{{AttributeKeyContractAddr, contract}, {"code_id", fmt.Sprint(codeID)}},
	}}
	events = append(events, wasmEvent(contract, resp)...)
	r.log.Debug("Instantiated contract", "contract", contract, "code", codeID, "label", label)
	return contract, events, nil
}

func (r *Runtime) Execute(st store.Store, sender, contract string, msg []byte, funds []Coin) ([]byte, []Event, error) {
	executeMeter.Mark(1)
	info, raw, err := r.lookup(st, contract)
	if err != nil {
		return nil, nil, err
	}
	code, ok := r.CodeInfo(st, info.CodeID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnknownCode, info.CodeID)
	}
	if err := r.moveFunds(st, sender, raw, funds); err != nil {
		return nil, nil, err
	}
	resp, err := r.run(st, raw, contract, func(p Program, deps Deps) (*Response, error) {
		return p.Execute(deps, MessageInfo{Sender: sender, Funds: funds}, msg)
	}, code.Program)
	if err != nil {
		failMeter.Mark(1)
		return nil, nil, err
	}
	events := []Event{{Type: "execute", Attributes: []Attribute{{AttributeKeyContractAddr, contract}}}}
	events = append(events, wasmEvent(contract, resp)...)
	return resp.Data, events, nil
}

// Migrate moves contract to codeID. Only the creator may migrate, and only
// to code running the same program, so stored state stays readable.
func (r *Runtime) Migrate(st store.Store, sender, contract string, codeID uint64) ([]Event, error) {
	info, raw, err := r.lookup(st, contract)
	if err != nil {
		return nil, err
	}
	if info.Creator != sender {
		return nil, fmt.Errorf("%w: %s may not migrate %s", ErrUnauthorized, sender, contract)
	}
	from, ok := r.CodeInfo(st, info.CodeID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCode, info.CodeID)
	}
	to, ok := r.CodeInfo(st, codeID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCode, codeID)
	}
	if from.Program != to.Program {
		return nil, fmt.Errorf("cannot migrate %s from %s to %s", contract, from.Program, to.Program)
	}
	info.CodeID = codeID
	enc, err := rlp.EncodeToBytes(&info)
	if err != nil {
		return nil, err
	}
	st.Set(prefixed(contractPrefix, raw), enc)
	return []Event{{
		Type:       "migrate",
		Attributes: []Attribute{{AttributeKeyContractAddr, contract}, {"code_id", fmt.Sprint(codeID)}},
	}}, nil
}

func (r *Runtime) Query(st store.Store, contract string, msg []byte) ([]byte, error) {
	queryMeter.Mark(1)
	info, raw, err := r.lookup(st, contract)
	if err != nil {
		return nil, err
	}
	code, ok := r.CodeInfo(st, info.CodeID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCode, info.CodeID)
	}
	var out []byte
	_, err = r.run(st, raw, contract, func(p Program, deps Deps) (*Response, error) {
		var qerr error
		out, qerr = p.Query(deps, msg)
		return &Response{}, qerr
	}, code.Program)
	return out, err
}

func (r *Runtime) ContractInfo(st store.Store, contract string) (ContractInfo, bool) {
	info, _, err := r.lookup(st, contract)
	return info, err == nil
}

// Contracts lists every instantiated contract.
func (r *Runtime) Contracts(st store.Store) []ContractInfo {
	var out []ContractInfo
	st.Iterate(contractPrefix, func(_, v []byte) bool {
		var info ContractInfo
		if err := rlp.DecodeBytes(v, &info); err == nil {
			out = append(out, info)
		}
		return true
	})
	return out
}

func (r *Runtime) lookup(st store.Store, contract string) (ContractInfo, []byte, error) {
	raw, err := r.codec.Decode(contract)
	if err != nil {
		return ContractInfo{}, nil, fmt.Errorf("%w: %s", ErrUnknownContract, contract)
	}
	enc, ok := st.Get(prefixed(contractPrefix, raw))
	if !ok {
		return ContractInfo{}, nil, fmt.Errorf("%w: %s", ErrUnknownContract, contract)
	}
	var info ContractInfo
	if err := rlp.DecodeBytes(enc, &info); err != nil {
		return ContractInfo{}, nil, err
	}
	return info, raw, nil
}

func (r *Runtime) moveFunds(st store.Store, sender string, contract []byte, funds []Coin) error {
	if len(funds) == 0 {
		return nil
	}
	if r.bank == nil {
		return fmt.Errorf("%w: funds not accepted", ErrUnauthorized)
	}
	from, err := r.codec.Decode(sender)
	if err != nil {
		return err
	}
	for _, c := range funds {
		if c.Amount == nil || c.Amount.IsZero() {
			continue
		}
		if err := r.bank.Send(st, from, contract, c.Denom, c.Amount, tracing.BalanceChangeTransfer); err != nil {
			return err
		}
	}
	return nil
}

// run lends the contract's storage to the program through a handle and
// turns program panics into errors. The handle is released when the call
// returns.
func (r *Runtime) run(st store.Store, raw []byte, contract string, call func(Program, Deps) (*Response, error), program string) (resp *Response, err error) {
	p, ok := r.programs[program]
	if !ok {
		return nil, fmt.Errorf("%w: no program %q", ErrInvalidCode, program)
	}
	handle := store.NewHandle(st)
	defer store.Release(handle)
	deps := Deps{
		Env:    Env{Contract: contract, Handle: handle},
		API:    bech32API{codec: r.codec},
		prefix: prefixed(statePrefix, append(append([]byte(nil), raw...), '/')),
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Contract panicked", "contract", contract, "err", rec)
			resp, err = nil, fmt.Errorf("contract %s panicked: %v", contract, rec)
		}
	}()
	resp, err = call(p, deps)
	if err == nil && resp == nil {
		resp = &Response{}
	}
	return resp, err
}

func wasmEvent(contract string, resp *Response) []Event {
	if len(resp.Attributes) == 0 {
		return nil
	}
	attrs := make([]Attribute, 0, len(resp.Attributes)+1)
	attrs = append(attrs, Attribute{AttributeKeyContractAddr, contract})
	attrs = append(attrs, resp.Attributes...)
	return []Event{{Type: EventTypeWasm, Attributes: attrs}}
}
