// Package events projects wasm contract events onto the EVM pointers of the
// emitting contracts, so EVM tooling observes wasm activity as ordinary
// ERC20/ERC721/ERC1155 logs.
package events

import (
	"math/big"
	"strings"

	"github.com/dualvm/bridge/address"
	"github.com/dualvm/bridge/core/vm"
	"github.com/dualvm/bridge/pointer"
	"github.com/dualvm/bridge/proxy"
	"github.com/dualvm/bridge/store"
	"github.com/dualvm/bridge/wasm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	jsoniter "github.com/json-iterator/go"
)

var (
	syntheticMeter = metrics.NewRegisteredMeter("events/synthetic", nil)
	droppedMeter   = metrics.NewRegisteredMeter("events/dropped", nil)

	emptyWord = common.Hash{}
	trueWord  = common.BigToHash(big.NewInt(1))

	jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary
)

// projectable are the standards whose pointee is a wasm contract.
var projectable = []vm.Standard{vm.StandardCW20, vm.StandardCW721, vm.StandardCW1155}

// Pointers finds the current pointer of a pointee.
type Pointers interface {
	GetPointer(st store.Store, std vm.Standard, pointee string) (pointer.Record, bool)
}

// Resolver maps native accounts to their EVM address.
type Resolver interface {
	Resolve(st store.Store, native []byte) common.Address
}

// Querier runs read-only wasm queries.
type Querier interface {
	Query(st store.Store, contract string, msg []byte) ([]byte, error)
}

// Projector translates wasm events into EVM logs.
type Projector struct {
	pointers Pointers
	assoc    Resolver
	wasm     Querier
	codec    address.Codec
	log      log.Logger
}

func NewProjector(pointers Pointers, assoc Resolver, wasm Querier, codec address.Codec) *Projector {
	return &Projector{
		pointers: pointers,
		assoc:    assoc,
		wasm:     wasm,
		codec:    codec,
		log:      log.New("module", "events"),
	}
}

// action is one "action"-delimited run of attributes inside a wasm event.
type action struct {
	kind      string
	amount    *big.Int
	amounts   []*big.Int
	tokenID   *big.Int
	tokenIDs  []*big.Int
	sender    common.Hash
	recipient common.Hash
	spender   common.Hash
	operator  common.Hash
	owner     common.Hash
	from      common.Hash
	to        common.Hash

	// bech32 forms, needed to query allowances back.
	ownerRaw   string
	spenderRaw string
}

// Project returns the logs for evts in order. Log indices are left to the
// caller, which numbers them block-wide.
func (p *Projector) Project(st store.Store, evts []wasm.Event) []*types.Log {
	var logs []*types.Log
	for _, ev := range evts {
		if ev.Type != wasm.EventTypeWasm {
			continue
		}
		contract, ok := ev.Attribute(wasm.AttributeKeyContractAddr)
		if !ok {
			continue
		}
		for _, std := range projectable {
			rec, ok := p.pointers.GetPointer(st, std, contract)
			if !ok {
				continue
			}
			logs = append(logs, p.translate(st, std, rec.Pointer, contract, ev)...)
			break
		}
	}
	if len(logs) > 0 {
		syntheticMeter.Mark(int64(len(logs)))
	}
	return logs
}

func (p *Projector) translate(st store.Store, std vm.Standard, ptr common.Address, contract string, ev wasm.Event) (res []*types.Log) {
	defer func() {
		if r := recover(); r != nil {
			droppedMeter.Mark(1)
			p.log.Error("Event translation panicked", "contract", contract, "standard", std, "panic", r)
			res = nil
		}
	}()
	actions := p.actions(st, ev)
	switch std {
	case vm.StandardCW20:
		return p.translateCW20(st, ptr, contract, actions)
	case vm.StandardCW721:
		return translateCW721(ptr, actions)
	case vm.StandardCW1155:
		return translateCW1155(ptr, actions)
	}
	return nil
}

func (p *Projector) translateCW20(st store.Store, ptr common.Address, contract string, actions []*action) (res []*types.Log) {
	for _, a := range actions {
		switch a.kind {
		case "mint", "burn", "send", "transfer", "transfer_from", "send_from", "burn_from":
			if a.amount == nil {
				continue
			}
			res = append(res, &types.Log{
				Address: ptr,
				Topics:  []common.Hash{proxy.TransferTopic, a.from, a.to},
				Data:    common.BigToHash(a.amount).Bytes(),
			})
		case "increase_allowance", "decrease_allowance":
			allowance, ok := p.allowance(st, contract, a.ownerRaw, a.spenderRaw)
			if !ok {
				continue
			}
			res = append(res, &types.Log{
				Address: ptr,
				Topics:  []common.Hash{proxy.ApprovalTopic, a.owner, a.spender},
				Data:    common.BigToHash(allowance).Bytes(),
			})
		}
	}
	return res
}

// allowance reads the post-execution allowance, which is what an ERC20
// Approval event reports.
func (p *Projector) allowance(st store.Store, contract, owner, spender string) (*big.Int, bool) {
	ret, err := p.wasm.Query(st, contract, wasm.Message("allowance", map[string]string{"owner": owner, "spender": spender}))
	if err != nil {
		p.log.Debug("Allowance query failed", "contract", contract, "err", err)
		return nil, false
	}
	var resp wasm.AllowanceResponse
	if err := jsonAPI.Unmarshal(ret, &resp); err != nil {
		return nil, false
	}
	v, err := resp.Allowance.Int()
	if err != nil {
		return nil, false
	}
	return v.ToBig(), true
}

func translateCW721(ptr common.Address, actions []*action) (res []*types.Log) {
	for _, a := range actions {
		if a.tokenID == nil && a.kind != "approve_all" && a.kind != "revoke_all" {
			continue
		}
		switch a.kind {
		case "transfer_nft", "send_nft":
			// ERC721 names the owner, not the sender, as from.
			res = append(res, &types.Log{
				Address: ptr,
				Topics:  []common.Hash{proxy.TransferTopic, a.owner, a.recipient, common.BigToHash(a.tokenID)},
				Data:    proxy.ZeroWord(),
			})
		case "burn":
			res = append(res, &types.Log{
				Address: ptr,
				Topics:  []common.Hash{proxy.TransferTopic, a.owner, emptyWord, common.BigToHash(a.tokenID)},
				Data:    proxy.ZeroWord(),
			})
		case "mint":
			res = append(res, &types.Log{
				Address: ptr,
				Topics:  []common.Hash{proxy.TransferTopic, emptyWord, a.owner, common.BigToHash(a.tokenID)},
				Data:    proxy.ZeroWord(),
			})
		case "approve":
			res = append(res, &types.Log{
				Address: ptr,
				Topics:  []common.Hash{proxy.ApprovalTopic, a.sender, a.spender, common.BigToHash(a.tokenID)},
				Data:    proxy.ZeroWord(),
			})
		case "revoke":
			res = append(res, &types.Log{
				Address: ptr,
				Topics:  []common.Hash{proxy.ApprovalTopic, a.sender, emptyWord, common.BigToHash(a.tokenID)},
				Data:    proxy.ZeroWord(),
			})
		case "approve_all", "revoke_all":
			res = append(res, approvalForAll(ptr, a))
		}
	}
	return res
}

func translateCW1155(ptr common.Address, actions []*action) (res []*types.Log) {
	for _, a := range actions {
		switch a.kind {
		case "transfer_single", "mint_single", "burn_single":
			if a.tokenID == nil || a.amount == nil {
				continue
			}
			from, to := a.owner, a.recipient
			if a.kind == "mint_single" {
				from = emptyWord
			}
			if a.kind == "burn_single" {
				to = emptyWord
			}
			data := append(common.BigToHash(a.tokenID).Bytes(), common.BigToHash(a.amount).Bytes()...)
			res = append(res, &types.Log{
				Address: ptr,
				Topics:  []common.Hash{proxy.TransferSingleTopic, a.sender, from, to},
				Data:    data,
			})
		case "transfer_batch", "mint_batch", "burn_batch":
			if len(a.tokenIDs) == 0 || len(a.tokenIDs) != len(a.amounts) {
				continue
			}
			from, to := a.owner, a.recipient
			if a.kind == "mint_batch" {
				from = emptyWord
			}
			if a.kind == "burn_batch" {
				to = emptyWord
			}
			data, err := proxy.ERC1155ABI.Events["TransferBatch"].Inputs.NonIndexed().Pack(a.tokenIDs, a.amounts)
			if err != nil {
				continue
			}
			res = append(res, &types.Log{
				Address: ptr,
				Topics:  []common.Hash{proxy.TransferBatchTopic, a.sender, from, to},
				Data:    data,
			})
		case "approve_all", "revoke_all":
			res = append(res, approvalForAll(ptr, a))
		}
	}
	return res
}

func approvalForAll(ptr common.Address, a *action) *types.Log {
	data := emptyWord
	if a.kind == "approve_all" {
		data = trueWord
	}
	return &types.Log{
		Address: ptr,
		Topics:  []common.Hash{proxy.ApprovalForAllTopic, a.sender, a.operator},
		Data:    data.Bytes(),
	}
}

func (p *Projector) actions(st store.Store, ev wasm.Event) (actions []*action) {
	for _, attr := range ev.Attributes {
		if attr.Key == "action" {
			actions = append(actions, &action{kind: attr.Value})
			continue
		}
		if len(actions) == 0 {
			continue
		}
		cur := actions[len(actions)-1]
		switch attr.Key {
		case "amount":
			cur.amount = parseInt(attr.Value)
		case "amounts":
			cur.amounts = parseInts(attr.Value)
		case "token_id":
			cur.tokenID = parseInt(attr.Value)
		case "token_ids":
			cur.tokenIDs = parseInts(attr.Value)
		case "sender":
			cur.sender = p.addressTopic(st, attr.Value)
		case "recipient":
			cur.recipient = p.addressTopic(st, attr.Value)
		case "spender":
			cur.spender, cur.spenderRaw = p.addressTopic(st, attr.Value), attr.Value
		case "operator":
			cur.operator = p.addressTopic(st, attr.Value)
		case "owner":
			cur.owner, cur.ownerRaw = p.addressTopic(st, attr.Value), attr.Value
		case "from":
			cur.from = p.addressTopic(st, attr.Value)
		case "to":
			cur.to = p.addressTopic(st, attr.Value)
		}
	}
	return actions
}

// addressTopic maps a bech32 attribute to the account's EVM address. Values
// that are not addresses become the zero word.
func (p *Projector) addressTopic(st store.Store, bech string) common.Hash {
	native, err := p.codec.Decode(bech)
	if err != nil {
		return emptyWord
	}
	return proxy.AddressTopic(p.assoc.Resolve(st, native))
}

func parseInt(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil
	}
	return v
}

func parseInts(s string) []*big.Int {
	parts := strings.Split(s, ",")
	out := make([]*big.Int, 0, len(parts))
	for _, part := range parts {
		v := parseInt(part)
		if v == nil {
			return nil
		}
		out = append(out, v)
	}
	return out
}
