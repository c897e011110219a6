package gov

import (
	"encoding/binary"
	"fmt"

	"github.com/dualvm/bridge/core/vm"
	"github.com/dualvm/bridge/params"
	"github.com/dualvm/bridge/store"
	"github.com/ethereum/go-ethereum/rlp"
)

type ProposalKind uint8

const (
	KindSetWasmEnablement ProposalKind = iota + 1
	KindUpgradeStandard
)

func (k ProposalKind) String() string {
	switch k {
	case KindSetWasmEnablement:
		return "set_wasm_enablement"
	case KindUpgradeStandard:
		return "upgrade_standard"
	}
	return fmt.Sprintf("ProposalKind(%d)", uint8(k))
}

type ProposalStatus uint8

const (
	StatusPending ProposalStatus = iota
	StatusPassed
	StatusRejected
	StatusFailed
)

func (s ProposalStatus) String() string {
	return [...]string{"pending", "passed", "rejected", "failed"}[s]
}

// SetWasmEnablementPayload is the payload of KindSetWasmEnablement.
type SetWasmEnablementPayload struct {
	State WasmEnablement
}

// UpgradeStandardPayload is the payload of KindUpgradeStandard.
type UpgradeStandardPayload struct {
	Standard vm.Standard
}

type Proposal struct {
	ID        uint64
	Kind      ProposalKind
	Payload   []byte
	Proposer  string
	Status    ProposalStatus
	Submitted uint64
	Decided   uint64
	Error     string
}

// EncodePayload rlp-encodes a proposal payload.
func EncodePayload(v interface{}) []byte {
	enc, err := rlp.EncodeToBytes(v)
	if err != nil {
		panic(err)
	}
	return enc
}

func validatePayload(kind ProposalKind, payload []byte) error {
	switch kind {
	case KindSetWasmEnablement:
		var p SetWasmEnablementPayload
		if err := rlp.DecodeBytes(payload, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProposal, err)
		}
		if p.State != WasmEnabled && p.State != WasmDisabled {
			return fmt.Errorf("%w: unknown enablement %d", ErrInvalidProposal, p.State)
		}
	case KindUpgradeStandard:
		var p UpgradeStandardPayload
		if err := rlp.DecodeBytes(payload, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProposal, err)
		}
		if !p.Standard.Valid() {
			return fmt.Errorf("%w: %v", ErrInvalidProposal, vm.ErrUnknownStandard)
		}
	default:
		return fmt.Errorf("%w: kind %d", ErrInvalidProposal, kind)
	}
	return nil
}

// SubmitProposal records a pending proposal and returns its id.
func (k *Keeper) SubmitProposal(st store.Store, proposer string, kind ProposalKind, payload []byte, height uint64) (uint64, error) {
	if err := validatePayload(kind, payload); err != nil {
		return 0, err
	}
	var id uint64
	if v, ok := st.Get(proposalSeqKey); ok && len(v) == 8 {
		id = binary.BigEndian.Uint64(v)
	}
	id++
	st.Set(proposalSeqKey, binary.BigEndian.AppendUint64(nil, id))

	p := Proposal{ID: id, Kind: kind, Payload: payload, Proposer: proposer, Submitted: height}
	k.writeProposal(st, &p)
	k.log.Info("Proposal submitted", "id", id, "kind", kind, "proposer", proposer)
	return id, nil
}

func (k *Keeper) writeProposal(st store.Store, p *Proposal) {
	enc, err := rlp.EncodeToBytes(p)
	if err != nil {
		panic(err)
	}
	st.Set(proposalKey(p.ID), enc)
}

// Proposal loads a proposal by id.
func (k *Keeper) Proposal(st store.Store, id uint64) (Proposal, bool) {
	enc, ok := st.Get(proposalKey(id))
	if !ok {
		return Proposal{}, false
	}
	var p Proposal
	if err := rlp.DecodeBytes(enc, &p); err != nil {
		k.log.Error("Corrupt proposal", "id", id, "err", err)
		return Proposal{}, false
	}
	return p, true
}

// Proposals lists every proposal in id order.
func (k *Keeper) Proposals(st store.Store) []Proposal {
	var out []Proposal
	st.Iterate(proposalPrefix, func(_, v []byte) bool {
		var p Proposal
		if err := rlp.DecodeBytes(v, &p); err == nil {
			out = append(out, p)
		}
		return true
	})
	return out
}

func (k *Keeper) pending(st store.Store, id uint64) (Proposal, error) {
	p, ok := k.Proposal(st, id)
	if !ok {
		return Proposal{}, fmt.Errorf("%w: %d", ErrUnknownProposal, id)
	}
	if p.Status != StatusPending {
		return Proposal{}, fmt.Errorf("%w: %d is %s", ErrProposalClosed, id, p.Status)
	}
	return p, nil
}

// ProposalFailedError reports a passed proposal whose execution failed.
// The proposal is recorded as failed; none of its effects are kept.
type ProposalFailedError struct {
	ID  uint64
	Err error
}

func (e *ProposalFailedError) Error() string {
	return fmt.Sprintf("proposal %d failed: %v", e.ID, e.Err)
}

func (e *ProposalFailedError) Unwrap() error { return e.Err }

// PassProposal executes a pending proposal with the governance module's
// authority. When st can stage writes in a child layer, an execution
// failure leaves only the failed status behind and is returned as a
// *ProposalFailedError.
func (k *Keeper) PassProposal(st store.Store, id uint64, height uint64) error {
	p, err := k.pending(st, id)
	if err != nil {
		return err
	}
	exec := st
	layer, staged := st.(*store.Overlay)
	if staged {
		layer = layer.Clone()
		exec = layer
	}
	err = k.execute(exec, p, height)
	if staged {
		if err != nil {
			layer.Discard()
		} else {
			layer.Commit()
		}
	}
	p.Decided = height
	if err != nil {
		p.Status, p.Error = StatusFailed, err.Error()
		err = &ProposalFailedError{ID: id, Err: err}
	} else {
		p.Status = StatusPassed
	}
	k.writeProposal(st, &p)
	k.log.Info("Proposal decided", "id", id, "kind", p.Kind, "status", p.Status)
	return err
}

// RejectProposal closes a pending proposal without executing it.
func (k *Keeper) RejectProposal(st store.Store, id uint64, height uint64) error {
	p, err := k.pending(st, id)
	if err != nil {
		return err
	}
	p.Status, p.Decided = StatusRejected, height
	k.writeProposal(st, &p)
	return nil
}

func (k *Keeper) execute(st store.Store, p Proposal, height uint64) error {
	switch p.Kind {
	case KindSetWasmEnablement:
		var payload SetWasmEnablementPayload
		if err := rlp.DecodeBytes(p.Payload, &payload); err != nil {
			return err
		}
		return k.SetWasmEnablement(st, params.GovModuleAddress, payload.State, height)
	case KindUpgradeStandard:
		var payload UpgradeStandardPayload
		if err := rlp.DecodeBytes(p.Payload, &payload); err != nil {
			return err
		}
		_, err := k.pointers.UpgradeStandardVersion(st, params.GovModuleAddress, payload.Standard, height)
		return err
	}
	return fmt.Errorf("%w: kind %d", ErrInvalidProposal, p.Kind)
}
