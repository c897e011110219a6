// Package gov holds the governed configuration of the bridge: the wasm
// enablement toggle and the proposals that change it or bump pointer
// standard versions.
package gov

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dualvm/bridge/core/vm"
	"github.com/dualvm/bridge/params"
	"github.com/dualvm/bridge/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
)

// WasmEnablement is the state of the wasm upload toggle.
type WasmEnablement uint8

const (
	WasmEnabled WasmEnablement = iota
	WasmDisabled
)

func (w WasmEnablement) String() string {
	switch w {
	case WasmEnabled:
		return "enabled"
	case WasmDisabled:
		return "disabled"
	}
	return fmt.Sprintf("WasmEnablement(%d)", uint8(w))
}

// ToggleRecord is the versioned configuration record of the toggle.
type ToggleRecord struct {
	State     WasmEnablement
	Revision  uint64
	UpdatedAt uint64
}

var (
	toggleKey      = []byte("gov/toggle")
	proposalSeqKey = []byte("gov/seq")
	proposalPrefix = []byte("gov/prop/")

	ErrUnknownProposal = errors.New("unknown proposal")
	ErrProposalClosed  = errors.New("proposal is not pending")
	ErrInvalidProposal = errors.New("invalid proposal")
)

// Upgrader bumps pointer standard versions.
type Upgrader interface {
	UpgradeStandardVersion(st store.Store, authority common.Address, std vm.Standard, height uint64) (uint16, error)
}

type Keeper struct {
	pointers Upgrader
	log      log.Logger
}

func NewKeeper(pointers Upgrader) *Keeper {
	return &Keeper{pointers: pointers, log: log.New("module", "gov")}
}

// InitGenesis writes the initial toggle record.
func (k *Keeper) InitGenesis(st store.Store, enabled bool) {
	state := WasmEnabled
	if !enabled {
		state = WasmDisabled
	}
	k.writeToggle(st, ToggleRecord{State: state})
}

func (k *Keeper) writeToggle(st store.Store, rec ToggleRecord) {
	enc, err := rlp.EncodeToBytes(&rec)
	if err != nil {
		panic(err)
	}
	st.Set(toggleKey, enc)
}

// Toggle returns the current toggle record. A store without one is
// enabled.
func (k *Keeper) Toggle(st store.Store) ToggleRecord {
	enc, ok := st.Get(toggleKey)
	if !ok {
		return ToggleRecord{State: WasmEnabled}
	}
	var rec ToggleRecord
	if err := rlp.DecodeBytes(enc, &rec); err != nil {
		k.log.Error("Corrupt toggle record", "err", err)
		return ToggleRecord{State: WasmEnabled}
	}
	return rec
}

// WasmEnabled reports whether code upload and instantiation are allowed.
func (k *Keeper) WasmEnabled(st store.Store) bool {
	return k.Toggle(st).State == WasmEnabled
}

// SetWasmEnablement flips the toggle. Only the governance module may call
// it; setting the current state again still bumps the revision.
func (k *Keeper) SetWasmEnablement(st store.Store, authority common.Address, state WasmEnablement, height uint64) error {
	if authority != params.GovModuleAddress {
		return fmt.Errorf("%w: %s may not change wasm enablement", vm.ErrUnauthorized, authority)
	}
	if state != WasmEnabled && state != WasmDisabled {
		return fmt.Errorf("%w: unknown enablement %d", ErrInvalidProposal, state)
	}
	rec := k.Toggle(st)
	rec.State = state
	rec.Revision++
	rec.UpdatedAt = height
	k.writeToggle(st, rec)
	k.log.Info("Wasm enablement changed", "state", state, "revision", rec.Revision, "height", height)
	return nil
}

func proposalKey(id uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), proposalPrefix...), id)
}
