// Package vme adapts a go-ethereum StateDB into the EVM collaborator the
// bridge deploys pointer contracts into.
package vme

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/triedb"
)

var ErrAddressTaken = errors.New("contract address already in use")

// Host wraps the EVM account state. StateDB is not thread-safe, so every
// access goes through mu.
type Host struct {
	mu sync.Mutex
	db *state.StateDB
	// codeCache maps code hash to code for contracts deployed through Host.
	codeCache sync.Map // map[common.Hash][]byte
}

// NewHost wraps an existing StateDB.
func NewHost(db *state.StateDB) *Host {
	return &Host{db: db}
}

// NewMemoryHost creates a Host over a fresh in-memory state.
func NewMemoryHost() (*Host, error) {
	sdb := state.NewDatabase(triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil), nil)
	db, err := state.New(types.EmptyRootHash, sdb)
	if err != nil {
		return nil, err
	}
	return NewHost(db), nil
}

// ContractAddress is the CREATE2 address CreateContract would use.
func ContractAddress(deployer common.Address, salt [32]byte, code []byte) common.Address {
	return crypto.CreateAddress2(deployer, salt, crypto.Keccak256(code))
}

// CreateContract installs code at the CREATE2 address derived from deployer,
// salt and code. It fails if the address already holds code.
func (h *Host) CreateContract(deployer common.Address, salt [32]byte, code []byte) (common.Address, error) {
	if len(code) == 0 {
		return common.Address{}, errors.New("empty contract code")
	}
	addr := ContractAddress(deployer, salt, code)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db.GetCodeSize(addr) != 0 {
		return common.Address{}, fmt.Errorf("%w: %s", ErrAddressTaken, addr)
	}
	if !h.db.Exist(addr) {
		h.db.CreateAccount(addr)
	}
	h.db.CreateContract(addr)
	h.db.SetCode(addr, code)
	h.codeCache.Store(crypto.Keccak256Hash(code), append([]byte(nil), code...))
	log.Debug("Deployed EVM contract", "addr", addr, "deployer", deployer, "codeLen", len(code))
	return addr, nil
}

// Restore reinstalls code at addr without address derivation. Used to
// rebuild in-memory EVM state from persisted pointer records.
func (h *Host) Restore(addr common.Address, code []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db.GetCodeSize(addr) != 0 {
		return
	}
	if !h.db.Exist(addr) {
		h.db.CreateAccount(addr)
	}
	h.db.SetCode(addr, code)
}

// Code returns the code installed at addr.
func (h *Host) Code(addr common.Address) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.db.GetCode(addr)
}

// CodeByHash returns code previously deployed through this host. The slice
// is a copy.
func (h *Host) CodeByHash(hash common.Hash) []byte {
	if v, ok := h.codeCache.Load(hash); ok {
		return append([]byte(nil), v.([]byte)...)
	}
	return nil
}

// HasCode reports whether addr is a contract.
func (h *Host) HasCode(addr common.Address) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.db.GetCodeSize(addr) != 0
}

// Snapshot marks the current state so a failed transaction can be undone.
func (h *Host) Snapshot() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.db.Snapshot()
}

// RevertToSnapshot undoes every change made after Snapshot returned id.
func (h *Host) RevertToSnapshot(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.db.RevertToSnapshot(id)
}

// Finalise closes the current transaction's journal.
func (h *Host) Finalise() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.db.Finalise(true)
}

// Root returns the EVM state root after the block's changes.
func (h *Host) Root() common.Hash {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.db.IntermediateRoot(true)
}
