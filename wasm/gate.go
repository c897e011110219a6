package wasm

import (
	"fmt"

	"github.com/dualvm/bridge/core/vm"
	"github.com/dualvm/bridge/store"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
)

var deniedMeter = metrics.NewRegisteredMeter("wasm/gate/denied", nil)

// Toggle reports the governed wasm enablement state.
type Toggle interface {
	WasmEnabled(st store.Store) bool
}

// Gate blocks code upload and instantiation while wasm is disabled.
// Existing contracts keep executing and answering queries.
type Gate struct {
	Host
	toggle Toggle
}

func NewGate(host Host, toggle Toggle) *Gate {
	return &Gate{Host: host, toggle: toggle}
}

func (g *Gate) StoreCode(st store.Store, sender string, code []byte) (uint64, error) {
	if !g.toggle.WasmEnabled(st) {
		deniedMeter.Mark(1)
		log.Debug("Rejected wasm upload", "sender", sender)
		return 0, fmt.Errorf("%w: wasm code upload is disabled", vm.ErrPermissionDenied)
	}
	return g.Host.StoreCode(st, sender, code)
}

func (g *Gate) Instantiate(st store.Store, sender string, codeID uint64, msg []byte, label string, funds []Coin) (string, []Event, error) {
	if !g.toggle.WasmEnabled(st) {
		deniedMeter.Mark(1)
		log.Debug("Rejected wasm instantiation", "sender", sender, "code", codeID)
		return "", nil, fmt.Errorf("%w: wasm instantiation is disabled", vm.ErrPermissionDenied)
	}
	return g.Host.Instantiate(st, sender, codeID, msg, label, funds)
}
