package proxy

import (
	"fmt"

	"github.com/dualvm/bridge/bank"
	"github.com/dualvm/bridge/core/vm"
	"github.com/dualvm/bridge/store"
	"github.com/dualvm/bridge/wasm"
)

// PointeeChecker verifies that a pointee exists and speaks the standard a
// pointer is requested for, by asking it a query only that standard
// answers.
type PointeeChecker struct {
	bank      *bank.Keeper
	wasm      wasm.Host
	baseDenom string
}

func NewPointeeChecker(bk *bank.Keeper, host wasm.Host, baseDenom string) *PointeeChecker {
	return &PointeeChecker{bank: bk, wasm: host, baseDenom: baseDenom}
}

func (pc *PointeeChecker) CheckPointee(st store.Store, std vm.Standard, pointee string) error {
	if std == vm.StandardNative {
		if pointee == pc.baseDenom {
			return nil
		}
		if _, ok := pc.bank.Metadata(st, pointee); !ok {
			return fmt.Errorf("denom %q has no metadata", pointee)
		}
		return nil
	}
	if _, ok := pc.wasm.ContractInfo(st, pointee); !ok {
		return fmt.Errorf("%w: %s", wasm.ErrUnknownContract, pointee)
	}
	var sample []byte
	switch std {
	case vm.StandardCW20:
		sample = wasm.Message("token_info", nil)
	case vm.StandardCW721:
		sample = wasm.Message("tokens", map[string]interface{}{"owner": pointee, "limit": 1})
	case vm.StandardCW1155:
		sample = wasm.Message("is_approved_for_all", map[string]string{"owner": pointee, "operator": pointee})
	default:
		return fmt.Errorf("%w: %d", vm.ErrUnknownStandard, std)
	}
	if _, err := pc.wasm.Query(st, pointee, sample); err != nil {
		return fmt.Errorf("%s does not implement %s: %w", pointee, std, err)
	}
	return nil
}
