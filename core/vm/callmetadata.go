package vm

import (
	"github.com/dualvm/bridge/amount"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// CallMetadata carries the fields an EVM call into the bridge needs: who is
// calling, which address is called, the ABI calldata and the attached value.
// The value stays a decimal string in EVM units until it is consumed.
type CallMetadata struct {
	From     common.Address
	To       common.Address
	Data     []byte
	Value    string
	GasLimit uint64
}

// Selector returns the 4-byte method id, if the calldata carries one.
func (m *CallMetadata) Selector() ([]byte, bool) {
	if len(m.Data) < 4 {
		return nil, false
	}
	return m.Data[:4], true
}

// ValueAmount parses Value. An empty value means zero.
func (m *CallMetadata) ValueAmount() (*uint256.Int, error) {
	if m.Value == "" {
		return new(uint256.Int), nil
	}
	return amount.ParseDecimal(m.Value)
}
