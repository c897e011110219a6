package params

import (
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

const (
	DefaultBech32Prefix = "sei"
	DefaultBaseDenom    = "usei"

	// NativeToEVMExponent is the number of decimal places EVM amounts carry
	// beyond the native ledger's smallest unit.
	NativeToEVMExponent = 12

	// EVMDecimals is what a pointer over the base denom reports as decimals().
	EVMDecimals = 18

	// ShellTxType marks receipts that only carry synthetic logs.
	ShellTxType uint32 = math.MaxUint32

	TxGas            uint64 = 21000
	PointerCallGas   uint64 = 30000
	WasmExecuteGas   uint64 = 50000
	RegistryWriteGas uint64 = 40000

	// CW721BalancePageSize bounds each page walked when counting tokens.
	CW721BalancePageSize = 100
)

// NativeToEVMScale is 10^NativeToEVMExponent. Treat as read-only.
var NativeToEVMScale = uint256.NewInt(1_000_000_000_000)

// Module accounts. None of them has a known private key.
var (
	GovModuleAddress      = moduleAddress("gov")
	PointerDeployer       = moduleAddress("evm/pointer")
	WasmModuleAddress     = moduleAddress("wasm")
	OrphanSinkNamespace   = []byte("association/orphan")
	ContractAddrNamespace = []byte("wasm/contract")
)

// DefaultStandardVersions are the genesis versions of each pointer standard.
var DefaultStandardVersions = map[string]uint16{
	"native": 1,
	"cw20":   1,
	"cw721":  1,
	"cw1155": 1,
}

func moduleAddress(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("module/" + name))[12:])
}
