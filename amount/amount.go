// Package amount converts values between the native ledger unit and the EVM
// unit. All amounts are unsigned integers; the only text form is decimal.
package amount

import (
	"errors"
	"fmt"

	"github.com/dualvm/bridge/params"
	"github.com/holiman/uint256"
)

var (
	ErrOverflow      = errors.New("amount overflows 256 bits")
	ErrInvalidAmount = errors.New("invalid decimal amount")
)

// ToEVM scales a native amount up to EVM units. The conversion is exact.
func ToEVM(native *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(native, params.NativeToEVMScale)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// ToNative scales an EVM amount down to native units, truncating toward zero.
// The dropped remainder is returned alongside.
func ToNative(evm *uint256.Int) (native, remainder *uint256.Int) {
	native, remainder = new(uint256.Int), new(uint256.Int)
	native.DivMod(evm, params.NativeToEVMScale, remainder)
	return native, remainder
}

// ParseDecimal parses a base-10 unsigned integer. Signs, exponents, fractions
// and hex are rejected.
func ParseDecimal(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOverflow, err)
	}
	return v, nil
}

// MustParse is ParseDecimal for constants in tests and genesis.
func MustParse(s string) *uint256.Int {
	v, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Format renders v in base 10. A nil value formats as "0".
func Format(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
