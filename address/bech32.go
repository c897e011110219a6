// Package address converts between the two account address formats used by
// the bridge: 20-byte EVM addresses and bech32 encoded native addresses.
package address

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
)

// Length is the byte length shared by both address spaces.
const Length = common.AddressLength

var ErrInvalidAddress = errors.New("invalid address")

// Codec encodes and decodes native addresses for one human readable prefix.
type Codec struct {
	Prefix string
}

// NewCodec returns a codec for the given bech32 prefix.
func NewCodec(prefix string) Codec {
	return Codec{Prefix: prefix}
}

// Encode renders 20 raw bytes as a bech32 string.
func (c Codec) Encode(raw []byte) (string, error) {
	if len(raw) != Length {
		return "", fmt.Errorf("%w: length %d", ErrInvalidAddress, len(raw))
	}
	conv, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(c.Prefix, conv)
}

// MustEncode is Encode for callers that already validated the length.
func (c Codec) MustEncode(raw []byte) string {
	s, err := c.Encode(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode parses a bech32 string carrying this codec's prefix.
func (c Codec) Decode(s string) ([]byte, error) {
	hrp, data, err := bech32.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if hrp != c.Prefix {
		return nil, fmt.Errorf("%w: prefix %q, want %q", ErrInvalidAddress, hrp, c.Prefix)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != Length {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidAddress, len(raw))
	}
	return raw, nil
}

// Parse accepts either a 0x-prefixed hex address or a bech32 native address
// and returns the raw bytes. Used where a pointee string may name either.
func (c Codec) Parse(s string) ([]byte, bool) {
	if common.IsHexAddress(s) {
		return common.HexToAddress(s).Bytes(), true
	}
	raw, err := c.Decode(s)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// Cast reinterprets raw native bytes as an EVM address.
func Cast(native []byte) common.Address {
	return common.BytesToAddress(native)
}
