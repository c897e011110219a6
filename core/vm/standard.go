package vm

import (
	"fmt"
	"strings"
)

// Standard identifies a pointer flavour: which EVM token interface is
// exposed and what kind of pointee backs it.
type Standard uint8

const (
	StandardNative Standard = iota + 1 // ERC20 over a native ledger denom
	StandardCW20                       // ERC20 over a wasm fungible token
	StandardCW721                      // ERC721 over a wasm NFT contract
	StandardCW1155                     // ERC1155 over a wasm multi-token contract
)

var standardNames = map[Standard]string{
	StandardNative: "native",
	StandardCW20:   "cw20",
	StandardCW721:  "cw721",
	StandardCW1155: "cw1155",
}

// AllStandards lists every standard in registry order.
func AllStandards() []Standard {
	return []Standard{StandardNative, StandardCW20, StandardCW721, StandardCW1155}
}

func (s Standard) String() string {
	if n, ok := standardNames[s]; ok {
		return n
	}
	return fmt.Sprintf("standard(%d)", uint8(s))
}

// Valid reports whether s is a known standard.
func (s Standard) Valid() bool {
	_, ok := standardNames[s]
	return ok
}

// Interface is the EVM token interface a pointer of this standard speaks.
func (s Standard) Interface() string {
	switch s {
	case StandardNative, StandardCW20:
		return "ERC20"
	case StandardCW721:
		return "ERC721"
	case StandardCW1155:
		return "ERC1155"
	}
	return ""
}

// WasmBacked reports whether the pointee is a wasm contract address.
func (s Standard) WasmBacked() bool {
	return s == StandardCW20 || s == StandardCW721 || s == StandardCW1155
}

// ParseStandard maps a name such as "cw20" to its Standard.
func ParseStandard(name string) (Standard, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range standardNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStandard, name)
}
