package wasm

import (
	"fmt"
	"sort"

	"github.com/dualvm/bridge/address"
	"github.com/dualvm/bridge/amount"
	"github.com/dualvm/bridge/store"
	"github.com/holiman/uint256"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Uint128 is a CosmWasm amount: a decimal string on the wire.
type Uint128 string

// Int parses u, treating the empty string as zero.
func (u Uint128) Int() (*uint256.Int, error) {
	if u == "" {
		return new(uint256.Int), nil
	}
	return amount.ParseDecimal(string(u))
}

// NewUint128 formats v.
func NewUint128(v *uint256.Int) Uint128 { return Uint128(amount.Format(v)) }

// SplitMessage returns the single top-level key of a CosmWasm message and
// its body.
func SplitMessage(msg []byte) (string, jsoniter.RawMessage, error) {
	var env map[string]jsoniter.RawMessage
	if err := json.Unmarshal(msg, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
	}
	if len(env) != 1 {
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "", nil, fmt.Errorf("%w: expected one variant, got %v", ErrUnknownMessage, keys)
	}
	for k, v := range env {
		return k, v, nil
	}
	panic("unreachable")
}

// Message encodes {name: body}.
func Message(name string, body interface{}) []byte {
	if body == nil {
		body = struct{}{}
	}
	enc, err := json.Marshal(map[string]interface{}{name: body})
	if err != nil {
		panic(err)
	}
	return enc
}

func decodeBody(name string, raw jsoniter.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnknownMessage, name, err)
	}
	return nil
}

// prefixStore confines a contract to its own key space.
type prefixStore struct {
	parent store.Store
	prefix []byte
}

func (p prefixStore) key(k []byte) []byte {
	return append(append(make([]byte, 0, len(p.prefix)+len(k)), p.prefix...), k...)
}

func (p prefixStore) Get(k []byte) ([]byte, bool) { return p.parent.Get(p.key(k)) }
func (p prefixStore) Has(k []byte) bool            { return p.parent.Has(p.key(k)) }
func (p prefixStore) Set(k, v []byte)              { p.parent.Set(p.key(k), v) }
func (p prefixStore) Delete(k []byte)              { p.parent.Delete(p.key(k)) }

func (p prefixStore) Iterate(prefix []byte, fn func(k, v []byte) bool) {
	n := len(p.prefix)
	p.parent.Iterate(p.key(prefix), func(k, v []byte) bool {
		return fn(k[n:], v)
	})
}

// bech32API validates addresses against the chain prefix, like the
// host's addr_validate callback.
type bech32API struct {
	codec address.Codec
}

func (a bech32API) Validate(addr string) error {
	_, err := a.codec.Decode(addr)
	return err
}
