// Package wasm is the wasm side of the bridge: the contract host the
// pointer proxies call into, a permission gate on code upload, and the
// in-process reference runtime with the cw20, cw721 and cw1155 programs.
package wasm

import (
	"errors"

	"github.com/dualvm/bridge/store"
	"github.com/holiman/uint256"
)

// EventTypeWasm is the type of the event carrying a contract's attributes.
const EventTypeWasm = "wasm"

// AttributeKeyContractAddr is always the first attribute of a wasm event.
const AttributeKeyContractAddr = "_contract_address"

var (
	ErrUnknownContract = errors.New("unknown contract")
	ErrUnknownCode     = errors.New("unknown code id")
	ErrUnknownMessage  = errors.New("unknown message")
	ErrInvalidCode     = errors.New("invalid wasm code")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotFound        = errors.New("not found")
	ErrStorageReleased = errors.New("contract storage handle released")
)

type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event is a typed attribute list emitted by a contract execution.
type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// Attribute returns the first value stored under key.
func (e Event) Attribute(key string) (string, bool) {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

type Coin struct {
	Denom  string       `json:"denom"`
	Amount *uint256.Int `json:"amount"`
}

// CodeInfo describes uploaded code.
type CodeInfo struct {
	CodeID   uint64
	Checksum [32]byte
	Creator  string
	Program  string
}

// ContractInfo describes an instantiated contract.
type ContractInfo struct {
	Address string
	CodeID  uint64
	Creator string
	Label   string
}

// Host is the wasm collaborator. All calls run against the store view of
// the enclosing transaction.
type Host interface {
	StoreCode(st store.Store, sender string, code []byte) (uint64, error)
	Instantiate(st store.Store, sender string, codeID uint64, msg []byte, label string, funds []Coin) (string, []Event, error)
	Execute(st store.Store, sender, contract string, msg []byte, funds []Coin) ([]byte, []Event, error)
	Migrate(st store.Store, sender, contract string, codeID uint64) ([]Event, error)
	Query(st store.Store, contract string, msg []byte) ([]byte, error)
	ContractInfo(st store.Store, contract string) (ContractInfo, bool)
}

// MessageInfo is what a program learns about the caller.
type MessageInfo struct {
	Sender string
	Funds  []Coin
}

// Env carries the execution environment. Storage reaches the program as an
// opaque handle and is resolved with store.Lookup.
type Env struct {
	Contract string
	Handle   uintptr
}

// Response is a program's execution result.
type Response struct {
	Data       []byte
	Attributes []Attribute
}

// AddAttribute appends a key/value pair.
func (r *Response) AddAttribute(key, value string) *Response {
	r.Attributes = append(r.Attributes, Attribute{Key: key, Value: value})
	return r
}

// Deps is what a program may touch while running.
type Deps struct {
	Env Env
	API AddressAPI

	prefix []byte // contract keyspace
}

// Storage resolves the lent handle into the contract's own keyspace. It
// panics once the call that lent the handle has returned.
func (d Deps) Storage() store.Store {
	st, ok := store.Lookup(d.Env.Handle)
	if !ok {
		panic(ErrStorageReleased)
	}
	return prefixStore{parent: st, prefix: d.prefix}
}

// AddressAPI validates human readable addresses for programs.
type AddressAPI interface {
	Validate(addr string) error
}

// Program is a contract implementation addressed by name from uploaded
// code.
type Program interface {
	Instantiate(deps Deps, info MessageInfo, msg []byte) (*Response, error)
	Execute(deps Deps, info MessageInfo, msg []byte) (*Response, error)
	Query(deps Deps, msg []byte) ([]byte, error)
}
