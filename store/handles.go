package store

import (
	"sync"
	"sync/atomic"
)

// handleMap keeps a registry of stores lent to a contract engine that only
// receives opaque integer handles, the way a wasm VM receives its storage
// across an FFI boundary.
var handleMap sync.Map // map[uintptr]Store

// handleSeq starts at 1 to reserve the zero value for "null".
var handleSeq uintptr

// NewHandle registers s and returns a stable non-zero handle.
func NewHandle(s Store) uintptr {
	if s == nil {
		return 0
	}
	h := atomic.AddUintptr(&handleSeq, 1)
	handleMap.Store(h, s)
	return h
}

// Release removes a previously registered handle.
func Release(h uintptr) {
	handleMap.Delete(h)
}

// Lookup returns the store registered under h.
func Lookup(h uintptr) (Store, bool) {
	if v, ok := handleMap.Load(h); ok {
		return v.(Store), true
	}
	return nil, false
}
