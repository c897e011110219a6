package vm

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// OpKey addresses one entry of a dispatch table.
type OpKey struct {
	Standard Standard
	Op       string
}

// Table is a capability-tagged dispatch table keyed by (standard, operation).
// Every operation a standard knows about is either backed by a handler or
// explicitly marked unsupported; anything else is unknown and is reported
// the same way as unsupported.
type Table[H any] struct {
	handlers    map[OpKey]H
	unsupported map[Standard]mapset.Set[string]
}

// NewTable returns an empty table.
func NewTable[H any]() *Table[H] {
	return &Table[H]{
		handlers:    make(map[OpKey]H),
		unsupported: make(map[Standard]mapset.Set[string]),
	}
}

// Register binds op on std to h. Registering an op that was declared
// unsupported is a programming error.
func (t *Table[H]) Register(std Standard, op string, h H) {
	if set, ok := t.unsupported[std]; ok && set.Contains(op) {
		panic(fmt.Sprintf("vm: %s/%s registered and declared unsupported", std, op))
	}
	t.handlers[OpKey{std, op}] = h
}

// Unsupported declares ops as having no analog on std.
func (t *Table[H]) Unsupported(std Standard, ops mapset.Set[string]) {
	for op := range ops.Iter() {
		if _, ok := t.handlers[OpKey{std, op}]; ok {
			panic(fmt.Sprintf("vm: %s/%s registered and declared unsupported", std, op))
		}
	}
	if set, ok := t.unsupported[std]; ok {
		set.Append(ops.ToSlice()...)
		return
	}
	t.unsupported[std] = ops.Clone()
}

// Lookup resolves op on std. The error is always an
// *UnsupportedOperationError when no handler exists.
func (t *Table[H]) Lookup(std Standard, op string) (H, error) {
	if h, ok := t.handlers[OpKey{std, op}]; ok {
		return h, nil
	}
	var zero H
	return zero, &UnsupportedOperationError{Standard: std, Op: op}
}

// IsUnsupported reports whether op was explicitly declared unsupported.
func (t *Table[H]) IsUnsupported(std Standard, op string) bool {
	set, ok := t.unsupported[std]
	return ok && set.Contains(op)
}

// Ops lists the supported operations of std in sorted order.
func (t *Table[H]) Ops(std Standard) []string {
	var ops []string
	for k := range t.handlers {
		if k.Standard == std {
			ops = append(ops, k.Op)
		}
	}
	sort.Strings(ops)
	return ops
}

// UnsupportedOps lists the declared unsupported operations of std.
func (t *Table[H]) UnsupportedOps(std Standard) []string {
	set, ok := t.unsupported[std]
	if !ok {
		return nil
	}
	ops := set.ToSlice()
	sort.Strings(ops)
	return ops
}
