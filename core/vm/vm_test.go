package vm

import (
	"errors"
	"fmt"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/require"
)

func TestTableLookup(t *testing.T) {
	tab := NewTable[func() string]()
	tab.Register(StandardNative, "balanceOf", func() string { return "ok" })
	tab.Unsupported(StandardNative, mapset.NewSet("approve", "allowance"))
	tab.Unsupported(StandardNative, mapset.NewSet("transferFrom"))

	h, err := tab.Lookup(StandardNative, "balanceOf")
	require.NoError(t, err)
	require.Equal(t, "ok", h())

	for _, op := range []string{"approve", "allowance", "transferFrom", "neverHeardOf"} {
		_, err := tab.Lookup(StandardNative, op)
		require.ErrorIs(t, err, ErrUnsupportedOperation, op)
		var ue *UnsupportedOperationError
		require.True(t, errors.As(err, &ue))
		require.Equal(t, op, ue.Op)
	}
	// Handlers are per standard.
	_, err = tab.Lookup(StandardCW20, "balanceOf")
	require.ErrorIs(t, err, ErrUnsupportedOperation)

	require.True(t, tab.IsUnsupported(StandardNative, "approve"))
	require.False(t, tab.IsUnsupported(StandardNative, "neverHeardOf"))
	require.Equal(t, []string{"balanceOf"}, tab.Ops(StandardNative))
	require.Equal(t, []string{"allowance", "approve", "transferFrom"}, tab.UnsupportedOps(StandardNative))
}

func TestTableRejectsConflicts(t *testing.T) {
	tab := NewTable[int]()
	tab.Unsupported(StandardCW20, mapset.NewSet("minter"))
	require.Panics(t, func() { tab.Register(StandardCW20, "minter", 1) })

	tab.Register(StandardCW20, "transfer", 2)
	require.Panics(t, func() { tab.Unsupported(StandardCW20, mapset.NewSet("transfer")) })
}

func TestExecutionFailedClassification(t *testing.T) {
	err := ExecutionFailed(fmt.Errorf("cw20: %w", ErrInsufficientBalance))
	require.ErrorIs(t, err, ErrExecutionFailed)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, "execution failed: insufficient balance", err.Error())

	err = ExecutionFailed(errors.New("contract panicked at line 7"))
	require.ErrorIs(t, err, ErrExecutionFailed)
	require.Equal(t, "execution failed: pointee execution failed", err.Error())

	// Already classified errors pass through untouched.
	again := ExecutionFailed(err)
	require.Equal(t, err, again)
	require.Nil(t, ExecutionFailed(nil))

	require.Equal(t, "execution failed: caller not associated", ExecutionFailedReason("caller not associated").Error())
}

func TestDeploymentFailedIsCoarse(t *testing.T) {
	err := DeploymentFailed(fmt.Errorf("wrapping: %w", ErrPointeeIsPointer))
	require.Equal(t, "pointer deployment failed", err.Error())
	require.ErrorIs(t, err, ErrPointerDeploymentFailed)
	require.ErrorIs(t, err, ErrPointeeIsPointer)
	require.ErrorIs(t, Cause(err), ErrPointeeIsPointer)
	require.Equal(t, err, DeploymentFailed(err))
}

func TestStandards(t *testing.T) {
	for _, s := range AllStandards() {
		require.True(t, s.Valid())
		parsed, err := ParseStandard(s.String())
		require.NoError(t, err)
		require.Equal(t, s, parsed)
		require.NotEmpty(t, s.Interface())
	}
	_, err := ParseStandard("erc404")
	require.ErrorIs(t, err, ErrUnknownStandard)
	require.False(t, Standard(0).Valid())
	require.False(t, StandardNative.WasmBacked())
	require.True(t, StandardCW1155.WasmBacked())
}

func TestCallMetadataValue(t *testing.T) {
	m := &CallMetadata{Data: []byte{1, 2, 3}}
	_, ok := m.Selector()
	require.False(t, ok)
	v, err := m.ValueAmount()
	require.NoError(t, err)
	require.True(t, v.IsZero())

	m = &CallMetadata{Data: []byte{0xa9, 0x05, 0x9c, 0xbb, 0}, Value: "1000000000000"}
	sel, ok := m.Selector()
	require.True(t, ok)
	require.Equal(t, []byte{0xa9, 0x05, 0x9c, 0xbb}, sel)
	v, err = m.ValueAmount()
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000_000_000), v.Uint64())

	m.Value = "0x10"
	_, err = m.ValueAmount()
	require.Error(t, err)
}
