package wasm

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/dualvm/bridge/address"
	"github.com/dualvm/bridge/bank"
	"github.com/dualvm/bridge/core/vm"
	"github.com/dualvm/bridge/params"
	"github.com/dualvm/bridge/store"
	"github.com/dualvm/bridge/tracing"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"github.com/yudai/gojsondiff"
)

func init() {
	log.SetDefault(log.NewLogger(log.NewTerminalHandler(os.Stderr, true)))
}

var codec = address.NewCodec(params.DefaultBech32Prefix)

func addr(i byte) string {
	raw := make([]byte, 20)
	raw[19] = i
	return codec.MustEncode(raw)
}

type fixture struct {
	st   *store.Overlay
	rt   *Runtime
	bank *bank.Keeper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bk := bank.NewKeeper()
	rt := NewRuntime(context.Background(), codec, bk)
	t.Cleanup(func() { rt.Close(context.Background()) })
	return &fixture{st: store.NewOverlay(store.NewMemory(), 1), rt: rt, bank: bk}
}

func (f *fixture) instantiate(t *testing.T, program string, msg interface{}) string {
	t.Helper()
	id, err := f.rt.StoreCode(f.st, addr(1), BuildModule(program))
	require.NoError(t, err)
	initMsg, err := json.Marshal(msg)
	require.NoError(t, err)
	contract, events, err := f.rt.Instantiate(f.st, addr(1), id, initMsg, program, nil)
	require.NoError(t, err)
	require.Equal(t, "instantiate", events[0].Type)
	return contract
}

func (f *fixture) query(t *testing.T, contract string, msg []byte, out interface{}) {
	t.Helper()
	res, err := f.rt.Query(f.st, contract, msg)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(res, out))
}

func TestStoreCodeValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.rt.StoreCode(f.st, addr(1), []byte("not wasm"))
	require.ErrorIs(t, err, ErrInvalidCode)

	// A valid module without the program section.
	_, err = f.rt.StoreCode(f.st, addr(1), []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})
	require.ErrorIs(t, err, ErrInvalidCode)

	_, err = f.rt.StoreCode(f.st, addr(1), BuildModule("erc9999"))
	require.ErrorIs(t, err, ErrInvalidCode)

	id1, err := f.rt.StoreCode(f.st, addr(1), BuildModule(ProgramCW20))
	require.NoError(t, err)
	id2, err := f.rt.StoreCode(f.st, addr(1), BuildModule(ProgramCW721))
	require.NoError(t, err)
	require.Equal(t, uint64(1), id1)
	require.Equal(t, uint64(2), id2)

	info, ok := f.rt.CodeInfo(f.st, id2)
	require.True(t, ok)
	require.Equal(t, ProgramCW721, info.Program)
	require.Equal(t, []string{ProgramCW1155, ProgramCW20, ProgramCW721}, f.rt.Programs())
}

func TestCW20(t *testing.T) {
	f := newFixture(t)
	alice, bob, carol := addr(10), addr(11), addr(12)
	contract := f.instantiate(t, ProgramCW20, CW20InstantiateMsg{
		Name: "Token", Symbol: "TKN", Decimals: 6,
		InitialBalances: []CW20Coin{{Address: alice, Amount: "2000000"}, {Address: bob, Amount: "3000000"}},
		Mint:            &CW20Minter{Minter: alice},
	})

	_, events, err := f.rt.Execute(f.st, alice, contract, Message("transfer", map[string]string{"recipient": carol, "amount": "1"}), nil)
	require.NoError(t, err)
	wasmEv := events[len(events)-1]
	require.Equal(t, EventTypeWasm, wasmEv.Type)
	require.Equal(t, AttributeKeyContractAddr, wasmEv.Attributes[0].Key)
	action, _ := wasmEv.Attribute("action")
	require.Equal(t, "transfer", action)

	var bal BalanceResponse
	f.query(t, contract, Message("balance", map[string]string{"address": alice}), &bal)
	require.Equal(t, Uint128("1999999"), bal.Balance)

	_, _, err = f.rt.Execute(f.st, carol, contract, Message("transfer", map[string]string{"recipient": alice, "amount": "5"}), nil)
	require.ErrorIs(t, err, vm.ErrInsufficientBalance)

	_, _, err = f.rt.Execute(f.st, alice, contract, Message("increase_allowance", map[string]string{"spender": carol, "amount": "10"}), nil)
	require.NoError(t, err)
	_, _, err = f.rt.Execute(f.st, carol, contract, Message("transfer_from", map[string]string{"owner": alice, "recipient": carol, "amount": "11"}), nil)
	require.ErrorIs(t, err, vm.ErrInsufficientAllowance)
	_, _, err = f.rt.Execute(f.st, carol, contract, Message("transfer_from", map[string]string{"owner": alice, "recipient": carol, "amount": "4"}), nil)
	require.NoError(t, err)

	res, err := f.rt.Query(f.st, contract, Message("allowance", map[string]string{"owner": alice, "spender": carol}))
	require.NoError(t, err)
	diff, err := gojsondiff.New().Compare(res, []byte(`{"allowance":"6","expires":{"never":{}}}`))
	require.NoError(t, err)
	require.False(t, diff.Modified(), string(res))

	_, _, err = f.rt.Execute(f.st, bob, contract, Message("mint", map[string]string{"recipient": bob, "amount": "1"}), nil)
	require.ErrorIs(t, err, ErrUnauthorized)
	_, _, err = f.rt.Execute(f.st, alice, contract, Message("mint", map[string]string{"recipient": bob, "amount": "1"}), nil)
	require.NoError(t, err)

	var ti TokenInfoResponse
	f.query(t, contract, Message("token_info", nil), &ti)
	require.Equal(t, TokenInfoResponse{Name: "Token", Symbol: "TKN", Decimals: 6, TotalSupply: "5000001"}, ti)

	_, err = f.rt.Query(f.st, contract, Message("marketing_info", nil))
	require.ErrorIs(t, err, ErrUnknownMessage)
}

func TestCW721(t *testing.T) {
	f := newFixture(t)
	minter, alice, bob := addr(1), addr(10), addr(11)
	contract := f.instantiate(t, ProgramCW721, CW721InstantiateMsg{Name: "Art", Symbol: "ART", Minter: minter})

	for i := 1; i <= 3; i++ {
		_, _, err := f.rt.Execute(f.st, minter, contract, Message("mint", map[string]string{"token_id": fmt.Sprint(i), "owner": alice, "token_uri": fmt.Sprintf("ipfs://%d", i)}), nil)
		require.NoError(t, err)
	}
	_, _, err := f.rt.Execute(f.st, minter, contract, Message("mint", map[string]string{"token_id": "1", "owner": alice}), nil)
	require.Error(t, err)

	_, _, err = f.rt.Execute(f.st, bob, contract, Message("transfer_nft", map[string]string{"recipient": bob, "token_id": "1"}), nil)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, _, err = f.rt.Execute(f.st, alice, contract, Message("approve_all", map[string]string{"operator": bob}), nil)
	require.NoError(t, err)
	_, events, err := f.rt.Execute(f.st, bob, contract, Message("transfer_nft", map[string]string{"recipient": bob, "token_id": "1"}), nil)
	require.NoError(t, err)
	owner, _ := events[len(events)-1].Attribute("owner")
	require.Equal(t, alice, owner)

	var oo OwnerOfResponse
	f.query(t, contract, Message("owner_of", map[string]string{"token_id": "1"}), &oo)
	require.Equal(t, bob, oo.Owner)
	require.Empty(t, oo.Approvals)

	var toks TokensResponse
	f.query(t, contract, Message("tokens", map[string]string{"owner": alice}), &toks)
	require.Equal(t, []string{"2", "3"}, toks.Tokens)

	var n NumTokensResponse
	f.query(t, contract, Message("num_tokens", nil), &n)
	require.Equal(t, uint64(3), n.Count)

	_, _, err = f.rt.Execute(f.st, bob, contract, Message("burn", map[string]string{"token_id": "1"}), nil)
	require.NoError(t, err)
	f.query(t, contract, Message("num_tokens", nil), &n)
	require.Equal(t, uint64(2), n.Count)

	var info NftInfoResponse
	f.query(t, contract, Message("nft_info", map[string]string{"token_id": "2"}), &info)
	require.Equal(t, "ipfs://2", info.TokenURI)
}

func TestCW1155(t *testing.T) {
	f := newFixture(t)
	minter, alice, bob := addr(1), addr(10), addr(11)
	contract := f.instantiate(t, ProgramCW1155, CW1155InstantiateMsg{Name: "Multi", Symbol: "MT", Minter: minter})

	_, _, err := f.rt.Execute(f.st, minter, contract, Message("batch_mint", map[string]interface{}{
		"to":    alice,
		"batch": []TokenAmount{{TokenID: "1", Amount: "10"}, {TokenID: "2", Amount: "20"}},
	}), nil)
	require.NoError(t, err)

	_, events, err := f.rt.Execute(f.st, alice, contract, Message("batch_send_from", map[string]interface{}{
		"from":  alice,
		"to":    bob,
		"batch": []TokenAmount{{TokenID: "1", Amount: "3"}, {TokenID: "2", Amount: "4"}},
	}), nil)
	require.NoError(t, err)
	ev := events[len(events)-1]
	ids, _ := ev.Attribute("token_ids")
	amts, _ := ev.Attribute("amounts")
	require.Equal(t, "1,2", ids)
	require.Equal(t, "3,4", amts)

	_, _, err = f.rt.Execute(f.st, bob, contract, Message("send_from", map[string]string{"from": alice, "to": bob, "token_id": "1", "value": "1"}), nil)
	require.ErrorIs(t, err, ErrUnauthorized)
	_, _, err = f.rt.Execute(f.st, bob, contract, Message("send_from", map[string]string{"from": bob, "to": alice, "token_id": "1", "value": "9"}), nil)
	require.ErrorIs(t, err, vm.ErrInsufficientBalance)

	var bals BalancesResponse
	f.query(t, contract, Message("balance_of_batch", []OwnerToken{{Owner: bob, TokenID: "2"}, {Owner: alice, TokenID: "1"}, {Owner: bob, TokenID: "1"}}), &bals)
	require.Equal(t, []BatchBalance{
		{TokenID: "2", Owner: bob, Amount: "4"},
		{TokenID: "1", Owner: alice, Amount: "7"},
		{TokenID: "1", Owner: bob, Amount: "3"},
	}, bals.Balances)

	var supply SupplyResponse
	f.query(t, contract, Message("num_tokens", map[string]string{"token_id": "2"}), &supply)
	require.Equal(t, Uint128("20"), supply.Count)
	f.query(t, contract, Message("num_tokens", nil), &supply)
	require.Equal(t, Uint128("30"), supply.Count)
}

func TestExecuteWithFunds(t *testing.T) {
	f := newFixture(t)
	alice := addr(10)
	contract := f.instantiate(t, ProgramCW20, CW20InstantiateMsg{Name: "T", Symbol: "T", InitialBalances: []CW20Coin{{Address: alice, Amount: "5"}}})

	raw, err := codec.Decode(alice)
	require.NoError(t, err)
	require.NoError(t, f.bank.Mint(f.st, raw, "usei", uint256.NewInt(100), tracing.BalanceChangeGenesis))

	funds := []Coin{{Denom: "usei", Amount: uint256.NewInt(40)}}
	_, _, err = f.rt.Execute(f.st, alice, contract, Message("burn", map[string]string{"amount": "1"}), funds)
	require.NoError(t, err)

	craw, err := codec.Decode(contract)
	require.NoError(t, err)
	require.Equal(t, uint64(40), f.bank.Balance(f.st, craw, "usei").Uint64())
	require.Equal(t, uint64(60), f.bank.Balance(f.st, raw, "usei").Uint64())
}

func TestMigrate(t *testing.T) {
	f := newFixture(t)
	contract := f.instantiate(t, ProgramCW20, CW20InstantiateMsg{Name: "T", Symbol: "T"})

	v2, err := f.rt.StoreCode(f.st, addr(1), BuildModule(ProgramCW20))
	require.NoError(t, err)
	nft, err := f.rt.StoreCode(f.st, addr(1), BuildModule(ProgramCW721))
	require.NoError(t, err)

	_, err = f.rt.Migrate(f.st, addr(2), contract, v2)
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.rt.Migrate(f.st, addr(1), contract, nft)
	require.Error(t, err)
	_, err = f.rt.Migrate(f.st, addr(1), contract, v2)
	require.NoError(t, err)

	info, ok := f.rt.ContractInfo(f.st, contract)
	require.True(t, ok)
	require.Equal(t, v2, info.CodeID)
}

type staticToggle bool

func (s staticToggle) WasmEnabled(store.Store) bool { return bool(s) }

func TestGate(t *testing.T) {
	f := newFixture(t)
	contract := f.instantiate(t, ProgramCW20, CW20InstantiateMsg{Name: "T", Symbol: "T", InitialBalances: []CW20Coin{{Address: addr(10), Amount: "5"}}})

	off := NewGate(f.rt, staticToggle(false))
	_, err := off.StoreCode(f.st, addr(1), BuildModule(ProgramCW20))
	require.ErrorIs(t, err, vm.ErrPermissionDenied)
	_, _, err = off.Instantiate(f.st, addr(1), 1, []byte(`{"name":"x","symbol":"x"}`), "x", nil)
	require.ErrorIs(t, err, vm.ErrPermissionDenied)

	// Existing contracts are unaffected.
	_, _, err = off.Execute(f.st, addr(10), contract, Message("transfer", map[string]string{"recipient": addr(11), "amount": "1"}), nil)
	require.NoError(t, err)
	_, err = off.Query(f.st, contract, Message("token_info", nil))
	require.NoError(t, err)

	on := NewGate(f.rt, staticToggle(true))
	_, err = on.StoreCode(f.st, addr(1), BuildModule(ProgramCW20))
	require.NoError(t, err)
}

func TestStorageIsolation(t *testing.T) {
	f := newFixture(t)
	a := f.instantiate(t, ProgramCW20, CW20InstantiateMsg{Name: "A", Symbol: "A", InitialBalances: []CW20Coin{{Address: addr(10), Amount: "5"}}})
	b := f.instantiate(t, ProgramCW20, CW20InstantiateMsg{Name: "B", Symbol: "B"})
	require.NotEqual(t, a, b)

	var bal BalanceResponse
	f.query(t, b, Message("balance", map[string]string{"address": addr(10)}), &bal)
	require.Equal(t, Uint128("0"), bal.Balance)
	require.Len(t, f.rt.Contracts(f.st), 2)
}

// keepDeps remembers the deps of its last call.
type keepDeps struct{ last *Deps }

func (k *keepDeps) Instantiate(deps Deps, info MessageInfo, msg []byte) (*Response, error) {
	*k.last = deps
	deps.Storage().Set([]byte("k"), msg)
	return nil, nil
}

func (k *keepDeps) Execute(deps Deps, info MessageInfo, msg []byte) (*Response, error) {
	*k.last = deps
	return nil, nil
}

func (k *keepDeps) Query(deps Deps, msg []byte) ([]byte, error) {
	*k.last = deps
	v, _ := deps.Storage().Get([]byte("k"))
	return v, nil
}

func TestStorageThroughHandle(t *testing.T) {
	f := newFixture(t)
	var last Deps
	f.rt.Register("keep", &keepDeps{last: &last})
	id, err := f.rt.StoreCode(f.st, addr(1), BuildModule("keep"))
	require.NoError(t, err)
	contract, _, err := f.rt.Instantiate(f.st, addr(1), id, []byte(`{"v":1}`), "keep", nil)
	require.NoError(t, err)

	require.NotZero(t, last.Env.Handle)
	_, ok := store.Lookup(last.Env.Handle)
	require.False(t, ok, "handle outlived the call")
	require.PanicsWithValue(t, ErrStorageReleased, func() { last.Storage() })

	first := last.Env.Handle
	res, err := f.rt.Query(f.st, contract, []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, `{"v":1}`, string(res))
	require.NotEqual(t, first, last.Env.Handle)
}
