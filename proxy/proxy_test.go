package proxy

import (
	"context"
	"math/big"
	"os"
	"testing"

	"github.com/dualvm/bridge/address"
	"github.com/dualvm/bridge/amount"
	"github.com/dualvm/bridge/association"
	"github.com/dualvm/bridge/bank"
	"github.com/dualvm/bridge/core/vm"
	"github.com/dualvm/bridge/params"
	"github.com/dualvm/bridge/pointer"
	"github.com/dualvm/bridge/store"
	"github.com/dualvm/bridge/tracing"
	"github.com/dualvm/bridge/vme"
	"github.com/dualvm/bridge/wasm"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefault(log.NewLogger(log.NewTerminalHandler(os.Stderr, true)))
}

var codec = address.NewCodec(params.DefaultBech32Prefix)

type account struct {
	native []byte
	bech   string
	evm    common.Address
}

type env struct {
	t     *testing.T
	st    *store.Overlay
	bank  *bank.Keeper
	assoc *association.Registry
	rt    *wasm.Runtime
	reg   *pointer.Registry
	proxy *Proxy
	admin account
}

func newEnv(t *testing.T) *env {
	t.Helper()
	bk := bank.NewKeeper()
	assoc := association.New(bk)
	rt := wasm.NewRuntime(context.Background(), codec, bk)
	t.Cleanup(func() { rt.Close(context.Background()) })
	host, err := vme.NewMemoryHost()
	require.NoError(t, err)
	reg := pointer.New(host, NewPointeeChecker(bk, rt, params.DefaultBaseDenom), codec)
	e := &env{
		t:     t,
		st:    store.NewOverlay(store.NewMemory(), 1),
		bank:  bk,
		assoc: assoc,
		rt:    rt,
		reg:   reg,
		proxy: New(reg, assoc, bk, rt, codec, params.DefaultBaseDenom),
	}
	require.NoError(t, reg.InitGenesis(e.st, nil))
	e.admin = e.associated()
	return e
}

// associated creates an explicitly associated account.
func (e *env) associated() account {
	key, err := crypto.GenerateKey()
	require.NoError(e.t, err)
	pub := crypto.FromECDSAPub(&key.PublicKey)
	native, err := address.NativeFromPubKey(pub)
	require.NoError(e.t, err)
	evm, err := e.assoc.Associate(e.st, native, pub)
	require.NoError(e.t, err)
	return account{native: native, bech: codec.MustEncode(native), evm: evm}
}

// stranger is an EVM address nobody has associated.
func stranger(b byte) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte{b})[12:])
}

func (e *env) contract(program string, msg interface{}) string {
	id, err := e.rt.StoreCode(e.st, e.admin.bech, wasm.BuildModule(program))
	require.NoError(e.t, err)
	init, err := jsonAPI.Marshal(msg)
	require.NoError(e.t, err)
	addr, _, err := e.rt.Instantiate(e.st, e.admin.bech, id, init, program, nil)
	require.NoError(e.t, err)
	return addr
}

func (e *env) call(contract *abi.ABI, ptr, caller common.Address, method string, args ...interface{}) ([]interface{}, *Result, error) {
	data, err := contract.Pack(method, args...)
	require.NoError(e.t, err)
	res, err := e.proxy.Call(Call{Store: e.st, Caller: caller, To: ptr, Data: data})
	if err != nil {
		return nil, nil, err
	}
	out, err := contract.Unpack(method, res.Ret)
	require.NoError(e.t, err)
	return out, res, nil
}

func (e *env) mustCall(contract *abi.ABI, ptr, caller common.Address, method string, args ...interface{}) []interface{} {
	out, _, err := e.call(contract, ptr, caller, method, args...)
	require.NoError(e.t, err)
	return out
}

func TestCW20Scenario(t *testing.T) {
	e := newEnv(t)
	alice, bob := e.associated(), e.associated()
	token := e.contract(wasm.ProgramCW20, wasm.CW20InstantiateMsg{
		Name: "Token", Symbol: "TKN", Decimals: 6,
		InitialBalances: []wasm.CW20Coin{{Address: alice.bech, Amount: "2000000"}, {Address: bob.bech, Amount: "3000000"}},
	})

	first, err := e.reg.RegisterPointer(e.st, vm.StandardCW20, token)
	require.NoError(t, err)

	require.Equal(t, big.NewInt(2_000_000), e.mustCall(&ERC20ABI, first.Pointer, alice.evm, "balanceOf", alice.evm)[0])
	require.Equal(t, big.NewInt(3_000_000), e.mustCall(&ERC20ABI, first.Pointer, alice.evm, "balanceOf", bob.evm)[0])
	require.Equal(t, uint8(6), e.mustCall(&ERC20ABI, first.Pointer, alice.evm, "decimals")[0])

	out, res, err := e.call(&ERC20ABI, first.Pointer, alice.evm, "transfer", bob.evm, big.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, true, out[0])
	require.Len(t, res.Logs, 1)
	require.Equal(t, first.Pointer, res.Logs[0].Address)
	require.Equal(t, TransferTopic, res.Logs[0].Topics[0])
	require.Equal(t, AddressTopic(alice.evm), res.Logs[0].Topics[1])
	require.Equal(t, AddressTopic(bob.evm), res.Logs[0].Topics[2])

	require.Equal(t, big.NewInt(1_999_999), e.mustCall(&ERC20ABI, first.Pointer, alice.evm, "balanceOf", alice.evm)[0])
	require.Equal(t, big.NewInt(3_000_001), e.mustCall(&ERC20ABI, first.Pointer, alice.evm, "balanceOf", bob.evm)[0])

	_, err = e.reg.UpgradeStandardVersion(e.st, params.GovModuleAddress, vm.StandardCW20, 1)
	require.NoError(t, err)
	second, err := e.reg.RegisterPointer(e.st, vm.StandardCW20, token)
	require.NoError(t, err)
	require.NotEqual(t, first.Pointer, second.Pointer)

	for _, who := range []common.Address{alice.evm, bob.evm} {
		a := e.mustCall(&ERC20ABI, first.Pointer, who, "balanceOf", who)[0]
		b := e.mustCall(&ERC20ABI, second.Pointer, who, "balanceOf", who)[0]
		require.Equal(t, a, b)
	}
}

func TestCW20Allowances(t *testing.T) {
	e := newEnv(t)
	alice, bob := e.associated(), e.associated()
	token := e.contract(wasm.ProgramCW20, wasm.CW20InstantiateMsg{
		Name: "Token", Symbol: "TKN",
		InitialBalances: []wasm.CW20Coin{{Address: alice.bech, Amount: "100"}},
	})
	ptr, err := e.reg.RegisterPointer(e.st, vm.StandardCW20, token)
	require.NoError(t, err)

	e.mustCall(&ERC20ABI, ptr.Pointer, alice.evm, "approve", bob.evm, big.NewInt(50))
	require.Equal(t, big.NewInt(50), e.mustCall(&ERC20ABI, ptr.Pointer, bob.evm, "allowance", alice.evm, bob.evm)[0])
	// Lowering goes through decrease_allowance.
	e.mustCall(&ERC20ABI, ptr.Pointer, alice.evm, "approve", bob.evm, big.NewInt(20))
	require.Equal(t, big.NewInt(20), e.mustCall(&ERC20ABI, ptr.Pointer, bob.evm, "allowance", alice.evm, bob.evm)[0])

	sink := stranger(1)
	_, _, err = e.call(&ERC20ABI, ptr.Pointer, bob.evm, "transferFrom", alice.evm, sink, big.NewInt(21))
	require.ErrorIs(t, err, vm.ErrExecutionFailed)
	require.ErrorIs(t, err, vm.ErrInsufficientAllowance)
	require.Contains(t, err.Error(), "insufficient allowance")

	e.mustCall(&ERC20ABI, ptr.Pointer, bob.evm, "transferFrom", alice.evm, sink, big.NewInt(20))
	// Unassociated recipients are credited to their cast account.
	require.Equal(t, big.NewInt(20), e.mustCall(&ERC20ABI, ptr.Pointer, bob.evm, "balanceOf", sink)[0])

	_, _, err = e.call(&ERC20ABI, ptr.Pointer, sink, "transfer", alice.evm, big.NewInt(1))
	require.ErrorIs(t, err, vm.ErrExecutionFailed)
	require.Contains(t, err.Error(), "not associated")

	_, _, err = e.call(&ERC20ABI, ptr.Pointer, alice.evm, "transfer", bob.evm, big.NewInt(1000))
	require.ErrorIs(t, err, vm.ErrInsufficientBalance)
}

func TestNativePointer(t *testing.T) {
	e := newEnv(t)
	alice, bob := e.associated(), e.associated()
	require.NoError(t, e.bank.Mint(e.st, alice.native, params.DefaultBaseDenom, uint256.NewInt(1000), tracing.BalanceChangeGenesis))

	ptr, err := e.reg.RegisterPointer(e.st, vm.StandardNative, params.DefaultBaseDenom)
	require.NoError(t, err)

	scaled := new(big.Int).Mul(big.NewInt(1000), params.NativeToEVMScale.ToBig())
	require.Equal(t, scaled, e.mustCall(&ERC20ABI, ptr.Pointer, alice.evm, "balanceOf", alice.evm)[0])
	require.Equal(t, uint8(params.EVMDecimals), e.mustCall(&ERC20ABI, ptr.Pointer, alice.evm, "decimals")[0])

	// 1.5 native units: one unit moves, the remainder is truncated.
	oneAndHalf := new(big.Int).Add(params.NativeToEVMScale.ToBig(), big.NewInt(500_000_000_000))
	_, res, err := e.call(&ERC20ABI, ptr.Pointer, alice.evm, "transfer", bob.evm, oneAndHalf)
	require.NoError(t, err)
	require.Equal(t, uint64(999), e.bank.Balance(e.st, alice.native, params.DefaultBaseDenom).Uint64())
	require.Equal(t, uint64(1), e.bank.Balance(e.st, bob.native, params.DefaultBaseDenom).Uint64())
	require.Equal(t, common.BigToHash(params.NativeToEVMScale.ToBig()).Bytes(), res.Logs[0].Data)

	_, _, err = e.call(&ERC20ABI, ptr.Pointer, alice.evm, "transfer", bob.evm, big.NewInt(5))
	require.ErrorIs(t, err, vm.ErrExecutionFailed)
	require.Contains(t, err.Error(), "amount below native unit")

	// Round trip through the ratio.
	n := uint256.NewInt(123456)
	up, err := amount.ToEVM(n)
	require.NoError(t, err)
	down, rem := amount.ToNative(up)
	require.Equal(t, n, down)
	require.True(t, rem.IsZero())

	data, err := ERC20ABI.Pack("balanceOf", alice.evm)
	require.NoError(t, err)
	_, err = e.proxy.Call(Call{Store: e.st, Caller: alice.evm, To: ptr.Pointer, Data: data, Value: uint256.NewInt(1)})
	require.ErrorIs(t, err, vm.ErrExecutionFailed)
}

func TestNativeNonBaseDenom(t *testing.T) {
	e := newEnv(t)
	alice := e.associated()
	require.NoError(t, e.bank.SetMetadata(e.st, bank.Metadata{Denom: "uatom", Name: "Atom", Symbol: "ATOM", Decimals: 6}))
	require.NoError(t, e.bank.Mint(e.st, alice.native, "uatom", uint256.NewInt(42), tracing.BalanceChangeGenesis))

	_, err := e.reg.RegisterPointer(e.st, vm.StandardNative, "unknown")
	require.ErrorIs(t, err, vm.ErrPointerDeploymentFailed)

	ptr, err := e.reg.RegisterPointer(e.st, vm.StandardNative, "uatom")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(42), e.mustCall(&ERC20ABI, ptr.Pointer, alice.evm, "balanceOf", alice.evm)[0])
	require.Equal(t, uint8(6), e.mustCall(&ERC20ABI, ptr.Pointer, alice.evm, "decimals")[0])
	require.Equal(t, "ATOM", e.mustCall(&ERC20ABI, ptr.Pointer, alice.evm, "symbol")[0])

	res, err := e.proxy.Query(e.st, ptr.Pointer, wasm.Message("balance", map[string]string{"address": alice.bech}))
	require.NoError(t, err)
	require.JSONEq(t, `{"balance":"42"}`, string(res))
}

func TestUnsupportedIsDeterministic(t *testing.T) {
	e := newEnv(t)
	alice := e.associated()
	native, err := e.reg.RegisterPointer(e.st, vm.StandardNative, params.DefaultBaseDenom)
	require.NoError(t, err)
	nft := e.contract(wasm.ProgramCW721, wasm.CW721InstantiateMsg{Name: "N", Symbol: "N", Minter: e.admin.bech})
	nftPtr, err := e.reg.RegisterPointer(e.st, vm.StandardCW721, nft)
	require.NoError(t, err)
	cw20 := e.contract(wasm.ProgramCW20, wasm.CW20InstantiateMsg{Name: "T", Symbol: "T"})
	cw20Ptr, err := e.reg.RegisterPointer(e.st, vm.StandardCW20, cw20)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, err = e.call(&ERC20ABI, native.Pointer, alice.evm, "approve", stranger(2), big.NewInt(1))
		require.ErrorIs(t, err, vm.ErrUnsupportedOperation)
		_, _, err = e.call(&ERC20ABI, native.Pointer, alice.evm, "allowance", alice.evm, stranger(2))
		require.ErrorIs(t, err, vm.ErrUnsupportedOperation)
		_, _, err = e.call(&ERC20ABI, native.Pointer, alice.evm, "transferFrom", alice.evm, stranger(2), big.NewInt(1))
		require.ErrorIs(t, err, vm.ErrUnsupportedOperation)
		_, _, err = e.call(&ERC721ABI, nftPtr.Pointer, alice.evm, "royaltyInfo", big.NewInt(1), big.NewInt(100))
		require.ErrorIs(t, err, vm.ErrUnsupportedOperation)

		for _, op := range []string{"minter", "marketing_info", "download_logo", "all_allowances", "all_accounts"} {
			_, err = e.proxy.Query(e.st, cw20Ptr.Pointer, wasm.Message(op, nil))
			require.ErrorIs(t, err, vm.ErrUnsupportedOperation, op)
		}
		for _, op := range []string{"all_tokens", "minter", "all_nft_info"} {
			_, err = e.proxy.Query(e.st, nftPtr.Pointer, wasm.Message(op, nil))
			require.ErrorIs(t, err, vm.ErrUnsupportedOperation, op)
		}
	}
	require.Equal(t, []string{"allowance", "approve", "transferFrom"}, e.proxy.Unsupported(vm.StandardNative))

	// Selectors outside the interface are unsupported too.
	_, err = e.proxy.Call(Call{Store: e.st, Caller: alice.evm, To: native.Pointer, Data: []byte{0xde, 0xad, 0xbe, 0xef}})
	require.ErrorIs(t, err, vm.ErrUnsupportedOperation)
}

func TestCW721Pointer(t *testing.T) {
	e := newEnv(t)
	alice, bob := e.associated(), e.associated()
	nft := e.contract(wasm.ProgramCW721, wasm.CW721InstantiateMsg{Name: "Art", Symbol: "ART", Minter: e.admin.bech})
	for _, id := range []string{"1", "2", "3"} {
		_, _, err := e.rt.Execute(e.st, e.admin.bech, nft, wasm.Message("mint", map[string]string{"token_id": id, "owner": alice.bech, "token_uri": "ipfs://" + id}), nil)
		require.NoError(t, err)
	}
	ptr, err := e.reg.RegisterPointer(e.st, vm.StandardCW721, nft)
	require.NoError(t, err)

	require.Equal(t, alice.evm, e.mustCall(&ERC721ABI, ptr.Pointer, bob.evm, "ownerOf", big.NewInt(1))[0])
	require.Equal(t, big.NewInt(3), e.mustCall(&ERC721ABI, ptr.Pointer, bob.evm, "balanceOf", alice.evm)[0])
	require.Equal(t, big.NewInt(3), e.mustCall(&ERC721ABI, ptr.Pointer, bob.evm, "totalSupply")[0])
	require.Equal(t, "ipfs://2", e.mustCall(&ERC721ABI, ptr.Pointer, bob.evm, "tokenURI", big.NewInt(2))[0])
	require.Equal(t, true, e.mustCall(&ERC721ABI, ptr.Pointer, bob.evm, "supportsInterface", ierc721)[0])
	require.Equal(t, false, e.mustCall(&ERC721ABI, ptr.Pointer, bob.evm, "supportsInterface", ierc1155)[0])

	// Bob is not approved yet.
	_, _, err = e.call(&ERC721ABI, ptr.Pointer, bob.evm, "transferFrom", alice.evm, bob.evm, big.NewInt(1))
	require.ErrorIs(t, err, vm.ErrExecutionFailed)

	e.mustCall(&ERC721ABI, ptr.Pointer, alice.evm, "approve", bob.evm, big.NewInt(1))
	require.Equal(t, bob.evm, e.mustCall(&ERC721ABI, ptr.Pointer, bob.evm, "getApproved", big.NewInt(1))[0])
	e.mustCall(&ERC721ABI, ptr.Pointer, bob.evm, "transferFrom", alice.evm, bob.evm, big.NewInt(1))
	require.Equal(t, bob.evm, e.mustCall(&ERC721ABI, ptr.Pointer, bob.evm, "ownerOf", big.NewInt(1))[0])

	// from must be the owner.
	_, _, err = e.call(&ERC721ABI, ptr.Pointer, alice.evm, "transferFrom", bob.evm, alice.evm, big.NewInt(2))
	require.ErrorIs(t, err, vm.ErrExecutionFailed)

	// An unassociated recipient still reads back as owner.
	carol := stranger(3)
	_, res, err := e.call(&ERC721ABI, ptr.Pointer, alice.evm, "safeTransferFrom0", alice.evm, carol, big.NewInt(2), []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, IntTopic(big.NewInt(2)), res.Logs[0].Topics[3])
	require.Equal(t, ZeroWord(), res.Logs[0].Data)
	require.Equal(t, carol, e.mustCall(&ERC721ABI, ptr.Pointer, bob.evm, "ownerOf", big.NewInt(2))[0])

	require.Equal(t, false, e.mustCall(&ERC721ABI, ptr.Pointer, bob.evm, "isApprovedForAll", alice.evm, bob.evm)[0])
	e.mustCall(&ERC721ABI, ptr.Pointer, alice.evm, "setApprovalForAll", bob.evm, true)
	require.Equal(t, true, e.mustCall(&ERC721ABI, ptr.Pointer, bob.evm, "isApprovedForAll", alice.evm, bob.evm)[0])
}

func TestCW1155Pointer(t *testing.T) {
	e := newEnv(t)
	alice, bob := e.associated(), e.associated()
	mt := e.contract(wasm.ProgramCW1155, wasm.CW1155InstantiateMsg{Name: "Multi", Symbol: "MT", Minter: e.admin.bech})
	_, _, err := e.rt.Execute(e.st, e.admin.bech, mt, wasm.Message("batch_mint", map[string]interface{}{
		"to":    alice.bech,
		"batch": []wasm.TokenAmount{{TokenID: "1", Amount: "10"}, {TokenID: "2", Amount: "20"}},
	}), nil)
	require.NoError(t, err)

	// A cw1155 contract is not a cw721.
	_, err = e.reg.RegisterPointer(e.st, vm.StandardCW721, mt)
	require.ErrorIs(t, err, vm.ErrPointerDeploymentFailed)
	ptr, err := e.reg.RegisterPointer(e.st, vm.StandardCW1155, mt)
	require.NoError(t, err)

	_, res, err := e.call(&ERC1155ABI, ptr.Pointer, alice.evm, "safeBatchTransferFrom", alice.evm, bob.evm, []*big.Int{big.NewInt(1), big.NewInt(2)}, []*big.Int{big.NewInt(3), big.NewInt(4)}, []byte{})
	require.NoError(t, err)
	require.Equal(t, TransferBatchTopic, res.Logs[0].Topics[0])

	out := e.mustCall(&ERC1155ABI, ptr.Pointer, bob.evm, "balanceOfBatch",
		[]common.Address{bob.evm, alice.evm, bob.evm},
		[]*big.Int{big.NewInt(2), big.NewInt(1), big.NewInt(1)})
	require.Equal(t, []*big.Int{big.NewInt(4), big.NewInt(7), big.NewInt(3)}, out[0])

	_, _, err = e.call(&ERC1155ABI, ptr.Pointer, bob.evm, "balanceOfBatch", []common.Address{bob.evm}, []*big.Int{big.NewInt(1), big.NewInt(2)})
	require.ErrorIs(t, err, vm.ErrExecutionFailed)

	_, _, err = e.call(&ERC1155ABI, ptr.Pointer, bob.evm, "safeTransferFrom", alice.evm, bob.evm, big.NewInt(1), big.NewInt(1), []byte{})
	require.ErrorIs(t, err, vm.ErrExecutionFailed)
	e.mustCall(&ERC1155ABI, ptr.Pointer, alice.evm, "setApprovalForAll", bob.evm, true)
	_, res, err = e.call(&ERC1155ABI, ptr.Pointer, bob.evm, "safeTransferFrom", alice.evm, bob.evm, big.NewInt(1), big.NewInt(1), []byte{})
	require.NoError(t, err)
	require.Equal(t, AddressTopic(bob.evm), res.Logs[0].Topics[1])

	require.Equal(t, big.NewInt(30), e.mustCall(&ERC1155ABI, ptr.Pointer, bob.evm, "totalSupply")[0])
	require.Equal(t, big.NewInt(20), e.mustCall(&ERC1155ABI, ptr.Pointer, bob.evm, "totalSupply0", big.NewInt(2))[0])
	require.Equal(t, false, e.mustCall(&ERC1155ABI, ptr.Pointer, bob.evm, "exists", big.NewInt(9))[0])

	_, _, err = e.call(&ERC1155ABI, ptr.Pointer, bob.evm, "royaltyInfo", big.NewInt(1), big.NewInt(1))
	require.ErrorIs(t, err, vm.ErrUnsupportedOperation)
}

func TestEncodeRevert(t *testing.T) {
	enc := EncodeRevert("execution failed: insufficient balance")
	require.Equal(t, []byte{0x08, 0xc3, 0x79, 0xa0}, enc[:4])
	reason, err := abi.UnpackRevert(enc)
	require.NoError(t, err)
	require.Equal(t, "execution failed: insufficient balance", reason)
}
