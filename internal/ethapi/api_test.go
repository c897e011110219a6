package ethapi

import (
	"context"
	"encoding/binary"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dualvm/bridge/address"
	"github.com/dualvm/bridge/core"
	"github.com/dualvm/bridge/core/vm"
	"github.com/dualvm/bridge/miner"
	"github.com/dualvm/bridge/params"
	"github.com/dualvm/bridge/proxy"
	"github.com/dualvm/bridge/store"
	"github.com/dualvm/bridge/wasm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"
)

type node struct {
	t       *testing.T
	bridge  *core.Bridge
	chain   *core.BlockChain
	builder *miner.Builder
	client  *rpc.Client
	nonce   uint64
}

func newNode(t *testing.T) *node {
	b, err := core.NewBridge(context.Background(), params.DefaultConfig.Copy(), store.NewMemory())
	require.NoError(t, err)
	t.Cleanup(func() { b.Runtime.Close(context.Background()) })
	chain, err := core.NewBlockChain(b, nil)
	require.NoError(t, err)
	builder := miner.New(chain, miner.Config{})

	srv, err := NewServer(GetAPIs(chain, NewBridgeAPI(chain, b, builder)))
	require.NoError(t, err)
	t.Cleanup(srv.Stop)
	client := rpc.DialInProc(srv)
	t.Cleanup(client.Close)
	return &node{t: t, bridge: b, chain: chain, builder: builder, client: client}
}

// submit sends txs over RPC and seals them into one block.
func (n *node) submit(kind core.TxKind, payloads ...interface{}) *core.Block {
	n.t.Helper()
	for _, p := range payloads {
		n.nonce++
		enc, err := rlp.EncodeToBytes(core.MustTx(kind, n.nonce, p))
		require.NoError(n.t, err)
		var hash common.Hash
		require.NoError(n.t, n.client.Call(&hash, "bridge_sendRawTransaction", hexutil.Bytes(enc)))
	}
	block, err := n.builder.Seal()
	require.NoError(n.t, err)
	return block
}

func (n *node) lastResult() *core.TxResult {
	results, _, err := n.chain.GetTxResults(n.chain.CurrentHeader().Number)
	require.NoError(n.t, err)
	last := results[len(results)-1]
	require.True(n.t, last.Success, last.Error)
	return last
}

func bech(t *testing.T) string {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	native, err := address.NativeFromPubKey(crypto.FromECDSAPub(&key.PublicKey))
	require.NoError(t, err)
	return address.NewCodec(params.DefaultBech32Prefix).MustEncode(native)
}

func TestLogsAndReceiptsByListing(t *testing.T) {
	n := newNode(t)
	alice, bob := bech(t), bech(t)

	n.submit(core.KindWasmStoreCode, core.WasmStoreCode{Sender: alice, Code: wasm.BuildModule(wasm.ProgramCW20)})
	codeID := binary.BigEndian.Uint64(n.lastResult().Ret)
	init := `{"name":"Token","symbol":"TKN","decimals":6,"initial_balances":[{"address":"` + alice + `","amount":"50"}]}`
	n.submit(core.KindWasmInstantiate, core.WasmInstantiate{Sender: alice, CodeID: codeID, Msg: []byte(init), Label: "t"})
	token := string(n.lastResult().Ret)
	n.submit(core.KindRegisterPointer, core.RegisterPointer{Sender: alice, Standard: vm.StandardCW20, Pointee: token})

	var info PointerInfo
	require.NoError(t, n.client.Call(&info, "bridge_getPointer", "cw20", token))
	require.Equal(t, "cw20", info.Standard)
	require.Equal(t, hexutil.Uint(1), info.Version)

	var pointee PointerInfo
	require.NoError(t, n.client.Call(&pointee, "bridge_getPointee", info.Pointer))
	require.Equal(t, token, pointee.Pointee)

	msg := `{"transfer":{"recipient":"` + bob + `","amount":"7"}}`
	block := n.submit(core.KindWasmExecute, core.WasmExecute{Sender: alice, Contract: token, Msg: []byte(msg)})
	num := hexutil.EncodeUint64(block.NumberU64())

	var receipts []map[string]interface{}
	require.NoError(t, n.client.Call(&receipts, "eth_getBlockReceipts", num))
	require.Len(t, receipts, 1)
	require.Equal(t, hexutil.EncodeUint64(uint64(params.ShellTxType)), receipts[0]["type"])

	require.NoError(t, n.client.Call(&receipts, "sei_getBlockReceiptsExcludeTraceFail", num))
	require.Empty(t, receipts)

	filter := map[string]interface{}{
		"fromBlock": hexutil.EncodeUint64(block.NumberU64()),
		"toBlock":   "latest",
		"address":   info.Pointer,
		"topics":    []interface{}{proxy.TransferTopic},
	}
	var logs []types.Log
	require.NoError(t, n.client.Call(&logs, "eth_getLogs", filter))
	require.Len(t, logs, 1)
	require.Equal(t, block.Hash(), logs[0].BlockHash)
	require.Equal(t, common.BigToHash(big.NewInt(7)).Bytes(), logs[0].Data)

	require.NoError(t, n.client.Call(&logs, "sei_getLogsExcludeTraceFail", filter))
	require.Empty(t, logs)

	var traces []txTraceResult
	require.NoError(t, n.client.Call(&traces, "sei_traceBlockByNumber", rpc.BlockNumber(block.NumberU64())))
	require.Len(t, traces, 1)
	require.Equal(t, core.NoExecutionFrame, traces[0].Error)

	var blk map[string]interface{}
	require.NoError(t, n.client.Call(&blk, "eth_getBlockByNumber", "latest", false))
	require.Equal(t, block.Hash().Hex(), blk["hash"])
	require.Len(t, blk["transactions"], 1)
	require.NoError(t, n.client.Call(&blk, "sei_getBlockByHashExcludeTraceFail", block.Hash(), true))
	require.Empty(t, blk["transactions"])

	var bal string
	require.NoError(t, n.client.Call(&bal, "bridge_balance", bob, params.DefaultBaseDenom))
	require.Equal(t, "0", bal)
}

func TestBridgeLookups(t *testing.T) {
	n := newNode(t)
	alice := bech(t)

	var evm common.Address
	require.NoError(t, n.client.Call(&evm, "bridge_resolve", alice))
	native, err := n.bridge.Codec.Decode(alice)
	require.NoError(t, err)
	require.Equal(t, address.Cast(native), evm)

	var back string
	err = n.client.Call(&back, "bridge_resolveReverse", evm)
	require.ErrorContains(t, err, "not associated")

	// Sending funds materializes the sender's implicit binding.
	n.submit(core.KindBankSend, core.BankSend{From: alice, To: alice, Denom: params.DefaultBaseDenom, Amount: big.NewInt(0)})
	require.NoError(t, n.client.Call(&back, "bridge_resolveReverse", evm))
	require.Equal(t, alice, back)

	var version hexutil.Uint
	require.NoError(t, n.client.Call(&version, "bridge_standardVersion", "cw721"))
	require.Equal(t, hexutil.Uint(params.DefaultStandardVersions["cw721"]), version)
	require.Error(t, n.client.Call(&version, "bridge_standardVersion", "erc4626"))

	var toggle map[string]interface{}
	require.NoError(t, n.client.Call(&toggle, "bridge_wasmEnablement"))
	require.Equal(t, "enabled", toggle["state"])

	var missing *PointerInfo
	require.NoError(t, n.client.Call(&missing, "bridge_getPointer", "cw20", alice))
	require.Nil(t, missing)
}

func TestHTTPHandlerCORS(t *testing.T) {
	n := newNode(t)
	srv, err := NewServer(GetAPIs(n.chain, NewBridgeAPI(n.chain, n.bridge, nil)))
	require.NoError(t, err)
	defer srv.Stop()
	ts := httptest.NewServer(NewHTTPHandler(srv, []string{"https://app.example"}))
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL, strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"eth_blockNumber","params":[]}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://app.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))

	client, err := rpc.Dial(ts.URL)
	require.NoError(t, err)
	defer client.Close()
	var hash common.Hash
	err = client.Call(&hash, "bridge_sendRawTransaction", hexutil.Bytes{0xc0})
	require.Error(t, err)

	// The same endpoint upgrades to WebSocket for subscriptions.
	ws, err := rpc.DialWebsocket(context.Background(), "ws://"+strings.TrimPrefix(ts.URL, "http://"), "")
	require.NoError(t, err)
	defer ws.Close()
	heads := make(chan map[string]interface{}, 1)
	sub, err := ws.EthSubscribe(context.Background(), heads, "newHeads")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	alice := bech(t)
	block := n.submit(core.KindBankSend, core.BankSend{From: alice, To: alice, Denom: params.DefaultBaseDenom, Amount: big.NewInt(0)})
	select {
	case head := <-heads:
		require.Equal(t, block.Hash().Hex(), head["hash"])
	case err := <-sub.Err():
		t.Fatal(err)
	case <-time.After(5 * time.Second):
		t.Fatal("no head notification")
	}
}

func TestLogSubscription(t *testing.T) {
	n := newNode(t)
	alice, bob := bech(t), bech(t)

	n.submit(core.KindWasmStoreCode, core.WasmStoreCode{Sender: alice, Code: wasm.BuildModule(wasm.ProgramCW20)})
	codeID := binary.BigEndian.Uint64(n.lastResult().Ret)
	init := `{"name":"Token","symbol":"TKN","decimals":6,"initial_balances":[{"address":"` + alice + `","amount":"50"}]}`
	n.submit(core.KindWasmInstantiate, core.WasmInstantiate{Sender: alice, CodeID: codeID, Msg: []byte(init), Label: "t"})
	token := string(n.lastResult().Ret)
	n.submit(core.KindRegisterPointer, core.RegisterPointer{Sender: alice, Standard: vm.StandardCW20, Pointee: token})
	var info PointerInfo
	require.NoError(t, n.client.Call(&info, "bridge_getPointer", "cw20", token))

	logs := make(chan types.Log, 4)
	sub, err := n.client.EthSubscribe(context.Background(), logs, "logs", map[string]interface{}{
		"address": info.Pointer,
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	msg := `{"transfer":{"recipient":"` + bob + `","amount":"9"}}`
	block := n.submit(core.KindWasmExecute, core.WasmExecute{Sender: alice, Contract: token, Msg: []byte(msg)})
	select {
	case l := <-logs:
		require.Equal(t, info.Pointer, l.Address)
		require.Equal(t, block.Hash(), l.BlockHash)
		require.Equal(t, proxy.TransferTopic, l.Topics[0])
	case err := <-sub.Err():
		t.Fatal(err)
	case <-time.After(5 * time.Second):
		t.Fatal("no log notification")
	}
}

func TestCallAgainstHeadState(t *testing.T) {
	n := newNode(t)
	alice, bob := bech(t), bech(t)

	n.submit(core.KindWasmStoreCode, core.WasmStoreCode{Sender: alice, Code: wasm.BuildModule(wasm.ProgramCW20)})
	codeID := binary.BigEndian.Uint64(n.lastResult().Ret)
	init := `{"name":"Token","symbol":"TKN","decimals":6,"initial_balances":[{"address":"` + alice + `","amount":"50"}]}`
	n.submit(core.KindWasmInstantiate, core.WasmInstantiate{Sender: alice, CodeID: codeID, Msg: []byte(init), Label: "t"})
	token := string(n.lastResult().Ret)
	n.submit(core.KindRegisterPointer, core.RegisterPointer{Sender: alice, Standard: vm.StandardCW20, Pointee: token})

	var info PointerInfo
	require.NoError(t, n.client.Call(&info, "bridge_getPointer", "cw20", token))
	var aliceEVM, bobEVM common.Address
	require.NoError(t, n.client.Call(&aliceEVM, "bridge_resolve", alice))
	require.NoError(t, n.client.Call(&bobEVM, "bridge_resolve", bob))

	balanceOf := func(who common.Address) *big.Int {
		input, err := proxy.ERC20ABI.Pack("balanceOf", who)
		require.NoError(t, err)
		var ret hexutil.Bytes
		args := map[string]interface{}{"to": info.Pointer, "data": hexutil.Bytes(input)}
		require.NoError(t, n.client.Call(&ret, "eth_call", args, "latest"))
		out, err := proxy.ERC20ABI.Unpack("balanceOf", ret)
		require.NoError(t, err)
		return out[0].(*big.Int)
	}
	require.Equal(t, int64(50), balanceOf(aliceEVM).Int64())

	// A simulated transfer succeeds but leaves the head state alone.
	input, err := proxy.ERC20ABI.Pack("transfer", bobEVM, big.NewInt(5))
	require.NoError(t, err)
	var ret hexutil.Bytes
	args := map[string]interface{}{"from": aliceEVM, "to": info.Pointer, "input": hexutil.Bytes(input)}
	require.NoError(t, n.client.Call(&ret, "eth_call", args, "latest"))
	out, err := proxy.ERC20ABI.Unpack("transfer", ret)
	require.NoError(t, err)
	require.Equal(t, true, out[0])
	require.Equal(t, int64(50), balanceOf(aliceEVM).Int64())
	require.Zero(t, balanceOf(bobEVM).Sign())

	// An unassociated caller reverts with the reason as data.
	args["from"] = common.HexToAddress("0x1234")
	err = n.client.Call(&ret, "eth_call", args, "latest")
	require.ErrorContains(t, err, "execution reverted")
	var dataErr rpc.DataError
	require.ErrorAs(t, err, &dataErr)
	require.NotEmpty(t, dataErr.ErrorData())

	// Addresses without a pointer have no code.
	args = map[string]interface{}{"to": bobEVM, "data": hexutil.Bytes(input)}
	require.NoError(t, n.client.Call(&ret, "eth_call", args, "latest"))
	require.Empty(t, ret)

	require.Error(t, n.client.Call(&ret, "eth_call", args, hexutil.EncodeUint64(1)))
}

func TestQueryPointer(t *testing.T) {
	n := newNode(t)
	alice := bech(t)

	n.submit(core.KindWasmStoreCode, core.WasmStoreCode{Sender: alice, Code: wasm.BuildModule(wasm.ProgramCW20)})
	codeID := binary.BigEndian.Uint64(n.lastResult().Ret)
	init := `{"name":"Token","symbol":"TKN","decimals":6,"initial_balances":[{"address":"` + alice + `","amount":"50"}]}`
	n.submit(core.KindWasmInstantiate, core.WasmInstantiate{Sender: alice, CodeID: codeID, Msg: []byte(init), Label: "t"})
	token := string(n.lastResult().Ret)
	n.submit(core.KindRegisterPointer, core.RegisterPointer{Sender: alice, Standard: vm.StandardCW20, Pointee: token})

	var info PointerInfo
	require.NoError(t, n.client.Call(&info, "bridge_getPointer", "cw20", token))

	var tokenInfo map[string]interface{}
	require.NoError(t, n.client.Call(&tokenInfo, "bridge_queryPointer", info.Pointer, map[string]interface{}{"token_info": map[string]interface{}{}}))
	require.Equal(t, "TKN", tokenInfo["symbol"])
	require.Equal(t, "50", tokenInfo["total_supply"])

	var bal map[string]interface{}
	require.NoError(t, n.client.Call(&bal, "bridge_queryPointer", info.Pointer, map[string]interface{}{"balance": map[string]string{"address": alice}}))
	require.Equal(t, "50", bal["balance"])

	var ignored interface{}
	err := n.client.Call(&ignored, "bridge_queryPointer", info.Pointer, map[string]interface{}{"minter": map[string]interface{}{}})
	require.ErrorContains(t, err, "unsupported operation")

	err = n.client.Call(&ignored, "bridge_queryPointer", common.HexToAddress("0x1234"), map[string]interface{}{"token_info": map[string]interface{}{}})
	require.ErrorContains(t, err, "not a pointer")
}
