package core

import (
	"fmt"
	"math/big"

	"github.com/dualvm/bridge/core/vm"
	"github.com/dualvm/bridge/gov"
	"github.com/dualvm/bridge/params"
	"github.com/dualvm/bridge/wasm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// TxKind selects the payload carried by a Tx.
type TxKind uint8

const (
	KindEVMCall TxKind = iota + 1
	KindWasmStoreCode
	KindWasmInstantiate
	KindWasmExecute
	KindWasmMigrate
	KindAssociate
	KindRegisterPointer
	KindBankSend
	KindSubmitProposal
	KindPassProposal
	KindRejectProposal
)

var kindNames = map[TxKind]string{
	KindEVMCall:         "evm_call",
	KindWasmStoreCode:   "wasm_store_code",
	KindWasmInstantiate: "wasm_instantiate",
	KindWasmExecute:     "wasm_execute",
	KindWasmMigrate:     "wasm_migrate",
	KindAssociate:       "associate",
	KindRegisterPointer: "register_pointer",
	KindBankSend:        "bank_send",
	KindSubmitProposal:  "submit_proposal",
	KindPassProposal:    "pass_proposal",
	KindRejectProposal:  "reject_proposal",
}

func (k TxKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("TxKind(%d)", uint8(k))
}

// IsEVM reports whether txs of this kind originate on the EVM side and
// therefore always get a receipt.
func (k TxKind) IsEVM() bool { return k == KindEVMCall }

// EVMCall is an EVM call, either into a pointer or a plain value transfer.
type EVMCall struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
}

type WasmStoreCode struct {
	Sender string
	Code   []byte
}

type WasmInstantiate struct {
	Sender string
	CodeID uint64
	Msg    []byte
	Label  string
	Funds  []wasm.Coin
}

type WasmExecute struct {
	Sender   string
	Contract string
	Msg      []byte
	Funds    []wasm.Coin
}

type WasmMigrate struct {
	Sender   string
	Contract string
	CodeID   uint64
}

// Associate carries a message signed by the key being associated.
type Associate struct {
	Message   []byte
	Signature []byte
}

// RegisterPointer asks for a pointer to Pointee. A zero Version registers at
// the current standard version and is idempotent; an explicit Version is a
// strict deployment that fails if the pointer already exists.
type RegisterPointer struct {
	Sender   string
	Standard vm.Standard
	Pointee  string
	Version  uint16
}

type BankSend struct {
	From   string
	To     string
	Denom  string
	Amount *big.Int
}

type SubmitProposal struct {
	Proposer string
	Kind     gov.ProposalKind
	Payload  []byte
}

type PassProposal struct {
	Sender string
	ID     uint64
}

type RejectProposal struct {
	Sender string
	ID     uint64
}

// Tx is the envelope every message travels in. Signatures and fees belong
// to the consensus layer and are not modelled here.
type Tx struct {
	Kind    TxKind
	Nonce   uint64
	Payload []byte
}

// NewTx wraps payload, which must be the struct matching kind.
func NewTx(kind TxKind, nonce uint64, payload interface{}) (*Tx, error) {
	enc, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return &Tx{Kind: kind, Nonce: nonce, Payload: enc}, nil
}

// MustTx is NewTx for payloads known to encode.
func MustTx(kind TxKind, nonce uint64, payload interface{}) *Tx {
	tx, err := NewTx(kind, nonce, payload)
	if err != nil {
		panic(err)
	}
	return tx
}

func (tx *Tx) Hash() common.Hash { return rlpHash(tx) }

// Decode unpacks the payload into out.
func (tx *Tx) Decode(out interface{}) error {
	if err := rlp.DecodeBytes(tx.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", tx.Kind, err)
	}
	return nil
}

func rlpHash(v interface{}) common.Hash {
	enc, err := rlp.EncodeToBytes(v)
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(enc)
}

// Log is an EVM log. Synthetic logs were projected from wasm events rather
// than emitted by an EVM call.
type Log struct {
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	BlockNumber uint64
	TxHash      common.Hash
	TxIndex     uint
	BlockHash   common.Hash
	Index       uint
	Synthetic   bool
}

func newLog(l *types.Log, synthetic bool) *Log {
	return &Log{Address: l.Address, Topics: l.Topics, Data: l.Data, Synthetic: synthetic}
}

// EthLog converts to the go-ethereum representation.
func (l *Log) EthLog() *types.Log {
	return &types.Log{
		Address:     l.Address,
		Topics:      l.Topics,
		Data:        l.Data,
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
		TxIndex:     l.TxIndex,
		BlockHash:   l.BlockHash,
		Index:       l.Index,
	}
}

// Receipt records the EVM visible outcome of a transaction. Shell receipts
// (Type == params.ShellTxType) exist only to carry synthetic logs of a
// wasm transaction.
type Receipt struct {
	Type              uint32
	Status            uint64
	CumulativeGasUsed uint64
	GasUsed           uint64
	Bloom             types.Bloom
	Logs              []*Log
	TxHash            common.Hash
	TxIndex           uint
	From              common.Address
	To                common.Address
	ContractAddress   common.Address
	RevertData        []byte
	BlockNumber       uint64
	BlockHash         common.Hash
}

func (r *Receipt) IsShell() bool { return r.Type == params.ShellTxType }

// copy returns a receipt whose log slice and log values can be rewritten
// without touching r.
func (r *Receipt) copy() *Receipt {
	cpy := *r
	cpy.Logs = make([]*Log, len(r.Logs))
	for i, l := range r.Logs {
		lc := *l
		cpy.Logs[i] = &lc
	}
	return &cpy
}

func logsBloom(logs []*Log) types.Bloom {
	var bloom types.Bloom
	for _, l := range logs {
		bloom.Add(l.Address.Bytes())
		for _, topic := range l.Topics {
			bloom.Add(topic.Bytes())
		}
	}
	return bloom
}

// TxResult is the outcome of every transaction, receipt or not.
type TxResult struct {
	TxHash  common.Hash
	Kind    TxKind
	Success bool
	Error   string
	GasUsed uint64
	Ret     []byte
}

// CallFrame is the single-frame trace of a transaction.
type CallFrame struct {
	Type    string
	From    common.Address
	To      common.Address
	Input   []byte
	Output  []byte
	GasUsed uint64
	Error   string `rlp:"optional"`
}

type Header struct {
	ParentHash  common.Hash
	Number      uint64
	Time        uint64
	StateRoot   common.Hash
	TxHash      common.Hash
	ReceiptHash common.Hash
	Bloom       types.Bloom
	GasUsed     uint64
}

func (h *Header) Hash() common.Hash { return rlpHash(h) }

type Block struct {
	Header *Header
	Txs    []*Tx
}

func (b *Block) Hash() common.Hash { return b.Header.Hash() }
func (b *Block) NumberU64() uint64 { return b.Header.Number }
func (b *Block) ParentHash() common.Hash { return b.Header.ParentHash }

func txsHash(txs []*Tx) common.Hash {
	if len(txs) == 0 {
		return types.EmptyTxsHash
	}
	return rlpHash(txs)
}

func receiptsHash(receipts []*Receipt) common.Hash {
	if len(receipts) == 0 {
		return types.EmptyReceiptsHash
	}
	return rlpHash(receipts)
}
