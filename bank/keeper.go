// Package bank is the native ledger: per-denom balances, supply and denom
// metadata for native accounts.
package bank

import (
	"bytes"
	"fmt"

	"github.com/dualvm/bridge/core/vm"
	"github.com/dualvm/bridge/store"
	"github.com/dualvm/bridge/tracing"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

var (
	balancePrefix  = []byte("bank/bal/")
	supplyPrefix   = []byte("bank/supply/")
	metadataPrefix = []byte("bank/meta/")
)

// Metadata describes a denom for display and for ERC20 pointers over it.
type Metadata struct {
	Denom    string
	Name     string
	Symbol   string
	Decimals uint8
}

// Keeper mutates native balances held in a store.Store.
type Keeper struct {
	log log.Logger
}

func NewKeeper() *Keeper {
	return &Keeper{log: log.New("module", "bank")}
}

func balanceKey(addr []byte, denom string) []byte {
	k := make([]byte, 0, len(balancePrefix)+len(addr)+len(denom))
	k = append(k, balancePrefix...)
	k = append(k, addr...)
	return append(k, denom...)
}

func readInt(st store.Store, key []byte) *uint256.Int {
	v, ok := st.Get(key)
	if !ok {
		return new(uint256.Int)
	}
	return new(uint256.Int).SetBytes(v)
}

func writeInt(st store.Store, key []byte, v *uint256.Int) {
	if v.IsZero() {
		st.Delete(key)
		return
	}
	st.Set(key, v.Bytes())
}

// Balance returns addr's balance of denom.
func (k *Keeper) Balance(st store.Store, addr []byte, denom string) *uint256.Int {
	return readInt(st, balanceKey(addr, denom))
}

// Balances returns every non-zero balance held by addr.
func (k *Keeper) Balances(st store.Store, addr []byte) map[string]*uint256.Int {
	prefix := append(append([]byte(nil), balancePrefix...), addr...)
	out := make(map[string]*uint256.Int)
	st.Iterate(prefix, func(key, value []byte) bool {
		out[string(key[len(prefix):])] = new(uint256.Int).SetBytes(value)
		return true
	})
	return out
}

// Supply returns the total minted amount of denom.
func (k *Keeper) Supply(st store.Store, denom string) *uint256.Int {
	return readInt(st, append(append([]byte(nil), supplyPrefix...), denom...))
}

// Send moves amt of denom from one native account to another.
func (k *Keeper) Send(st store.Store, from, to []byte, denom string, amt *uint256.Int, reason tracing.BalanceChangeReason) error {
	if amt.IsZero() || bytes.Equal(from, to) {
		if bal := k.Balance(st, from, denom); bal.Lt(amt) {
			return fmt.Errorf("%w: %s < %s%s", vm.ErrInsufficientBalance, bal.Dec(), amt.Dec(), denom)
		}
		return nil
	}
	fromKey := balanceKey(from, denom)
	bal := readInt(st, fromKey)
	if bal.Lt(amt) {
		return fmt.Errorf("%w: %s < %s%s", vm.ErrInsufficientBalance, bal.Dec(), amt.Dec(), denom)
	}
	toKey := balanceKey(to, denom)
	dst := readInt(st, toKey)
	sum, overflow := new(uint256.Int).AddOverflow(dst, amt)
	if overflow {
		return fmt.Errorf("balance overflow for %s", denom)
	}
	writeInt(st, fromKey, new(uint256.Int).Sub(bal, amt))
	writeInt(st, toKey, sum)
	k.log.Trace("Native transfer", "denom", denom, "amount", amt, "reason", reason)
	return nil
}

// Mint credits new supply to addr.
func (k *Keeper) Mint(st store.Store, to []byte, denom string, amt *uint256.Int, reason tracing.BalanceChangeReason) error {
	supplyKey := append(append([]byte(nil), supplyPrefix...), denom...)
	supply, overflow := new(uint256.Int).AddOverflow(readInt(st, supplyKey), amt)
	if overflow {
		return fmt.Errorf("supply overflow for %s", denom)
	}
	key := balanceKey(to, denom)
	writeInt(st, key, new(uint256.Int).Add(readInt(st, key), amt))
	writeInt(st, supplyKey, supply)
	k.log.Trace("Minted", "denom", denom, "amount", amt, "reason", reason)
	return nil
}

// Burn destroys amt of denom held by from.
func (k *Keeper) Burn(st store.Store, from []byte, denom string, amt *uint256.Int) error {
	key := balanceKey(from, denom)
	bal := readInt(st, key)
	if bal.Lt(amt) {
		return fmt.Errorf("%w: %s < %s%s", vm.ErrInsufficientBalance, bal.Dec(), amt.Dec(), denom)
	}
	supplyKey := append(append([]byte(nil), supplyPrefix...), denom...)
	writeInt(st, key, new(uint256.Int).Sub(bal, amt))
	writeInt(st, supplyKey, new(uint256.Int).Sub(readInt(st, supplyKey), amt))
	return nil
}

// MigrateAll moves every balance held by from into to. It reports how many
// denoms were moved.
func (k *Keeper) MigrateAll(st store.Store, from, to []byte) (int, error) {
	balances := k.Balances(st, from)
	for denom, amt := range balances {
		if err := k.Send(st, from, to, denom, amt, tracing.BalanceChangeAssociationMigration); err != nil {
			return 0, err
		}
	}
	return len(balances), nil
}

// SetMetadata stores the description of a denom.
func (k *Keeper) SetMetadata(st store.Store, md Metadata) error {
	enc, err := rlp.EncodeToBytes(&md)
	if err != nil {
		return err
	}
	st.Set(append(append([]byte(nil), metadataPrefix...), md.Denom...), enc)
	return nil
}

// Metadata returns the description of denom, if registered.
func (k *Keeper) Metadata(st store.Store, denom string) (Metadata, bool) {
	enc, ok := st.Get(append(append([]byte(nil), metadataPrefix...), denom...))
	if !ok {
		return Metadata{}, false
	}
	var md Metadata
	if err := rlp.DecodeBytes(enc, &md); err != nil {
		k.log.Error("Corrupt denom metadata", "denom", denom, "err", err)
		return Metadata{}, false
	}
	return md, true
}
