// Package association maintains the binding between native accounts and their
// EVM addresses.
//
// Every native account has an implicit EVM placeholder: its own 20 bytes
// read as an EVM address. Associating a public key replaces the placeholder
// with the address derived from that key and permanently orphans the
// placeholder; value later sent to it is routed to an unspendable sink.
package association

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/dualvm/bridge/address"
	"github.com/dualvm/bridge/core/vm"
	"github.com/dualvm/bridge/params"
	"github.com/dualvm/bridge/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/rlp"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	forwardPrefix = []byte("assoc/fwd/") // native -> binding
	reversePrefix = []byte("assoc/rev/") // evm -> native
	orphanPrefix  = []byte("assoc/orphan/")

	explicitCounter = metrics.NewRegisteredCounter("association/explicit", nil)
	implicitCounter = metrics.NewRegisteredCounter("association/implicit", nil)
)

const forwardCacheSize = 4096

// Kind tells implicit placeholders from key-derived bindings.
type Kind uint8

const (
	Implicit Kind = iota + 1
	Explicit
)

func (k Kind) String() string {
	switch k {
	case Implicit:
		return "implicit"
	case Explicit:
		return "explicit"
	}
	return "none"
}

// Binding is the stored association of one native account.
type Binding struct {
	Native []byte
	EVM    common.Address
	Kind   Kind
	PubKey []byte `rlp:"optional"`
}

// Migrator moves native balances between accounts.
type Migrator interface {
	MigrateAll(st store.Store, from, to []byte) (int, error)
}

// Registry reads and writes bindings. It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	migrator Migrator
	cache    *lru.Cache[string, Binding]
	log      log.Logger
}

// New creates a registry. migrator may be nil, in which case no balances are
// swept on explicit association.
func New(migrator Migrator) *Registry {
	cache, err := lru.New[string, Binding](forwardCacheSize)
	if err != nil {
		panic(err)
	}
	return &Registry{
		migrator: migrator,
		cache:    cache,
		log:      log.New("module", "association"),
	}
}

// ImplicitAddress is the placeholder EVM address of a native account.
func ImplicitAddress(native []byte) common.Address {
	return address.Cast(native)
}

// OrphanSink is the account credited with value sent to an orphaned
// placeholder. Nobody can sign for it.
func OrphanSink(evm common.Address) []byte {
	return crypto.Keccak256(params.OrphanSinkNamespace, evm.Bytes())[12:]
}

func key(prefix, id []byte) []byte {
	return append(append([]byte(nil), prefix...), id...)
}

// Purge drops cached lookups. Called when a block's writes are discarded.
func (r *Registry) Purge() {
	r.cache.Purge()
}

// Binding returns the stored binding of native, if any.
func (r *Registry) Binding(st store.Store, native []byte) (Binding, bool) {
	if b, ok := r.cache.Get(string(native)); ok {
		return b, true
	}
	enc, ok := st.Get(key(forwardPrefix, native))
	if !ok {
		return Binding{}, false
	}
	var b Binding
	if err := rlp.DecodeBytes(enc, &b); err != nil {
		r.log.Error("Corrupt association record", "native", common.Bytes2Hex(native), "err", err)
		return Binding{}, false
	}
	if cacheable(st) {
		r.cache.Add(string(native), b)
	}
	return b, true
}

// cacheable reports whether bindings read through st may be cached. Only the
// block overlay qualifies; a transaction layer may still be discarded.
func cacheable(st store.Store) bool {
	o, ok := st.(interface{ IsRoot() bool })
	return ok && o.IsRoot()
}

// Resolve maps a native account to its EVM address: the explicit binding if
// one exists, else the implicit placeholder.
func (r *Registry) Resolve(st store.Store, native []byte) common.Address {
	if b, ok := r.Binding(st, native); ok && b.Kind == Explicit {
		return b.EVM
	}
	return ImplicitAddress(native)
}

// ResolveReverse maps an EVM address back to its native account. Only
// materialized bindings resolve.
func (r *Registry) ResolveReverse(st store.Store, evm common.Address) ([]byte, bool) {
	return st.Get(key(reversePrefix, evm.Bytes()))
}

// LookupKeys are the store keys read when evm sends or receives value.
func LookupKeys(evm common.Address) [][]byte {
	return [][]byte{key(reversePrefix, evm.Bytes()), key(orphanPrefix, evm.Bytes())}
}

// IsOrphaned reports whether evm is a placeholder retired by an explicit
// association.
func (r *Registry) IsOrphaned(st store.Store, evm common.Address) bool {
	return st.Has(key(orphanPrefix, evm.Bytes()))
}

// RecipientFor is the native account credited with value sent to evm:
// the bound account, the orphan sink for retired placeholders, or otherwise
// evm's own bytes read as a native account.
func (r *Registry) RecipientFor(st store.Store, evm common.Address) []byte {
	if native, ok := r.ResolveReverse(st, evm); ok {
		return native
	}
	if r.IsOrphaned(st, evm) {
		return OrphanSink(evm)
	}
	return evm.Bytes()
}

// EnsureImplicit records the implicit binding of native if it has none yet
// and returns the account's current EVM address.
func (r *Registry) EnsureImplicit(st store.Store, native []byte) common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.Binding(st, native); ok {
		return b.EVM
	}
	placeholder := ImplicitAddress(native)
	if other, ok := r.ResolveReverse(st, placeholder); ok && !bytes.Equal(other, native) {
		// The bytes are already some other account's explicit address.
		return placeholder
	}
	r.write(st, Binding{Native: native, EVM: placeholder, Kind: Implicit})
	implicitCounter.Inc(1)
	r.log.Debug("Materialized implicit association", "native", common.Bytes2Hex(native), "evm", placeholder)
	return placeholder
}

// Associate binds native to the EVM address derived from pubKey and orphans
// the implicit placeholder. Repeating the call with the same key is a no-op.
func (r *Registry) Associate(st store.Store, native, pubKey []byte) (common.Address, error) {
	derivedNative, err := address.NativeFromPubKey(pubKey)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", vm.ErrAssociationMismatch, err)
	}
	if !bytes.Equal(derivedNative, native) {
		return common.Address{}, fmt.Errorf("%w: public key does not belong to the native account", vm.ErrAssociationMismatch)
	}
	evm, err := address.EVMFromPubKey(pubKey)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", vm.ErrAssociationMismatch, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.Binding(st, native); ok && b.Kind == Explicit {
		if b.EVM == evm {
			return evm, nil
		}
		return common.Address{}, fmt.Errorf("%w: already associated with %s", vm.ErrAssociationMismatch, b.EVM)
	}
	if other, ok := r.ResolveReverse(st, evm); ok && !bytes.Equal(other, native) {
		if !r.isSelfCast(st, other, evm) {
			return common.Address{}, fmt.Errorf("%w: %s is bound to another account", vm.ErrAssociationMismatch, evm)
		}
		// evm only stood for its own cast account, which it used to send
		// value before the key owner associated. The owner takes it over and
		// the cast balances follow below.
		st.Delete(key(forwardPrefix, other))
		r.cache.Remove(string(other))
	}

	placeholder := ImplicitAddress(native)
	if placeholder != evm {
		if owner, ok := r.ResolveReverse(st, placeholder); ok && bytes.Equal(owner, native) {
			st.Delete(key(reversePrefix, placeholder.Bytes()))
		}
		st.Set(key(orphanPrefix, placeholder.Bytes()), native)
	}
	r.write(st, Binding{Native: native, EVM: evm, Kind: Explicit, PubKey: pubKey})

	// Funds sent to evm before anyone could prove ownership sit in evm's cast
	// account; the owner has now proven it.
	if r.migrator != nil && !bytes.Equal(evm.Bytes(), native) {
		n, err := r.migrator.MigrateAll(st, evm.Bytes(), native)
		if err != nil {
			return common.Address{}, fmt.Errorf("migrate balances: %w", err)
		}
		if n > 0 {
			r.log.Info("Migrated pre-association balances", "evm", evm, "denoms", n)
		}
	}
	explicitCounter.Inc(1)
	r.log.Info("Recorded explicit association", "native", common.Bytes2Hex(native), "evm", evm, "orphaned", placeholder)
	return evm, nil
}

// isSelfCast reports whether native is the cast account of evm holding only
// its implicit binding.
func (r *Registry) isSelfCast(st store.Store, native []byte, evm common.Address) bool {
	if !bytes.Equal(native, evm.Bytes()) {
		return false
	}
	b, ok := r.Binding(st, native)
	return ok && b.Kind == Implicit && b.EVM == evm
}

// AssociateSigned recovers the signer of message and associates it.
func (r *Registry) AssociateSigned(st store.Store, message, sig []byte) ([]byte, common.Address, error) {
	pub, err := address.RecoverPubKey(message, sig)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("%w: %v", vm.ErrAssociationMismatch, err)
	}
	native, err := address.NativeFromPubKey(pub)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("%w: %v", vm.ErrAssociationMismatch, err)
	}
	evm, err := r.Associate(st, native, pub)
	if err != nil {
		return nil, common.Address{}, err
	}
	return native, evm, nil
}

func (r *Registry) write(st store.Store, b Binding) {
	enc, err := rlp.EncodeToBytes(&b)
	if err != nil {
		panic(err) // only fixed-shape fields
	}
	st.Set(key(forwardPrefix, b.Native), enc)
	st.Set(key(reversePrefix, b.EVM.Bytes()), b.Native)
	if cacheable(st) {
		r.cache.Add(string(b.Native), b)
	} else {
		r.cache.Remove(string(b.Native))
	}
}
