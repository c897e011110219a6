// Package pointer keeps the table of pointer contracts: EVM proxies that
// expose a native denom or a wasm token contract through an EVM token
// interface.
package pointer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/dualvm/bridge/address"
	"github.com/dualvm/bridge/core/vm"
	"github.com/dualvm/bridge/params"
	"github.com/dualvm/bridge/store"
	"github.com/dualvm/bridge/tracing"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/sync/singleflight"
)

var (
	recordPrefix  = []byte("ptr/rec/") // std | len(pointee) | pointee | version -> Record
	indexPrefix   = []byte("ptr/idx/") // pointer -> Record
	versionPrefix = []byte("ptr/ver/") // std -> VersionRecord

	registerMeter = metrics.NewRegisteredMeter("pointer/register", nil)
	deployMeter   = metrics.NewRegisteredMeter("pointer/deploy", nil)
	failedMeter   = metrics.NewRegisteredMeter("pointer/failed", nil)
)

// Record binds one pointer contract to its pointee.
type Record struct {
	Standard vm.Standard
	Pointee  string
	Pointer  common.Address
	Version  uint16
}

// VersionRecord is the configuration record holding a standard's current
// version. Revision counts writes and UpdatedAt is the height of the last
// upgrade, zero for genesis values.
type VersionRecord struct {
	Standard  vm.Standard
	Version   uint16
	Revision  uint64
	UpdatedAt uint64
}

// DeployRequest is the strict deployment path used by transactions.
// Version zero means "the current version".
type DeployRequest struct {
	Standard vm.Standard
	Pointee  string
	Version  uint16
}

// Deployer installs pointer code into EVM.
type Deployer interface {
	CreateContract(deployer common.Address, salt [32]byte, code []byte) (common.Address, error)
	Restore(addr common.Address, code []byte)
}

// Checker validates that a pointee exists and speaks the standard.
type Checker interface {
	CheckPointee(st store.Store, std vm.Standard, pointee string) error
}

// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	group    singleflight.Group
	deployer Deployer
	checker  Checker
	codec    address.Codec
	log      log.Logger
}

func New(deployer Deployer, checker Checker, codec address.Codec) *Registry {
	return &Registry{
		deployer: deployer,
		checker:  checker,
		codec:    codec,
		log:      log.New("module", "pointer"),
	}
}

// RuntimeCode is the marker code installed at a pointer address. Executed
// natively it reverts with the standard id; calls are served by the bridge.
func RuntimeCode(std vm.Standard) []byte {
	return []byte{0x60, byte(std), 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xfd}
}

// Salt is the CREATE2 salt of the pointer for (std, pointee, version).
func Salt(std vm.Standard, pointee string, version uint16) [32]byte {
	var v [2]byte
	binary.BigEndian.PutUint16(v[:], version)
	return crypto.Keccak256Hash([]byte{byte(std)}, []byte(pointee), v[:])
}

func pointeePrefix(std vm.Standard, pointee string) []byte {
	k := append([]byte(nil), recordPrefix...)
	k = append(k, byte(std))
	k = binary.BigEndian.AppendUint16(k, uint16(len(pointee)))
	return append(k, pointee...)
}

func recordKey(std vm.Standard, pointee string, version uint16) []byte {
	return binary.BigEndian.AppendUint16(pointeePrefix(std, pointee), version)
}

func indexKey(ptr common.Address) []byte {
	return append(append([]byte(nil), indexPrefix...), ptr.Bytes()...)
}

// LookupKey is the store key read when checking whether addr is a pointer.
func LookupKey(addr common.Address) []byte { return indexKey(addr) }

func versionKey(std vm.Standard) []byte {
	return append(append([]byte(nil), versionPrefix...), byte(std))
}

func decodeRecord(enc []byte) (Record, bool) {
	var rec Record
	if err := rlp.DecodeBytes(enc, &rec); err != nil {
		log.Error("Corrupt pointer record", "err", err)
		return Record{}, false
	}
	return rec, true
}

// InitGenesis writes the initial version record of every standard.
func (r *Registry) InitGenesis(st store.Store, versions map[string]uint16) error {
	for _, std := range vm.AllStandards() {
		v, ok := versions[std.String()]
		if !ok {
			v = params.DefaultStandardVersions[std.String()]
		}
		if v == 0 {
			return fmt.Errorf("standard %s: version must be positive", std)
		}
		r.writeVersion(st, VersionRecord{Standard: std, Version: v})
	}
	return nil
}

func (r *Registry) writeVersion(st store.Store, vr VersionRecord) {
	enc, err := rlp.EncodeToBytes(&vr)
	if err != nil {
		panic(err)
	}
	st.Set(versionKey(vr.Standard), enc)
}

// VersionRecord returns the configuration record of std.
func (r *Registry) VersionRecord(st store.Store, std vm.Standard) VersionRecord {
	enc, ok := st.Get(versionKey(std))
	if ok {
		var vr VersionRecord
		if err := rlp.DecodeBytes(enc, &vr); err == nil {
			return vr
		}
	}
	return VersionRecord{Standard: std, Version: params.DefaultStandardVersions[std.String()]}
}

// StandardVersion returns the version new pointers of std are stamped with.
func (r *Registry) StandardVersion(st store.Store, std vm.Standard) uint16 {
	return r.VersionRecord(st, std).Version
}

// GetPointer returns the newest pointer of pointee.
func (r *Registry) GetPointer(st store.Store, std vm.Standard, pointee string) (Record, bool) {
	all := r.Pointers(st, std, pointee)
	if len(all) == 0 {
		return Record{}, false
	}
	return all[len(all)-1], true
}

// GetPointerAtVersion returns the pointer of pointee stamped with version.
func (r *Registry) GetPointerAtVersion(st store.Store, std vm.Standard, pointee string, version uint16) (Record, bool) {
	enc, ok := st.Get(recordKey(std, pointee, version))
	if !ok {
		return Record{}, false
	}
	return decodeRecord(enc)
}

// Pointers lists every pointer of pointee, oldest version first.
func (r *Registry) Pointers(st store.Store, std vm.Standard, pointee string) []Record {
	var out []Record
	prefix := pointeePrefix(std, pointee)
	st.Iterate(prefix, func(k, v []byte) bool {
		if len(k) != len(prefix)+2 {
			return true
		}
		if rec, ok := decodeRecord(v); ok {
			out = append(out, rec)
		}
		return true
	})
	return out
}

// GetPointee looks a pointer address up in the pointer index.
func (r *Registry) GetPointee(st store.Store, ptr common.Address) (Record, bool) {
	enc, ok := st.Get(indexKey(ptr))
	if !ok {
		return Record{}, false
	}
	return decodeRecord(enc)
}

// All returns every pointer record ordered by pointer address.
func (r *Registry) All(st store.Store) []Record {
	var out []Record
	st.Iterate(indexPrefix, func(_, v []byte) bool {
		if rec, ok := decodeRecord(v); ok {
			out = append(out, rec)
		}
		return true
	})
	return out
}

// RegisterPointer returns the pointer of pointee at the current version,
// deploying it first if needed. Concurrent calls for the same pointee on the
// same store collapse into one deployment.
func (r *Registry) RegisterPointer(st store.Store, std vm.Standard, pointee string) (Record, error) {
	registerMeter.Mark(1)
	if !std.Valid() {
		return Record{}, vm.DeploymentFailed(fmt.Errorf("%w: %d", vm.ErrUnknownStandard, std))
	}
	key := fmt.Sprintf("%p|%d|%s", st, std, pointee)
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		r.mu.Lock()
		defer r.mu.Unlock()

		current := r.StandardVersion(st, std)
		if rec, ok := r.GetPointerAtVersion(st, std, pointee, current); ok {
			return rec, nil
		}
		return r.deploy(st, std, pointee, current, tracing.PointerChangeRegister)
	})
	if err != nil {
		return Record{}, err
	}
	return v.(Record), nil
}

// DeployPointer is the strict path: it refuses to redeploy a pointee that
// already has a pointer at the current version and rejects stale versions
// unless they name the pointee's recorded version.
func (r *Registry) DeployPointer(st store.Store, req DeployRequest) (Record, error) {
	if !req.Standard.Valid() {
		return Record{}, vm.DeploymentFailed(fmt.Errorf("%w: %d", vm.ErrUnknownStandard, req.Standard))
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.StandardVersion(st, req.Standard)
	version := req.Version
	if version == 0 {
		version = current
	}
	if version != current {
		if rec, ok := r.GetPointerAtVersion(st, req.Standard, req.Pointee, version); ok {
			return rec, nil
		}
		return Record{}, vm.DeploymentFailed(fmt.Errorf("requested version %d, current is %d", version, current))
	}
	if rec, ok := r.GetPointerAtVersion(st, req.Standard, req.Pointee, current); ok {
		return Record{}, vm.DeploymentFailed(fmt.Errorf("pointer %s already exists at version %d", rec.Pointer, current))
	}
	return r.deploy(st, req.Standard, req.Pointee, current, tracing.PointerChangeDeploy)
}

// deploy must be called with r.mu held.
func (r *Registry) deploy(st store.Store, std vm.Standard, pointee string, version uint16, reason tracing.PointerChangeReason) (Record, error) {
	fail := func(err error) (Record, error) {
		failedMeter.Mark(1)
		r.log.Debug("Pointer deployment failed", "standard", std, "pointee", pointee, "err", err)
		return Record{}, vm.DeploymentFailed(err)
	}
	if pointee == "" {
		return fail(errors.New("empty pointee"))
	}
	if raw, ok := r.codec.Parse(pointee); ok {
		if rec, ok := r.GetPointee(st, common.BytesToAddress(raw)); ok {
			return fail(fmt.Errorf("%w: %s is the %s pointer of %s", vm.ErrPointeeIsPointer, pointee, rec.Standard, rec.Pointee))
		}
	}
	if r.checker != nil {
		if err := r.checker.CheckPointee(st, std, pointee); err != nil {
			return fail(err)
		}
	}
	addr, err := r.deployer.CreateContract(params.PointerDeployer, Salt(std, pointee, version), RuntimeCode(std))
	if err != nil {
		return fail(err)
	}
	rec := Record{Standard: std, Pointee: pointee, Pointer: addr, Version: version}
	enc, err := rlp.EncodeToBytes(&rec)
	if err != nil {
		return fail(err)
	}
	st.Set(recordKey(std, pointee, version), enc)
	st.Set(indexKey(addr), enc)

	deployMeter.Mark(1)
	r.log.Info("Deployed pointer", "standard", std, "pointee", pointee, "pointer", addr, "version", version, "reason", reason)
	return rec, nil
}

// UpgradeStandardVersion bumps the version of std at height. Only the
// governance module may call it. Existing pointers are left untouched.
func (r *Registry) UpgradeStandardVersion(st store.Store, authority common.Address, std vm.Standard, height uint64) (uint16, error) {
	if authority != params.GovModuleAddress {
		return 0, fmt.Errorf("%w: %s may not upgrade pointer versions", vm.ErrUnauthorized, authority)
	}
	if !std.Valid() {
		return 0, fmt.Errorf("%w: %d", vm.ErrUnknownStandard, std)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	vr := r.VersionRecord(st, std)
	if vr.Version == math.MaxUint16 {
		return 0, fmt.Errorf("standard %s: version space exhausted", std)
	}
	vr.Version++
	vr.Revision++
	vr.UpdatedAt = height
	r.writeVersion(st, vr)
	r.log.Info("Upgraded pointer standard", "standard", std, "version", vr.Version, "height", height, "reason", tracing.PointerChangeVersionUpgrade)
	return vr.Version, nil
}

// Rehydrate reinstalls the marker code of every recorded pointer into the
// EVM host, for hosts whose account state is not persisted.
func (r *Registry) Rehydrate(st store.Store) int {
	recs := r.All(st)
	for _, rec := range recs {
		r.deployer.Restore(rec.Pointer, RuntimeCode(rec.Standard))
	}
	return len(recs)
}
