package core

import (
	"context"
	"fmt"

	"github.com/dualvm/bridge/address"
	"github.com/dualvm/bridge/association"
	"github.com/dualvm/bridge/bank"
	"github.com/dualvm/bridge/events"
	"github.com/dualvm/bridge/gov"
	"github.com/dualvm/bridge/params"
	"github.com/dualvm/bridge/pointer"
	"github.com/dualvm/bridge/proxy"
	"github.com/dualvm/bridge/store"
	"github.com/dualvm/bridge/vme"
	"github.com/dualvm/bridge/wasm"
	"github.com/ethereum/go-ethereum/log"
)

// Bridge holds every component of the node, wired to a shared block overlay.
type Bridge struct {
	Config params.Config
	Codec  address.Codec

	KV    store.KV
	Store *store.Overlay // block overlay, flushed at commit

	Host      *vme.Host
	Bank      *bank.Keeper
	Assoc     *association.Registry
	Runtime   *wasm.Runtime
	Wasm      wasm.Host // Runtime behind the enablement gate
	Gov       *gov.Keeper
	Pointers  *pointer.Registry
	Proxy     *proxy.Proxy
	Projector *events.Projector
}

// NewBridge wires the components over kv. Pointer code recorded in kv is
// reinstalled into the EVM host.
func NewBridge(ctx context.Context, cfg params.Config, kv store.KV) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	host, err := vme.NewMemoryHost()
	if err != nil {
		return nil, fmt.Errorf("evm host: %w", err)
	}
	codec := address.NewCodec(cfg.Bech32Prefix)
	bk := bank.NewKeeper()
	assoc := association.New(bk)
	rt := wasm.NewRuntime(ctx, codec, bk)
	checker := proxy.NewPointeeChecker(bk, rt, cfg.BaseDenom)
	pointers := pointer.New(host, checker, codec)
	govKeeper := gov.NewKeeper(pointers)
	gated := wasm.NewGate(rt, govKeeper)

	b := &Bridge{
		Config:    cfg,
		Codec:     codec,
		KV:        kv,
		Store:     store.NewOverlay(kv, cfg.CacheMB),
		Host:      host,
		Bank:      bk,
		Assoc:     assoc,
		Runtime:   rt,
		Wasm:      gated,
		Gov:       govKeeper,
		Pointers:  pointers,
		Proxy:     proxy.New(pointers, assoc, bk, gated, codec, cfg.BaseDenom),
		Projector: events.NewProjector(pointers, assoc, gated, codec),
	}
	if n := pointers.Rehydrate(b.Store); n > 0 {
		log.Info("Reinstalled pointer contracts", "count", n)
	}
	return b, nil
}

// Close releases the wasm engine and the backing store.
func (b *Bridge) Close() error {
	if err := b.Runtime.Close(context.Background()); err != nil {
		log.Warn("Failed to close wasm engine", "err", err)
	}
	return b.KV.Close()
}
