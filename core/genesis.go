package core

import (
	"fmt"

	"github.com/dualvm/bridge/amount"
	"github.com/dualvm/bridge/bank"
	"github.com/dualvm/bridge/params"
	"github.com/dualvm/bridge/tracing"
)

// GenesisCoin is a balance in decimal form.
type GenesisCoin struct {
	Denom  string
	Amount string
}

type GenesisAccount struct {
	Address string // bech32
	Coins   []GenesisCoin
}

// Genesis is the initial state of a chain.
type Genesis struct {
	Time             uint64
	Denoms           []bank.Metadata
	Accounts         []GenesisAccount
	WasmEnabled      bool
	StandardVersions map[string]uint16
}

// DefaultGenesis describes the base denom and takes its governed knobs from
// cfg.
func DefaultGenesis(cfg params.Config) *Genesis {
	return &Genesis{
		Denoms: []bank.Metadata{{
			Denom:    cfg.BaseDenom,
			Name:     cfg.BaseDenom,
			Symbol:   cfg.BaseDenom,
			Decimals: uint8(params.EVMDecimals - params.NativeToEVMExponent),
		}},
		WasmEnabled:      cfg.WasmEnabled,
		StandardVersions: cfg.StandardVersions,
	}
}

func (g *Genesis) apply(b *Bridge) error {
	st := b.Store
	for _, md := range g.Denoms {
		if err := b.Bank.SetMetadata(st, md); err != nil {
			return fmt.Errorf("denom %s: %w", md.Denom, err)
		}
	}
	for _, acct := range g.Accounts {
		native, err := b.Codec.Decode(acct.Address)
		if err != nil {
			return fmt.Errorf("genesis account %s: %w", acct.Address, err)
		}
		for _, c := range acct.Coins {
			amt, err := amount.ParseDecimal(c.Amount)
			if err != nil {
				return fmt.Errorf("genesis account %s: %w", acct.Address, err)
			}
			if err := b.Bank.Mint(st, native, c.Denom, amt, tracing.BalanceChangeGenesis); err != nil {
				return fmt.Errorf("genesis account %s: %w", acct.Address, err)
			}
		}
	}
	if err := b.Pointers.InitGenesis(st, g.StandardVersions); err != nil {
		return err
	}
	b.Gov.InitGenesis(st, g.WasmEnabled)
	return nil
}
