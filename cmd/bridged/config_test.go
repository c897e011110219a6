package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dualvm/bridge/params"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func cliContext(t *testing.T, args ...string) *cli.Context {
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range nodeFlags {
		require.NoError(t, f.Apply(set))
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(newApp(), set, nil)
}

func TestConfigRoundTrip(t *testing.T) {
	cfg, err := makeConfig(cliContext(t, "--http.port", "9545", "--blocktime", "250ms", "--wasm=false"))
	require.NoError(t, err)
	require.Equal(t, 9545, cfg.Node.HTTPPort)
	require.Equal(t, 250*time.Millisecond, cfg.Miner.Interval)
	require.False(t, cfg.Node.WasmEnabled)

	var buf bytes.Buffer
	require.NoError(t, writeConfig(&buf, &cfg))
	file := filepath.Join(t.TempDir(), "bridged.toml")
	require.NoError(t, os.WriteFile(file, buf.Bytes(), 0644))

	loaded, err := makeConfig(cliContext(t, "--config", file))
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestConfigRejectsUnknownField(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(file, []byte("[Node]\nHttpPort = 1\n"), 0644))
	_, err := makeConfig(cliContext(t, "--config", file))
	require.ErrorContains(t, err, "HttpPort")
}

func TestConfigValidation(t *testing.T) {
	_, err := makeConfig(cliContext(t, "--db.engine", "pebble"))
	require.ErrorContains(t, err, "data directory")
}

func TestLoadGenesis(t *testing.T) {
	g, err := loadGenesis("", params.DefaultConfig)
	require.NoError(t, err)
	require.Equal(t, params.DefaultBaseDenom, g.Denoms[0].Denom)

	file := filepath.Join(t.TempDir(), "genesis.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"Time":5,"WasmEnabled":true,"Accounts":[{"Address":"sei1abc","Coins":[{"Denom":"usei","Amount":"10"}]}]}`), 0644))
	g, err = loadGenesis(file, params.DefaultConfig)
	require.NoError(t, err)
	require.Equal(t, uint64(5), g.Time)
	require.Equal(t, "10", g.Accounts[0].Coins[0].Amount)
}

func TestAppCommands(t *testing.T) {
	a := newApp()
	require.Equal(t, "EVM/CosmWasm pointer bridge devnet", a.Usage)
	for _, name := range []string{"run", "dumpconfig", "version"} {
		require.NotNil(t, a.Command(name), name)
	}
}
