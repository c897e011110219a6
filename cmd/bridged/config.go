package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"unicode"

	"github.com/dualvm/bridge/core"
	"github.com/dualvm/bridge/miner"
	"github.com/dualvm/bridge/params"
	jsoniter "github.com/json-iterator/go"
	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://pkg.go.dev/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

type bridgedConfig struct {
	Node  params.Config
	Miner miner.Config
}

func loadConfig(file string, cfg *bridgedConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// makeConfig layers defaults, the config file and command line flags.
func makeConfig(ctx *cli.Context) (bridgedConfig, error) {
	cfg := bridgedConfig{
		Node:  params.DefaultConfig.Copy(),
		Miner: miner.DefaultConfig,
	}
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
	}
	applyFlags(ctx, &cfg)
	if err := cfg.Node.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFlags(ctx *cli.Context, cfg *bridgedConfig) {
	if ctx.IsSet(dataDirFlag.Name) {
		cfg.Node.DataDir = ctx.String(dataDirFlag.Name)
	}
	if ctx.IsSet(dbEngineFlag.Name) {
		cfg.Node.DBEngine = ctx.String(dbEngineFlag.Name)
	}
	if ctx.IsSet(cacheFlag.Name) {
		cfg.Node.CacheMB = ctx.Int(cacheFlag.Name)
	}
	if ctx.IsSet(httpHostFlag.Name) {
		cfg.Node.HTTPHost = ctx.String(httpHostFlag.Name)
	}
	if ctx.IsSet(httpPortFlag.Name) {
		cfg.Node.HTTPPort = ctx.Int(httpPortFlag.Name)
	}
	if ctx.IsSet(corsFlag.Name) {
		cfg.Node.CORSOrigins = ctx.StringSlice(corsFlag.Name)
	}
	if ctx.IsSet(verbosityFlag.Name) {
		cfg.Node.Verbosity = ctx.Int(verbosityFlag.Name)
	}
	if ctx.IsSet(logFileFlag.Name) {
		cfg.Node.LogFile = ctx.String(logFileFlag.Name)
	}
	if ctx.IsSet(wasmFlag.Name) {
		cfg.Node.WasmEnabled = ctx.Bool(wasmFlag.Name)
	}
	if ctx.IsSet(blockTimeFlag.Name) {
		cfg.Miner.Interval = ctx.Duration(blockTimeFlag.Name)
	}
}

// loadGenesis reads a JSON genesis file. Without one the chain starts from
// the default genesis of cfg.
func loadGenesis(file string, cfg params.Config) (*core.Genesis, error) {
	if file == "" {
		return core.DefaultGenesis(cfg), nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	genesis := new(core.Genesis)
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, genesis); err != nil {
		return nil, fmt.Errorf("invalid genesis file %s: %w", file, err)
	}
	return genesis, nil
}

func writeConfig(w io.Writer, cfg *bridgedConfig) error {
	out, err := tomlSettings.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// dumpConfig is the dumpconfig command.
func dumpConfig(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	dump := os.Stdout
	if ctx.NArg() > 0 {
		dump, err = os.OpenFile(ctx.Args().Get(0), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer dump.Close()
	}
	return writeConfig(dump, &cfg)
}
