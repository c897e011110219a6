// bridged runs a single-node devnet of the EVM/CosmWasm pointer bridge.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/dualvm/bridge/core"
	"github.com/dualvm/bridge/internal/ethapi"
	"github.com/dualvm/bridge/miner"
	"github.com/dualvm/bridge/params"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"
)

// set by the linker: go build -ldflags "-X main.gitCommit=..."
var gitCommit = ""

const clientVersion = "0.1.0"

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the databases",
	}
	dbEngineFlag = &cli.StringFlag{
		Name:  "db.engine",
		Usage: "Backing database implementation to use ('memory', 'leveldb' or 'pebble')",
		Value: params.DefaultConfig.DBEngine,
	}
	cacheFlag = &cli.IntFlag{
		Name:  "cache",
		Usage: "Megabytes of memory allocated to the state read cache",
		Value: params.DefaultConfig.CacheMB,
	}
	genesisFlag = &cli.StringFlag{
		Name:  "genesis",
		Usage: "JSON genesis file, used only when the database is empty",
	}
	httpHostFlag = &cli.StringFlag{
		Name:  "http.addr",
		Usage: "HTTP-RPC server listening interface",
		Value: params.DefaultConfig.HTTPHost,
	}
	httpPortFlag = &cli.IntFlag{
		Name:  "http.port",
		Usage: "HTTP-RPC server listening port",
		Value: params.DefaultConfig.HTTPPort,
	}
	corsFlag = &cli.StringSliceFlag{
		Name:  "http.corsdomain",
		Usage: "Comma separated list of domains from which to accept cross origin requests (browser enforced)",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value: params.DefaultConfig.Verbosity,
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log.file",
		Usage: "Also write logs to a size-rotated file",
	}
	wasmFlag = &cli.BoolFlag{
		Name:  "wasm",
		Usage: "Enable wasm code upload at genesis",
		Value: params.DefaultConfig.WasmEnabled,
	}
	blockTimeFlag = &cli.DurationFlag{
		Name:  "blocktime",
		Usage: "Minimum interval between sealed blocks",
		Value: miner.DefaultConfig.Interval,
	}

	nodeFlags = []cli.Flag{
		configFileFlag,
		dataDirFlag,
		dbEngineFlag,
		cacheFlag,
		genesisFlag,
		httpHostFlag,
		httpPortFlag,
		corsFlag,
		verbosityFlag,
		logFileFlag,
		wasmFlag,
		blockTimeFlag,
	}
)

var app = newApp()

func newApp() *cli.App {
	app := &cli.App{
		Name:    "bridged",
		Usage:   "EVM/CosmWasm pointer bridge devnet",
		Version: version(),
		Flags:   nodeFlags,
		Action:  run,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Start the devnet node (default)",
				Flags:  nodeFlags,
				Action: run,
			},
			{
				Name:      "dumpconfig",
				Usage:     "Export configuration values in a TOML format",
				ArgsUsage: "<dumpfile (optional)>",
				Flags:     nodeFlags,
				Action:    dumpConfig,
			},
			{
				Name:   "version",
				Usage:  "Print version numbers",
				Action: printVersion,
			},
		},
	}
	return app
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func version() string {
	if gitCommit == "" {
		return clientVersion
	}
	if len(gitCommit) > 8 {
		return clientVersion + "-" + gitCommit[:8]
	}
	return clientVersion + "-" + gitCommit
}

func printVersion(ctx *cli.Context) error {
	fmt.Println("bridged")
	fmt.Println("Version:", version())
	if gitCommit != "" {
		fmt.Println("Git Commit:", gitCommit)
	}
	fmt.Println("Architecture:", runtime.GOARCH)
	fmt.Println("Go Version:", runtime.Version())
	fmt.Println("Operating System:", runtime.GOOS)
	return nil
}

// run starts the node and blocks until it is interrupted.
func run(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	if logFile := setupLogging(cfg.Node.Verbosity, cfg.Node.LogFile); logFile != nil {
		defer logFile.Close()
	}

	kv, release, err := openDatabase(cfg.Node)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer release()
	b, err := core.NewBridge(ctx.Context, cfg.Node, kv)
	if err != nil {
		kv.Close()
		return err
	}
	defer b.Close()

	genesis, err := loadGenesis(ctx.String(genesisFlag.Name), cfg.Node)
	if err != nil {
		return err
	}
	chain, err := core.NewBlockChain(b, genesis)
	if err != nil {
		return err
	}
	defer chain.Stop()

	builder := miner.New(chain, cfg.Miner)
	srv, err := ethapi.NewServer(ethapi.GetAPIs(chain, ethapi.NewBridgeAPI(chain, b, builder)))
	if err != nil {
		return err
	}
	defer srv.Stop()

	addr := net.JoinHostPort(cfg.Node.HTTPHost, strconv.Itoa(cfg.Node.HTTPPort))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           ethapi.NewHTTPHandler(srv, cfg.Node.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigctx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(sigctx)
	g.Go(func() error {
		return builder.Loop(gctx)
	})
	g.Go(func() error {
		log.Info("HTTP server started", "endpoint", addr, "cors", cfg.Node.CORSOrigins)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down", "head", chain.CurrentHeader().Number)
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdown)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
