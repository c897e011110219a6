package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dualvm/bridge/params"
	"github.com/dualvm/bridge/store"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gofrs/flock"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

var errDatadirUsed = errors.New("datadir already used by another process")

// setupLogging installs the root logger. With a log file, output is
// duplicated into a size-rotated file and colors are disabled; the caller
// closes the returned file logger, which is nil otherwise.
func setupLogging(verbosity int, file string) *lumberjack.Logger {
	useColor := (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) && os.Getenv("TERM") != "dumb"
	var output io.Writer = os.Stderr
	if useColor {
		output = colorable.NewColorableStderr()
	}
	var rotating *lumberjack.Logger
	if file != "" {
		rotating = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    100, // megabytes
			MaxBackups: 10,
			Compress:   true,
		}
		output = io.MultiWriter(os.Stderr, rotating)
		useColor = false
	}
	handler := log.NewTerminalHandlerWithLevel(output, log.FromLegacyLevel(verbosity), useColor)
	log.SetDefault(log.NewLogger(handler))
	return rotating
}

// lockDataDir takes the exclusive lock of dir, creating it if needed.
func lockDataDir(dir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(dir, "LOCK"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", errDatadirUsed, dir)
	}
	return lock, nil
}

// openDatabase opens the key-value store of cfg. Databases live in the
// chaindata directory under the locked data directory. The returned release
// func drops the lock; closing the store is up to the caller.
func openDatabase(cfg params.Config) (store.KV, func(), error) {
	if cfg.DataDir == "" {
		kv, err := store.Open(cfg.DBEngine, "", cfg.CacheMB)
		if err != nil {
			return nil, nil, err
		}
		return kv, func() {}, nil
	}
	lock, err := lockDataDir(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	kv, err := store.Open(cfg.DBEngine, filepath.Join(cfg.DataDir, "chaindata"), cfg.CacheMB)
	if err != nil {
		lock.Unlock()
		return nil, nil, err
	}
	log.Info("Opened database", "engine", cfg.DBEngine, "datadir", cfg.DataDir, "cache", cfg.CacheMB)
	return kv, func() { lock.Unlock() }, nil
}
