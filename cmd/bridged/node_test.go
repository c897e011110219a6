package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dualvm/bridge/params"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"
)

func TestDataDirLock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "node")
	lock, err := lockDataDir(dir)
	require.NoError(t, err)

	_, err = lockDataDir(dir)
	require.ErrorIs(t, err, errDatadirUsed)

	require.NoError(t, lock.Unlock())
	lock, err = lockDataDir(dir)
	require.NoError(t, err)
	require.NoError(t, lock.Unlock())
}

func TestOpenDatabase(t *testing.T) {
	cfg := params.DefaultConfig.Copy()
	cfg.DBEngine = "leveldb"
	cfg.DataDir = t.TempDir()

	kv, release, err := openDatabase(cfg)
	require.NoError(t, err)
	require.NoError(t, kv.Put([]byte("k"), []byte("v")))
	require.DirExists(t, filepath.Join(cfg.DataDir, "chaindata"))

	_, _, err = openDatabase(cfg)
	require.ErrorIs(t, err, errDatadirUsed)

	require.NoError(t, kv.Close())
	release()
	kv, release, err = openDatabase(cfg)
	require.NoError(t, err)
	defer release()
	defer kv.Close()
	v, err := kv.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func TestLogFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bridged.log")
	rotating := setupLogging(3, file)
	require.NotNil(t, rotating)
	defer log.SetDefault(log.NewLogger(log.NewTerminalHandler(os.Stderr, true)))

	log.Info("Written to file", "key", "value")
	require.NoError(t, rotating.Close())
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Contains(t, string(data), "Written to file")

	require.Nil(t, setupLogging(3, ""))
}
