package params

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds the node-level settings loaded from the TOML config file.
type Config struct {
	DataDir  string
	DBEngine string // memory, leveldb or pebble
	CacheMB  int

	Bech32Prefix string
	BaseDenom    string
	ChainID      uint64

	HTTPHost    string
	HTTPPort    int
	CORSOrigins []string
	Verbosity   int
	LogFile     string

	// Genesis knobs. Only consulted when the database is empty.
	WasmEnabled      bool
	StandardVersions map[string]uint16
}

// DefaultConfig contains the settings used by the devnet and by tests.
var DefaultConfig = Config{
	DataDir:          "",
	DBEngine:         "memory",
	CacheMB:          32,
	Bech32Prefix:     DefaultBech32Prefix,
	BaseDenom:        DefaultBaseDenom,
	ChainID:          713715,
	HTTPHost:         "localhost",
	HTTPPort:         8545,
	CORSOrigins:      []string{"*"},
	Verbosity:        3,
	WasmEnabled:      true,
	StandardVersions: copyVersions(DefaultStandardVersions),
}

// Copy returns a deep copy so callers can mutate maps and slices freely.
func (c Config) Copy() Config {
	out := c
	out.CORSOrigins = append([]string(nil), c.CORSOrigins...)
	out.StandardVersions = copyVersions(c.StandardVersions)
	return out
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch strings.ToLower(c.DBEngine) {
	case "memory":
	case "leveldb", "pebble":
		if c.DataDir == "" {
			return fmt.Errorf("db engine %q requires a data directory", c.DBEngine)
		}
	default:
		return fmt.Errorf("unknown db engine %q", c.DBEngine)
	}
	if c.Bech32Prefix == "" {
		return errors.New("empty bech32 prefix")
	}
	if c.BaseDenom == "" {
		return errors.New("empty base denom")
	}
	for name, v := range c.StandardVersions {
		if _, ok := DefaultStandardVersions[name]; !ok {
			return fmt.Errorf("unknown pointer standard %q", name)
		}
		if v == 0 {
			return fmt.Errorf("standard %q: version must be positive", name)
		}
	}
	return nil
}

func copyVersions(in map[string]uint16) map[string]uint16 {
	out := make(map[string]uint16, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
