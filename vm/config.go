package vm

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileConfig is the optional on-disk shape of a run's configuration,
// loaded beneath whatever command-line flags the CLI supplies
// (grounded on lookbusy1344-arm_emulator's go.mod, which reaches for
// BurntSushi/toml for the same purpose: an optional config file with
// flags layered on top).
type FileConfig struct {
	StackWords int    `toml:"stack_words"`
	LocalsHint int    `toml:"locals_hint"`
	Entry      string `toml:"entry"`
	Verbose    bool   `toml:"verbose"`
}

// LoadFileConfig reads a TOML configuration file. A missing path is
// not an error; callers fall back to DefaultOptions.
func LoadFileConfig(path string) (FileConfig, error) {
	var cfg FileConfig
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decoding config %q: %w", path, err)
	}
	return cfg, nil
}

// ToOptions merges a FileConfig over DefaultOptions, leaving zero
// fields at their default.
func (c FileConfig) ToOptions() Options {
	opts := DefaultOptions()
	if c.StackWords > 0 {
		opts.StackSize = c.StackWords
	}
	if c.LocalsHint > 0 {
		opts.LocalsHint = c.LocalsHint
	}
	if c.Entry != "" {
		opts.EntryName = c.Entry
	}
	return opts
}
