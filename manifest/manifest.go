// Package manifest handles petrel.toml project configuration.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked for in a project directory.
const FileName = "petrel.toml"

// Manifest represents a petrel.toml configuration.
type Manifest struct {
	VM   VMConfig   `toml:"vm"`
	REPL REPLConfig `toml:"repl"`

	// Dir is the directory containing the petrel.toml file (set at load time).
	Dir string `toml:"-"`
}

// VMConfig tunes the interpreter and collector.
type VMConfig struct {
	// TraceExecution dumps the stack and each instruction while running.
	TraceExecution bool `toml:"trace-execution"`

	// TraceGC logs a summary of every collection pass.
	TraceGC bool `toml:"trace-gc"`

	// StressGC collects before every allocation. Slow; for debugging the
	// collector.
	StressGC bool `toml:"stress-gc"`

	// GCThreshold is the live-byte count that triggers the first
	// collection. Zero means the built-in default.
	GCThreshold int `toml:"gc-threshold"`
}

// REPLConfig adjusts the interactive session.
type REPLConfig struct {
	Prompt string `toml:"prompt"`
}

// Default returns the manifest used when no petrel.toml exists.
func Default() *Manifest {
	return &Manifest{
		REPL: REPLConfig{Prompt: " > "},
	}
}

// Load parses a petrel.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if m.REPL.Prompt == "" {
		m.REPL.Prompt = Default().REPL.Prompt
	}
	m.Dir = dir
	return m, nil
}

// FindUp looks for a petrel.toml in start and each parent directory,
// returning the default manifest when none exists.
func FindUp(start string) (*Manifest, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}
