// Package manifest handles tbc.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/chazu/tbc/vm"
)

// FileName is the manifest file looked up in project directories.
const FileName = "tbc.toml"

// Manifest represents a tbc.toml project configuration.
type Manifest struct {
	Project    Project           `toml:"project"`
	VM         VMSection         `toml:"vm"`
	Log        LogSection        `toml:"log"`
	Cache      CacheSection      `toml:"cache"`
	Procedures map[string]string `toml:"procedures"`

	// Dir is the directory containing the tbc.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// VMSection configures interpreter limits.
type VMSection struct {
	MaxCallDepth      int      `toml:"max-call-depth"`
	InstructionBudget int64    `toml:"instruction-budget"`
	Timeout           Duration `toml:"timeout"`
	Trace             bool     `toml:"trace"`
}

// LogSection configures commonlog output.
type LogSection struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// CacheSection configures the assembled bytecode cache.
type CacheSection struct {
	Enabled *bool  `toml:"enabled"`
	Path    string `toml:"path"`
}

// Duration is a time.Duration written as a string ("5s", "250ms").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the manifest used when no tbc.toml is found.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

// Load parses a tbc.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if m.VM.MaxCallDepth < 0 || m.VM.InstructionBudget < 0 || m.VM.Timeout.Duration < 0 {
		return nil, fmt.Errorf("invalid [vm] section in %s: limits must not be negative", path)
	}

	m.applyDefaults()
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.VM.MaxCallDepth == 0 {
		m.VM.MaxCallDepth = vm.DefaultMaxCallDepth
	}
	if m.Cache.Enabled == nil {
		enabled := true
		m.Cache.Enabled = &enabled
	}
	if m.Cache.Path == "" {
		m.Cache.Path = filepath.Join(".tbc", "cache.db")
	}
	if m.Procedures == nil {
		m.Procedures = make(map[string]string)
	}
}

// FindAndLoad walks up from startDir to find a tbc.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// VMConfig converts the [vm] section into interpreter configuration.
func (m *Manifest) VMConfig() vm.Config {
	return vm.Config{
		MaxCallDepth:      m.VM.MaxCallDepth,
		InstructionBudget: m.VM.InstructionBudget,
		Timeout:           m.VM.Timeout.Duration,
		Trace:             m.VM.Trace,
	}
}

// Procedure names a procedure and the listing file that defines it.
type Procedure struct {
	Name string
	Path string
}

// ProcedurePaths returns the configured procedures sorted by name, with
// paths made absolute relative to the manifest directory.
func (m *Manifest) ProcedurePaths() []Procedure {
	names := make([]string, 0, len(m.Procedures))
	for name := range m.Procedures {
		names = append(names, name)
	}
	sort.Strings(names)

	procs := make([]Procedure, 0, len(names))
	for _, name := range names {
		procs = append(procs, Procedure{Name: name, Path: m.resolve(m.Procedures[name])})
	}
	return procs
}

// CacheEnabled reports whether the bytecode cache should be used.
func (m *Manifest) CacheEnabled() bool {
	return m.Cache.Enabled == nil || *m.Cache.Enabled
}

// CachePath returns the absolute path of the cache database.
func (m *Manifest) CachePath() string {
	return m.resolve(m.Cache.Path)
}

// LogFile returns the absolute log file path, or "" for stderr.
func (m *Manifest) LogFile() string {
	if m.Log.File == "" {
		return ""
	}
	return m.resolve(m.Log.File)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
