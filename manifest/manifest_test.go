package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chazu/tbc/vm"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "demo"
version = "0.1.0"

[vm]
max-call-depth = 50
instruction-budget = 100000
timeout = "250ms"
trace = true

[log]
verbosity = 2
file = "logs/tbc.log"

[cache]
enabled = false
path = "/var/cache/tbc.db"

[procedures]
fact = "lib/fact.tasm"
abs = "lib/abs.tasm"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "demo" {
		t.Errorf("project name = %q, want demo", m.Project.Name)
	}
	if m.Project.Version != "0.1.0" {
		t.Errorf("project version = %q, want 0.1.0", m.Project.Version)
	}

	cfg := m.VMConfig()
	if cfg.MaxCallDepth != 50 {
		t.Errorf("MaxCallDepth = %d, want 50", cfg.MaxCallDepth)
	}
	if cfg.InstructionBudget != 100000 {
		t.Errorf("InstructionBudget = %d, want 100000", cfg.InstructionBudget)
	}
	if cfg.Timeout != 250*time.Millisecond {
		t.Errorf("Timeout = %v, want 250ms", cfg.Timeout)
	}
	if !cfg.Trace {
		t.Error("Trace = false, want true")
	}

	if m.Log.Verbosity != 2 {
		t.Errorf("log verbosity = %d, want 2", m.Log.Verbosity)
	}
	if got, want := m.LogFile(), filepath.Join(m.Dir, "logs", "tbc.log"); got != want {
		t.Errorf("LogFile() = %q, want %q", got, want)
	}

	if m.CacheEnabled() {
		t.Error("CacheEnabled() = true, want false")
	}
	if got := m.CachePath(); got != "/var/cache/tbc.db" {
		t.Errorf("CachePath() = %q, want /var/cache/tbc.db", got)
	}

	procs := m.ProcedurePaths()
	if len(procs) != 2 {
		t.Fatalf("got %d procedures, want 2", len(procs))
	}
	if procs[0].Name != "abs" || procs[1].Name != "fact" {
		t.Errorf("procedures = %v, want abs then fact", procs)
	}
	if want := filepath.Join(m.Dir, "lib", "fact.tasm"); procs[1].Path != want {
		t.Errorf("fact path = %q, want %q", procs[1].Path, want)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "minimal"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.VM.MaxCallDepth != vm.DefaultMaxCallDepth {
		t.Errorf("default max-call-depth = %d, want %d", m.VM.MaxCallDepth, vm.DefaultMaxCallDepth)
	}
	if !m.CacheEnabled() {
		t.Error("cache should be enabled by default")
	}
	if got, want := m.CachePath(), filepath.Join(m.Dir, ".tbc", "cache.db"); got != want {
		t.Errorf("default CachePath() = %q, want %q", got, want)
	}
	if m.LogFile() != "" {
		t.Errorf("default LogFile() = %q, want empty", m.LogFile())
	}
	if len(m.ProcedurePaths()) != 0 {
		t.Errorf("default procedures = %v, want none", m.ProcedurePaths())
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad toml", "[project\nname = 1"},
		{"bad duration", "[vm]\ntimeout = \"soon\""},
		{"negative budget", "[vm]\ninstruction-budget = -5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, tt.content)
			if _, err := Load(dir); err == nil {
				t.Error("Load should fail")
			}
		})
	}
}

func TestFindAndLoad(t *testing.T) {
	// Create nested directory structure
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, "[project]\nname = \"found-project\"\n")

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Project.Name != "found-project" {
		t.Errorf("project name = %q, want found-project", m.Project.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no tbc.toml exists")
	}
}

func TestDefaultManifest(t *testing.T) {
	m := Default("/app")
	if got := m.CachePath(); got != "/app/.tbc/cache.db" {
		t.Errorf("CachePath() = %q, want /app/.tbc/cache.db", got)
	}
	if got := m.VMConfig().MaxCallDepth; got != vm.DefaultMaxCallDepth {
		t.Errorf("MaxCallDepth = %d, want %d", got, vm.DefaultMaxCallDepth)
	}
}
