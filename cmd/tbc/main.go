// tbc CLI - assemble, disassemble and run bytecode listings
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/tbc/asm"
	"github.com/chazu/tbc/manifest"
	"github.com/chazu/tbc/server"
	"github.com/chazu/tbc/store"
	"github.com/chazu/tbc/vm"
)

var log = commonlog.GetLogger("tbc.cli")

func main() {
	verbosity := flag.Int("v", -1, "Log verbosity (0 = errors only; default from tbc.toml)")
	budget := flag.Int64("budget", -1, "Instruction budget per run (0 = unlimited)")
	timeout := flag.Duration("timeout", -1, "Wall-clock limit per run (0 = none)")
	trace := flag.Bool("trace", false, "Log every instruction dispatch")
	noCache := flag.Bool("no-cache", false, "Do not use the bytecode cache")
	output := flag.String("o", "", "Output image path for asm")
	parallel := flag.Int("n", 1, "Number of parallel runs for run")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tbc [options] <command> [file] [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  asm FILE        Assemble a .tasm listing into a .tbc image\n")
		fmt.Fprintf(os.Stderr, "  dis FILE        Disassemble a .tasm listing or .tbc image\n")
		fmt.Fprintf(os.Stderr, "  run FILE ARGS   Execute a listing or image with string arguments\n")
		fmt.Fprintf(os.Stderr, "  lsp             Start the language server on stdio\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  tbc run fact.tasm 10\n")
		fmt.Fprintf(os.Stderr, "  tbc -o fact.tbc asm fact.tasm\n")
		fmt.Fprintf(os.Stderr, "  tbc -n 8 -budget 100000 run loop.tasm 1000\n")
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	m, err := loadManifest()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	level := m.Log.Verbosity
	if *verbosity >= 0 {
		level = *verbosity
	}
	if path := m.LogFile(); path != "" {
		commonlog.Configure(level, &path)
	} else {
		commonlog.Configure(level, nil)
	}

	cfg := m.VMConfig()
	if *budget >= 0 {
		cfg.InstructionBudget = *budget
	}
	if *timeout >= 0 {
		cfg.Timeout = *timeout
	}
	if *trace {
		cfg.Trace = true
	}

	h := &host{manifest: m, cfg: cfg}
	if m.CacheEnabled() && !*noCache && args[0] == "run" {
		c, err := store.Open(m.CachePath())
		if err != nil {
			log.Warningf("cache disabled: %s", err)
		} else {
			h.cache = c
			defer c.Close()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := h.dispatch(ctx, args, *output, *parallel); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var re *vm.RuntimeError
		if errors.As(err, &re) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func loadManifest() (*manifest.Manifest, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	m, err := manifest.FindAndLoad(cwd)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default(cwd)
	}
	return m, nil
}

// host carries the per-invocation state shared by the commands.
type host struct {
	manifest *manifest.Manifest
	cfg      vm.Config
	cache    *store.Cache
}

func (h *host) dispatch(ctx context.Context, args []string, output string, parallel int) error {
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s: missing file argument", args[0])
		}
		return nil
	}

	switch args[0] {
	case "asm":
		if err := need(2); err != nil {
			return err
		}
		return h.assemble(ctx, args[1], output)
	case "dis":
		if err := need(2); err != nil {
			return err
		}
		code, err := h.load(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Print(asm.Disassemble(code))
		return nil
	case "run":
		if err := need(2); err != nil {
			return err
		}
		results, err := h.run(ctx, args[1], args[2:], parallel)
		if err != nil {
			return err
		}
		for _, r := range results {
			if !r.IsUnset() {
				fmt.Println(r)
			}
		}
		return nil
	case "lsp":
		return server.NewLSP().Run()
	}
	return fmt.Errorf("unknown command %q", args[0])
}

// assemble writes the CBOR image of a listing.
func (h *host) assemble(ctx context.Context, path, output string) error {
	code, err := h.load(ctx, path)
	if err != nil {
		return err
	}
	data, err := vm.MarshalImage(code)
	if err != nil {
		return err
	}
	if output == "" {
		output = strings.TrimSuffix(path, filepath.Ext(path)) + ".tbc"
	}
	if err := os.WriteFile(output, data, 0644); err != nil {
		return fmt.Errorf("cannot write %s: %w", output, err)
	}
	log.Infof("wrote %s (%d bytes)", output, len(data))
	return nil
}

// load reads an image or assembles a listing, through the cache when one
// is open.
func (h *host) load(ctx context.Context, path string) (*vm.BytecodeObject, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if isImage(path, data) {
		code, err := vm.UnmarshalImage(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return code, nil
	}

	var code *vm.BytecodeObject
	if h.cache != nil {
		code, err = h.cache.Assemble(ctx, string(data))
	} else {
		code, err = asm.Assemble(string(data))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return code, nil
}

func isImage(path string, data []byte) bool {
	return filepath.Ext(path) == ".tbc" || vm.IsImage(data)
}

// commands builds the command table: the standard builtins plus every
// procedure named in the manifest.
func (h *host) commands(ctx context.Context) (*vm.CommandTable, error) {
	table := vm.NewStandardTable()
	for _, p := range h.manifest.ProcedurePaths() {
		code, err := h.load(ctx, p.Path)
		if err != nil {
			return nil, fmt.Errorf("procedure %s: %w", p.Name, err)
		}
		table.RegisterProc(p.Name, code)
		log.Debugf("registered procedure %s from %s", p.Name, p.Path)
	}
	return table, nil
}

func (h *host) run(ctx context.Context, path string, args []string, parallel int) ([]vm.Value, error) {
	table, err := h.commands(ctx)
	if err != nil {
		return nil, err
	}
	code, err := h.load(ctx, path)
	if err != nil {
		return nil, err
	}

	values := make([]vm.Value, len(args))
	for i, a := range args {
		values[i] = vm.String(a)
	}

	start := time.Now()
	if parallel > 1 {
		argSets := make([][]vm.Value, parallel)
		for i := range argSets {
			argSets[i] = values
		}
		results, err := vm.ExecuteParallel(ctx, code, argSets, table, h.cfg)
		log.Infof("%d runs of %q in %s", parallel, code.Name, time.Since(start))
		return results, err
	}

	interp := vm.NewInterpreter(table, h.cfg)
	result, err := interp.Execute(ctx, code, values)
	log.Infof("run %s of %q: %d instructions in %s", interp.RunID(), code.Name, interp.Budget().Used(), time.Since(start))
	if err != nil {
		return nil, err
	}
	return []vm.Value{result}, nil
}
