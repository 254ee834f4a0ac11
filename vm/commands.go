package vm

import (
	"fmt"
	"sort"
	"sync"
)

// Command is something `invoke` can call: a *Builtin or a *Procedure.
type Command interface {
	CommandName() string
	command()
}

// BuiltinFunc implements a host command. It runs to completion synchronously
// within the invoking instruction.
type BuiltinFunc func(interp *Interpreter, args []Value) (Value, error)

// Builtin is a command implemented in Go.
type Builtin struct {
	Name    string
	MinArgs int
	MaxArgs int // -1 for variadic
	Fn      BuiltinFunc
}

func (b *Builtin) CommandName() string { return b.Name }
func (*Builtin) command()              {}

// CheckArity returns an ArgumentError if argc is outside the builtin's range.
func (b *Builtin) CheckArity(argc int) error {
	if argc < b.MinArgs || (b.MaxArgs >= 0 && argc > b.MaxArgs) {
		return newError(ArgumentError, "wrong # args for %q: got %d, want %s", b.Name, argc, b.arity())
	}
	return nil
}

func (b *Builtin) arity() string {
	switch {
	case b.MaxArgs < 0:
		return fmt.Sprintf("at least %d", b.MinArgs)
	case b.MinArgs == b.MaxArgs:
		return fmt.Sprintf("%d", b.MinArgs)
	default:
		return fmt.Sprintf("%d to %d", b.MinArgs, b.MaxArgs)
	}
}

// Procedure is a command implemented in bytecode. Arguments are bound to
// local slots 0..NumParams-1.
type Procedure struct {
	Name string
	Code *BytecodeObject
}

func (p *Procedure) CommandName() string { return p.Name }
func (*Procedure) command()              {}

// ---------------------------------------------------------------------------
// CommandTable
// ---------------------------------------------------------------------------

// CommandTable maps command names to commands. Lookups happen at every
// invoke, so redefining a name takes effect on the next call. It is safe for
// concurrent use.
type CommandTable struct {
	mu       sync.RWMutex
	commands map[string]Command
}

// NewCommandTable creates an empty table.
func NewCommandTable() *CommandTable {
	return &CommandTable{commands: make(map[string]Command)}
}

// NewStandardTable creates a table preloaded with StandardBuiltins.
func NewStandardTable() *CommandTable {
	t := NewCommandTable()
	for _, b := range StandardBuiltins() {
		t.Register(b)
	}
	return t
}

// Register adds or replaces a command.
func (t *CommandTable) Register(cmd Command) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commands[cmd.CommandName()] = cmd
}

// RegisterProc is shorthand for registering a Procedure for code under name.
func (t *CommandTable) RegisterProc(name string, code *BytecodeObject) {
	t.Register(&Procedure{Name: name, Code: code})
}

// Lookup returns the command registered under name.
func (t *CommandTable) Lookup(name string) (Command, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cmd, ok := t.commands[name]
	return cmd, ok
}

// Remove deletes a command and reports whether it existed.
func (t *CommandTable) Remove(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.commands[name]
	delete(t.commands, name)
	return ok
}

// Names returns the registered names in sorted order.
func (t *CommandTable) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.commands))
	for name := range t.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered commands.
func (t *CommandTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.commands)
}

// Snapshot returns an independent copy of the table.
func (t *CommandTable) Snapshot() *CommandTable {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cp := &CommandTable{commands: make(map[string]Command, len(t.commands))}
	for name, cmd := range t.commands {
		cp.commands[name] = cmd
	}
	return cp
}
