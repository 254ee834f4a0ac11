package vm

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Bytecode object
// ---------------------------------------------------------------------------

// RangeKind distinguishes catch and finally exception ranges. Both intercept
// recoverable errors the same way; a finally handler conventionally ends
// with `throw` to re-raise.
type RangeKind uint8

const (
	RangeCatch RangeKind = iota
	RangeFinally
)

func (k RangeKind) String() string {
	if k == RangeFinally {
		return "finally"
	}
	return "catch"
}

// ExceptionRange protects the half-open pc interval [PCStart, PCEnd).
type ExceptionRange struct {
	PCStart   int
	PCEnd     int
	HandlerPC int
	Kind      RangeKind
}

// Contains reports whether pc lies inside the range.
func (r ExceptionRange) Contains(pc int) bool {
	return pc >= r.PCStart && pc < r.PCEnd
}

// JumpTable maps string keys to jump offsets relative to the instruction
// after the jumpTable4 that references it.
type JumpTable struct {
	Entries map[string]int64
}

// Keys returns the table keys in sorted order.
func (t JumpTable) Keys() []string {
	keys := make([]string, 0, len(t.Entries))
	for k := range t.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CommandLocation maps the instruction span [PCStart, PCEnd) to the source
// text Source[SrcStart:SrcEnd].
type CommandLocation struct {
	PCStart  int
	PCEnd    int
	SrcStart int
	SrcEnd   int
}

// BytecodeObject is an immutable unit of executable code: a top-level
// script or a procedure body. Construct one with a Builder; once built it
// must not be modified and may be shared freely between goroutines.
type BytecodeObject struct {
	Name            string
	Source          string
	Instructions    []Instruction
	Constants       []Value
	NumLocals       int
	NumParams       int
	LocalNames      []string
	ExceptionRanges []ExceptionRange
	AuxData         []JumpTable
	Commands        []CommandLocation
	MaxStackDepth   int
}

// InstructionAt returns the instruction at pc.
func (c *BytecodeObject) InstructionAt(pc int) (Instruction, bool) {
	if pc < 0 || pc >= len(c.Instructions) {
		return Instruction{}, false
	}
	return c.Instructions[pc], true
}

// ConstantAt returns the constant at index i.
func (c *BytecodeObject) ConstantAt(i int) (Value, bool) {
	if i < 0 || i >= len(c.Constants) {
		return Unset, false
	}
	return c.Constants[i], true
}

// LocalName returns the debug name of a slot, or "" if it has none.
func (c *BytecodeObject) LocalName(slot int) string {
	if slot < 0 || slot >= len(c.LocalNames) {
		return ""
	}
	return c.LocalNames[slot]
}

// LocalSlot returns the slot carrying the given debug name.
func (c *BytecodeObject) LocalSlot(name string) (int, bool) {
	for i, n := range c.LocalNames {
		if n == name && n != "" {
			return i, true
		}
	}
	return 0, false
}

// CommandAt returns the index of the command whose span covers pc.
func (c *BytecodeObject) CommandAt(pc int) (int, bool) {
	i := sort.Search(len(c.Commands), func(i int) bool {
		return c.Commands[i].PCEnd > pc
	})
	if i < len(c.Commands) && c.Commands[i].PCStart <= pc {
		return i, true
	}
	return 0, false
}

// CommandText returns the source text of command i, or "" if its source
// span is out of bounds.
func (c *BytecodeObject) CommandText(i int) string {
	if i < 0 || i >= len(c.Commands) {
		return ""
	}
	loc := c.Commands[i]
	if loc.SrcStart < 0 || loc.SrcEnd > len(c.Source) || loc.SrcStart > loc.SrcEnd {
		return ""
	}
	return c.Source[loc.SrcStart:loc.SrcEnd]
}

// CodeSize returns the encoded size of the instruction stream in bytes.
func (c *BytecodeObject) CodeSize() int {
	n := 0
	for _, in := range c.Instructions {
		n += in.Op.InstructionLen()
	}
	return n
}

// Validate checks the structural invariants of c: opcode and operand
// encodings, pool, slot and aux indices, jump targets, range nesting and
// command spans. It does not run stack analysis.
func (c *BytecodeObject) Validate() error {
	n := len(c.Instructions)
	if c.NumParams < 0 || c.NumLocals < c.NumParams {
		return &ValidationError{"locals", fmt.Sprintf("numLocals %d < numParams %d", c.NumLocals, c.NumParams)}
	}
	if len(c.LocalNames) > c.NumLocals {
		return &ValidationError{"locals", fmt.Sprintf("%d names for %d slots", len(c.LocalNames), c.NumLocals)}
	}
	for pc, in := range c.Instructions {
		info, ok := opcodeInfoTable[in.Op]
		if !ok {
			return &ValidationError{fmt.Sprintf("pc %d", pc), fmt.Sprintf("unknown opcode 0x%02X", byte(in.Op))}
		}
		if !OperandFits(info.Operand, info.Width, in.Operand) {
			return &ValidationError{fmt.Sprintf("pc %d", pc), fmt.Sprintf("operand %d does not fit %s", in.Operand, info.Name)}
		}
		switch info.Operand {
		case OperandConst:
			if in.Operand >= int64(len(c.Constants)) {
				return &ValidationError{fmt.Sprintf("pc %d", pc), fmt.Sprintf("constant index %d out of range", in.Operand)}
			}
		case OperandLocal:
			if in.Operand >= int64(c.NumLocals) {
				return &ValidationError{fmt.Sprintf("pc %d", pc), fmt.Sprintf("local slot %d out of range", in.Operand)}
			}
		case OperandAux:
			if in.Operand >= int64(len(c.AuxData)) {
				return &ValidationError{fmt.Sprintf("pc %d", pc), fmt.Sprintf("aux index %d out of range", in.Operand)}
			}
			for _, off := range c.AuxData[in.Operand].Entries {
				if t := pc + 1 + int(off); t < 0 || t > n {
					return &ValidationError{fmt.Sprintf("pc %d", pc), fmt.Sprintf("jump table target %d out of range", t)}
				}
			}
		case OperandOffset:
			if t := in.Target(pc); t < 0 || t > n {
				return &ValidationError{fmt.Sprintf("pc %d", pc), fmt.Sprintf("jump target %d out of range", t)}
			}
		}
	}
	for i, r := range c.ExceptionRanges {
		if r.PCStart < 0 || r.PCStart > r.PCEnd || r.PCEnd > n {
			return &ValidationError{fmt.Sprintf("range %d", i), fmt.Sprintf("bad interval [%d, %d)", r.PCStart, r.PCEnd)}
		}
		if r.HandlerPC < 0 || r.HandlerPC > n {
			return &ValidationError{fmt.Sprintf("range %d", i), fmt.Sprintf("handler %d out of range", r.HandlerPC)}
		}
		for j, o := range c.ExceptionRanges[:i] {
			overlap := r.PCStart < o.PCEnd && o.PCStart < r.PCEnd
			nested := (r.PCStart >= o.PCStart && r.PCEnd <= o.PCEnd) || (o.PCStart >= r.PCStart && o.PCEnd <= r.PCEnd)
			if overlap && !nested {
				return &ValidationError{fmt.Sprintf("range %d", i), fmt.Sprintf("overlaps range %d without nesting", j)}
			}
		}
	}
	prevEnd := 0
	for i, loc := range c.Commands {
		if loc.PCStart < prevEnd || loc.PCStart > loc.PCEnd || loc.PCEnd > n {
			return &ValidationError{fmt.Sprintf("command %d", i), fmt.Sprintf("bad pc span [%d, %d)", loc.PCStart, loc.PCEnd)}
		}
		if loc.SrcStart < 0 || loc.SrcStart > loc.SrcEnd || loc.SrcEnd > len(c.Source) {
			return &ValidationError{fmt.Sprintf("command %d", i), fmt.Sprintf("bad source span [%d, %d)", loc.SrcStart, loc.SrcEnd)}
		}
		prevEnd = loc.PCEnd
	}
	return nil
}

// ---------------------------------------------------------------------------
// Builder: helper for constructing bytecode objects
// ---------------------------------------------------------------------------

// Label represents a jump target that may not be placed yet.
type Label struct {
	resolved bool
	pc       int   // target pc once resolved
	refs     []int // pcs of jumps waiting for this label
}

// Resolved reports whether the label has been placed.
func (l *Label) Resolved() bool { return l.resolved }

// PC returns the label's target, valid only once resolved.
func (l *Label) PC() int { return l.pc }

// Builder accumulates instructions, constants and metadata and produces an
// immutable BytecodeObject.
type Builder struct {
	obj      BytecodeObject
	labels   []*Label
	declared int
	err      error
}

// NewBuilder creates a builder for a bytecode object with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{obj: BytecodeObject{
		Name:         name,
		Instructions: make([]Instruction, 0, 32),
	}}
}

// PC returns the index the next emitted instruction will occupy.
func (b *Builder) PC() int {
	return len(b.obj.Instructions)
}

// Emit appends an instruction and returns its pc.
func (b *Builder) Emit(op Opcode, operand int64) int {
	b.obj.Instructions = append(b.obj.Instructions, Instruction{Op: op, Operand: operand})
	return len(b.obj.Instructions) - 1
}

// EmitOp appends an instruction without an operand.
func (b *Builder) EmitOp(op Opcode) int {
	return b.Emit(op, 0)
}

// AddConstant appends v to the constant pool and returns its index.
func (b *Builder) AddConstant(v Value) int {
	b.obj.Constants = append(b.obj.Constants, v)
	return len(b.obj.Constants) - 1
}

// Constant returns the index of a constant equal to v, adding it if absent.
func (b *Builder) Constant(v Value) int {
	for i, c := range b.obj.Constants {
		if c.Equal(v) {
			return i
		}
	}
	return b.AddConstant(v)
}

// EmitPush pushes v using the narrowest push opcode.
func (b *Builder) EmitPush(v Value) int {
	idx := b.Constant(v)
	if idx <= 255 {
		return b.Emit(OpPush1, int64(idx))
	}
	return b.Emit(OpPush4, int64(idx))
}

// SetSource records the source text the object was compiled from.
func (b *Builder) SetSource(src string) {
	b.obj.Source = src
}

// SetParams declares the procedure parameters. They occupy slots 0..n-1
// and must be declared before any other local.
func (b *Builder) SetParams(names ...string) {
	if len(b.obj.LocalNames) > b.obj.NumParams {
		b.fail(&ValidationError{"params", "parameters must be declared before locals"})
		return
	}
	b.obj.NumParams = len(names)
	b.obj.LocalNames = append([]string(nil), names...)
	if b.declared < len(names) {
		b.declared = len(names)
	}
}

// SetNumParams sets the parameter count without naming the slots.
func (b *Builder) SetNumParams(n int) {
	b.obj.NumParams = n
	if b.declared < n {
		b.declared = n
	}
}

// AddLocal declares a named local and returns its slot.
func (b *Builder) AddLocal(name string) int {
	b.obj.LocalNames = append(b.obj.LocalNames, name)
	slot := len(b.obj.LocalNames) - 1
	if b.declared <= slot {
		b.declared = slot + 1
	}
	return slot
}

// SetLocalName attaches a debug name to an existing slot.
func (b *Builder) SetLocalName(slot int, name string) {
	for len(b.obj.LocalNames) <= slot {
		b.obj.LocalNames = append(b.obj.LocalNames, "")
	}
	b.obj.LocalNames[slot] = name
	if b.declared <= slot {
		b.declared = slot + 1
	}
}

// ReserveLocals ensures at least n local slots.
func (b *Builder) ReserveLocals(n int) {
	if n > b.declared {
		b.declared = n
	}
}

// AddRange appends an exception range.
func (b *Builder) AddRange(r ExceptionRange) int {
	b.obj.ExceptionRanges = append(b.obj.ExceptionRanges, r)
	return len(b.obj.ExceptionRanges) - 1
}

// AddJumpTable appends a jump table to the aux data and returns its index.
func (b *Builder) AddJumpTable(t JumpTable) int {
	b.obj.AuxData = append(b.obj.AuxData, t)
	return len(b.obj.AuxData) - 1
}

// AddCommand appends a source map entry. Entries must be added in pc order.
func (b *Builder) AddCommand(loc CommandLocation) {
	b.obj.Commands = append(b.obj.Commands, loc)
}

// NewLabel creates an unresolved label.
func (b *Builder) NewLabel() *Label {
	l := &Label{}
	b.labels = append(b.labels, l)
	return l
}

// Mark resolves a label to the current pc and patches forward jumps.
func (b *Builder) Mark(l *Label) {
	if l.resolved {
		b.fail(&ValidationError{"label", "label already resolved"})
		return
	}
	l.resolved = true
	l.pc = b.PC()
	for _, ref := range l.refs {
		b.obj.Instructions[ref].Operand = int64(l.pc - (ref + 1))
	}
	l.refs = nil
}

// EmitJump emits a relative jump to label. Backward jumps are resolved
// immediately; forward jumps are patched by Mark.
func (b *Builder) EmitJump(op Opcode, l *Label) int {
	pc := b.Emit(op, 0)
	if l.resolved {
		b.obj.Instructions[pc].Operand = int64(l.pc - (pc + 1))
	} else {
		l.refs = append(l.refs, pc)
	}
	return pc
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build validates the accumulated code, computes NumLocals and
// MaxStackDepth, and returns the finished object. The builder must not be
// used afterwards.
func (b *Builder) Build() (*BytecodeObject, error) {
	if b.err != nil {
		return nil, b.err
	}
	for _, l := range b.labels {
		if !l.resolved && len(l.refs) > 0 {
			return nil, &ValidationError{"label", fmt.Sprintf("unresolved label referenced at pc %d", l.refs[0])}
		}
	}
	obj := b.obj
	obj.NumLocals = b.declared
	if obj.NumLocals < obj.NumParams {
		obj.NumLocals = obj.NumParams
	}
	for _, in := range obj.Instructions {
		if GetOpcodeInfo(in.Op).Operand == OperandLocal && int(in.Operand)+1 > obj.NumLocals {
			obj.NumLocals = int(in.Operand) + 1
		}
	}
	if err := obj.Validate(); err != nil {
		return nil, err
	}
	depth, err := StackDepth(&obj)
	if err != nil {
		return nil, err
	}
	obj.MaxStackDepth = depth
	return &obj, nil
}
