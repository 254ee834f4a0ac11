package vm

import "fmt"

// Opcode identifies a bytecode instruction.
// Opcodes with an operand come in sized pairs (push1/push4, jump1/jump4, ...);
// the width only affects the encoded size, never the semantics.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop   Opcode = 0x00 // No operation
	OpPush1 Opcode = 0x01 // Push constant: push1 <index:u8>
	OpPush4 Opcode = 0x02 // Push constant: push4 <index:u32>
	OpPop   Opcode = 0x03 // Discard top of stack
	OpDup   Opcode = 0x04 // Duplicate top of stack

	// ========================================================================
	// Local variables (0x10-0x1F)
	// ========================================================================

	OpLoad1  Opcode = 0x10 // Push local: load1 <slot:u8>
	OpLoad4  Opcode = 0x11 // Push local: load4 <slot:u32>
	OpStore1 Opcode = 0x12 // Pop into local: store1 <slot:u8>
	OpStore4 Opcode = 0x13 // Pop into local: store4 <slot:u32>
	OpIncr1  Opcode = 0x14 // Pop amount, add to local, push result: incr1 <slot:u8>
	OpIncr4  Opcode = 0x15 // Pop amount, add to local, push result: incr4 <slot:u32>

	// ========================================================================
	// Arithmetic (0x20-0x2F)
	// ========================================================================

	OpAdd  Opcode = 0x20 // Pop two, push a + b
	OpSub  Opcode = 0x21 // Pop two, push a - b (b is TOS)
	OpMult Opcode = 0x22 // Pop two, push a * b
	OpDiv  Opcode = 0x23 // Pop two, push a / b
	OpMod  Opcode = 0x24 // Pop two, push a % b

	// ========================================================================
	// Comparison (0x30-0x3F)
	// ========================================================================

	OpEq Opcode = 0x30 // Pop two, push 1 if equal
	OpNe Opcode = 0x31 // Pop two, push 1 if not equal
	OpGt Opcode = 0x32 // Pop two, push 1 if a > b
	OpGe Opcode = 0x33 // Pop two, push 1 if a >= b
	OpLt Opcode = 0x34 // Pop two, push 1 if a < b
	OpLe Opcode = 0x35 // Pop two, push 1 if a <= b

	// ========================================================================
	// Control flow (0x40-0x4F)
	// ========================================================================

	OpJump1      Opcode = 0x40 // Unconditional jump: jump1 <offset:i8>
	OpJump4      Opcode = 0x41 // Unconditional jump: jump4 <offset:i32>
	OpJumpTrue1  Opcode = 0x42 // Pop, jump if truthy: jumpTrue1 <offset:i8>
	OpJumpTrue4  Opcode = 0x43 // Pop, jump if truthy: jumpTrue4 <offset:i32>
	OpJumpFalse1 Opcode = 0x44 // Pop, jump if falsy: jumpFalse1 <offset:i8>
	OpJumpFalse4 Opcode = 0x45 // Pop, jump if falsy: jumpFalse4 <offset:i32>
	OpJumpTable4 Opcode = 0x46 // Pop key, jump through aux table: jumpTable4 <aux:u32>

	// ========================================================================
	// Invocation (0x50-0x5F)
	// ========================================================================

	OpInvoke1 Opcode = 0x50 // Call command: invoke1 <argc:u8>
	OpInvoke4 Opcode = 0x51 // Call command: invoke4 <argc:u32>
	OpReturn  Opcode = 0x52 // Pop result and return from frame
	OpDone    Opcode = 0x53 // Return top of stack (or unset) from frame
	OpThrow   Opcode = 0x54 // Pop value and raise it

	// ========================================================================
	// Strings (0x60-0x6F)
	// ========================================================================

	OpStrcat1  Opcode = 0x60 // Concatenate N values: strcat1 <count:u8>
	OpStrcat4  Opcode = 0x61 // Concatenate N values: strcat4 <count:u32>
	OpStrcmp   Opcode = 0x62 // Pop two, push -1/0/1
	OpStrlen   Opcode = 0x63 // Pop string, push rune count
	OpStrindex Opcode = 0x64 // Pop string and index, push rune
	OpStrrange Opcode = 0x65 // Pop string, first and last, push substring
)

// OperandKind describes how an instruction operand is interpreted.
type OperandKind uint8

const (
	OperandNone   OperandKind = iota
	OperandConst              // constant pool index
	OperandLocal              // local slot
	OperandCount              // argument or value count
	OperandOffset             // signed relative jump
	OperandAux                // aux data (jump table) index
)

func (k OperandKind) String() string {
	switch k {
	case OperandNone:
		return "none"
	case OperandConst:
		return "const"
	case OperandLocal:
		return "local"
	case OperandCount:
		return "count"
	case OperandOffset:
		return "offset"
	case OperandAux:
		return "aux"
	}
	return fmt.Sprintf("OperandKind(%d)", k)
}

// Signed reports whether operands of this kind are signed.
func (k OperandKind) Signed() bool { return k == OperandOffset }

// VariablePop marks an opcode whose pop count depends on its operand.
const VariablePop = -1

// OpcodeInfo provides metadata about each opcode for the assembler,
// disassembler and static stack analysis.
type OpcodeInfo struct {
	Name    string
	Operand OperandKind
	Width   int // encoded operand bytes: 0, 1 or 4
	Pop     int // VariablePop when derived from the operand
	Push    int
	Family  string // mnemonic without the width suffix
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNop:   {"nop", OperandNone, 0, 0, 0, "nop"},
	OpPush1: {"push1", OperandConst, 1, 0, 1, "push"},
	OpPush4: {"push4", OperandConst, 4, 0, 1, "push"},
	OpPop:   {"pop", OperandNone, 0, 1, 0, "pop"},
	OpDup:   {"dup", OperandNone, 0, 1, 2, "dup"},

	OpLoad1:  {"load1", OperandLocal, 1, 0, 1, "load"},
	OpLoad4:  {"load4", OperandLocal, 4, 0, 1, "load"},
	OpStore1: {"store1", OperandLocal, 1, 1, 0, "store"},
	OpStore4: {"store4", OperandLocal, 4, 1, 0, "store"},
	OpIncr1:  {"incr1", OperandLocal, 1, 1, 1, "incr"},
	OpIncr4:  {"incr4", OperandLocal, 4, 1, 1, "incr"},

	OpAdd:  {"add", OperandNone, 0, 2, 1, "add"},
	OpSub:  {"sub", OperandNone, 0, 2, 1, "sub"},
	OpMult: {"mult", OperandNone, 0, 2, 1, "mult"},
	OpDiv:  {"div", OperandNone, 0, 2, 1, "div"},
	OpMod:  {"mod", OperandNone, 0, 2, 1, "mod"},

	OpEq: {"eq", OperandNone, 0, 2, 1, "eq"},
	OpNe: {"ne", OperandNone, 0, 2, 1, "ne"},
	OpGt: {"gt", OperandNone, 0, 2, 1, "gt"},
	OpGe: {"ge", OperandNone, 0, 2, 1, "ge"},
	OpLt: {"lt", OperandNone, 0, 2, 1, "lt"},
	OpLe: {"le", OperandNone, 0, 2, 1, "le"},

	OpJump1:      {"jump1", OperandOffset, 1, 0, 0, "jump"},
	OpJump4:      {"jump4", OperandOffset, 4, 0, 0, "jump"},
	OpJumpTrue1:  {"jumpTrue1", OperandOffset, 1, 1, 0, "jumpTrue"},
	OpJumpTrue4:  {"jumpTrue4", OperandOffset, 4, 1, 0, "jumpTrue"},
	OpJumpFalse1: {"jumpFalse1", OperandOffset, 1, 1, 0, "jumpFalse"},
	OpJumpFalse4: {"jumpFalse4", OperandOffset, 4, 1, 0, "jumpFalse"},
	OpJumpTable4: {"jumpTable4", OperandAux, 4, 1, 0, "jumpTable"},

	OpInvoke1: {"invoke1", OperandCount, 1, VariablePop, 1, "invoke"},
	OpInvoke4: {"invoke4", OperandCount, 4, VariablePop, 1, "invoke"},
	OpReturn:  {"return", OperandNone, 0, 1, 0, "return"},
	OpDone:    {"done", OperandNone, 0, 0, 0, "done"},
	OpThrow:   {"throw", OperandNone, 0, 1, 0, "throw"},

	OpStrcat1:  {"strcat1", OperandCount, 1, VariablePop, 1, "strcat"},
	OpStrcat4:  {"strcat4", OperandCount, 4, VariablePop, 1, "strcat"},
	OpStrcmp:   {"strcmp", OperandNone, 0, 2, 1, "strcmp"},
	OpStrlen:   {"strlen", OperandNone, 0, 1, 1, "strlen"},
	OpStrindex: {"strindex", OperandNone, 0, 2, 1, "strindex"},
	OpStrrange: {"strrange", OperandNone, 0, 3, 1, "strrange"},
}

var opcodeByName map[string]Opcode

func init() {
	opcodeByName = make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		opcodeByName[info.Name] = op
	}
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: "UNKNOWN", Family: "UNKNOWN"}
}

// LookupOpcode finds an opcode by its sized mnemonic.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

// Sized returns the opcode of the given family encoded with the given
// operand width, e.g. Sized("jump", 4) == OpJump4.
func Sized(family string, width int) (Opcode, bool) {
	if op, ok := opcodeByName[family]; ok && opcodeInfoTable[op].Width == width {
		return op, true
	}
	return LookupOpcode(fmt.Sprintf("%s%d", family, width))
}

// Families returns the distinct unsized mnemonics in opcode order.
func Families() []string {
	seen := make(map[string]bool)
	var out []string
	for _, op := range AllOpcodes() {
		f := opcodeInfoTable[op].Family
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	if info, ok := opcodeInfoTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("Opcode(0x%02X)", byte(op))
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// InstructionLen returns the encoded length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + GetOpcodeInfo(op).Width
}

// IsJump returns true for relative jumps (not jump tables).
func (op Opcode) IsJump() bool {
	return GetOpcodeInfo(op).Operand == OperandOffset
}

// IsConditional returns true for jumps that pop a condition.
func (op Opcode) IsConditional() bool {
	switch op {
	case OpJumpTrue1, OpJumpTrue4, OpJumpFalse1, OpJumpFalse4:
		return true
	}
	return false
}

// IsTerminal returns true if control never falls through this opcode.
func (op Opcode) IsTerminal() bool {
	switch op {
	case OpReturn, OpDone, OpThrow, OpJump1, OpJump4:
		return true
	}
	return false
}

// OperandFits reports whether v can be encoded in an operand of the given
// kind and width.
func OperandFits(kind OperandKind, width int, v int64) bool {
	switch {
	case width == 0:
		return v == 0
	case kind.Signed() && width == 1:
		return v >= -128 && v <= 127
	case kind.Signed():
		return v >= -1<<31 && v <= 1<<31-1
	case width == 1:
		return v >= 0 && v <= 255
	default:
		return v >= 0 && v <= 1<<32-1
	}
}

// AllOpcodes returns all defined opcodes in numeric order.
func AllOpcodes() []Opcode {
	ops := make([]Opcode, 0, len(opcodeInfoTable))
	for i := 0; i < 256; i++ {
		if _, ok := opcodeInfoTable[Opcode(i)]; ok {
			ops = append(ops, Opcode(i))
		}
	}
	return ops
}

// Instruction is a decoded bytecode instruction. Operand is the pool index,
// slot, count, aux index or relative jump offset, depending on the opcode.
type Instruction struct {
	Op      Opcode
	Operand int64
}

// Pops returns the number of operand stack values the instruction consumes.
func (in Instruction) Pops() int {
	info := GetOpcodeInfo(in.Op)
	if info.Pop != VariablePop {
		return info.Pop
	}
	switch in.Op {
	case OpInvoke1, OpInvoke4:
		return int(in.Operand) + 1
	default:
		return int(in.Operand)
	}
}

// Pushes returns the number of values the instruction leaves on the stack.
func (in Instruction) Pushes() int {
	return GetOpcodeInfo(in.Op).Push
}

// Target returns the absolute pc of a relative jump taken from pc.
func (in Instruction) Target(pc int) int {
	return pc + 1 + int(in.Operand)
}

func (in Instruction) String() string {
	if GetOpcodeInfo(in.Op).Operand == OperandNone {
		return in.Op.String()
	}
	if in.Op.IsJump() {
		return fmt.Sprintf("%s %+d", in.Op, in.Operand)
	}
	return fmt.Sprintf("%s %d", in.Op, in.Operand)
}
