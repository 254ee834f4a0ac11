package vm

import "testing"

func TestAllOpcodesHaveInfo(t *testing.T) {
	names := make(map[string]Opcode)
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" || info.Name == "UNKNOWN" {
			t.Errorf("opcode 0x%02X has no name", byte(op))
		}
		if prev, dup := names[info.Name]; dup {
			t.Errorf("opcodes 0x%02X and 0x%02X share name %q", byte(prev), byte(op), info.Name)
		}
		names[info.Name] = op
		if info.Operand == OperandNone && info.Width != 0 {
			t.Errorf("%s: operand-less opcode with width %d", info.Name, info.Width)
		}
		if info.Operand != OperandNone && info.Width != 1 && info.Width != 4 {
			t.Errorf("%s: bad width %d", info.Name, info.Width)
		}
		got, ok := LookupOpcode(info.Name)
		if !ok || got != op {
			t.Errorf("LookupOpcode(%q) = %v, %v", info.Name, got, ok)
		}
	}
}

func TestSized(t *testing.T) {
	tests := []struct {
		family string
		width  int
		want   Opcode
		ok     bool
	}{
		{"push", 1, OpPush1, true},
		{"push", 4, OpPush4, true},
		{"jumpFalse", 1, OpJumpFalse1, true},
		{"jumpTable", 4, OpJumpTable4, true},
		{"jumpTable", 1, 0, false},
		{"add", 0, OpAdd, true},
		{"bogus", 1, 0, false},
	}
	for _, tt := range tests {
		got, ok := Sized(tt.family, tt.width)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("Sized(%q, %d) = %v, %v; want %v, %v", tt.family, tt.width, got, ok, tt.want, tt.ok)
		}
	}
}

func TestOperandFits(t *testing.T) {
	tests := []struct {
		kind  OperandKind
		width int
		v     int64
		want  bool
	}{
		{OperandConst, 1, 255, true},
		{OperandConst, 1, 256, false},
		{OperandConst, 1, -1, false},
		{OperandConst, 4, 1 << 20, true},
		{OperandOffset, 1, -128, true},
		{OperandOffset, 1, 127, true},
		{OperandOffset, 1, 128, false},
		{OperandOffset, 4, -1 << 31, true},
		{OperandOffset, 4, 1 << 31, false},
		{OperandNone, 0, 0, true},
		{OperandNone, 0, 1, false},
	}
	for _, tt := range tests {
		if got := OperandFits(tt.kind, tt.width, tt.v); got != tt.want {
			t.Errorf("OperandFits(%s, %d, %d) = %v, want %v", tt.kind, tt.width, tt.v, got, tt.want)
		}
	}
}

func TestInstructionStackEffect(t *testing.T) {
	tests := []struct {
		in         Instruction
		pops, push int
	}{
		{Instruction{OpPush1, 0}, 0, 1},
		{Instruction{OpInvoke1, 3}, 4, 1},
		{Instruction{OpStrcat1, 3}, 3, 1},
		{Instruction{OpStrrange, 0}, 3, 1},
		{Instruction{OpDup, 0}, 1, 2},
		{Instruction{OpReturn, 0}, 1, 0},
	}
	for _, tt := range tests {
		if got := tt.in.Pops(); got != tt.pops {
			t.Errorf("%s pops %d, want %d", tt.in, got, tt.pops)
		}
		if got := tt.in.Pushes(); got != tt.push {
			t.Errorf("%s pushes %d, want %d", tt.in, got, tt.push)
		}
	}
}

func TestInstructionTarget(t *testing.T) {
	in := Instruction{OpJump1, -3}
	if got := in.Target(5); got != 3 {
		t.Errorf("Target = %d, want 3", got)
	}
	if got := in.String(); got != "jump1 -3" {
		t.Errorf("String = %q", got)
	}
}

func TestCodeSize(t *testing.T) {
	c := &BytecodeObject{Instructions: []Instruction{
		{OpPush1, 0}, {OpPush4, 300}, {OpAdd, 0}, {OpDone, 0},
	}}
	if got := c.CodeSize(); got != 2+5+1+1 {
		t.Errorf("CodeSize = %d, want 9", got)
	}
}
