package asm

import (
	"reflect"
	"strings"
	"testing"

	"github.com/chazu/tbc/vm"
)

func TestDisassembleFactorial(t *testing.T) {
	listing := Disassemble(mustAssemble(t, factSource))

	for _, want := range []string{
		`ByteCode "fact", cmds 2, src 67, inst 14, consts 2, aux 0, stkDepth 4, inst/src 0.21`,
		`Locals 1 (params 1):`,
		`%v0 "n"`,
		`0: int 1`,
		`1: string "fact"`,
		`1: pc 0-5, src 0-22`,
		`Command 1: "if {$n <= 1} {return 1}"`,
		`Command 2: "return [expr {$n * [fact [expr {$n - 1}]]}]"`,
		`(0) load1 %v0  # var "n"`,
		`(1) push1 0  # 1`,
		`(3) jumpFalse1 +2  # pc 6`,
		`(7) push1 1  # "fact"`,
		`(11) invoke1 1`,
	} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing missing %q:\n%s", want, listing)
		}
	}
	if strings.Contains(listing, "Exception ranges") || strings.Contains(listing, "Aux data") {
		t.Errorf("listing should omit empty sections:\n%s", listing)
	}
}

func TestDisassembleHeaderCountsInstructions(t *testing.T) {
	b := vm.NewBuilder("sum")
	b.SetSource("expr 1+2 x")
	b.EmitPush(vm.Int(1))
	b.EmitPush(vm.Int(2))
	b.EmitOp(vm.OpAdd)
	b.EmitOp(vm.OpDone)
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if c.CodeSize() == len(c.Instructions) {
		t.Fatalf("CodeSize = %d should count operand bytes", c.CodeSize())
	}
	want := `ByteCode "sum", cmds 0, src 10, inst 4, consts 2, aux 0, stkDepth 2, inst/src 0.40`
	if got, _, _ := strings.Cut(Disassemble(c), "\n"); got != want {
		t.Errorf("header = %q, want %q", got, want)
	}
}

func TestDisassembleCommandHeadersPrecedeSpans(t *testing.T) {
	listing := Disassemble(mustAssemble(t, factSource))
	first := strings.Index(listing, "Command 2:")
	at := strings.Index(listing, "(6) load1 %v0")
	if first < 0 || at < 0 || first > at {
		t.Errorf("Command 2 header should precede pc 6:\n%s", listing)
	}
}

// mixedObject exercises every constant kind, a range, a jump table and a
// local without a name.
func mixedObject(t *testing.T) *vm.BytecodeObject {
	t.Helper()
	inner := mustAssemble(t, ".proc inner a b\n    load a\n    load b\n    add\n    return\n")

	b := vm.NewBuilder("mixed")
	b.SetSource("set x 2.5; other")
	x := b.AddLocal("x")
	b.SetLocalName(2, "z")
	b.AddConstant(vm.ErrorValue(&vm.RuntimeError{Kind: vm.UserError, Message: "boom \"quoted\""}))
	b.EmitPush(vm.Double(2.5))
	b.Emit(vm.OpStore1, int64(x))
	b.EmitPush(vm.Unset)
	b.EmitOp(vm.OpPop)
	b.AddCommand(vm.CommandLocation{PCStart: 0, PCEnd: 4, SrcStart: 0, SrcEnd: 9})
	b.EmitPush(vm.CodeValue(inner))
	b.EmitPush(vm.Int(1))
	b.EmitPush(vm.Int(2))
	b.Emit(vm.OpInvoke1, 2)
	b.EmitPush(vm.String("k"))
	tbl := b.AddJumpTable(vm.JumpTable{Entries: map[string]int64{"k": 1, "j": 0}})
	b.Emit(vm.OpJumpTable4, int64(tbl))
	b.EmitOp(vm.OpDone)
	b.EmitOp(vm.OpDone)
	b.AddCommand(vm.CommandLocation{PCStart: 4, PCEnd: 12, SrcStart: 11, SrcEnd: 16})
	b.AddRange(vm.ExceptionRange{PCStart: 4, PCEnd: 8, HandlerPC: 10, Kind: vm.RangeFinally})
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return c
}

func TestDisassembleRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		code func(t *testing.T) *vm.BytecodeObject
	}{
		{"factorial", func(t *testing.T) *vm.BytecodeObject { return mustAssemble(t, factSource) }},
		{"mixed", mixedObject},
		{"catch", func(t *testing.T) *vm.BytecodeObject {
			return mustAssemble(t, ".catch 0 3 3\n    push 1\n    push 0\n    div\n    done\n")
		}},
		{"nested", func(t *testing.T) *vm.BytecodeObject {
			return mustAssemble(t, "    push {\n        push {\n            push deep\n            done\n        }\n        invoke 0\n        done\n    }\n    invoke 0\n    done\n")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := tt.code(t)
			listing := Disassemble(orig)
			again, err := Assemble(listing)
			if err != nil {
				t.Fatalf("reassembly failed: %v\n%s", err, listing)
			}
			if got := Disassemble(again); got != listing {
				t.Errorf("listing changed after round trip:\n--- first\n%s\n--- second\n%s", listing, got)
			}
			if !reflect.DeepEqual(orig, again) {
				t.Errorf("object changed after round trip:\n%+v\n%+v", orig, again)
			}
		})
	}
}

func TestDisassembleMixedSections(t *testing.T) {
	listing := Disassemble(mixedObject(t))
	for _, want := range []string{
		`Locals 3 (params 0):`,
		`%v1 ""`,
		`%v2 "z"`,
		`0: error UserError "boom \"quoted\""`,
		`1: double 2.5`,
		`2: unset`,
		`3: code {`,
		`ByteCode "inner"`,
		`0: jumptable "j"=+0 "k"=+1`,
		`0: finally [4, 8) -> 10`,
		`(9) jumpTable4 0  # "j"=pc 10, "k"=pc 11`,
		`(1) store1 %v0  # var "x"`,
	} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing missing %q:\n%s", want, listing)
		}
	}
}

func TestDisassembleUnnamedLocal(t *testing.T) {
	code := mustAssemble(t, "    push 1\n    store1 %v3\n    load 3\n    done\n")
	listing := Disassemble(code)
	if !strings.Contains(listing, "(1) store1 %v3  # var %v3") {
		t.Errorf("unnamed slot annotation missing:\n%s", listing)
	}
	if code.NumLocals != 4 {
		t.Errorf("NumLocals = %d, want 4", code.NumLocals)
	}
}
