package vm

import (
	"bytes"
	"math"
	"reflect"
	"testing"
)

func TestImageRoundTrip(t *testing.T) {
	inner := NewBuilder("inner")
	inner.EmitPush(Double(2.5))
	inner.EmitOp(OpReturn)
	innerCode := mustBuild(t, inner)

	b := NewBuilder("outer")
	b.SetSource("outer body")
	b.SetParams("key")
	b.AddLocal("tmp")
	b.EmitPush(CodeValue(innerCode))
	b.Emit(OpInvoke1, 0)
	b.Emit(OpStore1, 1)
	b.AddCommand(CommandLocation{PCStart: 0, PCEnd: 3, SrcStart: 0, SrcEnd: 5})
	b.Emit(OpLoad1, 0)
	tbl := b.AddJumpTable(JumpTable{Entries: map[string]int64{"x": 2}})
	b.Emit(OpJumpTable4, int64(tbl))
	b.EmitPush(String("miss"))
	b.EmitOp(OpReturn)
	b.EmitPush(String("hit"))
	handler := b.EmitOp(OpReturn)
	b.AddRange(ExceptionRange{PCStart: 0, PCEnd: 3, HandlerPC: handler, Kind: RangeFinally})
	original := mustBuild(t, b)

	data, err := MarshalImage(original)
	if err != nil {
		t.Fatalf("MarshalImage failed: %v", err)
	}
	again, err := MarshalImage(original)
	if err != nil {
		t.Fatalf("MarshalImage failed: %v", err)
	}
	if !bytes.Equal(data, again) {
		t.Error("encoding is not deterministic")
	}

	decoded, err := UnmarshalImage(data)
	if err != nil {
		t.Fatalf("UnmarshalImage failed: %v", err)
	}
	if decoded.Name != original.Name || decoded.Source != original.Source {
		t.Errorf("header mismatch: %q/%q", decoded.Name, decoded.Source)
	}
	if !reflect.DeepEqual(decoded.Instructions, original.Instructions) {
		t.Errorf("instructions = %v, want %v", decoded.Instructions, original.Instructions)
	}
	if decoded.NumLocals != 2 || decoded.NumParams != 1 || decoded.MaxStackDepth != original.MaxStackDepth {
		t.Errorf("locals %d params %d depth %d", decoded.NumLocals, decoded.NumParams, decoded.MaxStackDepth)
	}
	if !reflect.DeepEqual(decoded.LocalNames, []string{"key", "tmp"}) {
		t.Errorf("LocalNames = %v", decoded.LocalNames)
	}
	if !reflect.DeepEqual(decoded.ExceptionRanges, original.ExceptionRanges) {
		t.Errorf("ranges = %v", decoded.ExceptionRanges)
	}
	if !reflect.DeepEqual(decoded.AuxData, original.AuxData) {
		t.Errorf("aux = %v", decoded.AuxData)
	}
	if !reflect.DeepEqual(decoded.Commands, original.Commands) {
		t.Errorf("commands = %v", decoded.Commands)
	}
	nested := decoded.Constants[0].Code()
	if nested == nil || nested.Name != "inner" {
		t.Fatalf("nested constant = %s", decoded.Constants[0].Repr())
	}
	if !nested.Constants[0].Equal(Double(2.5)) {
		t.Errorf("nested constant = %s", nested.Constants[0].Repr())
	}

	got, err := Execute(decoded, []Value{String("x")}, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got.String() != "hit" {
		t.Errorf("got %s, want hit", got.Repr())
	}
}

func TestUnmarshalImageRejectsBadInput(t *testing.T) {
	if _, err := UnmarshalImage([]byte("not cbor")); err == nil {
		t.Error("expected error for garbage input")
	}

	bad := &BytecodeObject{
		Name:          "bad",
		Instructions:  []Instruction{{OpPush1, 4}},
		MaxStackDepth: 1,
	}
	data, err := MarshalImage(bad)
	if err != nil {
		t.Fatalf("MarshalImage failed: %v", err)
	}
	if _, err := UnmarshalImage(data); err == nil {
		t.Error("expected validation error for bad constant index")
	}

	lying := &BytecodeObject{
		Name:          "lying",
		Constants:     []Value{Int(1)},
		Instructions:  []Instruction{{OpPush1, 0}, {OpDone, 0}},
		MaxStackDepth: 9,
	}
	data, err = MarshalImage(lying)
	if err != nil {
		t.Fatalf("MarshalImage failed: %v", err)
	}
	if _, err := UnmarshalImage(data); err == nil {
		t.Error("expected error for wrong recorded stack depth")
	}
}

func TestImageKeepsNegativeZero(t *testing.T) {
	code := &BytecodeObject{
		Name:          "negzero",
		Constants:     []Value{Double(math.Copysign(0, -1)), Double(0)},
		Instructions:  []Instruction{{OpPush1, 0}, {OpDone, 0}},
		MaxStackDepth: 1,
	}
	data, err := MarshalImage(code)
	if err != nil {
		t.Fatalf("MarshalImage failed: %v", err)
	}
	decoded, err := UnmarshalImage(data)
	if err != nil {
		t.Fatalf("UnmarshalImage failed: %v", err)
	}
	for i, wantNeg := range []bool{true, false} {
		f, ok := decoded.Constants[i].AsNumber()
		if !ok || f != 0 || math.Signbit(f) != wantNeg {
			t.Errorf("constant %d = %s, want zero with sign bit %v", i, decoded.Constants[i].Repr(), wantNeg)
		}
	}
}
