package vm

import (
	"errors"
	"testing"
)

func TestStackDepth(t *testing.T) {
	tests := []struct {
		name string
		code *BytecodeObject
		want int
	}{
		{
			name: "empty",
			code: &BytecodeObject{},
			want: 0,
		},
		{
			name: "straight line",
			code: &BytecodeObject{
				Constants:    []Value{Int(1), Int(2)},
				Instructions: []Instruction{{OpPush1, 0}, {OpPush1, 1}, {OpAdd, 0}, {OpDone, 0}},
			},
			want: 2,
		},
		{
			name: "dup counts intermediate",
			code: &BytecodeObject{
				Constants:    []Value{Int(1)},
				Instructions: []Instruction{{OpPush1, 0}, {OpDup, 0}, {OpMult, 0}, {OpReturn, 0}},
			},
			want: 2,
		},
		{
			name: "branches agree",
			code: &BytecodeObject{
				Constants: []Value{Int(1), Int(2)},
				Instructions: []Instruction{
					{OpPush1, 0},      // 0
					{OpJumpFalse1, 2}, // 1 -> 4
					{OpPush1, 0},      // 2
					{OpJump1, 1},      // 3 -> 5
					{OpPush1, 1},      // 4
					{OpDone, 0},       // 5
				},
			},
			want: 1,
		},
		{
			name: "handler entry",
			code: &BytecodeObject{
				Constants: []Value{Int(10), Int(0)},
				Instructions: []Instruction{
					{OpPush1, 0}, {OpPush1, 1}, {OpDiv, 0}, {OpDone, 0},
				},
				ExceptionRanges: []ExceptionRange{{PCStart: 0, PCEnd: 3, HandlerPC: 3}},
			},
			want: 2,
		},
		{
			name: "range entered mid-span",
			code: &BytecodeObject{
				Constants: []Value{Int(1)},
				Instructions: []Instruction{
					{OpPush1, 0}, // 0
					{OpJump1, 2}, // 1 -> 4, skipping the range start
					{OpPush1, 0}, // 2
					{OpPop, 0},   // 3
					{OpPop, 0},   // 4 range entered at height 1
					{OpDone, 0},  // 5
					{OpPush1, 0}, // 6 handler at height 2
					{OpDone, 0},  // 7
				},
				ExceptionRanges: []ExceptionRange{{PCStart: 2, PCEnd: 5, HandlerPC: 6}},
			},
			want: 3,
		},
		{
			name: "jump table",
			code: &BytecodeObject{
				Constants: []Value{String("a"), Int(1)},
				Instructions: []Instruction{
					{OpPush1, 0},      // 0
					{OpJumpTable4, 0}, // 1
					{OpPush1, 1},      // 2
					{OpDone, 0},       // 3
					{OpPush1, 0},      // 4
					{OpDone, 0},       // 5
				},
				AuxData: []JumpTable{{Entries: map[string]int64{"a": 2}}},
			},
			want: 1,
		},
		{
			name: "invoke",
			code: &BytecodeObject{
				Constants: []Value{String("cmd"), Int(1)},
				Instructions: []Instruction{
					{OpPush1, 0}, {OpPush1, 1}, {OpPush1, 1}, {OpInvoke1, 2}, {OpDone, 0},
				},
			},
			want: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StackDepth(tt.code)
			if err != nil {
				t.Fatalf("StackDepth failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("StackDepth = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStackDepthErrors(t *testing.T) {
	tests := []struct {
		name string
		code *BytecodeObject
		pc   int
	}{
		{
			name: "underflow",
			code: &BytecodeObject{Instructions: []Instruction{{OpPop, 0}}},
			pc:   0,
		},
		{
			name: "invoke without name",
			code: &BytecodeObject{
				Constants:    []Value{Int(1)},
				Instructions: []Instruction{{OpPush1, 0}, {OpInvoke1, 1}},
			},
			pc: 1,
		},
		{
			name: "inconsistent heights",
			code: &BytecodeObject{
				Constants: []Value{Int(1)},
				Instructions: []Instruction{
					{OpPush1, 0},      // 0
					{OpJumpTrue1, 1},  // 1 -> 3 at height 0
					{OpPush1, 0},      // 2 falls into 3 at height 1
					{OpDone, 0},       // 3
				},
			},
			pc: 3,
		},
		{
			name: "handler inside its own range",
			code: &BytecodeObject{
				Constants:       []Value{Int(1), Int(2)},
				Instructions:    []Instruction{{OpPush1, 0}, {OpPush1, 1}, {OpPop, 0}, {OpDone, 0}},
				ExceptionRanges: []ExceptionRange{{PCStart: 1, PCEnd: 3, HandlerPC: 2}},
			},
			pc: 2,
		},
		{
			name: "range entered at two heights",
			code: &BytecodeObject{
				Constants: []Value{Int(1)},
				Instructions: []Instruction{
					{OpPush1, 0},     // 0
					{OpPush1, 0},     // 1
					{OpJumpTrue1, 2}, // 2 -> 5 at height 1
					{OpPop, 0},       // 3
					{OpPush1, 0},     // 4 range start at height 0
					{OpPop, 0},       // 5
					{OpNop, 0},       // 6
					{OpDone, 0},      // 7
					{OpDone, 0},      // 8 handler
				},
				ExceptionRanges: []ExceptionRange{{PCStart: 4, PCEnd: 7, HandlerPC: 8}},
			},
			pc: 4,
		},
		{
			name: "jump out of range",
			code: &BytecodeObject{Instructions: []Instruction{{OpJump1, 5}}},
			pc:   0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := StackDepth(tt.code)
			var se *StackError
			if !errors.As(err, &se) {
				t.Fatalf("error = %v, want *StackError", err)
			}
			if se.PC != tt.pc {
				t.Errorf("StackError.PC = %d, want %d (%s)", se.PC, tt.pc, se.Reason)
			}
		})
	}
}
