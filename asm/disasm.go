package asm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/tbc/vm"
)

// Disassemble renders c as a human-readable listing. The listing is
// accepted by Assemble and reproduces an equivalent object.
func Disassemble(c *vm.BytecodeObject) string {
	var sb strings.Builder
	disassemble(&sb, c, "")
	return sb.String()
}

func disassemble(sb *strings.Builder, c *vm.BytecodeObject, indent string) {
	ratio := 0.0
	if len(c.Source) > 0 {
		ratio = float64(len(c.Instructions)) / float64(len(c.Source))
	}
	fmt.Fprintf(sb, "%sByteCode %q, cmds %d, src %d, inst %d, consts %d, aux %d, stkDepth %d, inst/src %.2f\n",
		indent, c.Name, len(c.Commands), len(c.Source), len(c.Instructions),
		len(c.Constants), len(c.AuxData), c.MaxStackDepth, ratio)

	in := indent + "  "
	if c.Source != "" {
		fmt.Fprintf(sb, "%sSource %s\n", in, strconv.Quote(c.Source))
	}

	fmt.Fprintf(sb, "%sLocals %d (params %d):\n", in, c.NumLocals, c.NumParams)
	for slot, name := range c.LocalNames {
		fmt.Fprintf(sb, "%s  %%v%d %s\n", in, slot, strconv.Quote(name))
	}

	if len(c.Constants) > 0 {
		fmt.Fprintf(sb, "%sConstants %d:\n", in, len(c.Constants))
		for i, v := range c.Constants {
			writeConstant(sb, i, v, in+"  ")
		}
	}

	if len(c.AuxData) > 0 {
		fmt.Fprintf(sb, "%sAux data %d:\n", in, len(c.AuxData))
		for i, t := range c.AuxData {
			fmt.Fprintf(sb, "%s  %d: jumptable", in, i)
			for _, k := range t.Keys() {
				fmt.Fprintf(sb, " %s=%+d", strconv.Quote(k), t.Entries[k])
			}
			sb.WriteByte('\n')
		}
	}

	if len(c.ExceptionRanges) > 0 {
		fmt.Fprintf(sb, "%sException ranges %d:\n", in, len(c.ExceptionRanges))
		for i, r := range c.ExceptionRanges {
			fmt.Fprintf(sb, "%s  %d: %s [%d, %d) -> %d\n", in, i, r.Kind, r.PCStart, r.PCEnd, r.HandlerPC)
		}
	}

	if len(c.Commands) > 0 {
		fmt.Fprintf(sb, "%sCommands %d:\n", in, len(c.Commands))
		for i, loc := range c.Commands {
			fmt.Fprintf(sb, "%s  %d: pc %d-%d, src %d-%d\n", in, i+1,
				loc.PCStart, loc.PCEnd-1, loc.SrcStart, loc.SrcEnd-1)
		}
	}

	next := 0 // next command whose header is due
	header := func(pc int) {
		for next < len(c.Commands) && c.Commands[next].PCStart <= pc {
			fmt.Fprintf(sb, "%sCommand %d: %s\n", in, next+1, strconv.Quote(c.CommandText(next)))
			next++
		}
	}
	for pc, instr := range c.Instructions {
		header(pc)
		line := fmt.Sprintf("%s  (%d) %s", in, pc, formatInstruction(instr))
		if note := annotate(c, pc, instr); note != "" {
			line += "  # " + note
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	header(len(c.Instructions))
}

func formatInstruction(in vm.Instruction) string {
	if vm.GetOpcodeInfo(in.Op).Operand == vm.OperandLocal {
		return fmt.Sprintf("%s %%v%d", in.Op, in.Operand)
	}
	return in.String()
}

func writeConstant(sb *strings.Builder, i int, v vm.Value, indent string) {
	switch v.Kind() {
	case vm.KindInt, vm.KindDouble:
		fmt.Fprintf(sb, "%s%d: %s %s\n", indent, i, v.Kind(), v)
	case vm.KindString:
		fmt.Fprintf(sb, "%s%d: string %s\n", indent, i, strconv.Quote(v.String()))
	case vm.KindUnset:
		fmt.Fprintf(sb, "%s%d: unset\n", indent, i)
	case vm.KindError:
		e := v.Err()
		fmt.Fprintf(sb, "%s%d: error %s %s\n", indent, i, e.Kind, strconv.Quote(e.Message))
	case vm.KindCode:
		fmt.Fprintf(sb, "%s%d: code {\n", indent, i)
		disassemble(sb, v.Code(), indent+"  ")
		fmt.Fprintf(sb, "%s}\n", indent)
	}
}

// annotate explains an operand: the constant it pushes, the variable it
// names, or where a jump lands.
func annotate(c *vm.BytecodeObject, pc int, in vm.Instruction) string {
	info := vm.GetOpcodeInfo(in.Op)
	switch info.Operand {
	case vm.OperandConst:
		if v, ok := c.ConstantAt(int(in.Operand)); ok {
			return v.Repr()
		}
	case vm.OperandLocal:
		if name := c.LocalName(int(in.Operand)); name != "" {
			return fmt.Sprintf("var %s", strconv.Quote(name))
		}
		return fmt.Sprintf("var %%v%d", in.Operand)
	case vm.OperandOffset:
		return fmt.Sprintf("pc %d", in.Target(pc))
	case vm.OperandAux:
		if int(in.Operand) >= len(c.AuxData) {
			return ""
		}
		t := c.AuxData[in.Operand]
		parts := make([]string, 0, len(t.Entries))
		for _, k := range t.Keys() {
			parts = append(parts, fmt.Sprintf("%s=pc %d", strconv.Quote(k), pc+1+int(t.Entries[k])))
		}
		return strings.Join(parts, ", ")
	}
	return ""
}
