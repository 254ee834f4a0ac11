package vm

import "fmt"

// StackDepth computes the maximum operand stack height reachable while
// executing c, following fall-through, jumps, jump tables and exception
// handlers. Every instruction must be reached with one consistent height and
// no instruction may pop more values than are present.
//
// A range is entered wherever control arrives inside it from outside,
// including a jump into its middle or a handler inside it. Every entry must
// happen at the same height, and the handler starts at that height plus the
// error value.
func StackDepth(c *BytecodeObject) (int, error) {
	n := len(c.Instructions)
	heights := make([]int, n+1)
	for i := range heights {
		heights[i] = -1
	}
	entries := make([]int, len(c.ExceptionRanges))
	for i := range entries {
		entries[i] = -1
	}

	var work []int
	maxDepth := 0

	record := func(from, pc, h int) error {
		if pc < 0 || pc > n {
			return &StackError{PC: from, Reason: fmt.Sprintf("target %d out of range", pc)}
		}
		if h > maxDepth {
			maxDepth = h
		}
		if pc == n {
			// Falling off the end is an implicit done.
			if heights[n] < h {
				heights[n] = h
			}
			return nil
		}
		switch heights[pc] {
		case -1:
			heights[pc] = h
			work = append(work, pc)
		case h:
		default:
			return &StackError{PC: pc, Reason: fmt.Sprintf("inconsistent stack height %d (previously %d)", h, heights[pc])}
		}
		return nil
	}

	var enter func(idx, pc, h int) error
	handlerOf := func(idx, h int) error {
		r := c.ExceptionRanges[idx]
		if err := record(r.PCStart, r.HandlerPC, h); err != nil {
			return err
		}
		// The handling range is inactive at its handler; ranges enclosing
		// it stay active.
		for q, o := range c.ExceptionRanges {
			if o.Contains(r.HandlerPC) && (q == idx || !o.Contains(r.PCStart)) {
				if err := enter(q, r.HandlerPC, h); err != nil {
					return err
				}
			}
		}
		return nil
	}
	enter = func(idx, pc, h int) error {
		switch entries[idx] {
		case -1:
			entries[idx] = h
			return handlerOf(idx, h+1)
		case h:
			return nil
		default:
			return &StackError{PC: pc, Reason: fmt.Sprintf("range %d entered with stack height %d (previously %d)", idx, h, entries[idx])}
		}
	}

	// reach follows an ordinary edge and enters the ranges it crosses into.
	// from is -1 for the entry point.
	reach := func(from, pc, h int) error {
		if err := record(from, pc, h); err != nil {
			return err
		}
		for idx, r := range c.ExceptionRanges {
			if r.Contains(pc) && (from < 0 || !r.Contains(from)) {
				if err := enter(idx, pc, h); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if n == 0 {
		return 0, nil
	}
	if err := reach(-1, 0, 0); err != nil {
		return 0, err
	}

	for len(work) > 0 {
		pc := work[len(work)-1]
		work = work[:len(work)-1]
		h := heights[pc]

		in := c.Instructions[pc]
		if !in.Op.Valid() {
			return 0, &StackError{PC: pc, Reason: fmt.Sprintf("unknown opcode 0x%02X", byte(in.Op))}
		}
		pops := in.Pops()
		if pops < 0 {
			return 0, &StackError{PC: pc, Reason: fmt.Sprintf("negative count %d", in.Operand)}
		}
		if h < pops {
			return 0, &StackError{PC: pc, Reason: fmt.Sprintf("%s pops %d with stack height %d", in.Op, pops, h)}
		}
		next := h - pops + in.Pushes()
		if next > maxDepth {
			maxDepth = next
		}

		var err error
		switch {
		case in.Op == OpReturn || in.Op == OpDone || in.Op == OpThrow:
		case in.Op == OpJump1 || in.Op == OpJump4:
			err = reach(pc, in.Target(pc), next)
		case in.Op.IsConditional():
			if err = reach(pc, pc+1, next); err == nil {
				err = reach(pc, in.Target(pc), next)
			}
		case in.Op == OpJumpTable4:
			if in.Operand < 0 || in.Operand >= int64(len(c.AuxData)) {
				return 0, &StackError{PC: pc, Reason: fmt.Sprintf("aux index %d out of range", in.Operand)}
			}
			if err = reach(pc, pc+1, next); err != nil {
				break
			}
			t := c.AuxData[in.Operand]
			for _, k := range t.Keys() {
				if err = reach(pc, pc+1+int(t.Entries[k]), next); err != nil {
					break
				}
			}
		default:
			err = reach(pc, pc+1, next)
		}
		if err != nil {
			return 0, err
		}
	}
	return maxDepth, nil
}
