package vm

// activeRange records an exception range the frame has entered and the
// operand stack height at entry.
type activeRange struct {
	index int
	depth int
}

// Frame is the execution state of one invocation of a BytecodeObject.
type Frame struct {
	Name   string
	Code   *BytecodeObject
	PC     int
	Stack  []Value
	Locals []Value

	ranges   []activeRange // outermost first
	maxStack int
}

func newFrame(name string, code *BytecodeObject, maxStack int, args []Value) *Frame {
	locals := make([]Value, code.NumLocals)
	copy(locals, args)
	return &Frame{
		Name:     name,
		Code:     code,
		Stack:    make([]Value, 0, maxStack),
		Locals:   locals,
		maxStack: maxStack,
	}
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (f *Frame) push(v Value) error {
	if len(f.Stack) >= f.maxStack {
		return newError(StackOverflow, "operand stack overflow in %q at pc %d (max %d)", f.Name, f.PC-1, f.maxStack)
	}
	f.Stack = append(f.Stack, v)
	return nil
}

func (f *Frame) pop() (Value, error) {
	if len(f.Stack) == 0 {
		return Unset, newError(MalformedBytecode, "operand stack underflow in %q at pc %d", f.Name, f.PC-1)
	}
	v := f.Stack[len(f.Stack)-1]
	f.Stack[len(f.Stack)-1] = Unset
	f.Stack = f.Stack[:len(f.Stack)-1]
	return v, nil
}

// popN pops n values and returns them bottom-to-top.
func (f *Frame) popN(n int) ([]Value, error) {
	if n < 0 || n > len(f.Stack) {
		return nil, newError(MalformedBytecode, "operand stack underflow in %q at pc %d: need %d, have %d", f.Name, f.PC-1, n, len(f.Stack))
	}
	base := len(f.Stack) - n
	vals := make([]Value, n)
	copy(vals, f.Stack[base:])
	clear(f.Stack[base:])
	f.Stack = f.Stack[:base]
	return vals, nil
}

func (f *Frame) top() (Value, bool) {
	if len(f.Stack) == 0 {
		return Unset, false
	}
	return f.Stack[len(f.Stack)-1], true
}

func (f *Frame) truncate(depth int) {
	if depth < len(f.Stack) {
		clear(f.Stack[depth:])
		f.Stack = f.Stack[:depth]
	}
}

// ---------------------------------------------------------------------------
// Exception ranges
// ---------------------------------------------------------------------------

// syncRanges leaves ranges that no longer contain pc and enters those that
// do, outermost first, recording the current stack height.
func (f *Frame) syncRanges() {
	ranges := f.Code.ExceptionRanges
	if len(ranges) == 0 {
		return
	}
	pc := f.PC
	kept := f.ranges[:0]
	for _, a := range f.ranges {
		if ranges[a.index].Contains(pc) {
			kept = append(kept, a)
		}
	}
	f.ranges = kept

	for idx, r := range ranges {
		if !r.Contains(pc) || f.isActive(idx) {
			continue
		}
		f.enter(idx)
	}
}

func (f *Frame) isActive(idx int) bool {
	for _, a := range f.ranges {
		if a.index == idx {
			return true
		}
	}
	return false
}

// enter inserts idx keeping f.ranges ordered outermost first.
func (f *Frame) enter(idx int) {
	r := f.Code.ExceptionRanges[idx]
	a := activeRange{index: idx, depth: len(f.Stack)}
	pos := len(f.ranges)
	for i, o := range f.ranges {
		or := f.Code.ExceptionRanges[o.index]
		if r.PCStart <= or.PCStart && r.PCEnd >= or.PCEnd && !(r.PCStart == or.PCStart && r.PCEnd == or.PCEnd && idx > o.index) {
			pos = i
			break
		}
	}
	f.ranges = append(f.ranges, activeRange{})
	copy(f.ranges[pos+1:], f.ranges[pos:])
	f.ranges[pos] = a
}

// handle looks for the innermost active range and, if one exists, transfers
// control to its handler with err on the stack. When the handler's stack
// would overflow, the range is dropped and a StackOverflow is returned for
// the remaining ranges to handle.
func (f *Frame) handle(err *RuntimeError) (bool, *RuntimeError) {
	if len(f.ranges) == 0 {
		return false, nil
	}
	a := f.ranges[len(f.ranges)-1]
	f.ranges = f.ranges[:len(f.ranges)-1]
	f.truncate(a.depth)
	if len(f.Stack) >= f.maxStack {
		return false, newError(StackOverflow, "operand stack overflow in %q entering handler at pc %d (max %d)",
			f.Name, f.Code.ExceptionRanges[a.index].HandlerPC, f.maxStack)
	}
	f.Stack = append(f.Stack, ErrorValue(err))
	f.PC = f.Code.ExceptionRanges[a.index].HandlerPC
	return true, nil
}
