package vm

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("tbc.vm")

// ---------------------------------------------------------------------------
// Interpreter: bytecode execution engine
// ---------------------------------------------------------------------------

// Interpreter executes BytecodeObjects against a CommandTable. An
// Interpreter is single-threaded; run several for concurrency.
type Interpreter struct {
	Commands *CommandTable

	cfg    Config
	runID  uuid.UUID
	frames []*Frame
	budget *Budget
	ctx    context.Context
	depths map[*BytecodeObject]int // stack bounds computed for unbuilt objects
}

// NewInterpreter creates an interpreter. A nil table is replaced by an empty
// one.
func NewInterpreter(table *CommandTable, cfg Config) *Interpreter {
	if table == nil {
		table = NewCommandTable()
	}
	return &Interpreter{
		Commands: table,
		cfg:      cfg.withDefaults(),
		runID:    uuid.New(),
		frames:   make([]*Frame, 0, 16),
		depths:   make(map[*BytecodeObject]int),
	}
}

// Execute runs code with default configuration.
func Execute(code *BytecodeObject, args []Value, table *CommandTable) (Value, error) {
	return NewInterpreter(table, DefaultConfig()).Execute(context.Background(), code, args)
}

// RunID identifies this interpreter in log output.
func (i *Interpreter) RunID() uuid.UUID { return i.runID }

// Config returns the effective configuration.
func (i *Interpreter) Config() Config { return i.cfg }

// Depth returns the number of live frames.
func (i *Interpreter) Depth() int { return len(i.frames) }

// Budget returns the instruction budget of the current or last run.
func (i *Interpreter) Budget() *Budget { return i.budget }

// Execute runs code as a new frame with args bound to its parameters and
// returns the value of its final return or done. Uncaught errors are
// returned as *RuntimeError.
//
// Execute may be called from a builtin while the interpreter is running;
// the nested run shares the call depth limit and the instruction budget.
func (i *Interpreter) Execute(ctx context.Context, code *BytecodeObject, args []Value) (Value, error) {
	if code == nil {
		return Unset, newError(MalformedBytecode, "nil bytecode object")
	}
	return i.execute(ctx, code.Name, code, args)
}

// execute runs code in a frame called name.
func (i *Interpreter) execute(ctx context.Context, name string, code *BytecodeObject, args []Value) (Value, error) {
	if code == nil {
		return Unset, newError(MalformedBytecode, "nil bytecode object")
	}
	outer := len(i.frames) == 0
	if outer {
		if i.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, i.cfg.Timeout)
			defer cancel()
		}
		i.budget = NewBudget(i.cfg.InstructionBudget)
		log.Debugf("run %s: execute %q", i.runID, name)
	}
	prevCtx := i.ctx
	i.ctx = ctx
	defer func() { i.ctx = prevCtx }()

	if err := i.budget.Poll(ctx); err != nil {
		return Unset, err
	}

	base := len(i.frames)
	if err := i.pushFrame(name, code, args); err != nil {
		return Unset, err
	}
	v, err := i.run(base)
	if err != nil {
		i.frames = i.frames[:base]
		if outer {
			log.Debugf("run %s: %q failed: %s", i.runID, name, err)
		}
		return Unset, err
	}
	return v, nil
}

// Call invokes a registered command by name. It is intended for builtins
// that call back into bytecode.
func (i *Interpreter) Call(name string, args ...Value) (Value, error) {
	cmd, ok := i.Commands.Lookup(name)
	if !ok {
		return Unset, newError(UnresolvedCommand, "invalid command name %q", name)
	}
	switch c := cmd.(type) {
	case *Builtin:
		return i.callBuiltin(c, args)
	case *Procedure:
		ctx := i.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		return i.execute(ctx, c.Name, c.Code, args)
	}
	return Unset, newError(UnresolvedCommand, "invalid command name %q", name)
}

// ---------------------------------------------------------------------------
// Frame management
// ---------------------------------------------------------------------------

func (i *Interpreter) pushFrame(name string, code *BytecodeObject, args []Value) error {
	if len(i.frames) >= i.cfg.MaxCallDepth {
		return newError(StackOverflow, "too many nested evaluations (max call depth %d)", i.cfg.MaxCallDepth)
	}
	if len(args) != code.NumParams {
		return newError(ArgumentError, "wrong # args for %q: got %d, want %d", name, len(args), code.NumParams)
	}
	if len(args) > code.NumLocals {
		return newError(MalformedBytecode, "%q has %d params but %d locals", name, code.NumParams, code.NumLocals)
	}
	maxStack, err := i.maxStack(code)
	if err != nil {
		return err
	}
	i.frames = append(i.frames, newFrame(name, code, maxStack, args))
	return nil
}

func (i *Interpreter) popFrame() *Frame {
	f := i.frames[len(i.frames)-1]
	i.frames[len(i.frames)-1] = nil
	i.frames = i.frames[:len(i.frames)-1]
	return f
}

// maxStack returns the operand stack bound for code. Objects produced by
// Builder.Build carry it; hand-constructed ones are analysed on first use.
func (i *Interpreter) maxStack(code *BytecodeObject) (int, error) {
	if code.MaxStackDepth > 0 || len(code.Instructions) == 0 {
		return code.MaxStackDepth, nil
	}
	if d, ok := i.depths[code]; ok {
		return d, nil
	}
	d, err := StackDepth(code)
	if err != nil {
		return 0, newError(MalformedBytecode, "%q: %v", code.Name, err)
	}
	i.depths[code] = d
	return d, nil
}

// ---------------------------------------------------------------------------
// Main interpreter loop
// ---------------------------------------------------------------------------

// run executes until the frame at index base returns.
func (i *Interpreter) run(base int) (Value, error) {
	for {
		f := i.frames[len(i.frames)-1]
		code := f.Code

		if f.PC >= len(code.Instructions) {
			// Falling off the end behaves like done.
			v, _ := f.top()
			if result, finished, err := i.returnFrom(v, base); err != nil {
				if err = i.unwind(err, base); err != nil {
					return Unset, err
				}
				continue
			} else if finished {
				return result, nil
			}
			continue
		}

		f.syncRanges()
		pc := f.PC
		in := code.Instructions[pc]
		f.PC++

		err := i.budget.Charge(i.ctx)
		if err == nil {
			if i.cfg.Trace {
				log.Debugf("run %s: %s (%d) %s  depth %d", i.runID, f.Name, pc, in, len(f.Stack))
			}
			var result Value
			var finished bool
			result, finished, err = i.step(f, pc, in, base)
			if err == nil && finished {
				return result, nil
			}
		}
		if err != nil {
			if err = i.unwind(err, base); err != nil {
				return Unset, err
			}
		}
	}
}

// step executes one instruction of frame f. finished is set when the base
// frame returned; result then holds its value.
func (i *Interpreter) step(f *Frame, pc int, in Instruction, base int) (result Value, finished bool, err error) {
	code := f.Code
	switch in.Op {
	case OpNop:

	case OpPush1, OpPush4:
		v, ok := code.ConstantAt(int(in.Operand))
		if !ok {
			return Unset, false, newError(MalformedBytecode, "constant index %d out of range at pc %d", in.Operand, pc)
		}
		err = f.push(v)

	case OpPop:
		_, err = f.pop()

	case OpDup:
		v, ok := f.top()
		if !ok {
			return Unset, false, newError(MalformedBytecode, "operand stack underflow at pc %d", pc)
		}
		err = f.push(v)

	case OpLoad1, OpLoad4:
		slot, serr := f.slot(in.Operand, pc)
		if serr != nil {
			return Unset, false, serr
		}
		err = f.push(f.Locals[slot])

	case OpStore1, OpStore4:
		slot, serr := f.slot(in.Operand, pc)
		if serr != nil {
			return Unset, false, serr
		}
		var v Value
		if v, err = f.pop(); err == nil {
			f.Locals[slot] = v
		}

	case OpIncr1, OpIncr4:
		slot, serr := f.slot(in.Operand, pc)
		if serr != nil {
			return Unset, false, serr
		}
		var amount Value
		if amount, err = f.pop(); err != nil {
			break
		}
		cur := f.Locals[slot]
		if cur.IsUnset() {
			cur = Int(0)
		}
		var sum Value
		if sum, err = Arith(OpAdd, cur, amount); err != nil {
			break
		}
		f.Locals[slot] = sum
		err = f.push(sum)

	case OpAdd, OpSub, OpMult, OpDiv, OpMod:
		var args []Value
		if args, err = f.popN(2); err != nil {
			break
		}
		var v Value
		if v, err = Arith(in.Op, args[0], args[1]); err == nil {
			err = f.push(v)
		}

	case OpEq, OpNe, OpGt, OpGe, OpLt, OpLe:
		var args []Value
		if args, err = f.popN(2); err != nil {
			break
		}
		var v Value
		if v, err = CompareOp(in.Op, args[0], args[1]); err == nil {
			err = f.push(v)
		}

	case OpJump1, OpJump4:
		err = f.jump(in, pc)

	case OpJumpTrue1, OpJumpTrue4, OpJumpFalse1, OpJumpFalse4:
		var cond Value
		if cond, err = f.pop(); err != nil {
			break
		}
		var truth bool
		if truth, err = cond.Truthy(); err != nil {
			break
		}
		want := in.Op == OpJumpTrue1 || in.Op == OpJumpTrue4
		if truth == want {
			err = f.jump(in, pc)
		}

	case OpJumpTable4:
		if in.Operand < 0 || in.Operand >= int64(len(code.AuxData)) {
			return Unset, false, newError(MalformedBytecode, "aux index %d out of range at pc %d", in.Operand, pc)
		}
		var key Value
		if key, err = f.pop(); err != nil {
			break
		}
		if off, ok := code.AuxData[in.Operand].Entries[key.String()]; ok {
			err = f.jumpTo(pc+1+int(off), pc)
		}

	case OpInvoke1, OpInvoke4:
		err = i.invoke(f, int(in.Operand))

	case OpReturn:
		var v Value
		if v, err = f.pop(); err != nil {
			break
		}
		return i.returnFrom(v, base)

	case OpDone:
		v, _ := f.top()
		return i.returnFrom(v, base)

	case OpThrow:
		var v Value
		if v, err = f.pop(); err != nil {
			break
		}
		if e := v.Err(); e != nil {
			return Unset, false, &RuntimeError{Kind: e.Kind, Message: e.Message}
		}
		return Unset, false, newError(UserError, "%s", v.String())

	case OpStrcat1, OpStrcat4:
		var vals []Value
		if vals, err = f.popN(int(in.Operand)); err == nil {
			err = f.push(Concat(vals))
		}

	case OpStrcmp:
		var args []Value
		if args, err = f.popN(2); err == nil {
			c := 0
			switch a, b := args[0].String(), args[1].String(); {
			case a < b:
				c = -1
			case a > b:
				c = 1
			}
			err = f.push(Int(int64(c)))
		}

	case OpStrlen:
		var v Value
		if v, err = f.pop(); err == nil {
			err = f.push(StringLength(v.String()))
		}

	case OpStrindex:
		var args []Value
		if args, err = f.popN(2); err != nil {
			break
		}
		var v Value
		if v, err = StringIndex(args[0].String(), args[1]); err == nil {
			err = f.push(v)
		}

	case OpStrrange:
		var args []Value
		if args, err = f.popN(3); err != nil {
			break
		}
		var v Value
		if v, err = StringRange(args[0].String(), args[1], args[2]); err == nil {
			err = f.push(v)
		}

	default:
		return Unset, false, newError(MalformedBytecode, "unknown opcode 0x%02X at pc %d", byte(in.Op), pc)
	}
	return Unset, false, err
}

func (f *Frame) slot(operand int64, pc int) (int, error) {
	if operand < 0 || operand >= int64(len(f.Locals)) {
		return 0, newError(MalformedBytecode, "local slot %d out of range at pc %d", operand, pc)
	}
	return int(operand), nil
}

func (f *Frame) jump(in Instruction, pc int) error {
	return f.jumpTo(in.Target(pc), pc)
}

func (f *Frame) jumpTo(target, pc int) error {
	if target < 0 || target > len(f.Code.Instructions) {
		return newError(MalformedBytecode, "jump target %d out of range at pc %d", target, pc)
	}
	f.PC = target
	return nil
}

// returnFrom pops the current frame and delivers v to the caller. finished
// reports that the base frame of this run returned.
func (i *Interpreter) returnFrom(v Value, base int) (Value, bool, error) {
	i.popFrame()
	if len(i.frames) == base {
		return v, true, nil
	}
	return Unset, false, i.frames[len(i.frames)-1].push(v)
}

// ---------------------------------------------------------------------------
// Command invocation
// ---------------------------------------------------------------------------

func (i *Interpreter) invoke(f *Frame, argc int) error {
	vals, err := f.popN(argc + 1)
	if err != nil {
		return err
	}
	target, args := vals[0], vals[1:]

	if code := target.Code(); code != nil {
		return i.pushFrame(code.Name, code, args)
	}

	name := target.String()
	cmd, ok := i.Commands.Lookup(name)
	if !ok {
		return newError(UnresolvedCommand, "invalid command name %q", name)
	}
	switch c := cmd.(type) {
	case *Builtin:
		v, err := i.callBuiltin(c, args)
		if err != nil {
			return err
		}
		return f.push(v)
	case *Procedure:
		if c.Code == nil {
			return newError(MalformedBytecode, "procedure %q has no code", name)
		}
		return i.pushFrame(c.Name, c.Code, args)
	}
	return newError(UnresolvedCommand, "invalid command name %q", name)
}

func (i *Interpreter) callBuiltin(b *Builtin, args []Value) (Value, error) {
	if err := b.CheckArity(len(args)); err != nil {
		return Unset, err
	}
	v, err := b.Fn(i, args)
	if err != nil {
		var re *RuntimeError
		if errors.As(err, &re) {
			return Unset, re
		}
		return Unset, newError(UserError, "%s: %v", b.Name, err)
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Error recovery
// ---------------------------------------------------------------------------

// unwind delivers err to the innermost active exception range, popping
// frames that have none. It returns nil once a handler has control, or the
// error annotated with a trace when no frame above base handles it.
func (i *Interpreter) unwind(err error, base int) error {
	var re *RuntimeError
	if !errors.As(err, &re) {
		re = newError(UserError, "%v", err)
	}
	for len(i.frames) > base {
		f := i.frames[len(i.frames)-1]
		if re.Kind.Recoverable() && !i.budget.spent(re) {
			handled, overflow := f.handle(re)
			if overflow != nil {
				re = overflow
				continue
			}
			if handled {
				i.budget.delivered(re)
				log.Debugf("run %s: %s caught in %q, handler at pc %d", i.runID, re.Kind, f.Name, f.PC)
				return nil
			}
		}
		pc := f.PC - 1
		entry := TraceEntry{Name: f.Name, PC: pc}
		if idx, ok := f.Code.CommandAt(pc); ok {
			entry.Command = f.Code.CommandText(idx)
		}
		re = re.withTrace(entry)
		i.popFrame()
	}
	return re
}

// String describes the interpreter for debugging.
func (i *Interpreter) String() string {
	return fmt.Sprintf("Interpreter{run %s, depth %d}", i.runID, len(i.frames))
}
