// Package vm implements the tbc bytecode virtual machine.
//
// This package contains:
//   - the dynamically-typed Value representation
//   - the opcode table and the immutable BytecodeObject format
//   - static operand-stack analysis
//   - the command table (builtins and bytecode procedures)
//   - the interpreter loop with explicit call frames and exception ranges
//   - a CBOR image codec for storing assembled bytecode
//
// # Execution model
//
// A BytecodeObject is executed by an Interpreter against a stack of Frames.
// Each Frame owns an operand stack, an array of local slots and the set of
// exception ranges it has entered. Invoking a procedure pushes a new Frame;
// returning pops it and pushes the result onto the caller's operand stack.
// The host Go stack is never used for bytecode recursion, so call depth is
// bounded by Config.MaxCallDepth and overflow is reported as an error.
//
// # Errors
//
// Runtime errors are *RuntimeError values tagged with an ErrorKind. Every
// kind except MalformedBytecode can be intercepted by an ExceptionRange;
// uncaught errors unwind frame by frame and are returned from Execute.
//
// BytecodeObjects are never mutated after Builder.Build returns, so a single
// object may be executed by any number of Interpreters concurrently.
package vm
