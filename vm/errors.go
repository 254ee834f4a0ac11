package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies runtime errors.
type ErrorKind uint8

const (
	// MalformedBytecode is raised for structurally invalid code: bad pool or
	// slot indices, jumps outside the instruction array, operand stack
	// underflow. It is never intercepted by an exception range.
	MalformedBytecode ErrorKind = iota + 1
	ArithmeticError
	UnresolvedCommand
	StackOverflow
	Cancelled
	ArgumentError
	UserError
)

var errorKindNames = map[ErrorKind]string{
	MalformedBytecode: "MalformedBytecode",
	ArithmeticError:   "ArithmeticError",
	UnresolvedCommand: "UnresolvedCommand",
	StackOverflow:     "StackOverflow",
	Cancelled:         "Cancelled",
	ArgumentError:     "ArgumentError",
	UserError:         "UserError",
}

func (k ErrorKind) String() string {
	if s, ok := errorKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// Recoverable reports whether an exception range may intercept errors of
// this kind.
func (k ErrorKind) Recoverable() bool {
	return k != MalformedBytecode
}

// ParseErrorKind is the inverse of ErrorKind.String.
func ParseErrorKind(s string) (ErrorKind, bool) {
	for k, name := range errorKindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// TraceEntry records one frame an error unwound through.
type TraceEntry struct {
	Name    string // procedure name
	PC      int    // pc of the failing instruction or the invoke
	Command string // source text of the enclosing command, if known
}

// RuntimeError is the error type produced by the interpreter.
type RuntimeError struct {
	Kind    ErrorKind
	Message string
	Trace   []TraceEntry
}

func newError(kind ErrorKind, format string, args ...any) *RuntimeError {
	return &RuntimeError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *RuntimeError) Error() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s", e.Kind, e.Message)
	for _, t := range e.Trace {
		fmt.Fprintf(&sb, "\n    in %q at pc %d", t.Name, t.PC)
		if t.Command != "" {
			fmt.Fprintf(&sb, ": %s", t.Command)
		}
	}
	return sb.String()
}

// withTrace returns a copy of e with entry appended. Errors captured as
// values by a handler keep the trace they had at that point.
func (e *RuntimeError) withTrace(entry TraceEntry) *RuntimeError {
	cp := *e
	cp.Trace = append(append([]TraceEntry(nil), e.Trace...), entry)
	return &cp
}

// IsKind reports whether err is (or wraps) a RuntimeError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}

// StackError reports a static stack analysis failure.
type StackError struct {
	PC     int
	Reason string
}

func (e *StackError) Error() string {
	return fmt.Sprintf("stack analysis: pc %d: %s", e.PC, e.Reason)
}

// ValidationError reports a structurally invalid BytecodeObject detected
// by Builder.Build or when loading an image.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid bytecode: %s: %s", e.Field, e.Reason)
}
