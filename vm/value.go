package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the dynamic type of a Value.
type Kind uint8

const (
	KindUnset Kind = iota
	KindString
	KindInt
	KindDouble
	KindCode
	KindError
)

// String returns the kind name used in listings and error messages.
func (k Kind) String() string {
	switch k {
	case KindUnset:
		return "unset"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindCode:
		return "code"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Value is an immutable, dynamically-typed runtime value. The zero Value is
// Unset. Values are passed by copy; Code and Error values share their
// referent, which is itself never mutated.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	ref  any
}

// Unset is the empty value produced by `done` on an empty stack and used to
// initialise local slots.
var Unset = Value{}

// String creates a string value.
func String(s string) Value {
	return Value{kind: KindString, s: s}
}

// Int creates an integer value.
func Int(i int64) Value {
	return Value{kind: KindInt, i: i}
}

// Double creates a floating point value.
func Double(f float64) Value {
	return Value{kind: KindDouble, f: f}
}

// Bool encodes a boolean as integer 1 or 0.
func Bool(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}

// CodeValue wraps a bytecode object so it can live in a constant pool or on
// the operand stack.
func CodeValue(c *BytecodeObject) Value {
	return Value{kind: KindCode, ref: c}
}

// ErrorValue wraps a runtime error. Handlers receive one of these on top of
// their operand stack.
func ErrorValue(e *RuntimeError) Value {
	return Value{kind: KindError, ref: e}
}

// Kind returns the dynamic type of v.
func (v Value) Kind() Kind { return v.kind }

// IsUnset reports whether v is the Unset value.
func (v Value) IsUnset() bool { return v.kind == KindUnset }

// Code returns the wrapped bytecode object, or nil.
func (v Value) Code() *BytecodeObject {
	if v.kind != KindCode {
		return nil
	}
	c, _ := v.ref.(*BytecodeObject)
	return c
}

// Err returns the wrapped runtime error, or nil.
func (v Value) Err() *RuntimeError {
	if v.kind != KindError {
		return nil
	}
	e, _ := v.ref.(*RuntimeError)
	return e
}

// String returns the string form of v. Every value has one; string
// operations and lexicographic comparison work on it.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindDouble:
		return formatDouble(v.f)
	case KindCode:
		if c := v.Code(); c != nil {
			return fmt.Sprintf("<code %q>", c.Name)
		}
		return "<code>"
	case KindError:
		if e := v.Err(); e != nil {
			return e.Message
		}
		return ""
	default:
		return ""
	}
}

// Repr returns a literal rendering of v: strings are quoted, numbers are
// bare. The disassembler uses it for constant annotations.
func (v Value) Repr() string {
	switch v.kind {
	case KindString:
		return strconv.Quote(v.s)
	case KindUnset:
		return "unset"
	case KindError:
		if e := v.Err(); e != nil {
			return fmt.Sprintf("<%s %q>", e.Kind, e.Message)
		}
		return "<error>"
	default:
		return v.String()
	}
}

func formatDouble(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	case math.IsNaN(f):
		return "NaN"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}

// ---------------------------------------------------------------------------
// Numeric coercion
// ---------------------------------------------------------------------------

// number is the result of coercing a value for arithmetic.
type number struct {
	isInt bool
	i     int64
	f     float64
}

func (n number) float() float64 {
	if n.isInt {
		return float64(n.i)
	}
	return n.f
}

func (n number) value() Value {
	if n.isInt {
		return Int(n.i)
	}
	return Double(n.f)
}

// parseNumber reports whether s looks like a number: a decimal or 0x-prefixed
// integer, or a floating point literal. Surrounding whitespace is ignored.
func parseNumber(s string) (number, bool) {
	t := strings.TrimSpace(s)
	if t == "" {
		return number{}, false
	}
	if i, err := strconv.ParseInt(t, 10, 64); err == nil {
		return number{isInt: true, i: i}, true
	}
	if i, err := strconv.ParseInt(t, 0, 64); err == nil {
		return number{isInt: true, i: i}, true
	}
	if f, err := strconv.ParseFloat(t, 64); err == nil {
		return number{f: f}, true
	}
	return number{}, false
}

func (v Value) number() (number, bool) {
	switch v.kind {
	case KindInt:
		return number{isInt: true, i: v.i}, true
	case KindDouble:
		return number{f: v.f}, true
	case KindString:
		return parseNumber(v.s)
	default:
		return number{}, false
	}
}

// IsNumeric reports whether v is a number or a numeric-looking string.
func (v Value) IsNumeric() bool {
	_, ok := v.number()
	return ok
}

// twoTo63 is the smallest double outside the int64 range.
const twoTo63 = 1 << 63

// AsInt returns v as an integer. Doubles with a fractional part or outside
// the int64 range, and non-numeric values, are rejected.
func (v Value) AsInt() (int64, bool) {
	n, ok := v.number()
	if !ok {
		return 0, false
	}
	if n.isInt {
		return n.i, true
	}
	if n.f != math.Trunc(n.f) || math.IsNaN(n.f) || n.f >= twoTo63 || n.f < -twoTo63 {
		return 0, false
	}
	return int64(n.f), true
}

// AsNumber returns v as a float64 if it is numeric-looking.
func (v Value) AsNumber() (float64, bool) {
	n, ok := v.number()
	if !ok {
		return 0, false
	}
	return n.float(), true
}

// Truthy interprets v as a condition. Numbers are true when non-zero;
// strings may also spell true/yes/on or false/no/off. Anything else is an
// ArithmeticError.
func (v Value) Truthy() (bool, error) {
	if v.kind == KindUnset {
		return false, nil
	}
	if n, ok := v.number(); ok {
		if n.isInt {
			return n.i != 0, nil
		}
		return n.f != 0, nil
	}
	if v.kind == KindString {
		switch strings.ToLower(strings.TrimSpace(v.s)) {
		case "true", "yes", "on":
			return true, nil
		case "false", "no", "off":
			return false, nil
		}
	}
	return false, newError(ArithmeticError, "expected boolean value but got %q", v.String())
}

// Equal reports whether a and b are identical values of the same kind. It is
// used for constant interning, not for the eq opcode.
func (a Value) Equal(b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindUnset:
		return true
	case KindString:
		return a.s == b.s
	case KindInt:
		return a.i == b.i
	case KindDouble:
		return math.Float64bits(a.f) == math.Float64bits(b.f)
	default:
		return a.ref == b.ref
	}
}
