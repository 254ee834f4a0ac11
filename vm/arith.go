package vm

import (
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

func operands(op Opcode, a, b Value) (number, number, error) {
	x, ok := a.number()
	if !ok {
		return x, x, newError(ArithmeticError, "can't use non-numeric string %q as operand of %q", a.String(), op)
	}
	y, ok := b.number()
	if !ok {
		return x, y, newError(ArithmeticError, "can't use non-numeric string %q as operand of %q", b.String(), op)
	}
	return x, y, nil
}

// Arith applies a binary arithmetic opcode (add, sub, mult, div, mod).
// Integer results that overflow int64 are promoted to doubles.
func Arith(op Opcode, a, b Value) (Value, error) {
	x, y, err := operands(op, a, b)
	if err != nil {
		return Unset, err
	}
	if x.isInt && y.isInt {
		return intArith(op, x.i, y.i)
	}
	return floatArith(op, x.float(), y.float())
}

func intArith(op Opcode, a, b int64) (Value, error) {
	switch op {
	case OpAdd:
		s := a + b
		if (a^s)&(b^s) < 0 {
			return Double(float64(a) + float64(b)), nil
		}
		return Int(s), nil
	case OpSub:
		s := a - b
		if (a^b)&(a^s) < 0 {
			return Double(float64(a) - float64(b)), nil
		}
		return Int(s), nil
	case OpMult:
		if a == 0 || b == 0 {
			return Int(0), nil
		}
		s := a * b
		if s/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
			return Double(float64(a) * float64(b)), nil
		}
		return Int(s), nil
	case OpDiv:
		if b == 0 {
			return Unset, newError(ArithmeticError, "divide by zero")
		}
		if a == math.MinInt64 && b == -1 {
			return Double(-float64(a)), nil
		}
		q := a / b
		if a%b != 0 && (a < 0) != (b < 0) {
			q--
		}
		return Int(q), nil
	case OpMod:
		if b == 0 {
			return Unset, newError(ArithmeticError, "divide by zero")
		}
		r := a % b
		if r != 0 && (r < 0) != (b < 0) {
			r += b
		}
		return Int(r), nil
	}
	return Unset, newError(MalformedBytecode, "%s is not an arithmetic opcode", op)
}

func floatArith(op Opcode, a, b float64) (Value, error) {
	switch op {
	case OpAdd:
		return Double(a + b), nil
	case OpSub:
		return Double(a - b), nil
	case OpMult:
		return Double(a * b), nil
	case OpDiv:
		if b == 0 {
			return Unset, newError(ArithmeticError, "divide by zero")
		}
		return Double(a / b), nil
	case OpMod:
		if b == 0 {
			return Unset, newError(ArithmeticError, "divide by zero")
		}
		r := math.Mod(a, b)
		if r != 0 && (r < 0) != (b < 0) {
			r += b
		}
		return Double(r), nil
	}
	return Unset, newError(MalformedBytecode, "%s is not an arithmetic opcode", op)
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

// Unordered is returned by Compare when a numeric operand is NaN.
const Unordered = 2

// Compare orders a and b: numerically when both look numeric, otherwise by
// their string forms. The result is -1, 0, 1 or Unordered.
func Compare(a, b Value) int {
	x, xok := a.number()
	y, yok := b.number()
	if xok && yok {
		if x.isInt && y.isInt {
			switch {
			case x.i < y.i:
				return -1
			case x.i > y.i:
				return 1
			}
			return 0
		}
		xf, yf := x.float(), y.float()
		if math.IsNaN(xf) || math.IsNaN(yf) {
			return Unordered
		}
		switch {
		case xf < yf:
			return -1
		case xf > yf:
			return 1
		}
		return 0
	}
	return strings.Compare(a.String(), b.String())
}

// CompareOp applies a comparison opcode and returns Int(1) or Int(0).
func CompareOp(op Opcode, a, b Value) (Value, error) {
	c := Compare(a, b)
	if c == Unordered {
		switch op {
		case OpEq, OpGt, OpGe, OpLt, OpLe:
			return Bool(false), nil
		case OpNe:
			return Bool(true), nil
		}
		return Unset, newError(MalformedBytecode, "%s is not a comparison opcode", op)
	}
	switch op {
	case OpEq:
		return Bool(c == 0), nil
	case OpNe:
		return Bool(c != 0), nil
	case OpGt:
		return Bool(c > 0), nil
	case OpGe:
		return Bool(c >= 0), nil
	case OpLt:
		return Bool(c < 0), nil
	case OpLe:
		return Bool(c <= 0), nil
	}
	return Unset, newError(MalformedBytecode, "%s is not a comparison opcode", op)
}
