package vm

import (
	"fmt"
	"math"
	"strings"
)

// StandardBuiltins returns the host commands every CLI run starts with.
func StandardBuiltins() []*Builtin {
	return []*Builtin{
		{Name: "puts", MinArgs: 1, MaxArgs: 2, Fn: builtinPuts},
		{Name: "concat", MinArgs: 0, MaxArgs: -1, Fn: builtinConcat},
		{Name: "error", MinArgs: 1, MaxArgs: 1, Fn: builtinError},
		{Name: "expr::abs", MinArgs: 1, MaxArgs: 1, Fn: builtinAbs},
		{Name: "expr::max", MinArgs: 1, MaxArgs: -1, Fn: builtinMax},
		{Name: "expr::min", MinArgs: 1, MaxArgs: -1, Fn: builtinMin},
		{Name: "expr::double", MinArgs: 1, MaxArgs: 1, Fn: builtinDouble},
		{Name: "expr::int", MinArgs: 1, MaxArgs: 1, Fn: builtinInt},
		{Name: "string::toupper", MinArgs: 1, MaxArgs: 1, Fn: builtinToUpper},
		{Name: "string::tolower", MinArgs: 1, MaxArgs: 1, Fn: builtinToLower},
		{Name: "string::repeat", MinArgs: 2, MaxArgs: 2, Fn: builtinRepeat},
	}
}

// puts ?-nonewline? string
func builtinPuts(interp *Interpreter, args []Value) (Value, error) {
	text, newline := args[len(args)-1].String(), true
	if len(args) == 2 {
		if args[0].String() != "-nonewline" {
			return Unset, newError(ArgumentError, "bad option %q: must be -nonewline", args[0].String())
		}
		newline = false
	}
	w := interp.cfg.Stdout
	var err error
	if newline {
		_, err = fmt.Fprintln(w, text)
	} else {
		_, err = fmt.Fprint(w, text)
	}
	if err != nil {
		return Unset, fmt.Errorf("write: %w", err)
	}
	return String(""), nil
}

func builtinConcat(_ *Interpreter, args []Value) (Value, error) {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if s := strings.TrimSpace(a.String()); s != "" {
			parts = append(parts, s)
		}
	}
	return String(strings.Join(parts, " ")), nil
}

func builtinError(_ *Interpreter, args []Value) (Value, error) {
	return Unset, newError(UserError, "%s", args[0].String())
}

func numericArg(name string, v Value) (number, error) {
	n, ok := v.number()
	if !ok {
		return n, newError(ArithmeticError, "%s: expected number but got %q", name, v.String())
	}
	return n, nil
}

func builtinAbs(_ *Interpreter, args []Value) (Value, error) {
	n, err := numericArg("abs", args[0])
	if err != nil {
		return Unset, err
	}
	if n.isInt {
		if n.i == math.MinInt64 {
			return Double(-float64(n.i)), nil
		}
		if n.i < 0 {
			return Int(-n.i), nil
		}
		return Int(n.i), nil
	}
	return Double(math.Abs(n.f)), nil
}

func extremum(name string, args []Value, want int) (Value, error) {
	best := args[0]
	if _, err := numericArg(name, best); err != nil {
		return Unset, err
	}
	for _, a := range args[1:] {
		if _, err := numericArg(name, a); err != nil {
			return Unset, err
		}
		if Compare(a, best) == want {
			best = a
		}
	}
	n, _ := best.number()
	return n.value(), nil
}

func builtinMax(_ *Interpreter, args []Value) (Value, error) {
	return extremum("max", args, 1)
}

func builtinMin(_ *Interpreter, args []Value) (Value, error) {
	return extremum("min", args, -1)
}

func builtinDouble(_ *Interpreter, args []Value) (Value, error) {
	n, err := numericArg("double", args[0])
	if err != nil {
		return Unset, err
	}
	return Double(n.float()), nil
}

// int truncates toward zero.
func builtinInt(_ *Interpreter, args []Value) (Value, error) {
	n, err := numericArg("int", args[0])
	if err != nil {
		return Unset, err
	}
	if n.isInt {
		return Int(n.i), nil
	}
	if math.IsNaN(n.f) || math.IsInf(n.f, 0) || n.f >= math.MaxInt64 || n.f < math.MinInt64 {
		return Unset, newError(ArithmeticError, "integer value too large to represent")
	}
	return Int(int64(n.f)), nil
}

func builtinToUpper(_ *Interpreter, args []Value) (Value, error) {
	return String(strings.ToUpper(args[0].String())), nil
}

func builtinToLower(_ *Interpreter, args []Value) (Value, error) {
	return String(strings.ToLower(args[0].String())), nil
}

func builtinRepeat(_ *Interpreter, args []Value) (Value, error) {
	count, ok := args[1].AsInt()
	if !ok {
		return Unset, newError(ArgumentError, "expected integer but got %q", args[1].String())
	}
	if count <= 0 {
		return String(""), nil
	}
	s := args[0].String()
	if int64(len(s))*count > 1<<24 {
		return Unset, newError(ArgumentError, "result of string repeat exceeds maximum size")
	}
	return String(strings.Repeat(s, int(count))), nil
}
