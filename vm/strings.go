package vm

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ParseIndex resolves a string index against a string of length n runes.
// Integers and the forms "end", "end-K" and "end+K" are accepted.
func ParseIndex(v Value, n int) (int, error) {
	if i, ok := v.AsInt(); ok {
		return int(i), nil
	}
	// Integral doubles beyond int64 are simply out of range.
	if f, ok := v.AsNumber(); ok && f == math.Trunc(f) {
		if f > 0 {
			return n, nil
		}
		return -1, nil
	}
	s := strings.TrimSpace(v.String())
	if rest, ok := strings.CutPrefix(s, "end"); ok {
		if rest == "" {
			return n - 1, nil
		}
		if rest[0] == '-' || rest[0] == '+' {
			k, err := strconv.Atoi(rest[1:])
			if err == nil {
				if rest[0] == '-' {
					return n - 1 - k, nil
				}
				return n - 1 + k, nil
			}
		}
	}
	return 0, newError(ArgumentError, "bad index %q: must be integer or end?[+-]integer?", s)
}

// StringIndex returns the rune at index, or "" when out of range.
func StringIndex(s string, index Value) (Value, error) {
	runes := []rune(s)
	i, err := ParseIndex(index, len(runes))
	if err != nil {
		return Unset, err
	}
	if i < 0 || i >= len(runes) {
		return String(""), nil
	}
	return String(string(runes[i])), nil
}

// StringRange returns the runes first..last inclusive, clamped to the
// string. An empty or inverted range yields "".
func StringRange(s string, first, last Value) (Value, error) {
	runes := []rune(s)
	i, err := ParseIndex(first, len(runes))
	if err != nil {
		return Unset, err
	}
	j, err := ParseIndex(last, len(runes))
	if err != nil {
		return Unset, err
	}
	if i < 0 {
		i = 0
	}
	if j >= len(runes) {
		j = len(runes) - 1
	}
	if i > j {
		return String(""), nil
	}
	return String(string(runes[i : j+1])), nil
}

// StringLength returns the number of runes in s.
func StringLength(s string) Value {
	return Int(int64(utf8.RuneCountInString(s)))
}

// Concat joins the string forms of vals.
func Concat(vals []Value) Value {
	var sb strings.Builder
	for _, v := range vals {
		sb.WriteString(v.String())
	}
	return String(sb.String())
}
