package asm

import "fmt"

// MalformedAssembly reports an assembly failure. Line is 1-based; 0 means
// the failure concerns the object as a whole.
type MalformedAssembly struct {
	Line   int
	Reason string
}

func (e *MalformedAssembly) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("malformed assembly: %s", e.Reason)
	}
	return fmt.Sprintf("malformed assembly: line %d: %s", e.Line, e.Reason)
}

func errorf(line int, format string, args ...any) *MalformedAssembly {
	return &MalformedAssembly{Line: line, Reason: fmt.Sprintf(format, args...)}
}
