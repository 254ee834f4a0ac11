package vm

import (
	"io"
	"os"
	"time"
)

// DefaultMaxCallDepth bounds procedure nesting when Config.MaxCallDepth is 0.
const DefaultMaxCallDepth = 1000

// Config holds interpreter limits and host hooks.
type Config struct {
	// MaxCallDepth limits the number of live frames. Exceeding it raises
	// StackOverflow.
	MaxCallDepth int

	// InstructionBudget caps the dispatches of one Execute call
	// (0 = unlimited). Exhaustion raises Cancelled.
	InstructionBudget int64

	// Timeout, if positive, bounds the wall-clock time of one Execute call.
	Timeout time.Duration

	// Trace logs every dispatch at debug level.
	Trace bool

	// Stdout receives output from the puts builtin. Defaults to os.Stdout.
	Stdout io.Writer
}

// DefaultConfig returns the configuration used by the package-level Execute.
func DefaultConfig() Config {
	return Config{MaxCallDepth: DefaultMaxCallDepth, Stdout: os.Stdout}
}

func (c Config) withDefaults() Config {
	if c.MaxCallDepth <= 0 {
		c.MaxCallDepth = DefaultMaxCallDepth
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	return c
}
