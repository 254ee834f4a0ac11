package vm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ExecuteParallel runs code once per argument set, each on its own
// Interpreter, sharing code and table. Results are returned in argument
// order. The first failure cancels the remaining runs and is returned.
func ExecuteParallel(ctx context.Context, code *BytecodeObject, argSets [][]Value, table *CommandTable, cfg Config) ([]Value, error) {
	results := make([]Value, len(argSets))
	g, gctx := errgroup.WithContext(ctx)
	for idx, args := range argSets {
		g.Go(func() error {
			interp := NewInterpreter(table, cfg)
			v, err := interp.Execute(gctx, code, args)
			if err != nil {
				return fmt.Errorf("run %d: %w", idx, err)
			}
			results[idx] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
