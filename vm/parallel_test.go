package vm

import (
	"context"
	"sync"
	"testing"
)

func TestExecuteParallel(t *testing.T) {
	fact := factorial(t)
	table := NewCommandTable()
	table.RegisterProc("fact", fact)

	argSets := make([][]Value, 8)
	for i := range argSets {
		argSets[i] = []Value{Int(int64(i))}
	}
	results, err := ExecuteParallel(context.Background(), fact, argSets, table, Config{})
	if err != nil {
		t.Fatalf("ExecuteParallel failed: %v", err)
	}
	want := []int64{1, 1, 2, 6, 24, 120, 720, 5040}
	for i, w := range want {
		if !results[i].Equal(Int(w)) {
			t.Errorf("results[%d] = %s, want %d", i, results[i], w)
		}
	}
}

func TestExecuteParallelFailure(t *testing.T) {
	table := NewCommandTable()
	table.RegisterProc("fact", factorial(t))
	argSets := [][]Value{{Int(3)}, {String("abc")}}
	_, err := ExecuteParallel(context.Background(), factorial(t), argSets, table, Config{})
	if !IsKind(err, ArithmeticError) {
		t.Fatalf("error = %v, want ArithmeticError", err)
	}
}

func TestCommandTableConcurrentAccess(t *testing.T) {
	table := NewStandardTable()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				table.Register(&Builtin{Name: "tmp", Fn: builtinConcat})
				table.Lookup("puts")
				table.Remove("tmp")
			}
		}()
	}
	wg.Wait()
	if _, ok := table.Lookup("tmp"); ok {
		t.Error("tmp should have been removed")
	}
}

func TestCommandTableSnapshot(t *testing.T) {
	table := NewStandardTable()
	snap := table.Snapshot()
	table.Remove("puts")
	if _, ok := snap.Lookup("puts"); !ok {
		t.Error("snapshot should keep puts")
	}
	if _, ok := table.Lookup("puts"); ok {
		t.Error("puts should be removed from the original")
	}
	if got := snap.Len(); got != len(StandardBuiltins()) {
		t.Errorf("snapshot has %d commands, want %d", got, len(StandardBuiltins()))
	}
	names := snap.Names()
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("Names not sorted: %v", names)
		}
	}
}
