package native

import "testing"

func TestRuntimeCostAccounter(t *testing.T) {
	t.Run("allocation under threshold returns no error", func(t *testing.T) {
		a := NewRuntimeCostAccounter(10, 10, 10, 10)
		for i := 0; i < 9; i++ {
			if err := a.RecordAllocation(); err != nil {
				t.Fatalf("RecordAllocation() iteration %d: unexpected error %v", i, err)
			}
		}
	})

	t.Run("allocation at threshold returns ThresholdViolationError", func(t *testing.T) {
		a := NewRuntimeCostAccounter(3, 0, 0, 0)
		var err error
		for i := 0; i < 3; i++ {
			err = a.RecordAllocation()
		}
		if err == nil {
			t.Fatalf("RecordAllocation(): expected error at threshold, got nil")
		}
		tv, ok := err.(*ThresholdViolationError)
		if !ok {
			t.Fatalf("RecordAllocation(): got error of type %T, want *ThresholdViolationError", err)
		}
		if tv.Category != "allocation" {
			t.Errorf("Category: got %q, want %q", tv.Category, "allocation")
		}
	})

	t.Run("categories are accounted independently", func(t *testing.T) {
		a := NewRuntimeCostAccounter(1000, 1000, 1000, 1000)
		if err := a.RecordJump(); err != nil {
			t.Fatalf("RecordJump(): unexpected error %v", err)
		}
		if err := a.RecordThrow(); err != nil {
			t.Fatalf("RecordThrow(): unexpected error %v", err)
		}
		allocations, invocations, jumps, throws := a.Counts()
		if allocations != 0 || invocations != 0 || jumps != 1 || throws != 1 {
			t.Errorf("Counts(): got (%d, %d, %d, %d), want (0, 0, 1, 1)", allocations, invocations, jumps, throws)
		}
	})

	t.Run("invocation threshold of zero trips immediately", func(t *testing.T) {
		a := NewRuntimeCostAccounter(0, 0, 0, 0)
		if err := a.RecordInvocation(); err == nil {
			t.Fatalf("RecordInvocation(): expected immediate violation with zero threshold")
		}
	})
}
