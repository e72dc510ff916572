package native

import "fmt"

// ThresholdViolationError is the Go-side counterpart of the
// sandbox/runtime/ThresholdViolationException a rewritten class's injected
// accounting calls are compiled to throw once a cost category's budget is
// exceeded. The VM turns this into the actual thrown exception object; here
// it is just the signal that a RuntimeCostAccounter method raises.
type ThresholdViolationError struct {
	Category string
	Count    int64
	Limit    int64
}

func (e *ThresholdViolationError) Error() string {
	return fmt.Sprintf("sandbox: %s threshold exceeded (%d >= %d)", e.Category, e.Count, e.Limit)
}

// RuntimeCostAccounter backs the four injected accounting calls
// (recordAllocation/recordInvocation/recordJump/recordThrow) the rewriter
// wires into every rewritten method. One instance belongs to exactly one
// execution (spec §5: not safe to share across concurrent executions).
type RuntimeCostAccounter struct {
	AllocationThreshold int64
	InvocationThreshold int64
	JumpThreshold       int64
	ThrowThreshold      int64

	allocations int64
	invocations int64
	jumps       int64
	throws      int64
}

// NewRuntimeCostAccounter builds an accounter with the given category
// thresholds (normally sourced from a session's ExecutionProfile).
func NewRuntimeCostAccounter(allocationThreshold, invocationThreshold, jumpThreshold, throwThreshold int64) *RuntimeCostAccounter {
	return &RuntimeCostAccounter{
		AllocationThreshold: allocationThreshold,
		InvocationThreshold: invocationThreshold,
		JumpThreshold:       jumpThreshold,
		ThrowThreshold:      throwThreshold,
	}
}

// RecordAllocation accounts one allocation site visit.
func (a *RuntimeCostAccounter) RecordAllocation() error {
	a.allocations++
	if a.allocations >= a.AllocationThreshold {
		return &ThresholdViolationError{Category: "allocation", Count: a.allocations, Limit: a.AllocationThreshold}
	}
	return nil
}

// RecordInvocation accounts one method-entry visit.
func (a *RuntimeCostAccounter) RecordInvocation() error {
	a.invocations++
	if a.invocations >= a.InvocationThreshold {
		return &ThresholdViolationError{Category: "invocation", Count: a.invocations, Limit: a.InvocationThreshold}
	}
	return nil
}

// RecordJump accounts one backward-branch visit.
func (a *RuntimeCostAccounter) RecordJump() error {
	a.jumps++
	if a.jumps >= a.JumpThreshold {
		return &ThresholdViolationError{Category: "jump", Count: a.jumps, Limit: a.JumpThreshold}
	}
	return nil
}

// RecordThrow accounts one athrow site visit.
func (a *RuntimeCostAccounter) RecordThrow() error {
	a.throws++
	if a.throws >= a.ThrowThreshold {
		return &ThresholdViolationError{Category: "throw", Count: a.throws, Limit: a.ThrowThreshold}
	}
	return nil
}

// Counts returns the four running totals, for diagnostics and tests.
func (a *RuntimeCostAccounter) Counts() (allocations, invocations, jumps, throws int64) {
	return a.allocations, a.invocations, a.jumps, a.throws
}
