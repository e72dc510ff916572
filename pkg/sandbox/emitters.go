package sandbox

// EmitResult is what an Emitter returns for one instruction: the (possibly
// replaced) instruction list to emit in its place, and whether this counts
// as a modification for the rewriter's isModified flag.
type EmitResult struct {
	Instrs   []*Instr
	Modified bool
}

// passthrough leaves an instruction untouched.
func passthrough(instr *Instr) EmitResult {
	return EmitResult{Instrs: []*Instr{instr}}
}

// Emitter consumes one instruction callback during rewriting and decides
// whether to pass it through, replace it, or precede/follow it with
// synthetic instructions.
type Emitter interface {
	Emit(ctx *AnalysisContext, mc *MaterializedClass, member *Member, offset int, instr *Instr, resolver *ClassResolver) EmitResult
}

// RunEmitters threads one instruction through every emitter in order; each
// emitter sees the expanded output of the previous one.
func RunEmitters(ctx *AnalysisContext, mc *MaterializedClass, member *Member, offset int, instr *Instr, resolver *ClassResolver, emitters []Emitter) EmitResult {
	current := []*Instr{instr}
	modified := false
	for _, e := range emitters {
		var next []*Instr
		for _, in := range current {
			if in.Kind == KindLabel {
				next = append(next, in) // labels pass straight through every emitter
				continue
			}
			res := e.Emit(ctx, mc, member, offset, in, resolver)
			next = append(next, res.Instrs...)
			modified = modified || res.Modified
		}
		current = next
	}
	return EmitResult{Instrs: current, Modified: modified}
}

// CostAccounterClass is the stable fully-qualified name the injected
// runtime cost accounting calls address, per Design Notes §9. pkg/vm
// dispatches invokestatic calls against this name to the live
// native.RuntimeCostAccounter backing the current execution.
const CostAccounterClass = "sandbox/runtime/RuntimeCostAccounter"

func recordCall(method string) *Instr {
	return &Instr{
		Kind:       KindMethodCall,
		Opcode:     OpInvokestatic,
		OwnerClass: CostAccounterClass,
		MemberName: method,
		Descriptor: "()V",
	}
}

// CostAccountingEmitter prepends a RuntimeCostAccounter.recordJump() call
// before every backward branch and a recordInvocation() call at method
// entry (offset 0 of every non-abstract, non-native method), per spec
// §4.6. The accounting call itself is expected to throw
// ThresholdViolationException once its category's budget is exceeded; this
// emitter only wires the call site, it does not implement the counter.
type CostAccountingEmitter struct{}

func (CostAccountingEmitter) Emit(ctx *AnalysisContext, mc *MaterializedClass, member *Member, offset int, instr *Instr, resolver *ClassResolver) EmitResult {
	if instr.Kind == KindBranch && isBackwardBranch(member, offset, instr) {
		return EmitResult{Instrs: []*Instr{recordCall("recordJump"), instr}, Modified: true}
	}
	if offset == 0 && !member.IsNative() {
		return EmitResult{Instrs: []*Instr{recordCall("recordInvocation"), instr}, Modified: true}
	}
	return passthrough(instr)
}

// isBackwardBranch reports whether instr's target label addresses an
// offset at or before the current instruction's own position, approximated
// here by label numbering (labels are named "L<byteOffset>" in decode
// order, so a lexical/numeric target <= the instruction's own original
// offset is backward). offset is the instruction's index in the decoded
// stream, which is monotonic with original byte offset for branch
// instructions since labels are spliced in without reordering.
func isBackwardBranch(member *Member, offset int, instr *Instr) bool {
	targetOffset, ok := labelByteOffset(instr.Target)
	if !ok {
		return false
	}
	selfOffset, ok := instrByteOffset(member, offset)
	if !ok {
		return false
	}
	return targetOffset <= selfOffset
}

func labelByteOffset(label string) (int, bool) {
	if label == "" {
		return 0, false
	}
	n := 0
	for i := 1; i < len(label); i++ {
		if label[i] < '0' || label[i] > '9' {
			return 0, false
		}
		n = n*10 + int(label[i]-'0')
	}
	return n, true
}

// instrByteOffset scans member's decoded instruction list to recover the
// original byte offset implied by the most recent label before or at index
// offset (labels carry their own originating byte offset in their name).
func instrByteOffset(member *Member, offset int) (int, bool) {
	if member.Code == nil {
		return 0, false
	}
	last := -1
	for i, in := range member.Code.Instrs {
		if i > offset {
			break
		}
		if in.Kind == KindLabel {
			if n, ok := labelByteOffset(in.Label); ok {
				last = n
			}
		}
	}
	if last == -1 {
		return 0, false
	}
	return last, true
}

// AllocationAccountingEmitter prepends a recordAllocation() call before
// NEW, NEWARRAY, ANEWARRAY and MULTIANEWARRAY, per spec §4.6. Spec §4.6
// also names "string concatenation constants" as an allocation site, but
// there is no such site left to instrument by the time code reaches this
// emitter: javac folds a compile-time-constant concatenation into a plain
// ldc of the folded string (indistinguishable from any other string
// literal use, nothing allocates at run time), and a runtime
// StringConcatFactory.makeConcatWithConstants call site is an
// invokedynamic, which DisallowDynamicInvocationRule already rejects
// outright for non-system classes before this emitter ever sees it.
type AllocationAccountingEmitter struct{}

func (AllocationAccountingEmitter) Emit(ctx *AnalysisContext, mc *MaterializedClass, member *Member, offset int, instr *Instr, resolver *ClassResolver) EmitResult {
	isAllocation := instr.Opcode == OpNew || instr.Opcode == OpNewarray || instr.Opcode == OpAnewarray || instr.Opcode == OpMultianewarray
	if !isAllocation {
		return passthrough(instr)
	}
	return EmitResult{Instrs: []*Instr{recordCall("recordAllocation"), instr}, Modified: true}
}

// ThrowAccountingEmitter prepends a recordThrow() call before ATHROW.
type ThrowAccountingEmitter struct{}

func (ThrowAccountingEmitter) Emit(ctx *AnalysisContext, mc *MaterializedClass, member *Member, offset int, instr *Instr, resolver *ClassResolver) EmitResult {
	if instr.Opcode != OpAthrow || instr.Kind == KindLabel {
		return passthrough(instr)
	}
	return EmitResult{Instrs: []*Instr{recordCall("recordThrow"), instr}, Modified: true}
}

// RemapCallEmitter rewrites the owner of method/field accesses and the type
// name of type operations referencing non-whitelisted owners, via the
// Class Resolver (C7 integration point described in spec §4.6/§4.7).
type RemapCallEmitter struct{}

func (RemapCallEmitter) Emit(ctx *AnalysisContext, mc *MaterializedClass, member *Member, offset int, instr *Instr, resolver *ClassResolver) EmitResult {
	switch instr.Kind {
	case KindFieldAccess, KindMethodCall:
		resolved := *instr
		resolved.OwnerClass = resolver.Resolve(instr.OwnerClass)
		resolved.Descriptor = resolver.ResolveDescriptor(instr.Descriptor)
		modified := resolved.OwnerClass != instr.OwnerClass || resolved.Descriptor != instr.Descriptor
		return EmitResult{Instrs: []*Instr{&resolved}, Modified: modified}
	case KindTypeOp:
		resolved := *instr
		resolved.TypeName = resolver.Resolve(instr.TypeName)
		return EmitResult{Instrs: []*Instr{&resolved}, Modified: resolved.TypeName != instr.TypeName}
	case KindConstant:
		if instr.Literal == nil || !instr.Literal.IsClass {
			return passthrough(instr)
		}
		resolved := *instr
		lit := *instr.Literal
		lit.String = resolver.Resolve(instr.Literal.String)
		resolved.Literal = &lit
		return EmitResult{Instrs: []*Instr{&resolved}, Modified: lit.String != instr.Literal.String}
	default:
		return passthrough(instr)
	}
}

// CatchBlockRewriteEmitter is applied at the member level by the rewriter
// (not per-instruction): see rewriter.go's splitDangerousCatches, which
// implements "a catch typed Throwable or Error is split so ThreadDeath and
// ThresholdViolationException are re-thrown rather than caught" (spec
// §4.6). It has no per-instruction Emit hook because the rewrite it
// performs is structural (duplicating a handler range), not substitutive.

// DefaultEmitters returns the mandatory emitter chain in registration
// order (spec §4.6). Remap-aware call rewriting runs last, so it also sees
// the injected RuntimeCostAccounter calls; their owner is already under the
// sandbox namespace, so Resolve leaves them unchanged.
func DefaultEmitters() []Emitter {
	return []Emitter{
		CostAccountingEmitter{},
		AllocationAccountingEmitter{},
		ThrowAccountingEmitter{},
		RemapCallEmitter{},
	}
}
