package sandbox

import (
	"strings"

	"github.com/daimatz/sandbox/pkg/classfile"
)

// DefinitionProvider is a pure function (context, member) -> member',
// applied in registration order during rewriting. A provider may clear or
// set access flags and prepend/append body writers; it must not mutate the
// member it's handed, returning a new one instead.
type DefinitionProvider interface {
	Apply(ctx *AnalysisContext, mc *MaterializedClass, member Member) Member
}

// RunProviders threads member through every provider in order.
func RunProviders(ctx *AnalysisContext, mc *MaterializedClass, member Member, providers []DefinitionProvider) Member {
	for _, p := range providers {
		member = p.Apply(ctx, mc, member)
	}
	return member
}

// NativeStubProvider clears ACC_NATIVE on non-JVM-internal native methods
// and replaces their body with one that throws RuleViolationException.
type NativeStubProvider struct{}

func (NativeStubProvider) Apply(ctx *AnalysisContext, mc *MaterializedClass, member Member) Member {
	if member.IsField || !member.IsNative() || isJVMInternal(mc.Name) {
		return member
	}
	member.Access &^= classfile.AccNative
	member.Code = &DecodedCode{
		MaxStack:  runtimeThrowStackDepth,
		MaxLocals: localSlotsFor(member.Signature),
		Instrs:    throwRuleViolationInstrs("Native method has been deleted"),
	}
	return member
}

// FinalizerStubProvider replaces finalize()V bodies outside java/lang/ with
// a single return instruction.
type FinalizerStubProvider struct{}

func (FinalizerStubProvider) Apply(ctx *AnalysisContext, mc *MaterializedClass, member Member) Member {
	if member.IsField || !member.IsFinalizer() || strings.HasPrefix(mc.Name, "java/lang/") {
		return member
	}
	member.Code = &DecodedCode{
		MaxStack:  0,
		MaxLocals: 1,
		Instrs:    []*Instr{{Kind: KindPlain, Opcode: OpReturn}},
	}
	return member
}

// AccessTighteningProvider optionally strips ACC_PUBLIC from members whose
// name appears in Tighten, downgrading them to package-private. Policy-
// driven and off by default (empty Tighten set).
type AccessTighteningProvider struct {
	Tighten map[string]bool // "methodName:descriptor" keys
}

func (p AccessTighteningProvider) Apply(ctx *AnalysisContext, mc *MaterializedClass, member Member) Member {
	if p.Tighten == nil {
		return member
	}
	key := member.MemberName + ":" + member.Signature
	if p.Tighten[key] {
		member.Access &^= classfile.AccPublic
	}
	return member
}

// DefaultDefinitionProviders returns the mandatory provider chain in
// registration order (spec §4.5).
func DefaultDefinitionProviders() []DefinitionProvider {
	return []DefinitionProvider{
		NativeStubProvider{},
		FinalizerStubProvider{},
	}
}

// runtimeThrowStackDepth is the max operand stack depth needed by the
// throwRuleViolationInstrs/throwThresholdViolationInstrs sequences: push
// receiverless new + dup + string constant, then invokespecial + athrow.
const runtimeThrowStackDepth = 3

// localSlotsFor returns a conservative local-variable-table size (this +
// every parameter, widened to 2 slots for long/double) large enough for a
// stub body that only throws and never touches locals. The slot for `this`
// is always counted, so a static method gets one unused extra slot.
func localSlotsFor(descriptor string) uint16 {
	return uint16(1 + countDescriptorSlots(descriptor))
}

// throwRuleViolationInstrs builds the canonical "throw new
// RuleViolationException(message)" instruction sequence a stubbed member's
// body becomes.
func throwRuleViolationInstrs(message string) []*Instr {
	return throwInstrs("sandbox/runtime/RuleViolationException", message)
}

// throwThresholdViolationInstrs is the analogous sequence for
// ThresholdViolationException. Nothing in this package calls it: the
// cost-accounting emitters inject RuntimeCostAccounter calls instead.
func throwThresholdViolationInstrs(message string) []*Instr {
	return throwInstrs("sandbox/runtime/ThresholdViolationException", message)
}

func throwInstrs(exceptionClass, message string) []*Instr {
	return []*Instr{
		{Kind: KindTypeOp, Opcode: OpNew, TypeName: exceptionClass},
		{Kind: KindPlain, Opcode: 0x59}, // dup
		{Kind: KindConstant, Opcode: opLdc, ConstantIndex: 0, Raw: []byte(message)},
		{Kind: KindMethodCall, Opcode: OpInvokespecial, OwnerClass: exceptionClass, MemberName: "<init>", Descriptor: "(Ljava/lang/String;)V"},
		{Kind: KindPlain, Opcode: OpAthrow},
	}
}
