package sandbox

import "strings"

// RuleScope is the granularity a Rule validates at.
type RuleScope int

const (
	ScopeClass RuleScope = iota
	ScopeMember
	ScopeInstruction
)

// Rule is a validator over one scope. It never panics or returns an error;
// violations are reported directly into ctx, matching the spec's
// "rules never throw; accumulation is the mechanism" policy.
type Rule interface {
	Scope() RuleScope
	// ValidateClass is called once per class when Scope() == ScopeClass.
	ValidateClass(ctx *AnalysisContext, mc *MaterializedClass)
	// ValidateMember is called once per member when Scope() == ScopeMember.
	ValidateMember(ctx *AnalysisContext, mc *MaterializedClass, member *Member)
	// ValidateInstruction is called once per instruction when
	// Scope() == ScopeInstruction.
	ValidateInstruction(ctx *AnalysisContext, mc *MaterializedClass, member *Member, offset int, instr *Instr)
}

// baseRule gives every concrete Rule a no-op implementation of the two
// callbacks it doesn't use, so each rule only overrides the one it needs.
type baseRule struct{}

func (baseRule) ValidateClass(*AnalysisContext, *MaterializedClass)                             {}
func (baseRule) ValidateMember(*AnalysisContext, *MaterializedClass, *Member)                    {}
func (baseRule) ValidateInstruction(*AnalysisContext, *MaterializedClass, *Member, int, *Instr) {}

// RunRules streams mc through every rule in rules, dispatching class,
// member and instruction callbacks in class-file order.
func RunRules(ctx *AnalysisContext, mc *MaterializedClass, rules []Rule) {
	for _, r := range rules {
		if r.Scope() == ScopeClass {
			r.ValidateClass(ctx, mc)
		}
	}
	for i := range mc.Methods {
		member := &mc.Methods[i]
		for _, r := range rules {
			if r.Scope() == ScopeMember {
				r.ValidateMember(ctx, mc, member)
			}
		}
		if member.Code == nil {
			continue
		}
		offset := 0
		for _, instr := range member.Code.Instrs {
			for _, r := range rules {
				if r.Scope() == ScopeInstruction {
					r.ValidateInstruction(ctx, mc, member, offset, instr)
				}
			}
			offset++
		}
	}
}

// DisallowDynamicInvocationRule rejects invokedynamic in non-system
// classes: the sandbox does not support method handles / dynamic
// invocation (spec Non-goals).
type DisallowDynamicInvocationRule struct{ baseRule }

func (DisallowDynamicInvocationRule) Scope() RuleScope { return ScopeInstruction }

func (DisallowDynamicInvocationRule) ValidateInstruction(ctx *AnalysisContext, mc *MaterializedClass, member *Member, offset int, instr *Instr) {
	if instr.Kind != KindDynamicInvoke {
		return
	}
	ctx.Report(SeverityError, Location{ClassName: mc.Name, MemberName: member.MemberName, InstructionOffset: offset},
		"Disallowed dynamic invocation in %s.%s: %s", mc.Name, member.MemberName, disassemble(instr))
}

// reflectionOwnerPrefixes and reflectionOwnerExact name the reflection and
// unsafe-memory surface the spec requires rejecting.
var reflectionOwnerPrefixes = []string{"java/lang/reflect/", "java/lang/invoke/", "sun/reflect/"}
var reflectionOwnerExact = map[string]bool{"sun/misc/Unsafe": true, "sun/misc/VM": true}

func isReflectionOwner(owner string) bool {
	if reflectionOwnerExact[owner] {
		return true
	}
	for _, p := range reflectionOwnerPrefixes {
		if strings.HasPrefix(owner, p) {
			return true
		}
	}
	return false
}

// DisallowReflectionRule rejects any field or method access whose owner is
// part of the reflection or sun.misc.Unsafe/VM surface.
type DisallowReflectionRule struct{ baseRule }

func (DisallowReflectionRule) Scope() RuleScope { return ScopeInstruction }

func (DisallowReflectionRule) ValidateInstruction(ctx *AnalysisContext, mc *MaterializedClass, member *Member, offset int, instr *Instr) {
	if instr.Kind != KindFieldAccess && instr.Kind != KindMethodCall {
		return
	}
	if !isReflectionOwner(instr.OwnerClass) {
		return
	}
	ctx.Report(SeverityError, Location{ClassName: mc.Name, MemberName: member.MemberName, InstructionOffset: offset},
		"Disallowed reference to reflection API %s.%s: %s", dottedName(instr.OwnerClass), instr.MemberName, disassemble(instr))
}

func dottedName(internalName string) string {
	return strings.ReplaceAll(internalName, "/", ".")
}

// DisallowThreadDeathCatchRule rejects try-catch blocks that catch
// ThreadDeath or ThresholdViolationException: those must propagate so the
// cost-accounting kill signal cannot be swallowed by user code.
type DisallowThreadDeathCatchRule struct{ baseRule }

func (DisallowThreadDeathCatchRule) Scope() RuleScope { return ScopeMember }

func (DisallowThreadDeathCatchRule) ValidateMember(ctx *AnalysisContext, mc *MaterializedClass, member *Member) {
	if member.Code == nil {
		return
	}
	for _, h := range member.Code.Exceptions {
		if h.CatchType == "java/lang/ThreadDeath" || strings.HasSuffix(h.CatchType, "ThresholdViolationException") {
			ctx.Report(SeverityError, Location{ClassName: mc.Name, MemberName: member.MemberName},
				"Disallowed catch of ThreadDeath exception in %s.%s", mc.Name, member.MemberName)
		}
	}
}

// StubNativeMethodsRule flags native members outside the JVM-internal
// namespace; C5's NativeStubProvider performs the actual rewrite.
type StubNativeMethodsRule struct{ baseRule }

func (StubNativeMethodsRule) Scope() RuleScope { return ScopeMember }

func (StubNativeMethodsRule) ValidateMember(ctx *AnalysisContext, mc *MaterializedClass, member *Member) {
	if !member.IsNative() || isJVMInternal(mc.Name) {
		return
	}
	ctx.Report(SeverityWarning, Location{ClassName: mc.Name, MemberName: member.MemberName},
		"Native method %s.%s will be stubbed", mc.Name, member.MemberName)
}

// StubFinalizersRule flags finalize()V outside java/lang/.
type StubFinalizersRule struct{ baseRule }

func (StubFinalizersRule) Scope() RuleScope { return ScopeMember }

func (StubFinalizersRule) ValidateMember(ctx *AnalysisContext, mc *MaterializedClass, member *Member) {
	if !member.IsFinalizer() || strings.HasPrefix(mc.Name, "java/lang/") {
		return
	}
	ctx.Report(SeverityWarning, Location{ClassName: mc.Name, MemberName: member.MemberName},
		"Finalizer %s.%s will be stubbed", mc.Name, member.MemberName)
}

func isJVMInternal(name string) bool {
	for _, p := range []string{"java/", "javax/", "sun/", "jdk/", "com/sun/"} {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// DefaultRules returns the mandatory built-in rule set in registration
// order, as required by spec §4.4.
func DefaultRules() []Rule {
	return []Rule{
		DisallowDynamicInvocationRule{},
		DisallowReflectionRule{},
		DisallowThreadDeathCatchRule{},
		StubNativeMethodsRule{},
		StubFinalizersRule{},
	}
}
