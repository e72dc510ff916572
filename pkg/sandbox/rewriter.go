package sandbox

import (
	"fmt"

	"github.com/daimatz/sandbox/pkg/classfile"
)

// RewriteResult is what rewriting a class produces: the serialized bytes
// and whether the output differs from a straight re-encode of the input
// (spec §4.8's isModified flag; the loader copies it into LoadedClass and
// logs it, and caches the class either way).
type RewriteResult struct {
	Bytes      []byte
	IsModified bool
}

// Rewriter is C8: it drives definition providers (C5), emitters (C6) and
// the remapper (C7) over a materialized class and serializes the result
// through CodeBuilder and classfile.WriteClassFile. One Rewriter is bound
// to one Policy/ClassResolver pair for the life of a loading session.
type Rewriter struct {
	resolver *ClassResolver
	remapper *Remapper
	policy   *Policy
}

// NewRewriter builds a Rewriter over resolver and policy.
func NewRewriter(resolver *ClassResolver, policy *Policy) *Rewriter {
	return &Rewriter{resolver: resolver, remapper: NewRemapper(resolver), policy: policy}
}

// Rewrite performs the four-step algorithm of spec §4.8: bind a fresh
// constant pool, attach the remapper for header/descriptor/catch-type
// resolution, run the C5/C6 mutator chain over every member's decoded
// instructions, and serialize the result.
func (rw *Rewriter) Rewrite(ctx *AnalysisContext, mc *MaterializedClass) (RewriteResult, error) {
	pool := classfile.NewPoolBuilder()
	builder := NewCodeBuilder(pool)
	modified := false

	header := rw.remapper.RemapHeader(mc)
	if header.Name != mc.Name || header.SuperName != mc.SuperName {
		modified = true
	}
	for i, iface := range header.Interfaces {
		if iface != mc.Interfaces[i] {
			modified = true
		}
	}

	fields := make([]classfile.FieldInfo, len(mc.Fields))
	for i, f := range mc.Fields {
		member := RunProviders(ctx, mc, f, rw.policy.DefinitionProviders)
		descriptor := rw.remapper.RemapMemberDescriptor(member.Signature)
		if descriptor != f.Signature || member.Access != f.Access {
			modified = true
		}
		fields[i] = classfile.FieldInfo{AccessFlags: member.Access, Name: member.MemberName, Descriptor: descriptor}
	}

	methods := make([]classfile.MethodInfo, len(mc.Methods))
	for i, m := range mc.Methods {
		member := RunProviders(ctx, mc, m, rw.policy.DefinitionProviders)
		if member.Access != m.Access {
			modified = true
		}
		descriptor := rw.remapper.RemapMemberDescriptor(member.Signature)
		if descriptor != m.Signature {
			modified = true
		}

		var code *classfile.CodeAttribute
		if member.Code != nil {
			decoded := member.Code
			if member.Code == m.Code {
				rewritten, memberModified, err := rw.rewriteCode(ctx, mc, &member, member.Code)
				if err != nil {
					return RewriteResult{}, fmt.Errorf("rewriting %s.%s%s: %w", mc.Name, member.MemberName, member.Signature, err)
				}
				if memberModified {
					modified = true
				}
				decoded = rewritten
			} else {
				// A definition provider substituted a stub body; it is
				// serialized as the provider built it, without emitters.
				modified = true
			}
			var err error
			code, err = builder.Build(decoded)
			if err != nil {
				return RewriteResult{}, fmt.Errorf("serializing %s.%s%s: %w", mc.Name, member.MemberName, member.Signature, err)
			}
		}
		methods[i] = classfile.MethodInfo{AccessFlags: member.Access, Name: member.MemberName, Descriptor: descriptor, Code: code}
	}

	rc := &classfile.RewrittenClass{
		MinorVersion: mc.MinorVersion,
		MajorVersion: mc.MajorVersion,
		Pool:         pool,
		AccessFlags:  mc.AccessFlags,
		ThisClass:    header.Name,
		SuperClass:   header.SuperName,
		Interfaces:   header.Interfaces,
		Fields:       fields,
		Methods:      methods,
	}
	out, err := classfile.WriteClassFile(rc)
	if err != nil {
		return RewriteResult{}, fmt.Errorf("writing %s: %w", mc.Name, err)
	}
	return RewriteResult{Bytes: out, IsModified: modified}, nil
}

// rewriteCode runs the emitter chain over one member's decoded
// instructions, then splits any catch block typed broadly enough to
// intercept ThreadDeath or ThresholdViolationException so those two always
// propagate (spec §4.6's "rethrow rather than catch" requirement).
func (rw *Rewriter) rewriteCode(ctx *AnalysisContext, mc *MaterializedClass, member *Member, code *DecodedCode) (*DecodedCode, bool, error) {
	modified := false
	var emitted []*Instr
	offset := 0
	for _, instr := range code.Instrs {
		res := RunEmitters(ctx, mc, member, offset, instr, rw.resolver, rw.policy.Emitters)
		emitted = append(emitted, res.Instrs...)
		if res.Modified {
			modified = true
		}
		offset++
	}

	split, splitModified := splitDangerousCatches(emitted, code.Exceptions)
	if splitModified {
		modified = true
	}

	exceptions := rw.remapper.RemapExceptionRanges(code.Exceptions)

	maxStack := code.MaxStack
	if splitModified && maxStack < 2 {
		maxStack = 2
	}

	return &DecodedCode{
		MaxStack:   maxStack,
		MaxLocals:  code.MaxLocals,
		Instrs:     split,
		Exceptions: exceptions,
	}, modified, nil
}

// isDangerousCatch reports whether a handler's declared catch type is
// broad enough to intercept ThreadDeath or the injected
// ThresholdViolationException: a catch-all (finally, CatchType == ""), or
// an explicit catch of Throwable or Error.
func isDangerousCatch(catchType string) bool {
	switch catchType {
	case "", "java/lang/Throwable", "java/lang/Error":
		return true
	default:
		return false
	}
}

// splitDangerousCatches inserts, immediately after every dangerous
// handler's label, a guard that checks the caught exception against
// ThreadDeath and ThresholdViolationException and re-throws it unexamined
// before falling into the handler's original body. instrs is the
// emitter-expanded instruction list; ranges are the pre-remap exception
// ranges (catch types are still original names at this point, which is
// what isDangerousCatch expects).
func splitDangerousCatches(instrs []*Instr, ranges []*ExceptionRange) ([]*Instr, bool) {
	dangerous := map[string]bool{}
	for _, rg := range ranges {
		if isDangerousCatch(rg.CatchType) {
			dangerous[rg.HandlerLabel] = true
		}
	}
	if len(dangerous) == 0 {
		return instrs, false
	}

	out := make([]*Instr, 0, len(instrs))
	guardSeq := 0
	for _, instr := range instrs {
		out = append(out, instr)
		if instr.Kind == KindLabel && dangerous[instr.Label] {
			guardSeq++
			out = append(out, guardInstrs(instr.Label, guardSeq)...)
		}
	}
	return out, true
}

// guardInstrs builds the "rethrow ThreadDeath/ThresholdViolationException,
// otherwise fall through" sequence spliced after a dangerous handler's
// label. It leaves exactly the original exception reference on the
// operand stack for the handler's own body to consume, in every path that
// reaches continueLabel.
func guardInstrs(handlerLabel string, seq int) []*Instr {
	checkLabel := fmt.Sprintf("%s_guard%d_check", handlerLabel, seq)
	continueLabel := fmt.Sprintf("%s_guard%d_continue", handlerLabel, seq)
	return []*Instr{
		{Kind: KindPlain, Opcode: 0x59}, // dup
		{Kind: KindTypeOp, Opcode: opInstanceof, TypeName: "java/lang/ThreadDeath"},
		{Kind: KindBranch, Opcode: opIfeq, Target: checkLabel},
		{Kind: KindPlain, Opcode: OpAthrow},
		{Kind: KindLabel, Label: checkLabel},
		{Kind: KindPlain, Opcode: 0x59}, // dup
		{Kind: KindTypeOp, Opcode: opInstanceof, TypeName: "sandbox/runtime/ThresholdViolationException"},
		{Kind: KindBranch, Opcode: opIfeq, Target: continueLabel},
		{Kind: KindPlain, Opcode: OpAthrow},
		{Kind: KindLabel, Label: continueLabel},
	}
}
