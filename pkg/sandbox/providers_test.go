package sandbox

import (
	"testing"

	"github.com/daimatz/sandbox/pkg/classfile"
)

func TestNativeStubProviderClearsNativeOutsideJVMInternal(t *testing.T) {
	mc := &MaterializedClass{Name: "com/example/App"}
	member := Member{ClassName: "com/example/App", MemberName: "nextInt", Signature: "()I", Access: classfile.AccNative | classfile.AccPublic}

	out := NativeStubProvider{}.Apply(NewAnalysisContext(), mc, member)

	if out.IsNative() {
		t.Errorf("IsNative(): got true, want false after stubbing")
	}
	if out.Code == nil || len(out.Code.Instrs) == 0 {
		t.Fatalf("Code: got nil/empty, want a throw-RuleViolationException body")
	}
	last := out.Code.Instrs[len(out.Code.Instrs)-1]
	if last.Opcode != OpAthrow {
		t.Errorf("last instruction opcode: got %#x, want athrow (%#x)", last.Opcode, OpAthrow)
	}
}

func TestNativeStubProviderLeavesJVMInternalNativesAlone(t *testing.T) {
	mc := &MaterializedClass{Name: "java/lang/Object"}
	member := Member{ClassName: "java/lang/Object", MemberName: "hashCode", Signature: "()I", Access: classfile.AccNative | classfile.AccPublic}

	out := NativeStubProvider{}.Apply(NewAnalysisContext(), mc, member)

	if !out.IsNative() {
		t.Errorf("IsNative(): got false, want true — java/lang/Object natives must not be stubbed")
	}
	if out.Code != nil {
		t.Errorf("Code: got %+v, want nil (no stub body injected)", out.Code)
	}
}

func TestNativeStubProviderIgnoresFields(t *testing.T) {
	mc := &MaterializedClass{Name: "com/example/App"}
	field := Member{ClassName: "com/example/App", MemberName: "x", Signature: "I", Access: classfile.AccNative | classfile.AccPublic, IsField: true}

	out := NativeStubProvider{}.Apply(NewAnalysisContext(), mc, field)

	if out.Code != nil {
		t.Errorf("Code: got %+v, want nil — fields are never given a stub body even if ACC_NATIVE happens to be set", out.Code)
	}
}

func TestFinalizerStubProviderReplacesBodyOutsideJavaLang(t *testing.T) {
	mc := &MaterializedClass{Name: "com/example/App"}
	member := Member{ClassName: "com/example/App", MemberName: "finalize", Signature: "()V", Access: classfile.AccProtected,
		Code: &DecodedCode{Instrs: []*Instr{{Kind: KindMethodCall, Opcode: OpInvokestatic, OwnerClass: "java/lang/System", MemberName: "gc", Descriptor: "()V"}}}}

	out := FinalizerStubProvider{}.Apply(NewAnalysisContext(), mc, member)

	if len(out.Code.Instrs) != 1 || out.Code.Instrs[0].Opcode != OpReturn {
		t.Errorf("Code.Instrs: got %+v, want a single return", out.Code.Instrs)
	}
}

func TestFinalizerStubProviderLeavesJavaLangFinalizersAlone(t *testing.T) {
	mc := &MaterializedClass{Name: "java/lang/Object"}
	original := []*Instr{{Kind: KindPlain, Opcode: OpReturn}, {Kind: KindPlain, Opcode: OpReturn}}
	member := Member{ClassName: "java/lang/Object", MemberName: "finalize", Signature: "()V", Code: &DecodedCode{Instrs: original}}

	out := FinalizerStubProvider{}.Apply(NewAnalysisContext(), mc, member)

	if len(out.Code.Instrs) != len(original) {
		t.Errorf("Code.Instrs: got %d instructions, want unchanged original of %d", len(out.Code.Instrs), len(original))
	}
}

func TestAccessTighteningProviderIsOffByDefault(t *testing.T) {
	mc := &MaterializedClass{Name: "App"}
	member := Member{MemberName: "run", Signature: "()V", Access: classfile.AccPublic}

	out := AccessTighteningProvider{}.Apply(NewAnalysisContext(), mc, member)

	if out.Access&classfile.AccPublic == 0 {
		t.Errorf("Access: ACC_PUBLIC was stripped despite an empty Tighten set")
	}
}

func TestAccessTighteningProviderStripsConfiguredMembers(t *testing.T) {
	mc := &MaterializedClass{Name: "App"}
	member := Member{MemberName: "run", Signature: "()V", Access: classfile.AccPublic}
	provider := AccessTighteningProvider{Tighten: map[string]bool{"run:()V": true}}

	out := provider.Apply(NewAnalysisContext(), mc, member)

	if out.Access&classfile.AccPublic != 0 {
		t.Errorf("Access: got ACC_PUBLIC still set, want stripped for a Tighten-listed member")
	}
}

func TestDefaultDefinitionProvidersIncludesBothStubProviders(t *testing.T) {
	providers := DefaultDefinitionProviders()
	if len(providers) != 2 {
		t.Fatalf("DefaultDefinitionProviders(): got %d providers, want 2", len(providers))
	}
	if _, ok := providers[0].(NativeStubProvider); !ok {
		t.Errorf("providers[0]: got %T, want NativeStubProvider", providers[0])
	}
	if _, ok := providers[1].(FinalizerStubProvider); !ok {
		t.Errorf("providers[1]: got %T, want FinalizerStubProvider", providers[1])
	}
}
