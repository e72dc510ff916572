package sandbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestScenarioReflectionAttemptFailsAnalysis is spec.md §8 scenario 2: a
// body that invokes java/lang/reflect/Method.invoke must fail at analysis
// with a diagnostic naming both the rule and the offending call site.
func TestScenarioReflectionAttemptFailsAnalysis(t *testing.T) {
	dir := t.TempDir()
	writeTestClass(t, dir, "App", "run", reflectionCallInstrs())

	policy := &Policy{
		PinnedClasses:       NewPinnedClasses(nil),
		Whitelist:           NewWhitelist([]string{"java/"}, nil),
		Rules:               DefaultRules(),
		DefinitionProviders: DefaultDefinitionProviders(),
		Emitters:            DefaultEmitters(),
		ExecutionProfile:    DefaultExecutionProfile,
	}
	loader, ctx := newTestLoader(t, dir, policy)

	_, err := loader.Load("App")
	require.Error(t, err, "Load(App) must fail: App invokes java/lang/reflect/Method.invoke")

	var found string
	for _, m := range ctx.Messages {
		if strings.Contains(m.Text, "Disallowed reference to reflection API") {
			found = m.Text
		}
	}
	require.NotEmpty(t, found, "expected a reflection-API diagnostic; messages: %v", ctx.Messages)
	require.Contains(t, found, "java.lang.reflect.Method.invoke")
}

// TestScenarioThreadDeathCatchFailsAnalysis is spec.md §8 scenario 4: a
// catch block typed ThreadDeath must fail analysis.
func TestScenarioThreadDeathCatchFailsAnalysis(t *testing.T) {
	mc := &MaterializedClass{Name: "App", SuperName: "java/lang/Object"}
	member := Member{
		ClassName:  "App",
		MemberName: "run",
		Signature:  "()V",
		Code: &DecodedCode{
			MaxStack:  1,
			MaxLocals: 1,
			Instrs:    returnOnly(),
			Exceptions: []*ExceptionRange{
				{StartLabel: "L0", EndLabel: "L1", HandlerLabel: "L2", CatchType: "java/lang/ThreadDeath"},
			},
		},
	}
	mc.Methods = []Member{member}

	ctx := NewAnalysisContext()
	RunRules(ctx, mc, DefaultRules())

	require.NotZero(t, ctx.ErrorCount(), "expected at least one error for a ThreadDeath catch")
	var found bool
	for _, m := range ctx.Messages {
		if strings.Contains(m.Text, "Disallowed catch of ThreadDeath exception") {
			found = true
		}
	}
	require.True(t, found, "messages: %v", ctx.Messages)
}

// TestScenarioTransitiveNonDeterminismFailsValidation is spec.md §8
// scenario 6: App calls A, A references java/util/Random (not whitelisted),
// so reference validation must fail and name the unresolved class in its
// diagnostic chain.
func TestScenarioTransitiveNonDeterminismFailsValidation(t *testing.T) {
	whitelist := NewWhitelist([]string{"java/"}, []string{"java/lang/Object"})
	classes := map[string]*MaterializedClass{
		"App":              newTestClass("App", "java/lang/Object"),
		"A":                newTestClass("A", "java/lang/Object"),
		"java/lang/Object": newTestClass("java/lang/Object", ""),
		"java/util/Random": newTestClass("java/util/Random", "java/lang/Object"),
	}
	refs := []EntityReference{
		ClassReference("A"),
		MemberReference("A", "run", "()V"),
	}
	a := classes["A"]
	a.Methods = []Member{{ClassName: "A", MemberName: "run", Signature: "()V"}}

	v, ctx := newTestValidator(t, whitelist, classes, refs)
	ctx.RecordReference(ClassReference("java/util/Random"), Location{ClassName: "A", MemberName: "run"}, "A")

	v.Validate([]string{"App"})

	require.NotZero(t, ctx.ErrorCount(), "expected validation to fail on the transitive java/util/Random reference")
	var found bool
	for _, m := range ctx.Messages {
		if m.Location.ClassName == "java/util/Random" {
			found = true
		}
	}
	require.True(t, found, "expected a diagnostic located at java/util/Random; messages: %v", ctx.Messages)
}
