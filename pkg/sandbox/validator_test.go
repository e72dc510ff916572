package sandbox

import "testing"

func newTestClass(name, super string, interfaces ...string) *MaterializedClass {
	return &MaterializedClass{Name: name, SuperName: super, Interfaces: interfaces}
}

// newTestValidator builds a Validator backed by a real Loader over an
// empty classpath, so any class not pre-populated into ctx.Classes fails
// lookup cleanly (as it would with a real, unmatched classpath entry)
// rather than panicking on a nil loader.
func newTestValidator(t *testing.T, whitelist *Whitelist, classes map[string]*MaterializedClass, refs []EntityReference) (*Validator, *AnalysisContext) {
	t.Helper()
	ctx := NewAnalysisContext()
	for name, mc := range classes {
		ctx.Classes[name] = mc
	}
	for _, ref := range refs {
		ctx.RecordReference(ref, Location{ClassName: "App"}, "App")
	}

	source, err := NewSourceLoader(nil)
	if err != nil {
		t.Fatalf("NewSourceLoader(nil): unexpected error %v", err)
	}
	policy := &Policy{
		PinnedClasses: NewPinnedClasses(nil),
		Whitelist:     whitelist,
	}
	loader := NewLoader(policy, source, ctx)
	return NewValidator(loader, whitelist, ctx), ctx
}

func TestValidatorAcceptsWhitelistedAndOwnClasses(t *testing.T) {
	// java/lang/Object must be an exact entry, not just inside the "java/"
	// namespace: a namespace-only match is the suspect zone
	// TestValidatorReportsNotWhitelistedInsideNamespace covers below.
	whitelist := NewWhitelist([]string{"java/"}, []string{"java/lang/Object"})
	classes := map[string]*MaterializedClass{
		"App":            newTestClass("App", "java/lang/Object"),
		"java/lang/Object": newTestClass("java/lang/Object", ""),
	}
	v, ctx := newTestValidator(t, whitelist, classes, []EntityReference{ClassReference("App")})

	summary := v.Validate([]string{"App"})

	if ctx.ErrorCount() != 0 {
		t.Fatalf("ErrorCount(): got %d, want 0; messages: %v", ctx.ErrorCount(), summary.Messages)
	}
}

func TestValidatorReportsNonExistentClass(t *testing.T) {
	whitelist := NewWhitelist([]string{"java/"}, nil)
	classes := map[string]*MaterializedClass{
		"App": newTestClass("App", "java/lang/Object"),
	}
	v, ctx := newTestValidator(t, whitelist, classes, []EntityReference{ClassReference("com/missing/Gone")})

	v.Validate([]string{"App"})

	if ctx.ErrorCount() == 0 {
		t.Fatalf("ErrorCount(): got 0, want at least 1 for an unresolvable class reference")
	}
	found := false
	for _, m := range ctx.Messages {
		if m.Location.ClassName == "com/missing/Gone" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a diagnostic located at com/missing/Gone, got %v", ctx.Messages)
	}
}

func TestValidatorReportsNotWhitelistedInsideNamespace(t *testing.T) {
	whitelist := NewWhitelist([]string{"java/"}, []string{"java/io/PrintStream"})
	classes := map[string]*MaterializedClass{
		"App":                 newTestClass("App", "java/lang/Object"),
		"java/lang/Object":    newTestClass("java/lang/Object", ""),
		"java/io/ObjectInputStream": newTestClass("java/io/ObjectInputStream", "java/lang/Object"),
	}
	v, ctx := newTestValidator(t, whitelist, classes, []EntityReference{ClassReference("java/io/ObjectInputStream")})

	v.Validate([]string{"App"})

	if ctx.ErrorCount() == 0 {
		t.Fatalf("ErrorCount(): got 0, want at least 1 for a namespace-only match")
	}
}

func TestValidatorReportsNonExistentMember(t *testing.T) {
	whitelist := NewWhitelist(nil, nil)
	classes := map[string]*MaterializedClass{
		"App": newTestClass("App", "java/lang/Object"),
	}
	v, ctx := newTestValidator(t, whitelist, classes, []EntityReference{MemberReference("App", "missingMethod", "()V")})

	v.Validate([]string{"App"})

	if ctx.ErrorCount() == 0 {
		t.Fatalf("ErrorCount(): got 0, want at least 1 for a missing member")
	}
}

func TestValidatorAcceptsExistingMemberWithNoOutboundReferences(t *testing.T) {
	whitelist := NewWhitelist(nil, nil)
	app := newTestClass("App", "java/lang/Object")
	app.Methods = []Member{{ClassName: "App", MemberName: "run", Signature: "()V"}}
	classes := map[string]*MaterializedClass{"App": app, "java/lang/Object": newTestClass("java/lang/Object", "")}
	v, ctx := newTestValidator(t, whitelist, classes, []EntityReference{MemberReference("App", "run", "()V")})

	v.Validate([]string{"App"})

	if ctx.ErrorCount() != 0 {
		t.Fatalf("ErrorCount(): got %d, want 0; messages: %v", ctx.ErrorCount(), ctx.Messages)
	}
}

func TestValidatorVisitsEachClassAtMostOnce(t *testing.T) {
	whitelist := NewWhitelist([]string{"java/"}, []string{"java/lang/Object"})
	classes := map[string]*MaterializedClass{
		"App":              newTestClass("App", "java/lang/Object"),
		"java/lang/Object": newTestClass("java/lang/Object", ""),
	}
	refs := []EntityReference{ClassReference("App"), ClassReference("App"), ClassReference("App")}
	v, _ := newTestValidator(t, whitelist, classes, refs)

	summary := v.Validate([]string{"App"})

	if !v.visitedClass["App"] {
		t.Fatalf("visitedClass[App]: want true after Validate")
	}
	if len(summary.Messages) != 0 {
		t.Errorf("Messages: got %v, want none (duplicate enqueues of an already-visited class must not re-report)", summary.Messages)
	}
}
