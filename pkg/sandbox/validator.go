package sandbox

// ReferenceValidationSummary is C10's output: every class visited during
// validation, its accumulated diagnostics, and the class-origin
// attribution recorded during the walk (spec §6).
type ReferenceValidationSummary struct {
	Classes      map[string]*MaterializedClass
	Messages     []Message
	ClassOrigins map[string]string
}

// Validator is C10: a work-queue-based transitive reachability check over
// every reference the visitor observed, loading classes on demand through
// the session's Loader so its verdicts agree with whatever Load() itself
// pinned, whitelisted or rewrote. Grounded in the same "queue of not-yet-
// enumerated nodes, visited set for termination" shape as a standard
// reachability enumerator over a class dependency graph.
type Validator struct {
	loader       *Loader
	whitelist    *Whitelist
	ctx          *AnalysisContext
	visitedClass map[string]bool
}

// NewValidator builds a Validator bound to loader, sharing its session
// context so diagnostics and class-origin attribution land in one place.
func NewValidator(loader *Loader, whitelist *Whitelist, ctx *AnalysisContext) *Validator {
	return &Validator{loader: loader, whitelist: whitelist, ctx: ctx, visitedClass: make(map[string]bool)}
}

// Validate enumerates reachability starting from roots plus every
// reference already recorded in ctx (normally seeded by loading one or
// more entry classes), per spec §4.10.
func (v *Validator) Validate(roots []string) ReferenceValidationSummary {
	var queue []EntityReference
	for _, root := range roots {
		queue = append(queue, ClassReference(root))
	}
	for _, rec := range v.ctx.References {
		queue = append(queue, rec.Reference)
	}

	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		if ref.ClassName == "" {
			continue
		}
		switch ref.Kind {
		case ReferenceKindClass:
			v.validateClassReference(ref.ClassName, &queue)
		case ReferenceKindMember:
			v.validateMemberReference(ref, &queue)
		}
	}

	return ReferenceValidationSummary{
		Classes:      v.ctx.Classes,
		Messages:     v.ctx.SortedMessages(),
		ClassOrigins: v.ctx.ClassOrigins,
	}
}

// validateClassReference resolves className on demand, reports the
// appropriate reason on failure, and — on success — always enqueues its
// ancestors (spec §4.10: "ancestors are always recursively loaded"),
// whitelisted or not.
func (v *Validator) validateClassReference(className string, queue *[]EntityReference) {
	if v.visitedClass[className] {
		return
	}
	v.visitedClass[className] = true

	mc, err := v.resolveClass(className)
	if err != nil {
		v.ctx.Report(SeverityError, Location{ClassName: className}, "%s: class %s could not be resolved: %v", ReasonNonExistentClass, className, err)
		return
	}

	// MatchesNamespaceOnly must be checked ahead of (and independent of)
	// Matches: Matches itself returns true for any prefix hit, so the
	// "inside the whitelist namespace but not itself whitelisted" case
	// would never be reachable if it were nested under an "!Matches"
	// branch.
	switch {
	case v.whitelist.MatchesNamespaceOnly(className):
		v.ctx.Report(SeverityError, Location{ClassName: className}, "%s: %s is inside the whitelist namespace but not itself whitelisted", ReasonNotWhitelisted, className)
	case isAnnotatedNonDeterministic(mc):
		v.ctx.Report(SeverityError, Location{ClassName: className}, "%s: %s is marked non-deterministic", ReasonAnnotated, className)
	default:
		v.enqueueOutbound(mc, queue)
	}

	if mc.SuperName != "" {
		*queue = append(*queue, ClassReference(mc.SuperName))
	}
	for _, iface := range mc.Interfaces {
		*queue = append(*queue, ClassReference(iface))
	}
}

// validateMemberReference loads ref's owning class, locates the member by
// (name, signature), and if found, checks whether that member's own
// outbound class references land anywhere non-deterministic.
func (v *Validator) validateMemberReference(ref EntityReference, queue *[]EntityReference) {
	if v.whitelist.Matches(ref.ClassName) {
		return
	}
	mc, err := v.resolveClass(ref.ClassName)
	if err != nil {
		v.ctx.Report(SeverityError, Location{ClassName: ref.ClassName}, "%s: class %s could not be resolved: %v", ReasonNonExistentClass, ref.ClassName, err)
		return
	}

	member := findMember(mc, ref.MemberName, ref.Signature)
	if member == nil {
		v.ctx.Report(SeverityError, Location{ClassName: ref.ClassName, MemberName: ref.MemberName},
			"%s: %s.%s%s not found", ReasonNonExistentMember, ref.ClassName, ref.MemberName, ref.Signature)
		return
	}

	offenders := v.offendingOutboundClasses(member)
	if len(offenders) > 0 {
		v.ctx.Report(SeverityError, Location{ClassName: ref.ClassName, MemberName: ref.MemberName},
			"%s: %s.%s references non-deterministic classes: %v", ReasonInvalidClass, ref.ClassName, ref.MemberName, offenders)
	}
}

// resolveClass returns an already-materialized class from ctx, loading it
// through the session loader on first reference.
func (v *Validator) resolveClass(className string) (*MaterializedClass, error) {
	if mc, ok := v.ctx.Classes[className]; ok {
		return mc, nil
	}
	loaded, err := v.loader.Load(className)
	if err != nil {
		return nil, err
	}
	return loaded.MaterializedClass, nil
}

// enqueueOutbound adds every class mc's methods reference to the work
// queue so they're eventually visited too.
func (v *Validator) enqueueOutbound(mc *MaterializedClass, queue *[]EntityReference) {
	for _, m := range mc.Methods {
		if m.Code == nil {
			continue
		}
		for _, instr := range m.Code.Instrs {
			if ref, ok := outboundReference(instr); ok {
				*queue = append(*queue, ref)
			}
		}
	}
}

// offendingOutboundClasses returns the class names member references,
// directly or via field/method ownership, that fail to resolve or turn
// out to be non-deterministic — without enqueuing them onto the main work
// queue or reporting on their behalf (the caller reports one INVALID_CLASS
// diagnostic naming all of them together).
func (v *Validator) offendingOutboundClasses(member *Member) []string {
	if member.Code == nil {
		return nil
	}
	var offenders []string
	for _, instr := range member.Code.Instrs {
		ref, ok := outboundReference(instr)
		if !ok || v.whitelist.Matches(ref.ClassName) {
			continue
		}
		mc, err := v.resolveClass(ref.ClassName)
		if err != nil || isAnnotatedNonDeterministic(mc) {
			offenders = append(offenders, ref.ClassName)
		}
	}
	return offenders
}

// outboundReference extracts the EntityReference one instruction carries,
// mirroring Visitor.WalkReferences' instruction-kind switch.
func outboundReference(instr *Instr) (EntityReference, bool) {
	switch instr.Kind {
	case KindFieldAccess, KindMethodCall:
		return MemberReference(instr.OwnerClass, instr.MemberName, instr.Descriptor), true
	case KindTypeOp:
		return ClassReference(instr.TypeName), true
	case KindDynamicInvoke:
		return ClassReference("java/lang/invoke/MethodHandle"), true
	default:
		return EntityReference{}, false
	}
}

// findMember locates a member by (name, signature) among mc's fields and
// methods.
func findMember(mc *MaterializedClass, name, signature string) *Member {
	for i := range mc.Methods {
		if mc.Methods[i].MemberName == name && mc.Methods[i].Signature == signature {
			return &mc.Methods[i]
		}
	}
	for i := range mc.Fields {
		if mc.Fields[i].MemberName == name && mc.Fields[i].Signature == signature {
			return &mc.Fields[i]
		}
	}
	return nil
}

// isAnnotatedNonDeterministic reports whether mc carries a marker
// identifying it as explicitly non-deterministic. The class-file parser
// this sandbox builds on does not decode RuntimeVisibleAnnotations (see
// DESIGN.md), so this never currently returns true; it exists so the
// ANNOTATED reason code and the branch that reports it are wired to a
// real (if permanently false, for now) predicate rather than dead code.
func isAnnotatedNonDeterministic(mc *MaterializedClass) bool {
	return false
}
