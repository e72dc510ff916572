package sandbox

// Remapper rewrites every class, field, method and descriptor reference
// that isn't covered by the per-instruction emitter chain: the class
// header (this/super/interfaces), field and method declaration
// descriptors, and exception-table catch types. It is pipelined behind
// the visitor on the writing side, as spec §4.7 describes, and shares the
// same ClassResolver instance the rewriter's RemapCallEmitter uses so a
// call site and its target's own header agree on the resolved name.
type Remapper struct {
	resolver *ClassResolver
}

// NewRemapper builds a Remapper over resolver.
func NewRemapper(resolver *ClassResolver) *Remapper {
	return &Remapper{resolver: resolver}
}

// RemappedHeader is the resolved form of a class's name/super/interfaces.
type RemappedHeader struct {
	Name       string
	SuperName  string
	Interfaces []string
}

// RemapHeader resolves a class's own name, its superclass and its
// interfaces.
func (r *Remapper) RemapHeader(mc *MaterializedClass) RemappedHeader {
	super := ""
	if mc.SuperName != "" {
		super = r.resolver.Resolve(mc.SuperName)
	}
	ifaces := make([]string, len(mc.Interfaces))
	for i, iface := range mc.Interfaces {
		ifaces[i] = r.resolver.Resolve(iface)
	}
	return RemappedHeader{
		Name:       r.resolver.Resolve(mc.Name),
		SuperName:  super,
		Interfaces: ifaces,
	}
}

// RemapMemberDescriptor resolves every embedded type reference in a
// field or method descriptor.
func (r *Remapper) RemapMemberDescriptor(descriptor string) string {
	return r.resolver.ResolveDescriptor(descriptor)
}

// RemapExceptionRanges resolves the catch type of every exception range,
// leaving catch-all ("") ranges untouched.
func (r *Remapper) RemapExceptionRanges(ranges []*ExceptionRange) []*ExceptionRange {
	out := make([]*ExceptionRange, len(ranges))
	for i, rg := range ranges {
		resolved := *rg
		if rg.CatchType != "" {
			resolved.CatchType = r.resolver.Resolve(rg.CatchType)
		}
		out[i] = &resolved
	}
	return out
}
