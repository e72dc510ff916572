package sandbox

import "strings"

// DefaultNamespace is the reserved prefix non-whitelisted classes are
// remapped under.
const DefaultNamespace = "sandbox/"

// ClassResolver translates between user-visible (original) internal names
// and sandbox-visible (resolved) internal names. Resolution is total and
// stable within a session: whitelisted and JVM-internal names map to
// themselves, everything else is prefixed with Namespace.
type ClassResolver struct {
	Namespace string
	whitelist *Whitelist
}

// NewClassResolver builds a resolver backed by the given whitelist.
func NewClassResolver(whitelist *Whitelist) *ClassResolver {
	return &ClassResolver{Namespace: DefaultNamespace, whitelist: whitelist}
}

// IsArray reports whether name is an array descriptor, e.g. "[Ljava/lang/String;" or "[I".
func (r *ClassResolver) IsArray(name string) bool {
	return strings.HasPrefix(name, "[")
}

// IsDescriptor reports whether name looks like a field descriptor rather
// than a bare internal class name (carries a leading 'L'/'[' or is a
// primitive descriptor letter).
func (r *ClassResolver) IsDescriptor(name string) bool {
	if name == "" {
		return false
	}
	switch name[0] {
	case 'L', '[', 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return true
	default:
		return false
	}
}

// elementName strips array/object descriptor decoration down to a bare
// internal class name, and reports whether it was decorated as such.
func elementName(name string) (element string, arrayDepth int, wasObjectDescriptor bool) {
	depth := 0
	for depth < len(name) && name[depth] == '[' {
		depth++
	}
	rest := name[depth:]
	if strings.HasPrefix(rest, "L") && strings.HasSuffix(rest, ";") {
		return rest[1 : len(rest)-1], depth, true
	}
	return rest, depth, false
}

// Resolve maps an original internal name (or array/descriptor form of one)
// to its sandboxed form. Whitelisted names and JVM-internal names
// (java/*, javax/*, sun/*, jdk/*, com/sun/*, already-namespaced names) map to
// themselves. Array descriptors are resolved element-wise; primitive
// element types are left untouched.
func (r *ClassResolver) Resolve(name string) string {
	element, depth, isObject := elementName(name)
	var resolvedElement string
	if isObject {
		resolvedElement = "L" + r.resolveBare(element) + ";"
	} else if depth > 0 {
		resolvedElement = element // primitive array element, e.g. "I"
	} else {
		resolvedElement = r.resolveBare(element)
	}
	return strings.Repeat("[", depth) + resolvedElement
}

func (r *ClassResolver) resolveBare(name string) string {
	if r.isIdentity(name) {
		return name
	}
	if strings.HasPrefix(name, r.Namespace) {
		return name // already resolved
	}
	return r.Namespace + name
}

// isIdentity reports whether name should pass through resolution unchanged:
// whitelisted names and classes from fixed JVM-internal packages.
func (r *ClassResolver) isIdentity(name string) bool {
	if r.whitelist != nil && r.whitelist.Matches(name) {
		return true
	}
	for _, jvmPrefix := range []string{"java/", "javax/", "sun/", "jdk/", "com/sun/"} {
		if strings.HasPrefix(name, jvmPrefix) {
			return true
		}
	}
	return false
}

// Reverse maps a sandboxed internal name (or array/descriptor form) back to
// its original name. Idempotent on names that are already original.
func (r *ClassResolver) Reverse(name string) string {
	element, depth, isObject := elementName(name)
	var reversedElement string
	if isObject {
		reversedElement = "L" + r.reverseBare(element) + ";"
	} else if depth > 0 {
		reversedElement = element
	} else {
		reversedElement = r.reverseBare(element)
	}
	return strings.Repeat("[", depth) + reversedElement
}

func (r *ClassResolver) reverseBare(name string) string {
	if strings.HasPrefix(name, r.Namespace) {
		return strings.TrimPrefix(name, r.Namespace)
	}
	return name
}

// ReverseNormalized applies Reverse repeatedly until no namespace prefix
// remains, so an input that a single strip couldn't fully normalize (e.g.
// double-namespaced) still yields an original name.
func (r *ClassResolver) ReverseNormalized(name string) string {
	reversed := r.Reverse(name)
	for strings.HasPrefix(reversed, r.Namespace) {
		reversed = r.Reverse(reversed)
	}
	return reversed
}

// ResolveDescriptor rewrites a full method or field descriptor, resolving
// every embedded object type reference.
func (r *ClassResolver) ResolveDescriptor(descriptor string) string {
	return mapDescriptorTypes(descriptor, r.Resolve)
}

// mapDescriptorTypes applies fn to every class-name-bearing element of a
// field or method descriptor, leaving primitives, array markers and method
// punctuation untouched.
func mapDescriptorTypes(descriptor string, fn func(string) string) string {
	var b strings.Builder
	i := 0
	for i < len(descriptor) {
		c := descriptor[i]
		switch c {
		case '(', ')', 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 'V', '[':
			b.WriteByte(c)
			i++
		case 'L':
			end := strings.IndexByte(descriptor[i:], ';')
			if end == -1 {
				b.WriteString(descriptor[i:])
				return b.String()
			}
			internalName := descriptor[i+1 : i+end]
			b.WriteByte('L')
			b.WriteString(fn(internalName))
			b.WriteByte(';')
			i += end + 1
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}
