package sandbox

import "strings"

// Whitelist is matched by exact internal name or by prefix. Prefix matches
// define the "whitelist namespace": Matches accepts any prefix hit, while the
// reference validator reports a class that lies in the namespace without
// being whitelisted itself (MatchesNamespaceOnly) as NOT_WHITELISTED.
type Whitelist struct {
	Prefixes []string
	Exact    map[string]bool
}

// NewWhitelist builds a Whitelist from prefix and exact-name lists.
func NewWhitelist(prefixes, exact []string) *Whitelist {
	exactSet := make(map[string]bool, len(exact))
	for _, e := range exact {
		exactSet[e] = true
	}
	return &Whitelist{Prefixes: prefixes, Exact: exactSet}
}

// Matches reports whether name is covered by the whitelist, either exactly
// or by a prefix.
func (w *Whitelist) Matches(name string) bool {
	if w == nil {
		return false
	}
	if w.Exact[name] {
		return true
	}
	for _, p := range w.Prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// MatchesNamespaceOnly reports whether name falls inside a whitelisted
// prefix without being one of the explicitly whitelisted exact names —
// the "whitelist namespace but not whitelisted" zone C10 treats specially.
func (w *Whitelist) MatchesNamespaceOnly(name string) bool {
	if w == nil || w.Exact[name] {
		return false
	}
	for _, p := range w.Prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// ExecutionProfile bounds the runtime cost categories the injected
// RuntimeCostAccounter enforces.
type ExecutionProfile struct {
	AllocationCost      int64
	InvocationCost      int64
	JumpCost            int64
	ThrowCost           int64
	AllocationThreshold int64
	InvocationThreshold int64
	JumpThreshold       int64
	ThrowThreshold      int64
}

// DefaultExecutionProfile matches the teacher's own scale for simple
// arithmetic-heavy programs while still catching runaway loops quickly in
// tests.
var DefaultExecutionProfile = ExecutionProfile{
	AllocationCost:      1,
	InvocationCost:      1,
	JumpCost:            1,
	ThrowCost:           4,
	AllocationThreshold: 1_000_000,
	InvocationThreshold: 1_000_000,
	JumpThreshold:       1_000_000,
	ThrowThreshold:      10_000,
}

// PinnedClasses is the set of classes loaded untouched through the host
// loader, bypassing analysis and rewriting entirely.
type PinnedClasses struct {
	names map[string]bool
}

// NewPinnedClasses builds a PinnedClasses set from a name list.
func NewPinnedClasses(names []string) *PinnedClasses {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return &PinnedClasses{names: set}
}

// IsPinned reports whether name should be loaded without rewriting.
func (p *PinnedClasses) IsPinned(name string) bool {
	return p != nil && p.names[name]
}

// Policy is the full, immutable-per-session ruleset a Loader consults:
// pinning, whitelisting, rules, definition providers, emitters, and the
// execution profile cost-accounting is generated against.
type Policy struct {
	PinnedClasses       *PinnedClasses
	Whitelist           *Whitelist
	Rules               []Rule
	DefinitionProviders []DefinitionProvider
	Emitters            []Emitter
	ExecutionProfile    ExecutionProfile
}
