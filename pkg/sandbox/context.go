package sandbox

import (
	"fmt"
	"sort"
)

// Severity is the diagnostic level of a Message.
type Severity int

const (
	SeverityTrace Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityTrace:
		return "TRACE"
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Location pins a diagnostic to a class, optionally a member and an
// instruction offset within that member.
type Location struct {
	ClassName        string
	MemberName       string
	InstructionOffset int
}

// Message is a single diagnostic produced during analysis or validation.
type Message struct {
	Text     string
	Severity Severity
	Location Location
}

// ReasonCode classifies why a reference was rejected by the validator.
type ReasonCode int

const (
	ReasonNone ReasonCode = iota
	ReasonNonExistentClass
	ReasonNonExistentMember
	ReasonNotWhitelisted
	ReasonAnnotated
	ReasonInvalidClass
)

func (r ReasonCode) String() string {
	switch r {
	case ReasonNonExistentClass:
		return "NON_EXISTENT_CLASS"
	case ReasonNonExistentMember:
		return "NON_EXISTENT_MEMBER"
	case ReasonNotWhitelisted:
		return "NOT_WHITELISTED"
	case ReasonAnnotated:
		return "ANNOTATED"
	case ReasonInvalidClass:
		return "INVALID_CLASS"
	default:
		return "NONE"
	}
}

// Reason explains a validation failure for one entity reference.
type Reason struct {
	Code   ReasonCode
	Detail string
}

// ReferenceKind distinguishes the two EntityReference variants.
type ReferenceKind int

const (
	ReferenceKindClass ReferenceKind = iota
	ReferenceKindMember
)

// EntityReference is a tagged union of ClassReference and MemberReference,
// as observed by the visitor during analysis.
type EntityReference struct {
	Kind       ReferenceKind
	ClassName  string
	MemberName string
	Signature  string
}

// ClassReference builds a class-scoped EntityReference.
func ClassReference(className string) EntityReference {
	return EntityReference{Kind: ReferenceKindClass, ClassName: className}
}

// MemberReference builds a member-scoped EntityReference.
func MemberReference(className, memberName, signature string) EntityReference {
	return EntityReference{Kind: ReferenceKindMember, ClassName: className, MemberName: memberName, Signature: signature}
}

func (r EntityReference) String() string {
	if r.Kind == ReferenceKindClass {
		return r.ClassName
	}
	return fmt.Sprintf("%s.%s:%s", r.ClassName, r.MemberName, r.Signature)
}

// RecordedReference pairs an EntityReference with the location it was
// observed at. The user class that first pulled it in is kept separately,
// in AnalysisContext.ClassOrigins.
type RecordedReference struct {
	Reference EntityReference
	Location  Location
}

// AnalysisContext accumulates diagnostics, materialized class images, and
// references observed during one session. It is append-only and not
// thread-safe: one session belongs to exactly one goroutine.
type AnalysisContext struct {
	Messages     []Message
	Classes      map[string]*MaterializedClass
	References   []RecordedReference
	ClassOrigins map[string]string // dependency class name -> first user class that pulled it in
}

// NewAnalysisContext creates an empty session context.
func NewAnalysisContext() *AnalysisContext {
	return &AnalysisContext{
		Classes:      make(map[string]*MaterializedClass),
		ClassOrigins: make(map[string]string),
	}
}

// Report appends a diagnostic message.
func (ctx *AnalysisContext) Report(severity Severity, location Location, format string, args ...interface{}) {
	ctx.Messages = append(ctx.Messages, Message{
		Text:     fmt.Sprintf(format, args...),
		Severity: severity,
		Location: location,
	})
}

// RecordReference appends an observed entity reference and, if this is the
// first time className has appeared as an origin, attributes it to
// originClass.
func (ctx *AnalysisContext) RecordReference(ref EntityReference, loc Location, originClass string) {
	ctx.References = append(ctx.References, RecordedReference{Reference: ref, Location: loc})
	if _, ok := ctx.ClassOrigins[ref.ClassName]; !ok && ref.ClassName != "" {
		ctx.ClassOrigins[ref.ClassName] = originClass
	}
}

// ErrorCount returns how many ERROR-severity messages have been recorded
// across the whole session. Callers that need to know whether a single
// Load call introduced a new error should use ErrorCountSince instead:
// this session-wide total also reflects errors from classes loaded
// earlier in the same session.
func (ctx *AnalysisContext) ErrorCount() int {
	return ctx.ErrorCountSince(0)
}

// ErrorCountSince returns how many ERROR-severity messages have been
// recorded since index from into ctx.Messages, e.g. len(ctx.Messages)
// captured before a RunRules/Validate call whose own errors the caller
// wants to judge in isolation from whatever came before it.
func (ctx *AnalysisContext) ErrorCountSince(from int) int {
	count := 0
	for _, m := range ctx.Messages[from:] {
		if m.Severity == SeverityError {
			count++
		}
	}
	return count
}

// SortedMessages returns Messages ordered by (className, memberName, offset,
// severity), the ordering invariant diagnostics must satisfy.
func (ctx *AnalysisContext) SortedMessages() []Message {
	sorted := make([]Message, len(ctx.Messages))
	copy(sorted, ctx.Messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Location.ClassName != b.Location.ClassName {
			return a.Location.ClassName < b.Location.ClassName
		}
		if a.Location.MemberName != b.Location.MemberName {
			return a.Location.MemberName < b.Location.MemberName
		}
		if a.Location.InstructionOffset != b.Location.InstructionOffset {
			return a.Location.InstructionOffset < b.Location.InstructionOffset
		}
		return a.Severity < b.Severity
	})
	return sorted
}
