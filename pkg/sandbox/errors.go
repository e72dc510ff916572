package sandbox

import "fmt"

// SandboxClassLoadingException aborts a loading session and carries the
// full diagnostic context accumulated up to the point of failure (spec
// §7: "a session either yields a fully valid, fully rewritten class
// graph, or fails with the aggregate report").
type SandboxClassLoadingException struct {
	ClassName string
	Context   *AnalysisContext
}

func (e *SandboxClassLoadingException) Error() string {
	return fmt.Sprintf("sandbox: failed to load %s: %d error(s) recorded", e.ClassName, e.Context.ErrorCount())
}

// HostDefinitionError wraps a host loader's refusal to define a rewritten
// class under its resolved sandbox name (spec §7's "definition collision").
type HostDefinitionError struct {
	ResolvedName string
	Err          error
}

func (e *HostDefinitionError) Error() string {
	return fmt.Sprintf("sandbox: host refused to define %s: %v", e.ResolvedName, e.Err)
}

func (e *HostDefinitionError) Unwrap() error { return e.Err }

// InternalInvariantError marks a fatal, non-recoverable breach of an
// internal invariant (e.g. the resolver's Resolve/Reverse asymmetry), per
// spec §7: these abort the session immediately rather than accumulating.
type InternalInvariantError struct {
	Detail string
}

func (e *InternalInvariantError) Error() string {
	return fmt.Sprintf("sandbox: internal invariant breach: %s", e.Detail)
}
