package sandbox

import (
	"fmt"

	"github.com/daimatz/sandbox/internal/obslog"
	"go.uber.org/zap"
)

// LoadedClass is the artifact produced by a successful Load: the
// materialized (pre-rewrite) view of the class, the bytes to hand the
// host's class-defining API, and whether those bytes differ from the
// original (spec §6's isModified flag).
type LoadedClass struct {
	MaterializedClass *MaterializedClass
	Bytes             []byte
	IsModified        bool
}

// Loader is C9: it drives C2 (fetch) -> C3/C4 (materialize, analyze) ->
// C8 (rewrite) for every class name it's asked to load, returning the
// rewritten bytes in a LoadedClass (defining them is left to the host),
// applying pinning and whitelisting ahead of rewriting, and caches
// results by original name so a repeat lookup short-circuits every later
// step (spec §4.9).
type Loader struct {
	policy   *Policy
	resolver *ClassResolver
	visitor  *Visitor
	rewriter *Rewriter
	source   *SourceLoader
	ctx      *AnalysisContext
	cache    map[string]*LoadedClass
}

// NewLoader builds a Loader session bound to policy, source and ctx. One
// Loader belongs to exactly one session (spec §5): it is not safe to
// share across goroutines.
func NewLoader(policy *Policy, source *SourceLoader, ctx *AnalysisContext) *Loader {
	resolver := NewClassResolver(policy.Whitelist)
	return &Loader{
		policy:   policy,
		resolver: resolver,
		visitor:  NewVisitor(resolver),
		rewriter: NewRewriter(resolver, policy),
		source:   source,
		ctx:      ctx,
		cache:    make(map[string]*LoadedClass),
	}
}

// Resolver exposes the session's class resolver, shared with the
// reference validator (C10) so a call site and the validator's own
// resolution of the same name always agree.
func (l *Loader) Resolver() *ClassResolver { return l.resolver }

// Load resolves name through the UNKNOWN -> PARSED -> ANALYZED ->
// {PINNED|REJECTED|REWRITTEN -> LOADED} state machine of spec §4.9. A
// cache hit on the original name short-circuits fetch/analyze/rewrite
// entirely.
func (l *Loader) Load(name string) (*LoadedClass, error) {
	if cached, ok := l.cache[name]; ok {
		obslog.L().Debug("sandbox: cache hit", zap.String("class", name))
		return cached, nil
	}
	if l.policy.PinnedClasses.IsPinned(name) {
		obslog.L().Debug("sandbox: loading pinned class", zap.String("class", name))
		return l.loadPinned(name)
	}

	cf, err := l.source.Load(name)
	if err != nil {
		l.ctx.Report(SeverityError, Location{ClassName: name}, "class %s not found on classpath: %v", name, err)
		return nil, &SandboxClassLoadingException{ClassName: name, Context: l.ctx}
	}

	mc, err := l.visitor.Materialize(cf)
	if err != nil {
		l.ctx.Report(SeverityError, Location{ClassName: name}, "materializing %s: %v", name, err)
		return nil, &SandboxClassLoadingException{ClassName: name, Context: l.ctx}
	}
	l.ctx.Classes[name] = mc
	l.visitor.WalkReferences(mc, l.ctx, name)

	if l.policy.Whitelist.Matches(name) {
		obslog.L().Debug("sandbox: loading whitelisted class", zap.String("class", name))
		return l.loadWhitelisted(name, mc)
	}

	before := len(l.ctx.Messages)
	RunRules(l.ctx, mc, l.policy.Rules)
	errors := l.ctx.ErrorCountSince(before)
	if errors > 0 {
		obslog.L().Info("sandbox: rejecting class", zap.String("class", name), zap.Int("errors", errors))
		return nil, &SandboxClassLoadingException{ClassName: name, Context: l.ctx}
	}

	result, err := l.rewriter.Rewrite(l.ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("rewriting %s: %w", name, err)
	}
	obslog.L().Info("sandbox: rewrote class", zap.String("class", name), zap.Bool("modified", result.IsModified))

	loaded := &LoadedClass{MaterializedClass: mc, Bytes: result.Bytes, IsModified: result.IsModified}
	l.cache[name] = loaded
	return loaded, nil
}

// loadPinned fetches a pinned class through the SourceLoader with empty
// bytes recorded; its references are not remapped, since the host loads
// it untouched and never sees the sandbox's rewritten form (spec §4.9,
// and the Open Question in Design Notes §9 this resolves: pinning
// records a *materialized* view for diagnostics but never a byte payload,
// since the host never needs the sandbox to hand it one).
func (l *Loader) loadPinned(name string) (*LoadedClass, error) {
	cf, err := l.source.Load(name)
	if err != nil {
		l.ctx.Report(SeverityError, Location{ClassName: name}, "pinned class %s not found on classpath: %v", name, err)
		return nil, &SandboxClassLoadingException{ClassName: name, Context: l.ctx}
	}
	mc, err := l.visitor.Materialize(cf)
	if err != nil {
		l.ctx.Report(SeverityError, Location{ClassName: name}, "materializing pinned class %s: %v", name, err)
		return nil, &SandboxClassLoadingException{ClassName: name, Context: l.ctx}
	}
	l.ctx.Classes[name] = mc
	loaded := &LoadedClass{MaterializedClass: mc, Bytes: nil, IsModified: false}
	l.cache[name] = loaded
	return loaded, nil
}

// loadWhitelisted loads a whitelisted class verbatim through the
// supporting loader: its bytes are re-read unmodified, never passed
// through the definition provider / emitter / remapper chain.
func (l *Loader) loadWhitelisted(name string, mc *MaterializedClass) (*LoadedClass, error) {
	raw, err := l.source.LoadRaw(name)
	if err != nil {
		return nil, fmt.Errorf("loading whitelisted class %s: %w", name, err)
	}
	loaded := &LoadedClass{MaterializedClass: mc, Bytes: raw, IsModified: false}
	l.cache[name] = loaded
	return loaded, nil
}
