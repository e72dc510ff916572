package sandbox

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// ClasspathConfig lists the directories and jmod archives a SourceLoader
// is built from, in lookup order: dirs first, then jmods.
type ClasspathConfig struct {
	Dirs  []string `toml:"dirs"`
	Jmods []string `toml:"jmods"`
}

// ExecutionProfileConfig mirrors ExecutionProfile for TOML decoding.
type ExecutionProfileConfig struct {
	AllocationCost      int64 `toml:"allocation_cost"`
	InvocationCost      int64 `toml:"invocation_cost"`
	JumpCost            int64 `toml:"jump_cost"`
	ThrowCost           int64 `toml:"throw_cost"`
	AllocationThreshold int64 `toml:"allocation_threshold"`
	InvocationThreshold int64 `toml:"invocation_threshold"`
	JumpThreshold       int64 `toml:"jump_threshold"`
	ThrowThreshold      int64 `toml:"throw_threshold"`
}

// PolicyConfig holds the data-level portion of a session's Policy; the
// rule/provider/emitter lists themselves stay Go-level registrations
// (DefaultPolicy), not TOML data.
type PolicyConfig struct {
	WhitelistPrefixes []string               `toml:"whitelist_prefixes"`
	WhitelistExact    []string               `toml:"whitelist_exact"`
	PinnedClasses     []string               `toml:"pinned_classes"`
	ExecutionProfile  ExecutionProfileConfig `toml:"execution_profile"`
}

// Configuration is the root of a session's sandbox.toml, matching the
// [classpath] / [policy] / [policy.execution_profile] table layout.
type Configuration struct {
	ClasspathConfig ClasspathConfig `toml:"classpath"`
	Policy          PolicyConfig    `toml:"policy"`
}

// LoadConfiguration reads and decodes a TOML configuration file at path.
func LoadConfiguration(path string) (*Configuration, error) {
	var cfg Configuration
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("loading configuration from %s: %w", path, err)
	}
	return &cfg, nil
}

// Classpath flattens cfg's dirs and jmods into the single ordered list
// NewSourceLoader expects, directories first.
func (cfg *Configuration) Classpath() []string {
	classpath := make([]string, 0, len(cfg.ClasspathConfig.Dirs)+len(cfg.ClasspathConfig.Jmods))
	classpath = append(classpath, cfg.ClasspathConfig.Dirs...)
	classpath = append(classpath, cfg.ClasspathConfig.Jmods...)
	return classpath
}

// executionProfile converts the decoded TOML table into an
// ExecutionProfile, falling back to DefaultExecutionProfile for a zero
// value (an absent [policy.execution_profile] table).
func (c ExecutionProfileConfig) executionProfile() ExecutionProfile {
	if c == (ExecutionProfileConfig{}) {
		return DefaultExecutionProfile
	}
	return ExecutionProfile{
		AllocationCost:      c.AllocationCost,
		InvocationCost:      c.InvocationCost,
		JumpCost:            c.JumpCost,
		ThrowCost:           c.ThrowCost,
		AllocationThreshold: c.AllocationThreshold,
		InvocationThreshold: c.InvocationThreshold,
		JumpThreshold:       c.JumpThreshold,
		ThrowThreshold:      c.ThrowThreshold,
	}
}

// DefaultPolicy builds a Policy from cfg's data plus the package's default
// rule/provider/emitter registrations, per spec §6.1.
func DefaultPolicy(cfg *Configuration) *Policy {
	return &Policy{
		PinnedClasses:       NewPinnedClasses(cfg.Policy.PinnedClasses),
		Whitelist:           NewWhitelist(cfg.Policy.WhitelistPrefixes, cfg.Policy.WhitelistExact),
		Rules:               DefaultRules(),
		DefinitionProviders: DefaultDefinitionProviders(),
		Emitters:            DefaultEmitters(),
		ExecutionProfile:    cfg.Policy.ExecutionProfile.executionProfile(),
	}
}
