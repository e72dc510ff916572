package sandbox

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
[classpath]
dirs = ["/opt/app/classes"]
jmods = ["/opt/jdk/jmods/java.base.jmod"]

[policy]
whitelist_prefixes = ["java/lang/", "java/util/"]
whitelist_exact = ["java/io/PrintStream"]
pinned_classes = ["java/lang/Object", "java/lang/String"]

[policy.execution_profile]
allocation_cost = 1
invocation_cost = 1
jump_cost = 1
throw_cost = 4
allocation_threshold = 500
invocation_threshold = 600
jump_threshold = 700
throw_threshold = 800
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sandbox.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoadConfiguration(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cfg, err := LoadConfiguration(path)
	if err != nil {
		t.Fatalf("LoadConfiguration(): unexpected error %v", err)
	}

	if got, want := cfg.ClasspathConfig.Dirs, []string{"/opt/app/classes"}; len(got) != 1 || got[0] != want[0] {
		t.Errorf("Classpath.Dirs: got %v, want %v", got, want)
	}
	if got, want := cfg.Policy.ExecutionProfile.AllocationThreshold, int64(500); got != want {
		t.Errorf("AllocationThreshold: got %d, want %d", got, want)
	}
}

func TestConfigurationClasspath(t *testing.T) {
	cfg := &Configuration{
		ClasspathConfig: ClasspathConfig{
			Dirs:  []string{"/a", "/b"},
			Jmods: []string{"/c.jmod"},
		},
	}

	got := cfg.Classpath()
	want := []string{"/a", "/b", "/c.jmod"}
	if len(got) != len(want) {
		t.Fatalf("Classpath(): got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Classpath()[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDefaultPolicyFromConfiguration(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	cfg, err := LoadConfiguration(path)
	if err != nil {
		t.Fatalf("LoadConfiguration(): unexpected error %v", err)
	}

	policy := DefaultPolicy(cfg)

	if !policy.Whitelist.Matches("java/io/PrintStream") {
		t.Errorf("Whitelist.Matches(java/io/PrintStream): got false, want true")
	}
	if !policy.PinnedClasses.IsPinned("java/lang/Object") {
		t.Errorf("PinnedClasses.IsPinned(java/lang/Object): got false, want true")
	}
	if policy.ExecutionProfile.ThrowThreshold != 800 {
		t.Errorf("ExecutionProfile.ThrowThreshold: got %d, want 800", policy.ExecutionProfile.ThrowThreshold)
	}
	if len(policy.Rules) == 0 {
		t.Errorf("DefaultPolicy(): Rules is empty, want the default rule set")
	}
}

func TestExecutionProfileConfigDefaultsWhenAbsent(t *testing.T) {
	path := writeConfig(t, `
[classpath]
dirs = ["/opt/app/classes"]

[policy]
whitelist_prefixes = ["java/lang/"]
`)
	cfg, err := LoadConfiguration(path)
	if err != nil {
		t.Fatalf("LoadConfiguration(): unexpected error %v", err)
	}

	policy := DefaultPolicy(cfg)
	if policy.ExecutionProfile != DefaultExecutionProfile {
		t.Errorf("ExecutionProfile: got %+v, want DefaultExecutionProfile %+v", policy.ExecutionProfile, DefaultExecutionProfile)
	}
}
