package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/daimatz/sandbox/internal/obslog"
	"github.com/daimatz/sandbox/pkg/sandbox"
	"github.com/daimatz/sandbox/pkg/vm"
)

func findJmodPath() string {
	if env := os.Getenv("JAVA_BASE_JMOD"); env != "" {
		return env
	}
	if javaHome := os.Getenv("JAVA_HOME"); javaHome != "" {
		p := filepath.Join(javaHome, "jmods", "java.base.jmod")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	matches, _ := filepath.Glob("/usr/lib/jvm/java-*-openjdk-*/jmods/java.base.jmod")
	if len(matches) > 0 {
		return matches[0]
	}
	return ""
}

func main() {
	obslog.Init()
	defer obslog.Sync()

	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: sandboxctl <sandbox.toml> <entryClassName>\n")
		os.Exit(1)
	}
	configPath := os.Args[1]
	entryClass := os.Args[2]

	cfg, err := sandbox.LoadConfiguration(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	source, err := sandbox.NewSourceLoader(cfg.Classpath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building source loader: %v\n", err)
		os.Exit(1)
	}

	policy := sandbox.DefaultPolicy(cfg)
	ctx := sandbox.NewAnalysisContext()
	session := sandbox.NewLoader(policy, source, ctx)

	if _, err := session.Load(entryClass); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", entryClass, err)
		for _, msg := range ctx.SortedMessages() {
			fmt.Fprintf(os.Stderr, "  %s\n", msg.Text)
		}
		os.Exit(1)
	}

	validator := sandbox.NewValidator(session, policy.Whitelist, ctx)
	summary := validator.Validate([]string{entryClass})
	if ctx.ErrorCount() > 0 {
		fmt.Fprintf(os.Stderr, "Error: %s failed reference validation:\n", entryClass)
		for _, msg := range summary.Messages {
			fmt.Fprintf(os.Stderr, "  %s\n", msg.Text)
		}
		os.Exit(1)
	}

	jmodPath := findJmodPath()
	if jmodPath == "" {
		fmt.Fprintf(os.Stderr, "Error: could not find java.base.jmod. Set JAVA_HOME or JAVA_BASE_JMOD.\n")
		os.Exit(1)
	}
	host := vm.NewJmodClassLoader(jmodPath)
	loader := vm.NewSandboxLoaderAdapter(session, host)

	resolvedEntry := session.Resolver().Resolve(entryClass)
	v := vm.NewVM(loader).WithCostAccounting(policy.ExecutionProfile)

	if err := v.Execute(resolvedEntry); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing: %v\n", err)
		os.Exit(1)
	}
}
