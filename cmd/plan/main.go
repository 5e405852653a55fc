// Command plan prints what one build cycle would compile for a set of
// changed paths, without running any compiler. With no paths it uses the
// uncommitted changes of the git checkout holding the workspace.
//
//	go run ./cmd/plan [workspace] [path...]
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/beacondao/mirin/internal/builder"
	"github.com/beacondao/mirin/internal/config"
	"github.com/beacondao/mirin/internal/git"
	"github.com/beacondao/mirin/internal/graph"
	"github.com/beacondao/mirin/internal/workspace"
)

func main() {
	root := "."
	var paths []string
	if len(os.Args) > 1 {
		root = os.Args[1]
		var err error
		if paths, err = absPaths(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid path: %v\n", err)
			os.Exit(1)
		}
	}

	// ── Step 1: Open workspace ──
	fmt.Println("=== Step 1: Open workspace ===")
	cfg, err := config.LoadFromDir(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	layout, err := workspace.NewLayout(root, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open workspace: %v\n", err)
		os.Exit(1)
	}
	modules, err := layout.Discover()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Discovery failed: %v\n", err)
		os.Exit(1)
	}
	for _, m := range modules {
		deps := graph.ChangeSet(m.Dependencies).Sorted()
		if m.ManifestErr != nil {
			fmt.Printf("  %-20s (manifest unreadable: %v)\n", m.ID, m.ManifestErr)
			continue
		}
		fmt.Printf("  %-20s deps=%v\n", m.ID, deps)
	}

	// ── Step 2: Collect changed paths ──
	fmt.Println("\n=== Step 2: Collect changed paths ===")
	if len(paths) == 0 {
		repo, err := git.Open(layout.Root)
		if err != nil {
			fmt.Fprintf(os.Stderr, "No paths given and %v\n", err)
			os.Exit(1)
		}
		if paths, err = repo.ChangedFiles(); err != nil {
			fmt.Fprintf(os.Stderr, "git status failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("  revision %s\n", repo.Revision())
	}
	if len(paths) == 0 {
		fmt.Println("  No changes detected. Nothing to do.")
		return
	}

	// ── Step 3: Classify ──
	fmt.Println("\n=== Step 3: Classify ===")
	seed := graph.NewChangeSet()
	for _, p := range paths {
		id, ok := layout.Classify(p)
		if !ok {
			fmt.Printf("  [ignored] %s\n", p)
			continue
		}
		seed.Add(id)
		fmt.Printf("  [%s] %s\n", id, p)
	}

	if len(seed) == 0 {
		fmt.Println("  No module affected. Nothing to do.")
		return
	}

	// ── Step 4: Resolve closure ──
	fmt.Println("\n=== Step 4: Resolve closure ===")
	closure := graph.Resolve(seed, modules, layout.IsScheduler)
	if closure.Skip() {
		fmt.Println("  Nothing to rebuild.")
		return
	}
	for _, m := range builder.Targets(closure, modules) {
		fmt.Printf("  %s  %s\n", cfg.ModuleBuild, m.Dir)
	}
	fmt.Printf("  %s  %s\n", cfg.SchedulerBuild, layout.Root)
	if closure.SchedulerTouched() {
		fmt.Println("  (scheduler sources changed)")
	}
}

// absPaths resolves command-line paths against the working directory, since
// Layout.Classify would otherwise read them relative to the workspace root.
func absPaths(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, a := range args {
		abs, err := filepath.Abs(a)
		if err != nil {
			return nil, err
		}
		out = append(out, abs)
	}
	return out, nil
}
