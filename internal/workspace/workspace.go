// Package workspace maps a modular workspace on disk to module descriptors
// and classifies changed paths to the module that owns them.
//
// A workspace root holds immediate child directories named
// <prefix><separator><id>. Each carries a manifest listing its dependencies.
// One of them is the scheduler, the aggregating target that is always rebuilt.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/beacondao/mirin/internal/config"
)

// Layout describes the naming convention of one workspace root.
type Layout struct {
	Root       string // canonical absolute path
	Prefix     string
	Separator  string
	Scheduler  string
	SourceDir  string
	Manifest   string
	OutputDirs []string
}

// Module is a ModuleDescriptor: a compiled sub-unit of the workspace.
// Re-read from disk every build cycle.
type Module struct {
	ID           string
	Dir          string
	Dependencies map[string]struct{}

	// ManifestErr is set when the manifest could not be read or parsed.
	// Such a module has no declared dependencies.
	ManifestErr error

	// Shadowed lists other directories whose names map to the same id.
	// They are never built; edits in them classify to this module.
	Shadowed []string
}

// DependsOnAny reports whether m declares a dependency on any id in ids.
func (m Module) DependsOnAny(ids map[string]struct{}) bool {
	for dep := range m.Dependencies {
		if _, ok := ids[dep]; ok {
			return true
		}
	}
	return false
}

// NewLayout resolves root to its canonical form and builds a Layout from cfg.
func NewLayout(root string, cfg *config.Config) (*Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace %s: %w", root, err)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace %s: %w", root, err)
	}
	st, err := os.Stat(canon)
	if err != nil {
		return nil, fmt.Errorf("stat workspace %s: %w", canon, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", canon)
	}

	return &Layout{
		Root:       canon,
		Prefix:     cfg.Prefix,
		Separator:  cfg.Separator,
		Scheduler:  cfg.Scheduler,
		SourceDir:  cfg.SourceDir,
		Manifest:   cfg.Manifest,
		OutputDirs: cfg.OutputDirs,
	}, nil
}

// ModuleID derives the module id from a root child directory name.
// The name must start with the workspace prefix; the id is what follows
// the last separator.
func (l *Layout) ModuleID(name string) (string, bool) {
	if !strings.HasPrefix(name, l.Prefix+l.Separator) {
		return "", false
	}
	id := l.suffix(name)
	if id == "" {
		return "", false
	}
	return id, true
}

// DependencyID normalizes a manifest dependency name the same way module
// directory names are normalized.
func (l *Layout) DependencyID(name string) string {
	return l.suffix(name)
}

func (l *Layout) suffix(name string) string {
	if i := strings.LastIndex(name, l.Separator); i >= 0 {
		return name[i+len(l.Separator):]
	}
	return name
}

// IsScheduler reports whether id names the scheduler module.
func (l *Layout) IsScheduler(id string) bool {
	return id == l.Scheduler
}

// Discover enumerates the non-scheduler modules under the root, sorted by id.
// Manifest problems are recorded on the module, never returned.
func (l *Layout) Discover() ([]Module, error) {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		return nil, fmt.Errorf("read workspace %s: %w", l.Root, err)
	}

	// ReadDir sorts by name, so the first spelling of a duplicated id wins
	seen := make(map[string]int)
	var modules []Module

	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		id, ok := l.ModuleID(ent.Name())
		if !ok || l.IsScheduler(id) {
			continue
		}
		dir := filepath.Join(l.Root, ent.Name())
		if i, dup := seen[id]; dup {
			modules[i].Shadowed = append(modules[i].Shadowed, dir)
			continue
		}
		seen[id] = len(modules)

		deps, err := l.readManifest(filepath.Join(dir, l.Manifest))
		modules = append(modules, Module{
			ID:           id,
			Dir:          dir,
			Dependencies: deps,
			ManifestErr:  err,
		})
	}

	sort.Slice(modules, func(i, j int) bool { return modules[i].ID < modules[j].ID })
	return modules, nil
}
