package workspace

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Classify maps a changed path to the id of the module that owns it.
//
// Only paths below a source directory of a module count; anything inside a
// build output directory is ignored, since the builder writes there itself.
// Relative paths are taken relative to the workspace root.
func (l *Layout) Classify(path string) (string, bool) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.Root, path)
	}
	p, err := canonicalPath(path)
	if err != nil {
		return "", false
	}

	// Walk up to the root child, collecting directory names on the way.
	var names []string
	cur := p
	for {
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", false // never met the root
		}
		if parent == l.Root {
			break
		}
		names = append(names, filepath.Base(parent))
		cur = parent
	}
	terminal := cur
	if terminal == p {
		return "", false
	}

	// names runs innermost first and ends with the terminal directory itself.
	names = names[:len(names)-1]
	if !l.underSource(names) {
		return "", false
	}

	return l.ModuleID(l.childName(terminal))
}

// underSource reports whether the directory chain (innermost first) passes
// through the source directory before any output or hidden directory.
func (l *Layout) underSource(names []string) bool {
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		if name == l.SourceDir {
			return true
		}
		if strings.HasPrefix(name, ".") || l.isOutputDir(name) {
			return false
		}
	}
	return false
}

func (l *Layout) isOutputDir(name string) bool {
	for _, d := range l.OutputDirs {
		if name == d {
			return true
		}
	}
	return false
}

// childName returns the on-disk name of a direct child of the root, so that
// spellings differing only in case resolve to the same module on
// case-insensitive filesystems.
func (l *Layout) childName(dir string) string {
	name := filepath.Base(dir)
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		return name
	}
	for _, ent := range entries {
		if ent.Name() == name {
			return name
		}
	}
	st, err := os.Stat(dir)
	if err != nil {
		return name
	}
	for _, ent := range entries {
		if !strings.EqualFold(ent.Name(), name) {
			continue
		}
		other, err := os.Stat(filepath.Join(l.Root, ent.Name()))
		if err == nil && os.SameFile(st, other) {
			return ent.Name()
		}
	}
	return name
}

// canonicalPath resolves symlinks and dot segments. Paths that no longer
// exist (removal events) are resolved through their deepest existing
// ancestor.
func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	var tail []string
	cur := abs
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return abs, nil
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}

// SkipDir reports whether a directory named name should never be watched:
// build output and hidden directories.
func (l *Layout) SkipDir(name string) bool {
	return strings.HasPrefix(name, ".") || l.isOutputDir(name)
}
