package workspace

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// manifest is the slice of a Cargo-style manifest we care about.
type manifest struct {
	Dependencies map[string]any `toml:"dependencies"`
}

// readManifest returns the normalized dependency ids declared by the manifest
// at path. A renamed dependency (`alias = { package = "..." }`) is keyed by
// its package name.
func (l *Layout) readManifest(path string) (map[string]struct{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return map[string]struct{}{}, fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return map[string]struct{}{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	deps := make(map[string]struct{}, len(m.Dependencies))
	for name, spec := range m.Dependencies {
		if table, ok := spec.(map[string]any); ok {
			if pkg, ok := table["package"].(string); ok && pkg != "" {
				name = pkg
			}
		}
		deps[l.DependencyID(name)] = struct{}{}
	}
	return deps, nil
}
