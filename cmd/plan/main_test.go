package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beacondao/mirin/internal/config"
	"github.com/beacondao/mirin/internal/workspace"
)

func TestAbsPaths_ClassifyFromParentDir(t *testing.T) {
	parent := t.TempDir()
	lib := filepath.Join(parent, "ws", "beacon_dao-foo", "src", "lib.rs")
	require.NoError(t, os.MkdirAll(filepath.Dir(lib), 0o755))
	require.NoError(t, os.WriteFile(lib, nil, 0o644))
	t.Chdir(parent)

	layout, err := workspace.NewLayout("ws", config.Default())
	require.NoError(t, err)

	paths, err := absPaths([]string{filepath.Join("ws", "beacon_dao-foo", "src", "lib.rs")})
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.True(t, filepath.IsAbs(paths[0]))

	id, ok := layout.Classify(paths[0])
	assert.True(t, ok)
	assert.Equal(t, "foo", id)
}
