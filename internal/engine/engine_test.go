package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beacondao/mirin/internal/builder"
	"github.com/beacondao/mirin/internal/builder/buildertest"
	"github.com/beacondao/mirin/internal/config"
	"github.com/beacondao/mirin/internal/store"
	"github.com/beacondao/mirin/internal/ui"
	"github.com/beacondao/mirin/internal/watcher"
	"github.com/beacondao/mirin/internal/workspace"
)

type harness struct {
	root   string
	layout *workspace.Layout
	runner *buildertest.Runner
	store  *store.Store
	engine *Engine
}

// newHarness lays out a workspace where bar depends on foo and baz is unrelated.
func newHarness(t *testing.T, withWatcher bool, queueSize int) *harness {
	t.Helper()
	cfg := config.Default()
	root := t.TempDir()

	files := map[string]string{
		"beacon_dao-foo/Cargo.toml":       "[package]\nname = \"beacon_dao-foo\"\n",
		"beacon_dao-foo/src/lib.rs":       "",
		"beacon_dao-foo/src/net.rs":       "",
		"beacon_dao-bar/Cargo.toml":       "[dependencies]\nbeacon_dao-foo = { path = \"../beacon_dao-foo\" }\n",
		"beacon_dao-bar/src/lib.rs":       "",
		"beacon_dao-baz/Cargo.toml":       "[dependencies]\nserde = \"1\"\n",
		"beacon_dao-baz/src/lib.rs":       "",
		"beacon_dao-scheduler/Cargo.toml": "[dependencies]\nbeacon_dao-foo = \"*\"\n",
		"beacon_dao-scheduler/src/lib.rs": "",
	}
	for rel, body := range files {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}

	layout, err := workspace.NewLayout(root, cfg)
	require.NoError(t, err)

	runner := buildertest.New(layout.Root, cfg)
	logger := ui.Discard()
	s := store.New(cfg.HistorySize)

	opts := Options{
		Layout:    layout,
		Builder:   builder.New(cfg, layout, runner, logger),
		Store:     s,
		Logger:    logger,
		QueueSize: queueSize,
	}
	if withWatcher {
		opts.Watcher = watcher.New(layout.Root, layout.SkipDir, logger)
	}

	return &harness{root: layout.Root, layout: layout, runner: runner, store: s, engine: New(opts)}
}

func (h *harness) path(rel string) string {
	return filepath.Join(h.root, filepath.FromSlash(rel))
}

func (h *harness) moduleDir(id string) string {
	return filepath.Join(h.root, "beacon_dao-"+id)
}

// run starts the engine and waits for the startup build.
func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, h.engine.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return h.store.Checksum() == "1" }, 3*time.Second, 10*time.Millisecond)
}

func TestProcess_FirstBuildPublishesNonceOne(t *testing.T) {
	h := newHarness(t, false, 4)
	assert.Equal(t, "0", h.store.Checksum())

	h.engine.process(context.Background(), NewRequest(TriggerStartup))

	assert.Equal(t, "1", h.store.Checksum())
	assert.ElementsMatch(t, []string{h.moduleDir("bar"), h.moduleDir("baz"), h.moduleDir("foo")}, h.runner.ModuleDirs())
	assert.Equal(t, Idle, h.engine.State())

	last, ok := h.store.Last()
	require.True(t, ok)
	assert.Equal(t, store.OutcomeSuccess, last.Outcome)
	assert.True(t, last.All)
	assert.Equal(t, "startup", last.Trigger)
}

func TestProcess_FailedBuildKeepsPreviousSnapshot(t *testing.T) {
	h := newHarness(t, false, 4)
	ctx := context.Background()

	h.engine.process(ctx, NewRequest(TriggerStartup))
	first := h.store.Current()
	require.NotNil(t, first)

	h.runner.SkipArtifacts(true)
	h.engine.process(ctx, NewRequest(TriggerManual))

	assert.Equal(t, "1", h.store.Checksum())
	bin, _ := h.store.Module()
	js, _ := h.store.Loader()
	assert.Equal(t, first.Binary, bin)
	assert.Equal(t, first.Loader, js)

	last, _ := h.store.Last()
	assert.Equal(t, store.OutcomeFailed, last.Outcome)
	assert.Contains(t, last.Error, "artifact read failed")

	// recovery continues the sequence
	h.runner.SkipArtifacts(false)
	h.engine.process(ctx, NewRequest(TriggerManual))
	assert.Equal(t, "2", h.store.Checksum())
}

func TestProcess_ModuleFailureKeepsPreviousSnapshot(t *testing.T) {
	h := newHarness(t, false, 4)
	ctx := context.Background()
	h.engine.process(ctx, NewRequest(TriggerStartup))

	h.runner.FailIn(h.moduleDir("foo"))
	h.engine.process(ctx, NewRequest(TriggerWatch, h.path("beacon_dao-foo/src/lib.rs")))
	assert.Equal(t, "1", h.store.Checksum())

	last, _ := h.store.Last()
	assert.Equal(t, store.OutcomeFailed, last.Outcome)
	assert.Contains(t, last.Error, "module compile failed")
}

func TestProcess_DependentsRebuild(t *testing.T) {
	h := newHarness(t, false, 4)

	h.engine.process(context.Background(), NewRequest(TriggerWatch, h.path("beacon_dao-foo/src/lib.rs")))

	assert.Equal(t, []string{h.moduleDir("bar"), h.moduleDir("foo")}, h.runner.ModuleDirs())
	last, _ := h.store.Last()
	assert.Equal(t, []string{"bar", "foo"}, last.Modules)
	assert.False(t, last.All)
}

func TestProcess_SameModuleTwiceCompilesOnce(t *testing.T) {
	h := newHarness(t, false, 4)

	h.engine.process(context.Background(), NewRequest(TriggerWatch,
		h.path("beacon_dao-baz/src/lib.rs"),
		h.path("beacon_dao-baz/src/lib.rs"),
		h.path("beacon_dao-baz/src/../src/lib.rs"),
	))

	assert.Equal(t, []string{h.moduleDir("baz")}, h.runner.ModuleDirs())
	assert.Equal(t, "1", h.store.Checksum())
}

func TestProcess_UnclassifiedBatchNeverBuilds(t *testing.T) {
	h := newHarness(t, false, 4)

	h.engine.process(context.Background(), NewRequest(TriggerWatch,
		h.path("beacon_dao-foo/target/release/foo.wasm"),
		h.path("beacon_dao-foo/Cargo.lock"),
		filepath.Join(t.TempDir(), "elsewhere.rs"),
	))

	assert.Empty(t, h.runner.Calls())
	assert.Equal(t, "0", h.store.Checksum())
	_, ok := h.store.Last()
	assert.False(t, ok, "skipped cycles are not recorded")
}

func TestProcess_UnknownModuleNeverBuilds(t *testing.T) {
	h := newHarness(t, false, 4)
	// prefixed directory that vanished between the event and discovery
	h.engine.process(context.Background(), NewRequest(TriggerWatch, h.path("beacon_dao-gone/src/lib.rs")))
	assert.Empty(t, h.runner.Calls())
}

func TestProcess_RemovedModuleNeverBuilds(t *testing.T) {
	h := newHarness(t, false, 4)
	// bar still depends on foo, whose directory is gone
	require.NoError(t, os.RemoveAll(h.moduleDir("foo")))

	h.engine.process(context.Background(), NewRequest(TriggerWatch, h.path("beacon_dao-foo/src/lib.rs")))

	assert.Empty(t, h.runner.Calls())
	assert.Equal(t, "0", h.store.Checksum())
}

func TestProcess_SchedulerChangeBuildsSchedulerOnly(t *testing.T) {
	h := newHarness(t, false, 4)

	h.engine.process(context.Background(), NewRequest(TriggerWatch, h.path("beacon_dao-scheduler/src/lib.rs")))

	assert.Empty(t, h.runner.ModuleDirs())
	assert.Len(t, h.runner.Calls(), 1)
	assert.Equal(t, "1", h.store.Checksum())
}

func TestProcess_WarnsAboutDuplicateModuleIDs(t *testing.T) {
	h := newHarness(t, false, 4)
	dup := h.path("beacon_dao-extra-baz/src/lib.rs")
	require.NoError(t, os.MkdirAll(filepath.Dir(dup), 0o755))
	require.NoError(t, os.WriteFile(dup, nil, 0o644))

	var buf bytes.Buffer
	h.engine.logger = ui.NewWithWriter(&buf)
	h.engine.process(context.Background(), NewRequest(TriggerWatch, dup))

	assert.Contains(t, buf.String(), "Duplicate module id")
	assert.Contains(t, buf.String(), "beacon_dao-extra-baz")
	// the edit classifies to baz, which builds from the kept directory
	assert.Equal(t, []string{h.moduleDir("baz")}, h.runner.ModuleDirs())
}

func TestTrySubmit_QueueFull(t *testing.T) {
	h := newHarness(t, false, 1)

	require.NoError(t, h.engine.TrySubmit(NewRequest(TriggerManual)))
	assert.ErrorIs(t, h.engine.TrySubmit(NewRequest(TriggerManual)), ErrQueueFull)
	assert.Equal(t, 1, h.engine.QueueLength())

	// Rebuild swallows the error
	h.engine.Rebuild(TriggerSignal)
	assert.Equal(t, 1, h.engine.QueueLength())
}

func TestRun_BuildsAreSerialized(t *testing.T) {
	h := newHarness(t, false, 16)
	h.run(t)

	release := h.runner.Block()
	for range 5 {
		require.NoError(t, h.engine.TrySubmit(NewRequest(TriggerManual)))
	}
	require.Eventually(t, func() bool { return h.engine.State() == Building }, time.Second, 5*time.Millisecond)
	release()

	require.Eventually(t, func() bool { return h.store.Checksum() == "6" }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.runner.MaxConcurrent())
	assert.Len(t, h.store.Recent(10), 6)
}

func TestListenKeys(t *testing.T) {
	h := newHarness(t, false, 16)
	h.run(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.engine.ListenKeys(ctx, strings.NewReader("\nhelp\nr\n"))
	}()
	wg.Wait()

	require.Eventually(t, func() bool { return h.store.Checksum() == "3" }, 3*time.Second, 10*time.Millisecond)
	last, _ := h.store.Last()
	assert.Equal(t, "manual", last.Trigger)
	assert.True(t, last.All)
}

func TestRun_WatchLoop(t *testing.T) {
	h := newHarness(t, true, 16)
	h.run(t)
	h.runner.Reset()

	// permission changes alone never reach the builder
	require.NoError(t, os.Chmod(h.path("beacon_dao-baz/src/lib.rs"), 0o600))
	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, h.runner.Calls())
	assert.Equal(t, "1", h.store.Checksum())

	require.NoError(t, os.WriteFile(h.path("beacon_dao-baz/src/lib.rs"), []byte("pub fn x() {}\n"), 0o600))
	require.Eventually(t, func() bool { return h.store.Checksum() != "1" }, 5*time.Second, 10*time.Millisecond)

	// a single write may surface as more than one batch, but only baz ever
	// compiles, and the scheduler writing its artifacts under pkg/ never
	// feeds back into another cycle
	time.Sleep(300 * time.Millisecond)
	settled := h.store.Checksum()
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, settled, h.store.Checksum())
	for _, dir := range h.runner.ModuleDirs() {
		assert.Equal(t, h.moduleDir("baz"), dir)
	}
}
