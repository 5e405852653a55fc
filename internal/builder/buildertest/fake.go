// Package buildertest provides a scripted builder.Runner for tests.
package buildertest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/beacondao/mirin/internal/config"
)

// Call is one recorded Run invocation.
type Call struct {
	Dir string
	Cmd config.Command
}

// Runner records invocations. When the scheduler command runs it writes the
// two artifacts, whose contents carry a per-run counter so successive builds
// produce distinguishable bytes.
type Runner struct {
	SchedulerCmd config.Command
	BinaryPath   string
	LoaderPath   string

	mu            sync.Mutex
	calls         []Call
	failDirs      map[string]bool
	failScheduler bool
	skipArtifacts bool
	schedulerRuns int
	block         chan struct{}
	active        int
	maxActive     int
}

// New creates a Runner that writes artifacts the way cfg describes.
func New(root string, cfg *config.Config) *Runner {
	dir := filepath.Join(root, filepath.FromSlash(cfg.ArtifactDir))
	return &Runner{
		SchedulerCmd: cfg.SchedulerBuild,
		BinaryPath:   filepath.Join(dir, cfg.BinaryArtifact),
		LoaderPath:   filepath.Join(dir, cfg.LoaderArtifact),
		failDirs:     make(map[string]bool),
	}
}

// FailIn makes commands run in dir exit non-zero.
func (r *Runner) FailIn(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failDirs[dir] = true
}

// FailScheduler makes the scheduler command fail (or succeed again).
func (r *Runner) FailScheduler(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failScheduler = fail
}

// SkipArtifacts makes the scheduler command succeed without writing artifacts.
// Artifacts from earlier runs are removed.
func (r *Runner) SkipArtifacts(skip bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipArtifacts = skip
}

// Block makes every Run wait until the returned function is called.
func (r *Runner) Block() (release func()) {
	ch := make(chan struct{})
	r.mu.Lock()
	r.block = ch
	r.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Calls returns a copy of the recorded invocations.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// ModuleDirs returns the directories of non-scheduler invocations.
func (r *Runner) ModuleDirs() []string {
	var dirs []string
	for _, c := range r.Calls() {
		if c.Cmd.String() != r.SchedulerCmd.String() {
			dirs = append(dirs, c.Dir)
		}
	}
	return dirs
}

// Reset forgets recorded invocations.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// MaxConcurrent is the highest number of overlapping Run calls seen.
func (r *Runner) MaxConcurrent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxActive
}

// Run implements builder.Runner.
func (r *Runner) Run(ctx context.Context, dir string, cmd config.Command) ([]byte, error) {
	r.mu.Lock()
	block := r.block
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
	}()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Dir: dir, Cmd: cmd})

	if cmd.String() != r.SchedulerCmd.String() {
		if r.failDirs[dir] {
			return []byte("error[E0425]: cannot find value `x` in this scope\n"), errors.New("exit status 101")
		}
		return []byte("Finished release\n"), nil
	}

	if r.failScheduler {
		return []byte("scheduler: linking failed\n"), errors.New("exit status 1")
	}
	if r.skipArtifacts {
		_ = os.Remove(r.BinaryPath)
		_ = os.Remove(r.LoaderPath)
		return []byte("nothing to do\n"), nil
	}

	r.schedulerRuns++
	n := strconv.Itoa(r.schedulerRuns)
	if err := os.MkdirAll(filepath.Dir(r.BinaryPath), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(r.BinaryPath, []byte("wasm-"+n), 0o644); err != nil {
		return nil, err
	}
	if err := os.WriteFile(r.LoaderPath, []byte("js-"+n), 0o644); err != nil {
		return nil, err
	}
	return []byte("Finished scheduler\n"), nil
}
