// Package builder drives the external compiler over a build closure and
// assembles the resulting artifacts into a Snapshot.
//
// Modules compile one at a time, each in its own directory, and the scheduler
// is always compiled last from the workspace root. The first failure aborts
// the cycle; the caller keeps its previous snapshot.
package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/beacondao/mirin/internal/config"
	"github.com/beacondao/mirin/internal/graph"
	"github.com/beacondao/mirin/internal/store"
	"github.com/beacondao/mirin/internal/ui"
	"github.com/beacondao/mirin/internal/workspace"
)

// RevisionSource reports the workspace revision a build was made from.
type RevisionSource interface {
	Revision() string
}

// Builder is the build orchestrator.
type Builder struct {
	layout       *workspace.Layout
	runner       Runner
	logger       *ui.Logger
	moduleCmd    config.Command
	schedulerCmd config.Command
	binaryPath   string
	loaderPath   string
	revision     RevisionSource
	now          func() time.Time
}

// New creates a Builder for the workspace described by layout.
func New(cfg *config.Config, layout *workspace.Layout, runner Runner, logger *ui.Logger) *Builder {
	artifacts := filepath.Join(layout.Root, filepath.FromSlash(cfg.ArtifactDir))
	return &Builder{
		layout:       layout,
		runner:       runner,
		logger:       logger,
		moduleCmd:    cfg.ModuleBuild,
		schedulerCmd: cfg.SchedulerBuild,
		binaryPath:   filepath.Join(artifacts, cfg.BinaryArtifact),
		loaderPath:   filepath.Join(artifacts, cfg.LoaderArtifact),
		now:          time.Now,
	}
}

// WithRevision stamps snapshots with the revision reported by src.
func (b *Builder) WithRevision(src RevisionSource) *Builder {
	b.revision = src
	return b
}

// Targets resolves the closure to concrete modules, in modules' order.
func Targets(closure graph.Closure, modules []workspace.Module) []workspace.Module {
	if closure.All() {
		return modules
	}
	var out []workspace.Module
	for _, m := range modules {
		if closure.Contains(m.ID) {
			out = append(out, m)
		}
	}
	return out
}

// Build compiles closure and the scheduler, then reads the artifacts back.
//
// On success it returns a new snapshot whose nonce follows prev. On any
// failure it returns prev unchanged together with a *BuildError.
func (b *Builder) Build(ctx context.Context, closure graph.Closure, modules []workspace.Module, prev *store.Snapshot) (*store.Snapshot, error) {
	targets := Targets(closure, modules)

	for _, m := range targets {
		b.logger.Debug("Compiling module", "module", m.ID, "cmd", b.moduleCmd.String())
		out, err := b.runner.Run(ctx, m.Dir, b.moduleCmd)
		if err != nil {
			return prev, &BuildError{Kind: ErrModuleCompile, Module: m.ID, Output: out, Err: err}
		}
	}

	b.logger.Debug("Compiling scheduler", "cmd", b.schedulerCmd.String())
	out, err := b.runner.Run(ctx, b.layout.Root, b.schedulerCmd)
	if err != nil {
		return prev, &BuildError{Kind: ErrSchedulerCompile, Module: b.layout.Scheduler, Output: out, Err: err}
	}

	binary, err := os.ReadFile(b.binaryPath)
	if err != nil {
		return prev, &BuildError{Kind: ErrArtifactRead, Output: out, Err: fmt.Errorf("module binary: %w", err)}
	}
	loader, err := os.ReadFile(b.loaderPath)
	if err != nil {
		return prev, &BuildError{Kind: ErrArtifactRead, Output: out, Err: fmt.Errorf("loader script: %w", err)}
	}

	snap := &store.Snapshot{
		Binary:  binary,
		Loader:  loader,
		Nonce:   store.NextNonce(prev),
		BuiltAt: b.now(),
	}
	if !closure.All() {
		snap.Modules = make([]string, 0, len(targets))
		for _, m := range targets {
			snap.Modules = append(snap.Modules, m.ID)
		}
	}
	if b.revision != nil {
		snap.Revision = b.revision.Revision()
	}
	return snap, nil
}
