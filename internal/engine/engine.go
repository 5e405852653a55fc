package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/beacondao/mirin/internal/builder"
	"github.com/beacondao/mirin/internal/graph"
	"github.com/beacondao/mirin/internal/metrics"
	"github.com/beacondao/mirin/internal/store"
	"github.com/beacondao/mirin/internal/ui"
	"github.com/beacondao/mirin/internal/watcher"
	"github.com/beacondao/mirin/internal/workspace"
)

// ErrQueueFull is returned by TrySubmit when the build queue has no room.
var ErrQueueFull = errors.New("build queue is full")

// Trigger names the source of a build request.
type Trigger string

const (
	TriggerStartup Trigger = "startup"
	TriggerWatch   Trigger = "watch"
	TriggerManual  Trigger = "manual"
	TriggerSignal  Trigger = "signal"
)

// Request asks the executor for one build cycle. A request without paths
// rebuilds every module.
type Request struct {
	ID       string
	Trigger  Trigger
	Paths    []string
	queuedAt time.Time
}

// Full reports whether the request rebuilds everything.
func (r Request) Full() bool { return len(r.Paths) == 0 }

// NewRequest creates a request with a fresh id.
func NewRequest(trigger Trigger, paths ...string) Request {
	return Request{ID: uuid.NewString(), Trigger: trigger, Paths: paths}
}

// Options wires an Engine. Watcher and Metrics are optional.
type Options struct {
	Layout    *workspace.Layout
	Builder   *builder.Builder
	Store     *store.Store
	Logger    *ui.Logger
	Watcher   *watcher.Watcher
	Metrics   metrics.Recorder
	QueueSize int

	// DiagnosticLines caps the compiler output echoed on failure.
	DiagnosticLines int
}

// Engine orchestrates the mirin pipeline:
// watcher / manual trigger -> queue -> classify -> resolve -> build -> publish
//
// Every cycle runs on the single executor goroutine started by Run, so two
// builds never share the output directories.
type Engine struct {
	layout    *workspace.Layout
	builder   *builder.Builder
	store     *store.Store
	logger    *ui.Logger
	watcher   *watcher.Watcher
	metrics   metrics.Recorder
	diagLines int

	queue chan Request
	state atomic.Int32
	wg    sync.WaitGroup
}

// New creates a new Engine with all components wired together.
func New(opts Options) *Engine {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoopRecorder{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	return &Engine{
		layout:    opts.Layout,
		builder:   opts.Builder,
		store:     opts.Store,
		logger:    opts.Logger,
		watcher:   opts.Watcher,
		metrics:   opts.Metrics,
		diagLines: opts.DiagnosticLines,
		queue:     make(chan Request, opts.QueueSize),
	}
}

// Run performs the startup build, starts the watch loop and then executes
// queued requests until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Submit(ctx, NewRequest(TriggerStartup)); err != nil {
		return err
	}

	if e.watcher != nil {
		if err := e.watcher.Start(); err != nil {
			return err
		}
		e.wg.Add(1)
		go e.watchLoop(ctx)
		e.logger.Info("Watching for changes...", "root", e.layout.Root)
	}

	defer e.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			if e.watcher != nil {
				e.watcher.Stop()
			}
			return nil
		case req := <-e.queue:
			e.metrics.SetQueueDepth(len(e.queue))
			e.logger.Debug("Dequeued build request", "trigger", req.Trigger, "waited", time.Since(req.queuedAt).Round(time.Millisecond))
			e.process(ctx, req)
		}
	}
}

// watchLoop forwards watcher batches to the executor in FIFO order.
func (e *Engine) watchLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-e.watcher.Events():
			req := NewRequest(TriggerWatch, batch.Paths()...)
			if req.Full() {
				continue
			}
			if err := e.Submit(ctx, req); err != nil {
				return
			}
		}
	}
}

// Submit enqueues req, waiting for room in the queue.
func (e *Engine) Submit(ctx context.Context, req Request) error {
	req.queuedAt = time.Now()
	select {
	case e.queue <- req:
		e.metrics.SetQueueDepth(len(e.queue))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit enqueues req without waiting.
func (e *Engine) TrySubmit(req Request) error {
	req.queuedAt = time.Now()
	select {
	case e.queue <- req:
		e.metrics.SetQueueDepth(len(e.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

// Rebuild requests a full rebuild of every module.
func (e *Engine) Rebuild(trigger Trigger) {
	if err := e.TrySubmit(NewRequest(trigger)); err != nil {
		e.logger.Warn("Rebuild request dropped", "trigger", trigger, "err", err)
		return
	}
	e.logger.Info("Full rebuild queued", "trigger", trigger)
}

// State returns the current pipeline state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// StateName is State as text, for status endpoints.
func (e *Engine) StateName() string {
	return e.State().String()
}

// QueueLength returns the number of requests waiting for the executor.
func (e *Engine) QueueLength() int {
	return len(e.queue)
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// process runs one cycle: Filtering -> Building -> Publishing -> Idle.
// Errors end the cycle here; the store keeps its previous snapshot.
func (e *Engine) process(ctx context.Context, req Request) {
	defer e.setState(Idle)
	e.setState(Filtering)

	seed := graph.NewChangeSet()
	if !req.Full() {
		for _, p := range req.Paths {
			if id, ok := e.layout.Classify(p); ok {
				seed.Add(id)
			}
		}
		if len(seed) == 0 {
			e.logger.Debug("No module affected", "paths", len(req.Paths))
			e.metrics.IncSkippedCycle("unclassified")
			return
		}
	}

	modules, err := e.layout.Discover()
	if err != nil {
		e.logger.Error("Failed to read workspace", err)
		e.finish(req, graph.Closure{}, store.OutcomeFailed, 0, err, time.Now())
		return
	}
	for _, m := range modules {
		if m.ManifestErr != nil {
			e.logger.Debug("Manifest ignored", "module", m.ID, "err", m.ManifestErr)
		}
		for _, dir := range m.Shadowed {
			e.logger.Warn("Duplicate module id, directory ignored", "module", m.ID, "kept", m.Dir, "ignored", dir)
		}
	}

	closure := graph.Resolve(seed, modules, e.layout.IsScheduler)
	if closure.Skip() {
		e.logger.Debug("Changed modules are not part of the workspace", "modules", seed.Sorted())
		e.metrics.IncSkippedCycle("unknown-module")
		return
	}

	e.setState(Building)
	started := time.Now()
	targets := builder.Targets(closure, modules)
	e.logger.BuildStarted(req.ID, string(req.Trigger), closure.IDs(), closure.All())

	prev := e.store.Current()
	snap, err := e.builder.Build(ctx, closure, modules, prev)
	if err != nil {
		e.logger.BuildFailed(req.ID, err, time.Since(started))
		var be *builder.BuildError
		if errors.As(err, &be) {
			e.logger.Diagnostics(be.Kind.Error(), be.Output, e.diagLines)
		}
		e.finish(req, closure, store.OutcomeFailed, 0, err, started)
		return
	}

	e.setState(Publishing)
	if err := e.store.Publish(snap); err != nil {
		e.logger.Error("Failed to publish snapshot", err, "nonce", snap.Nonce)
		e.finish(req, closure, store.OutcomeFailed, 0, err, started)
		return
	}

	e.metrics.AddModulesCompiled(len(targets))
	e.metrics.SetNonce(snap.Nonce)
	e.logger.BuildSucceeded(req.ID, snap.Nonce, time.Since(started))
	e.finish(req, closure, store.OutcomeSuccess, snap.Nonce, nil, started)
}

func (e *Engine) finish(req Request, closure graph.Closure, outcome store.Outcome, nonce uint64, err error, started time.Time) {
	elapsed := time.Since(started)
	record := store.BuildRecord{
		ID:       req.ID,
		Trigger:  string(req.Trigger),
		Modules:  closure.IDs(),
		All:      closure.All(),
		Outcome:  outcome,
		Nonce:    nonce,
		Duration: elapsed,
	}
	if err != nil {
		record.Error = err.Error()
	}
	e.store.Save(record)
	e.metrics.IncBuildOutcome(string(req.Trigger), string(outcome))
	e.metrics.ObserveBuildDuration(elapsed)
}
