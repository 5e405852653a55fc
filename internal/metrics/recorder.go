// Package metrics defines observability hooks for the build pipeline.
package metrics

import "time"

// Recorder receives build pipeline observations. Implementations must be
// safe for concurrent use.
type Recorder interface {
	IncBuildOutcome(trigger, outcome string)
	ObserveBuildDuration(d time.Duration)
	AddModulesCompiled(n int)
	SetNonce(n uint64)
	SetQueueDepth(n int)
	IncSkippedCycle(reason string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not wired).
type NoopRecorder struct{}

func (NoopRecorder) IncBuildOutcome(string, string)     {}
func (NoopRecorder) ObserveBuildDuration(time.Duration) {}
func (NoopRecorder) AddModulesCompiled(int)             {}
func (NoopRecorder) SetNonce(uint64)                    {}
func (NoopRecorder) SetQueueDepth(int)                  {}
func (NoopRecorder) IncSkippedCycle(string)             {}
