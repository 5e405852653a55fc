package builder

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying why a build cycle was aborted. They are
// always wrapped in a *BuildError carrying the captured compiler output.
var (
	ErrModuleCompile    = errors.New("module compile failed")
	ErrSchedulerCompile = errors.New("scheduler compile failed")
	ErrArtifactRead     = errors.New("artifact read failed")
)

// BuildError describes the step that aborted a build cycle.
type BuildError struct {
	Kind   error  // one of the sentinels above
	Module string // module id, or the scheduler id
	Output []byte // combined stdout/stderr of the failing command
	Err    error
}

func (e *BuildError) Error() string {
	if e.Module != "" {
		return fmt.Sprintf("%v (%s): %v", e.Kind, e.Module, e.Err)
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *BuildError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
