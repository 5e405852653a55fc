package builder

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/beacondao/mirin/internal/config"
)

// Runner executes one external build command to completion in dir and
// returns its combined stdout and stderr.
type Runner interface {
	Run(ctx context.Context, dir string, cmd config.Command) ([]byte, error)
}

// ExecRunner runs commands as child processes.
type ExecRunner struct{}

// Run blocks until the process exits. A non-zero exit status is an error.
// ctx only ends the process at shutdown; no timeout is applied.
func (ExecRunner) Run(ctx context.Context, dir string, cmd config.Command) ([]byte, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = dir

	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out

	if err := c.Run(); err != nil {
		return out.Bytes(), fmt.Errorf("%s in %s: %w", cmd, dir, err)
	}
	return out.Bytes(), nil
}
