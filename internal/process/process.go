// Package process runs external programs (container tool, git) and captures
// their output.
package process

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"llmn/pkg/logging"

	"github.com/cockroachdb/errors"
)

// Runner executes a program and returns its captured output.
//
// exitCode is -1 when the program could not be started at all (for example
// when it is not installed); err is non-nil whenever exitCode != 0.
type Runner interface {
	RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (stdout string, stderr string, exitCode int, err error)
}

// Exec is the os/exec backed Runner.
type Exec struct{}

// NewExec returns a Runner that only captures output.
func NewExec() *Exec {
	return &Exec{}
}

// RunInDir implements Runner. env entries are appended to the current
// process environment.
func (e *Exec) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.Debug("Process", "Running: %s %s", name, strings.Join(args, " "))
	err := cmd.Run()
	if err == nil {
		return stdout.String(), stderr.String(), 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.String(), stderr.String(), exitErr.ExitCode(), errors.Wrapf(err, "%s exited with code %d", name, exitErr.ExitCode())
	}
	return stdout.String(), stderr.String(), -1, errors.Wrapf(err, "failed to run %s", name)
}
