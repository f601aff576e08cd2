package compose

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrOperation matches every failed container tool invocation.
var ErrOperation = errors.New("container tool operation failed")

// OperationError carries the captured output of a failed container tool call.
type OperationError struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("%s failed (exit code %d)", e.Command, e.ExitCode)
	if tail := lastLine(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// Unwrap returns the underlying process error.
func (e *OperationError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrOperation) match.
func (e *OperationError) Is(target error) bool { return target == ErrOperation }

// StderrContains reports whether err is an OperationError whose stderr
// contains substr, compared case-insensitively.
func StderrContains(err error, substr string) bool {
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		return false
	}
	return strings.Contains(strings.ToLower(opErr.Stderr), strings.ToLower(substr))
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
