package vcs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"

	"github.com/starford/meetupwiki/internal/apperr"
)

const stderrTail = 4096

// ExecRunner runs the git binary as a child process.
type ExecRunner struct {
	// Binary defaults to "git".
	Binary string
	// Stdout and Stderr receive the child's output when non-nil.
	Stdout io.Writer
	Stderr io.Writer
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, dir string, args ...string) error {
	bin := r.Binary
	if bin == "" {
		bin = "git"
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	cmd.Stdout = r.Stdout

	var stderr bytes.Buffer
	if r.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, r.Stderr)
	} else {
		cmd.Stderr = &stderr
	}

	if err := cmd.Run(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		tail := stderr.Bytes()
		if len(tail) > stderrTail {
			tail = tail[len(tail)-stderrTail:]
		}
		return &apperr.VCSError{
			Args:     args,
			Dir:      dir,
			ExitCode: code,
			Stderr:   string(tail),
			Err:      err,
		}
	}
	return nil
}
