// Package testutil provides shared test helpers for driving the publisher
// without a real git binary.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// Call is one recorded git invocation.
type Call struct {
	Dir  string
	Args []string
}

// String renders the call the way it would appear on a shell.
func (c Call) String() string {
	return "git " + strings.Join(c.Args, " ")
}

// Recorder is a vcs.Runner that records invocations instead of running git.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
	fail  map[string]error

	// OnRun, if set, runs after the call is recorded and before failures
	// are applied. Tests use it to emulate side effects such as clone.
	OnRun func(dir string, args []string) error
}

// Run implements vcs.Runner.
func (r *Recorder) Run(_ context.Context, dir string, args ...string) error {
	call := Call{Dir: dir, Args: append([]string(nil), args...)}

	r.mu.Lock()
	r.calls = append(r.calls, call)
	hook := r.OnRun
	var failErr error
	line := call.String()
	for prefix, err := range r.fail {
		if strings.HasPrefix(line, prefix) {
			failErr = err
			break
		}
	}
	r.mu.Unlock()

	if hook != nil {
		if err := hook(dir, args); err != nil {
			return err
		}
	}
	return failErr
}

// FailOn makes every call whose shell form starts with prefix return err.
func (r *Recorder) FailOn(prefix string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail == nil {
		r.fail = make(map[string]error)
	}
	r.fail[prefix] = err
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Lines returns the recorded calls in shell form.
func (r *Recorder) Lines() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

// CloneCreatesDir is an OnRun hook that creates the destination directory
// of a clone call.
func CloneCreatesDir(_ string, args []string) error {
	if len(args) == 3 && args[0] == "clone" {
		return os.MkdirAll(args[2], 0o755)
	}
	return nil
}

// WriteFile writes content under dir, creating parents, and fails the test
// on error.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}
