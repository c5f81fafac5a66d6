// Package apperr defines the error kinds shared across the publisher.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrAnnouncementParse marks an announcement that fell back to defaults.
	ErrAnnouncementParse = errors.New("announcement parse failure")
	// ErrVersionControl marks a git invocation that exited non-zero.
	ErrVersionControl = errors.New("version control failure")
	// ErrPrecondition marks a step attempted without its required state.
	ErrPrecondition = errors.New("precondition failure")
	// ErrTemplateRender marks a missing template or template field.
	ErrTemplateRender = errors.New("template render failure")
)

// VCSError describes a failed git invocation.
type VCSError struct {
	Args     []string
	Dir      string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *VCSError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "git %s", strings.Join(e.Args, " "))
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, ": exit status %d", e.ExitCode)
	}
	if e.Err != nil && e.ExitCode < 0 {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, ": %s", s)
	}
	return b.String()
}

// Is reports ErrVersionControl so callers can match on the kind.
func (e *VCSError) Is(target error) bool {
	return target == ErrVersionControl
}

func (e *VCSError) Unwrap() error {
	return e.Err
}
