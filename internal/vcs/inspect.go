package vcs

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/starford/meetupwiki/internal/apperr"
)

// Status is a read-only snapshot of a checkout.
type Status struct {
	Path   string `json:"path"`
	Head   string `json:"head"`
	Branch string `json:"branch"`
	Clean  bool   `json:"clean"`
}

// Inspect opens the checkout at path and reports its HEAD and whether the
// worktree has uncommitted changes. It never modifies the checkout.
func Inspect(path string) (*Status, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s is not a git checkout", apperr.ErrPrecondition, path)
		}
		return nil, fmt.Errorf("vcs: open %s: %w", path, err)
	}

	st := &Status{Path: path}

	ref, err := repo.Head()
	switch {
	case err == nil:
		st.Head = ref.Hash().String()
		st.Branch = ref.Name().Short()
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		// Freshly initialised repository without commits.
	default:
		return nil, fmt.Errorf("vcs: resolve head: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("vcs: worktree: %w", err)
	}
	ws, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("vcs: status: %w", err)
	}
	st.Clean = ws.IsClean()
	return st, nil
}
