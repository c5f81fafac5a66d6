// Package vcs wraps the git binary with the handful of subcommands the
// publisher needs. Every invocation carries an explicit working directory;
// the process working directory is never changed.
package vcs

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/starford/meetupwiki/internal/apperr"
)

// Command is a git subcommand.
type Command string

// Subcommands used by the publisher. Any other subcommand can still be
// issued through Client.Exec.
const (
	CommandClone  Command = "clone"
	CommandPull   Command = "pull"
	CommandPush   Command = "push"
	CommandAdd    Command = "add"
	CommandCommit Command = "commit"
	CommandStash  Command = "stash"
)

// Runner executes git with args inside dir and blocks until it exits.
// An empty dir means the current process directory.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) error
}

// Client issues git subcommands against a single working directory.
type Client struct {
	runner Runner
	dir    string
	logger *slog.Logger
}

// New creates a Client bound to dir.
func New(runner Runner, dir string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{runner: runner, dir: dir, logger: logger}
}

// WithDir returns a client sharing the runner but targeting dir.
func (c *Client) WithDir(dir string) *Client {
	return &Client{runner: c.runner, dir: dir, logger: c.logger}
}

// Exec forwards an arbitrary subcommand with its arguments.
func (c *Client) Exec(ctx context.Context, cmd Command, args ...string) error {
	full := make([]string, 0, len(args)+1)
	full = append(full, string(cmd))
	full = append(full, args...)
	c.logger.Debug("vcs: exec",
		slog.String("dir", c.dir),
		slog.String("args", strings.Join(full, " ")))
	return c.runner.Run(ctx, c.dir, full...)
}

// Clone materializes remoteURL at dest.
func (c *Client) Clone(ctx context.Context, remoteURL, dest string) error {
	return c.Exec(ctx, CommandClone, remoteURL, dest)
}

// Commit commits the staged changes with the literal message.
func (c *Client) Commit(ctx context.Context, message string) error {
	return c.Exec(ctx, CommandCommit, "-m", message)
}

// Add stages paths.
func (c *Client) Add(ctx context.Context, paths ...string) error {
	return c.Exec(ctx, CommandAdd, paths...)
}

// Pull fetches and merges the tracked upstream.
func (c *Client) Pull(ctx context.Context) error {
	return c.Exec(ctx, CommandPull)
}

// Push pushes the current branch to its upstream.
func (c *Client) Push(ctx context.Context) error {
	return c.Exec(ctx, CommandPush)
}

// Stash saves uncommitted changes. With a nil body it only saves.
// Otherwise it saves, runs body and then pops, even when body fails.
//
// When the save itself fails nothing was stashed, so body and pop are
// skipped. A failing pop is logged and never hides the body's error:
// git also exits non-zero on pop when the save found nothing to stash.
func (c *Client) Stash(ctx context.Context, body func(context.Context) error) error {
	if err := c.Exec(ctx, CommandStash, "save"); err != nil {
		return err
	}
	if body == nil {
		return nil
	}

	bodyErr := body(ctx)

	// Restore even when ctx was cancelled inside body.
	if popErr := c.Exec(context.WithoutCancel(ctx), CommandStash, "pop"); popErr != nil {
		level := slog.LevelWarn
		if nothingStashed(popErr) {
			level = slog.LevelDebug
		}
		c.logger.Log(ctx, level, "vcs: stash pop failed",
			slog.String("dir", c.dir),
			slog.String("error", popErr.Error()))
	}
	return bodyErr
}

// nothingStashed reports whether a pop failed only because the save found
// no local changes.
func nothingStashed(err error) bool {
	var vcsErr *apperr.VCSError
	return errors.As(err, &vcsErr) && strings.Contains(vcsErr.Stderr, "No stash entries found")
}
