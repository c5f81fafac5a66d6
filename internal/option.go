package internal

import (
	"io"

	"github.com/starford/meetupwiki/internal/vcs"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	logOutput io.Writer
	runner    vcs.Runner
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogOutput redirects the JSON log stream (stdout by default). Commands
// that print results or speak a protocol on stdout log to stderr instead.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOutput = w
	}
}

// WithRunner replaces the git runner.
func WithRunner(r vcs.Runner) Option {
	return func(a *application) {
		a.runner = r
	}
}
