// Package wiki publishes a meetup page to a git-backed wiki.
//
// One run walks Init → Synced → Rendered → Indexed → Published. Any failure
// stops the run where it is; nothing is rolled back, so a failed push keeps
// the local commit.
package wiki

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/template"

	"github.com/starford/meetupwiki/internal/announcement"
	"github.com/starford/meetupwiki/internal/apperr"
	"github.com/starford/meetupwiki/internal/checksum"
	"github.com/starford/meetupwiki/internal/historyindex"
	"github.com/starford/meetupwiki/internal/storage"
	"github.com/starford/meetupwiki/internal/vcs"
)

// State is the last completed step of a publish run.
type State int

const (
	StateInit State = iota
	StateSynced
	StateRendered
	StateIndexed
	StatePublished
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateSynced:
		return "synced"
	case StateRendered:
		return "rendered"
	case StateIndexed:
		return "indexed"
	case StatePublished:
		return "published"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Observer is notified after each completed transition.
type Observer interface {
	Transition(ctx context.Context, s State)
}

// Checkout is the local working copy of the wiki remote.
type Checkout struct {
	Path      string
	RemoteURL string
}

// Result summarises a run.
type Result struct {
	State    State  `json:"state"`
	Name     string `json:"name"`
	Page     string `json:"page"`
	Created  bool   `json:"created"`
	Indexed  bool   `json:"indexed"`
	Checksum string `json:"checksum,omitempty"`
}

// Publisher drives one checkout.
type Publisher struct {
	checkout  Checkout
	git       *vcs.Client
	tmpl      *template.Template
	indexFile string
	logger    *slog.Logger
}

// Option configures a Publisher.
type Option func(*publisherOptions)

type publisherOptions struct {
	template  string
	indexFile string
	logger    *slog.Logger
}

// WithTemplate replaces the built-in page template.
func WithTemplate(text string) Option {
	return func(o *publisherOptions) { o.template = text }
}

// WithHistoryIndex enables index updates against file (relative to the
// checkout root).
func WithHistoryIndex(file string) Option {
	return func(o *publisherOptions) { o.indexFile = file }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *publisherOptions) { o.logger = l }
}

// New creates a Publisher for checkout. Git runs through runner.
func New(checkout Checkout, runner vcs.Runner, opts ...Option) (*Publisher, error) {
	o := publisherOptions{template: defaultTemplate, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if checkout.Path == "" {
		return nil, errors.New("wiki: checkout path is required")
	}
	tmpl, err := parseTemplate(o.template)
	if err != nil {
		return nil, err
	}
	return &Publisher{
		checkout:  checkout,
		git:       vcs.New(runner, checkout.Path, o.logger),
		tmpl:      tmpl,
		indexFile: o.indexFile,
		logger:    o.logger,
	}, nil
}

// Checkout returns the checkout the publisher targets.
func (p *Publisher) Checkout() Checkout {
	return p.checkout
}

// IndexEnabled reports whether runs update the history index.
func (p *Publisher) IndexEnabled() bool {
	return p.indexFile != ""
}

func (p *Publisher) checkoutExists() (bool, error) {
	_, err := os.Stat(p.checkout.Path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("wiki: stat checkout: %w", err)
}

func (p *Publisher) store() (storage.Provider, error) {
	ok, err := p.checkoutExists()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: checkout %s does not exist", apperr.ErrPrecondition, p.checkout.Path)
	}
	return storage.NewFS(p.checkout.Path)
}

// Generate runs every step for a. obs may be nil. The returned Result
// carries the last completed state even when err is non-nil.
func (p *Publisher) Generate(ctx context.Context, a announcement.Announcement, obs Observer) (*Result, error) {
	res := &Result{
		State: StateInit,
		Name:  PageName(a.Number),
		Page:  FileName(a.Number),
	}
	advance := func(s State) {
		res.State = s
		p.logger.Info("publisher: transition",
			slog.String("state", s.String()),
			slog.Int("number", a.Number),
			slog.String("page", res.Page))
		if obs != nil {
			obs.Transition(ctx, s)
		}
	}

	if err := p.InitializeOrUpdate(ctx); err != nil {
		return res, fmt.Errorf("sync checkout: %w", err)
	}
	advance(StateSynced)

	created, err := p.Render(ctx, a)
	if err != nil {
		return res, fmt.Errorf("render page: %w", err)
	}
	res.Created = created
	if fs, err := p.store(); err == nil {
		if data, err := fs.Read(res.Page); err == nil {
			res.Checksum = checksum.Sum(data)
		}
	}
	advance(StateRendered)

	if p.IndexEnabled() {
		indexed, err := p.UpdateHistoryIndex(ctx, a)
		if err != nil {
			return res, fmt.Errorf("update history index: %w", err)
		}
		res.Indexed = indexed
		advance(StateIndexed)
	}

	if err := p.Publish(ctx, a); err != nil {
		return res, fmt.Errorf("publish: %w", err)
	}
	advance(StatePublished)
	return res, nil
}

// InitializeOrUpdate pulls an existing checkout inside a stash guard, so
// uncommitted edits from an earlier run cannot block the pull. A missing
// checkout is cloned.
func (p *Publisher) InitializeOrUpdate(ctx context.Context) error {
	ok, err := p.checkoutExists()
	if err != nil {
		return err
	}
	if ok {
		p.logger.Info("publisher: updating checkout", slog.String("path", p.checkout.Path))
		return p.git.Stash(ctx, func(ctx context.Context) error {
			return p.git.Pull(ctx)
		})
	}

	parent := filepath.Dir(p.checkout.Path)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("wiki: create checkout parent: %w", err)
	}
	p.logger.Info("publisher: cloning checkout",
		slog.String("remote", p.checkout.RemoteURL),
		slog.String("path", p.checkout.Path))
	return p.git.WithDir(parent).Clone(ctx, p.checkout.RemoteURL, p.checkout.Path)
}

// Render writes the page for a unless a page with that name already exists.
// It reports whether a file was created.
func (p *Publisher) Render(_ context.Context, a announcement.Announcement) (bool, error) {
	fs, err := p.store()
	if err != nil {
		return false, err
	}
	name := FileName(a.Number)
	exists, err := fs.Exists(name)
	if err != nil {
		return false, err
	}
	if exists {
		p.logger.Info("publisher: page exists, leaving it untouched", slog.String("page", name))
		return false, nil
	}

	body, err := renderPage(p.tmpl, a)
	if err != nil {
		return false, err
	}
	if err := fs.Write(name, body); err != nil {
		return false, err
	}
	p.logger.Info("publisher: page rendered",
		slog.String("page", name),
		slog.String("checksum", checksum.Short(body)))
	return true, nil
}

// UpdateHistoryIndex inserts an entry for a into the index before its first
// bullet line. It is a no-op when the index already links the page or has
// no bullet line at all, and reports whether the index changed.
func (p *Publisher) UpdateHistoryIndex(_ context.Context, a announcement.Announcement) (bool, error) {
	if !p.IndexEnabled() {
		return false, nil
	}
	fs, err := p.store()
	if err != nil {
		return false, err
	}
	exists, err := fs.Exists(p.indexFile)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("%w: index %s does not exist", apperr.ErrPrecondition, p.indexFile)
	}
	doc, err := fs.Read(p.indexFile)
	if err != nil {
		return false, err
	}

	name := PageName(a.Number)
	if historyindex.Contains(doc, name) {
		p.logger.Info("publisher: index already lists page", slog.String("page", name))
		return false, nil
	}
	out, ok := historyindex.Insert(doc, name, a.WikiDate())
	if !ok {
		p.logger.Warn("publisher: index has no list entry, left unchanged", slog.String("index", p.indexFile))
		return false, nil
	}
	if err := fs.Write(p.indexFile, out); err != nil {
		return false, err
	}
	return true, nil
}

// Pages lists the Markdown pages in the checkout.
func (p *Publisher) Pages() ([]storage.Page, error) {
	fs, err := p.store()
	if err != nil {
		return nil, err
	}
	return fs.List("")
}

// CommitMessage is the commit message for meetup n.
func CommitMessage(n int) string {
	return fmt.Sprintf("Created next meetup #%d", n)
}

// Publish stages the page (and the index when enabled), commits, and pushes
// inside a stash guard. The commit is made unconditionally; only the push,
// which talks to the remote, is guarded.
func (p *Publisher) Publish(ctx context.Context, a announcement.Announcement) error {
	ok, err := p.checkoutExists()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: checkout %s does not exist", apperr.ErrPrecondition, p.checkout.Path)
	}

	if err := p.git.Add(ctx, FileName(a.Number)); err != nil {
		return err
	}
	if p.IndexEnabled() {
		if err := p.git.Add(ctx, p.indexFile); err != nil {
			return err
		}
	}
	if err := p.git.Commit(ctx, CommitMessage(a.Number)); err != nil {
		return err
	}
	return p.git.Stash(ctx, func(ctx context.Context) error {
		return p.git.Push(ctx)
	})
}
