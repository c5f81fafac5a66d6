// Package publishing runs announcement → wiki publishes one at a time and
// fans their progress out to the ledger, metrics and event stream.
package publishing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/meetupwiki/internal/announcement"
	"github.com/starford/meetupwiki/internal/ledger"
	"github.com/starford/meetupwiki/internal/metrics"
	"github.com/starford/meetupwiki/internal/sse"
	"github.com/starford/meetupwiki/internal/storage"
	"github.com/starford/meetupwiki/internal/vcs"
	"github.com/starford/meetupwiki/internal/wiki"
)

// AnnouncementSource reads an announcement from a URI.
type AnnouncementSource interface {
	Parse(ctx context.Context, uri string) announcement.Announcement
}

// Events receives run progress.
type Events interface {
	Publish(event sse.Event)
	PublishRunEvent(kind string, ev sse.RunEvent)
}

// Outcome describes one publish run.
type Outcome struct {
	RunID        string                    `json:"run_id,omitempty"`
	Announcement announcement.Announcement `json:"announcement"`
	Defaulted    bool                      `json:"defaulted"`
	Result       *wiki.Result              `json:"result"`
}

// Service coordinates parser, publisher and the run bookkeeping.
type Service struct {
	mu        sync.Mutex
	source    AnnouncementSource
	publisher *wiki.Publisher
	ledger    *ledger.DB
	metrics   *metrics.Metrics
	events    Events
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLedger records every run in db.
func WithLedger(db *ledger.DB) Option {
	return func(s *Service) { s.ledger = db }
}

// WithMetrics records run outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithEvents streams run progress to e.
func WithEvents(e Events) Option {
	return func(s *Service) { s.events = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service.
func NewService(source AnnouncementSource, publisher *wiki.Publisher, opts ...Option) *Service {
	s := &Service{source: source, publisher: publisher, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Publish reads the announcement at uri and publishes its page. Runs are
// serialized: a second caller blocks until the first run finishes.
func (s *Service) Publish(ctx context.Context, uri string) (*Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	a := s.source.Parse(ctx, uri)
	out := &Outcome{Announcement: a, Defaulted: a.Defaulted()}
	page := wiki.FileName(a.Number)

	obs := &runObserver{events: s.events, ev: sse.RunEvent{Number: a.Number, Page: page}}
	if s.ledger != nil {
		run, err := s.ledger.Begin(ctx, a, page)
		if err != nil {
			s.logger.Warn("publishing: ledger begin failed", slog.String("error", err.Error()))
		} else {
			obs.run = run
			obs.ev.RunID = run.ID()
			out.RunID = run.ID()
		}
	}
	obs.emit(sse.RunStarted, obs.ev)
	if a.Defaulted() && s.events != nil {
		ev := sse.AnnouncementEvent{
			RunID:     out.RunID,
			SourceURI: uri,
			Number:    a.Number,
			Date:      a.WikiDate(),
		}
		if a.Err != nil {
			ev.Error = a.Err.Error()
		}
		s.events.Publish(sse.Event{Type: sse.AnnouncementDefaulted, Data: ev})
	}

	s.logger.Info("publishing: run started",
		slog.String("run", out.RunID),
		slog.String("source", uri),
		slog.Int("number", a.Number),
		slog.String("kind", a.Kind.String()))

	res, err := s.publisher.Generate(ctx, a, obs)
	out.Result = res

	if obs.run != nil {
		if ferr := obs.run.Finish(ctx, res, err); ferr != nil {
			s.logger.Warn("publishing: ledger finish failed", slog.String("error", ferr.Error()))
		}
	}
	state := wiki.StateInit
	if res != nil {
		state = res.State
	}
	if s.metrics != nil {
		s.metrics.ObserveRun(a.Number, state.String(), time.Since(start), a.Defaulted(), err)
	}

	fin := obs.ev
	fin.State = state.String()
	fin.Status = ledger.StatusSucceeded
	if err != nil {
		fin.Status = ledger.StatusFailed
		fin.Error = err.Error()
	}
	obs.emit(sse.RunFinished, fin)

	if err != nil {
		s.logger.Error("publishing: run failed",
			slog.String("run", out.RunID),
			slog.String("state", state.String()),
			slog.String("error", err.Error()))
		return out, fmt.Errorf("publish meetup #%d: %w", a.Number, err)
	}
	s.logger.Info("publishing: run finished",
		slog.String("run", out.RunID),
		slog.String("page", res.Page),
		slog.Bool("created", res.Created),
		slog.Duration("took", time.Since(start)))
	return out, nil
}

// Preview renders the page for the announcement at uri without touching
// the checkout.
func (s *Service) Preview(ctx context.Context, uri string) (announcement.Announcement, []byte, []byte, error) {
	a := s.source.Parse(ctx, uri)
	md, html, err := s.publisher.Preview(a)
	return a, md, html, err
}

// Runs returns recent runs, newest first. Without a ledger it returns an
// empty list.
func (s *Service) Runs(ctx context.Context, limit int) ([]ledger.Record, error) {
	if s.ledger == nil {
		return []ledger.Record{}, nil
	}
	return s.ledger.List(ctx, limit)
}

// Pages lists the pages in the checkout.
func (s *Service) Pages() ([]storage.Page, error) {
	return s.publisher.Pages()
}

// Status inspects the checkout.
func (s *Service) Status() (*vcs.Status, error) {
	return vcs.Inspect(s.publisher.Checkout().Path)
}

type runObserver struct {
	run    *ledger.Run
	events Events
	ev     sse.RunEvent
}

func (o *runObserver) Transition(ctx context.Context, st wiki.State) {
	if o.run != nil {
		o.run.Transition(ctx, st)
	}
	ev := o.ev
	ev.State = st.String()
	o.emit(sse.RunTransition, ev)
}

func (o *runObserver) emit(kind string, ev sse.RunEvent) {
	if o.events != nil {
		o.events.PublishRunEvent(kind, ev)
	}
}
