// Package scheduler runs publish jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-co-op/gocron/v2"

	"github.com/starford/meetupwiki/internal/publishing"
)

// Publisher runs one publish for a source URI.
type Publisher interface {
	Publish(ctx context.Context, uri string) (*publishing.Outcome, error)
}

// Scheduler wraps a gocron scheduler.
type Scheduler struct {
	scheduler gocron.Scheduler
	pub       Publisher
	logger    *slog.Logger
	ctx       context.Context
}

// New creates a scheduler that publishes through pub.
func New(pub Publisher, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, pub: pub, logger: logger, ctx: context.Background()}, nil
}

// SchedulePublish adds a job publishing sourceURI on the five-field cron
// expression expr. A tick that fires while the previous run is still going
// is skipped. It returns the job for later management.
func (s *Scheduler) SchedulePublish(expr, sourceURI string) (gocron.Job, error) {
	job, err := s.scheduler.NewJob(
		gocron.CronJob(expr, false),
		gocron.NewTask(s.executePublish, sourceURI),
		gocron.WithName("publish-meetup"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publish job: %w", err)
	}
	s.logger.Info("scheduler: publish job added",
		slog.String("cron", expr),
		slog.String("source", sourceURI),
		slog.String("job", job.ID().String()))
	return job, nil
}

// Start begins the scheduler. Jobs run with ctx until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.logger.Info("scheduler: starting")
	s.scheduler.Start()
}

// Stop shuts the scheduler down and waits for running jobs.
func (s *Scheduler) Stop() error {
	s.logger.Info("scheduler: stopping")
	return s.scheduler.Shutdown()
}

func (s *Scheduler) executePublish(sourceURI string) {
	s.logger.Info("scheduler: executing publish", slog.String("source", sourceURI))
	out, err := s.pub.Publish(s.ctx, sourceURI)
	if err != nil {
		s.logger.Error("scheduler: publish failed",
			slog.String("source", sourceURI),
			slog.String("error", err.Error()))
		return
	}
	if out.Result != nil {
		s.logger.Info("scheduler: publish done",
			slog.String("page", out.Result.Page),
			slog.Bool("created", out.Result.Created))
	}
}
