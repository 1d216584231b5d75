// Package requeue puts aged, well-scored listing pages back into the crawl
// queue so they are refreshed.
package requeue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// CandidateSource finds pages due for a refresh.
type CandidateSource interface {
	RequeueCandidates(ctx context.Context, minQuality int, cutoff time.Time) ([]crawler.PageRef, error)
}

// Queue resets pages to pending.
type Queue interface {
	Requeue(ctx context.Context, pages []crawler.PageRef, priority int) (int, error)
}

// Config controls selection and scheduling.
type Config struct {
	// MinQuality is exclusive: only snapshots scoring above it are refreshed.
	MinQuality int
	// MaxAge is how old the latest snapshot must be.
	MaxAge   time.Duration
	Priority int
	// Schedule is a cron expression or descriptor such as "@daily".
	Schedule   string
	RunOnStart bool
}

// Job selects candidates and requeues them.
type Job struct {
	source CandidateSource
	queue  Queue
	clock  crawler.Clock
	cfg    Config
	logger *zap.Logger
}

// New builds a Job.
func New(source CandidateSource, queue Queue, clock crawler.Clock, cfg Config, logger *zap.Logger) (*Job, error) {
	switch {
	case source == nil:
		return nil, errors.New("candidate source is required")
	case queue == nil:
		return nil, errors.New("queue is required")
	case clock == nil:
		return nil, errors.New("clock is required")
	case cfg.MaxAge <= 0:
		return nil, errors.New("max age must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{source: source, queue: queue, clock: clock, cfg: cfg, logger: logger}, nil
}

// RunOnce requeues every current candidate and returns how many rows changed.
func (j *Job) RunOnce(ctx context.Context) (int, error) {
	cutoff := j.clock.Now().Add(-j.cfg.MaxAge)
	pages, err := j.source.RequeueCandidates(ctx, j.cfg.MinQuality, cutoff)
	if err != nil {
		return 0, fmt.Errorf("select requeue candidates: %w", err)
	}
	if len(pages) == 0 {
		j.logger.Debug("nothing to requeue")
		return 0, nil
	}
	n, err := j.queue.Requeue(ctx, pages, j.cfg.Priority)
	if err != nil {
		return 0, fmt.Errorf("requeue pages: %w", err)
	}
	j.logger.Info("requeued pages", zap.Int("candidates", len(pages)), zap.Int("requeued", n))
	return n, nil
}

// Run executes the job on its cron schedule until ctx is canceled, plus once
// immediately when RunOnStart is set.
func (j *Job) Run(ctx context.Context) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule := j.cfg.Schedule
	if schedule == "" {
		schedule = "@daily"
	}
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() { j.runLogged(ctx) }); err != nil {
		return fmt.Errorf("parse requeue schedule %q: %w", schedule, err)
	}

	if j.cfg.RunOnStart {
		j.runLogged(ctx)
	}

	c.Start()
	j.logger.Info("requeue scheduled", zap.String("schedule", schedule))
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (j *Job) runLogged(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := j.RunOnce(ctx); err != nil {
		j.logger.Error("requeue run failed", zap.Error(err))
	}
}
