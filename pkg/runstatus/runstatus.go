// Package runstatus implements the pre-flight duplicate-submission guard.
//
// The check is a point-in-time read with no lock: two invocations for the
// same subject that start together can both pass it.
package runstatus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ccfpipelines/icafixsubmit/pkg/pbs"
	"github.com/ccfpipelines/icafixsubmit/pkg/registry"
	"github.com/ccfpipelines/icafixsubmit/pkg/subject"
)

// ReasonQueuedOrRunning is reported when the guard blocks a submission.
const ReasonQueuedOrRunning = "JOBS ARE ALREADY QUEUED OR RUNNING"

// Checker answers whether prior work for a subject is still queued or running.
type Checker interface {
	QueuedOrRunning(ctx context.Context, info subject.Info) (bool, error)
}

// Decision is the outcome of a guard check.
type Decision struct {
	Subject subject.Info
	Blocked bool
	Reason  string
}

// Guard runs the checker once before any submission work.
type Guard struct {
	checker Checker
	logger  *zap.Logger
}

func NewGuard(checker Checker, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{checker: checker, logger: logger}
}

// Check queries the checker for info. Checker failures are returned as
// errors, never as a blocked decision.
func (g *Guard) Check(ctx context.Context, info subject.Info) (Decision, error) {
	if g == nil || g.checker == nil {
		return Decision{}, errors.New("run status guard: checker is nil")
	}
	busy, err := g.checker.QueuedOrRunning(ctx, info)
	if err != nil {
		return Decision{}, fmt.Errorf("query run status for %s: %w", info.Session(), err)
	}
	d := Decision{Subject: info, Blocked: busy}
	if busy {
		d.Reason = ReasonQueuedOrRunning
		g.logger.Info("Submission blocked",
			zap.String("project", info.Project),
			zap.String("subject", info.Subject),
			zap.String("classifier", info.Classifier),
			zap.String("reason", d.Reason))
	}
	return d, nil
}

// StatusQuerier looks up a single scheduler job.
type StatusQuerier interface {
	Status(ctx context.Context, jobID string) (pbs.JobState, error)
}

// SchedulerChecker answers from the submission registry, confirming each
// recorded job with the scheduler.
//
// Records whose jobs have all left the scheduler are moved to finished so
// later checks skip them.
type SchedulerChecker struct {
	store     *registry.Store
	scheduler StatusQuerier
	limiter   *rate.Limiter
	now       func() time.Time
	logger    *zap.Logger
}

type SchedulerCheckerConfig struct {
	// QueriesPerSecond paces qstat calls. Zero or less disables pacing.
	QueriesPerSecond float64

	Now    func() time.Time
	Logger *zap.Logger
}

func NewSchedulerChecker(store *registry.Store, scheduler StatusQuerier, cfg SchedulerCheckerConfig) *SchedulerChecker {
	c := &SchedulerChecker{
		store:     store,
		scheduler: scheduler,
		limiter:   rate.NewLimiter(rate.Inf, 1),
		now:       cfg.Now,
		logger:    cfg.Logger,
	}
	if cfg.QueriesPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.QueriesPerSecond), 1)
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

func (c *SchedulerChecker) QueuedOrRunning(ctx context.Context, info subject.Info) (bool, error) {
	records, err := c.store.ListForSubject(info.Key())
	if err != nil {
		return false, err
	}

	for _, rec := range records {
		if !rec.State.Active() {
			continue
		}
		state, err := c.recordState(ctx, rec)
		if err != nil {
			return false, err
		}
		if state != rec.State {
			if err := c.store.SetState(rec.ID, state, c.now()); err != nil {
				c.logger.Warn("Failed to update submission record", zap.String("id", rec.ID), zap.Error(err))
			}
		}
		if state.Active() {
			return true, nil
		}
	}
	return false, nil
}

// recordState derives a record's state from its jobs' scheduler states.
func (c *SchedulerChecker) recordState(ctx context.Context, rec registry.Record) (registry.State, error) {
	state := registry.StateFinished
	for _, id := range rec.JobIDs() {
		if err := c.limiter.Wait(ctx); err != nil {
			return registry.StateUnknown, err
		}
		js, err := c.scheduler.Status(ctx, id)
		if err != nil {
			if errors.Is(err, pbs.ErrJobNotFound) {
				continue
			}
			return registry.StateUnknown, err
		}
		c.logger.Debug("Scheduler job state", zap.String("job_id", id), zap.String("state", string(js)))
		switch {
		case js == pbs.StateRunning:
			return registry.StateRunning, nil
		case js.Active():
			state = registry.StateQueued
		}
	}
	return state, nil
}
