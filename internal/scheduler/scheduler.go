// Package scheduler re-submits scenarios on a cron schedule, keeping
// dashboard results fresh without viewer interaction.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pulsekit/pulseboard/internal/engine"
)

// ScenarioRunner is the interface the scheduler uses to run scenarios.
// Satisfied by the orchestrator (avoids a wider dependency).
type ScenarioRunner interface {
	Submit(ctx context.Context, scenarioID string) (*engine.SubmitResult, error)
}

// Job is one periodic re-submission entry.
type Job struct {
	ScenarioID string     `json:"scenario_id"`
	CronExpr   string     `json:"cron_expr"`
	Enabled    bool       `json:"enabled"`
	NextRunAt  time.Time  `json:"next_run_at"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`

	schedule cron.Schedule
}

// DefaultTickInterval is how often the scheduler checks for due jobs.
const DefaultTickInterval = 60 * time.Second

// Scheduler checks registered jobs on a ticker and submits those that
// are due.
type Scheduler struct {
	runner   ScenarioRunner
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	jobs   map[string]*Job
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // scenario IDs currently submitting (dedup)
}

// NewScheduler creates a Scheduler. A non-positive interval falls back
// to DefaultTickInterval.
func NewScheduler(runner ScenarioRunner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		interval: interval,
		jobs:     make(map[string]*Job),
		inflight: make(map[string]struct{}),
	}
}

// AddJob registers (or replaces) a periodic re-submission for a scenario.
func (s *Scheduler) AddJob(scenarioID, cronExpr string) (*Job, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}

	job := &Job{
		ScenarioID: scenarioID,
		CronExpr:   cronExpr,
		Enabled:    true,
		NextRunAt:  schedule.Next(time.Now().UTC()),
		schedule:   schedule,
	}

	s.mu.Lock()
	s.jobs[scenarioID] = job
	s.mu.Unlock()

	s.logger.Info("scheduled scenario refresh",
		slog.String("scenario_id", scenarioID),
		slog.String("cron", cronExpr),
	)
	return job, nil
}

// RemoveJob drops the job for a scenario, if any.
func (s *Scheduler) RemoveJob(scenarioID string) {
	s.mu.Lock()
	delete(s.jobs, scenarioID)
	s.mu.Unlock()
}

// SetEnabled toggles a job without losing its schedule.
func (s *Scheduler) SetEnabled(scenarioID string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[scenarioID]
	if !ok {
		return false
	}
	job.Enabled = enabled
	return true
}

// Jobs returns a snapshot of all registered jobs, ordered by scenario ID.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ScenarioID < out[j].ScenarioID })
	return out
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick submits every enabled job that is due. Exported so callers can
// force a refresh pass outside the ticker.
func (s *Scheduler) Tick(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	due := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if job.Enabled && !job.NextRunAt.After(now) {
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		if !s.tryAcquire(job.ScenarioID) {
			continue // previous submit still running (dedup)
		}
		s.runJob(ctx, job, now)
		s.release(job.ScenarioID)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job *Job, now time.Time) {
	s.logger.Info("refreshing scenario", slog.String("scenario_id", job.ScenarioID))

	_, err := s.runner.Submit(ctx, job.ScenarioID)
	status := "success"
	if err != nil {
		status = "error"
		s.logger.Error("scheduled refresh failed",
			slog.String("scenario_id", job.ScenarioID),
			slog.String("error", err.Error()),
		)
	}

	s.mu.Lock()
	if current, ok := s.jobs[job.ScenarioID]; ok {
		ts := now
		current.LastRunAt = &ts
		current.LastStatus = status
		current.NextRunAt = current.schedule.Next(now)
	}
	s.mu.Unlock()
}

// tryAcquire returns true and marks the scenario as in-flight if it is
// not already submitting.
func (s *Scheduler) tryAcquire(scenarioID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[scenarioID]; ok {
		return false
	}
	s.inflight[scenarioID] = struct{}{}
	return true
}

func (s *Scheduler) release(scenarioID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, scenarioID)
}

// CalculateNextRun computes the next fire time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
