// Package scheduler runs the three fixed-interval background jobs
// (baseline recomputation, scoring, retention cleanup) on top of
// robfig/cron, with durable no-overlap guarantees backed by jobstate.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/octoreflex/irm/internal/jobstate"
	"github.com/octoreflex/irm/internal/metrics"
)

// Default intervals per spec §4.8.
const (
	DefaultBaselineInterval = 300 * time.Second
	DefaultScoringInterval  = 300 * time.Second
	DefaultRetentionInterval = 24 * time.Hour
)

// JobFunc is a scheduled job's body. It receives a context cancelled at
// shutdown and should return an error describing why the run failed.
type JobFunc func(ctx context.Context) error

// jobSpec is one registered job.
type jobSpec struct {
	name      string
	interval  time.Duration
	fn        JobFunc
	immediate bool
}

// Scheduler wires jobSpecs into a robfig/cron instance, persisting
// run-state via jobstate.Store and refusing overlapping runs per job.
type Scheduler struct {
	cron    *cron.Cron
	state   *jobstate.Store
	log     *zap.Logger
	metrics *metrics.Metrics

	jobs []jobSpec

	wg sync.WaitGroup
}

// New constructs a Scheduler. state persists run history across
// restarts; metrics and log may be nil (metrics-less / silent mode,
// used in tests).
func New(state *jobstate.Store, m *metrics.Metrics, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		cron:    cron.New(),
		state:   state,
		log:     log,
		metrics: m,
	}
}

// Register adds a job to the scheduler. Must be called before Start.
// immediate=true fires the job once right away, in addition to its
// regular interval-based schedule, matching the baseline/scoring
// startup behavior (retention does not set this).
func (s *Scheduler) Register(name string, interval time.Duration, immediate bool, fn JobFunc) {
	s.jobs = append(s.jobs, jobSpec{name: name, interval: interval, fn: fn, immediate: immediate})
}

// Start begins running every registered job on its schedule. The
// returned error is non-nil only if a cron spec fails to parse, which
// indicates a programming error in interval configuration.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, j := range s.jobs {
		j := j
		spec := fmt.Sprintf("@every %s", j.interval)
		_, err := s.cron.AddFunc(spec, func() { s.runOnce(ctx, j) })
		if err != nil {
			return fmt.Errorf("schedule job %q: %w", j.name, err)
		}
		if j.immediate {
			s.runOnce(ctx, j)
		}
	}
	s.cron.Start()
	return nil
}

// runOnce executes a single job tick: it refuses to start if the
// previous run of the same job is still in flight, runs the job body,
// records the outcome, and never lets a job error escape (logged only).
func (s *Scheduler) runOnce(ctx context.Context, j jobSpec) {
	startedAt := time.Now().UTC()
	began, err := s.state.TryBegin(j.name, startedAt)
	if err != nil {
		s.log.Error("scheduler: run-state check failed", zap.String("job", j.name), zap.Error(err))
		return
	}
	if !began {
		s.log.Warn("scheduler: skipping tick, previous run still in flight", zap.String("job", j.name))
		if s.metrics != nil {
			s.metrics.JobSkippedTotal.WithLabelValues(j.name).Inc()
		}
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		runErr := j.fn(ctx)
		finishedAt := time.Now().UTC()

		outcome := jobstate.OutcomeSuccess
		if runErr != nil {
			outcome = jobstate.OutcomeFailure
			s.log.Error("scheduler: job failed", zap.String("job", j.name), zap.Error(runErr))
		} else {
			s.log.Info("scheduler: job completed", zap.String("job", j.name), zap.Duration("took", finishedAt.Sub(startedAt)))
		}

		if err := s.state.Finish(j.name, startedAt, finishedAt, outcome, runErr); err != nil {
			s.log.Error("scheduler: failed to persist run outcome", zap.String("job", j.name), zap.Error(err))
		}
		if s.metrics != nil {
			result := "success"
			if runErr != nil {
				result = "failure"
			}
			s.metrics.JobRunsTotal.WithLabelValues(j.name, result).Inc()
		}
	}()
}

// Stop stops accepting new ticks and waits up to drain for in-flight
// jobs to finish.
func (s *Scheduler) Stop(drain time.Duration) {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("scheduler: all jobs drained")
	case <-time.After(drain):
		s.log.Warn("scheduler: drain timeout exceeded, exiting with jobs still in flight")
	}
}
