// Package scheduler drives the cron-like jobs spec.md §4.6 names:
// per-exchange square-off, T+1 settlement, catch-up settlement at startup,
// and weekly capital reset. Grounded on aristath/sentinel's scheduler.go
// (Job interface, cron.New(cron.WithSeconds()), AddJob/RunNow), adapted
// from its single-job-list shape to jobs that carry their own IST schedule
// strings and idempotency markers.
package scheduler

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ndrandal/marketgateway/internal/gwconfig"
)

// Job is a named unit of scheduled work. Implementations are responsible
// for their own idempotency (spec.md §4.6: "Jobs are idempotent").
type Job interface {
	Run() error
	Name() string
}

// Scheduler wraps a cron.Cron configured for 6-field (seconds-first)
// schedules in IST. A job whose Run returns an error is logged and is not
// retried before its next scheduled time.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New constructs a Scheduler.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds(), cron.WithLocation(gwconfig.IST)),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler's background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop waits for any in-flight job to finish, then stops.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}

// AddJob registers job on a standard 6-field cron schedule (seconds first).
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.log.Debug().Str("job", job.Name()).Msg("running job")
		if err := job.Run(); err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("job failed")
			return
		}
		s.log.Debug().Str("job", job.Name()).Msg("job completed")
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("job registered")
	return nil
}

// RunNow executes job immediately, outside its cron schedule — used for
// catch-up settlement at startup (spec.md §4.6).
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("running job immediately")
	return job.Run()
}
