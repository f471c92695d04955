package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	applogger "EdgeLab/pkg/logger"
)

// Scheduler runs periodic maintenance jobs (snapshots, retention sweeps) on
// cron specs. Jobs receive the process base context so they stop with it.
type Scheduler struct {
	cron    *cron.Cron
	log     *applogger.Logger
	baseCtx context.Context
}

func New(log *applogger.Logger, baseCtx context.Context) *Scheduler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Scheduler{
		cron:    cron.New(),
		log:     log,
		baseCtx: baseCtx,
	}
}

// Add registers a named job on the given cron spec. Descriptors like
// "@every 1m" and standard 5-field specs are both accepted.
func (s *Scheduler) Add(spec, name string, job func(context.Context) error) (cron.EntryID, error) {
	id, err := s.cron.AddFunc(spec, func() {
		if err := job(s.baseCtx); err != nil {
			s.log.Error("scheduled job failed",
				applogger.String("job", name),
				applogger.Error(err))
		}
	})
	if err != nil {
		return 0, fmt.Errorf("add job %s: %w", name, err)
	}
	return id, nil
}

func (s *Scheduler) Start() {
	s.log.Info("scheduler started")
	s.cron.Start()
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("scheduler stopped")
}
