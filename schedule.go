package sor

import (
	"context"
	"fmt"
	"sync"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"
	"github.com/robfig/cron/v3"
)

// Scheduler runs the batch sweeps on cron schedules. All sweeps share one
// mutex: the pending sweep and the signature check never run concurrently
// over overlapping request sets, which keeps the single-driver-per-request
// guarantee without a distributed lock.
type Scheduler struct {
	engine *Engine
	cron   *cron.Cron

	mu sync.Mutex
}

func NewScheduler(e *Engine) *Scheduler {
	return &Scheduler{
		engine: e,
		cron:   cron.New(),
	}
}

// SchedulePending registers the pending sweep at the given cron spec.
func (s *Scheduler) SchedulePending(spec string) error {
	return s.add(spec, "pending", func(ctx context.Context) (any, error) {
		return s.engine.RunPending(ctx)
	})
}

// ScheduleSignatureCheck registers the signature polling sweep. The cron
// interval is the polling interval; no worker ever sleeps waiting on a
// signer.
func (s *Scheduler) ScheduleSignatureCheck(spec string) error {
	return s.add(spec, "signature_check", func(ctx context.Context) (any, error) {
		return s.engine.RunSignatureCheck(ctx)
	})
}

// ScheduleGradeSync registers the bulk grade push.
func (s *Scheduler) ScheduleGradeSync(spec string) error {
	return s.add(spec, "grade_sync", func(ctx context.Context) (any, error) {
		return s.engine.RunBulkGradeSync(ctx)
	})
}

func (s *Scheduler) add(spec, name string, sweep func(ctx context.Context) (any, error)) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		ctx := context.Background()

		summary, err := sweep(ctx)
		if err != nil {
			// NoReturnErr: a failed sweep is retried at its next scheduled
			// slot; log and carry on.
			log.Error(ctx, errors.Wrap(err, "sweep failed", j.KV("sweep", name)))
			return
		}

		log.Info(ctx, "sweep completed", j.MKV{
			"sweep":   name,
			"summary": fmt.Sprintf("%+v", summary),
		})
	})
	if err != nil {
		return errors.Wrap(err, "invalid sweep schedule", j.KV("spec", spec))
	}

	return nil
}

// Run starts the schedules and blocks until the context is cancelled, then
// waits for any in-flight sweep to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
}
