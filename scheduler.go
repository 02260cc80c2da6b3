package remindx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/mohans/remindx/reminder"
)

// Enqueuer queues a reminder pass.
type Enqueuer interface {
	EnqueuePass(ctx context.Context, trigger string) (string, error)
}

// Scheduler enqueues passes on cron specs, evaluated in a fixed time zone.
type Scheduler struct {
	cron *cron.Cron
	enq  Enqueuer
	log  logrus.FieldLogger
}

func NewScheduler(enq Enqueuer, loc *time.Location, log logrus.FieldLogger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "scheduler")
	logger := cron.PrintfLogger(log)
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
		enq: enq,
		log: log,
	}
}

// Add enqueues a pass with the given trigger whenever spec matches.
func (s *Scheduler) Add(spec, trigger string) error {
	if _, err := s.cron.AddFunc(spec, func() { s.fire(trigger) }); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	s.log.WithFields(logrus.Fields{"spec": spec, "trigger": trigger}).Info("pass scheduled")
	return nil
}

// Every enqueues an interval pass every d. A zero d schedules nothing.
func (s *Scheduler) Every(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return s.Add("@every "+d.String(), TriggerInterval)
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops scheduling; the returned context is done once running jobs
// have returned.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

func (s *Scheduler) fire(trigger string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id, err := s.enq.EnqueuePass(ctx, trigger)
	l := s.log.WithField("trigger", trigger)
	switch {
	case errors.Is(err, reminder.ErrPassQueued):
		l.Info("pass already queued")
	case err != nil:
		l.Errorf("enqueue pass: %v", err)
	default:
		l.WithField("pass_id", id).Info("pass enqueued")
	}
}
