package remindx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/mohans/remindx/journal"
	"github.com/mohans/remindx/reminder"
)

// PassRunner runs one reminder pass.
type PassRunner interface {
	RunPass(ctx context.Context) (reminder.Report, error)
}

// Processor runs queued passes and records their lifecycle in the journal.
type Processor struct {
	server *asynq.Server
	store  journal.Store
	runner PassRunner
	log    logrus.FieldLogger
	now    func() time.Time
}

type ProcessorConfig struct {
	// Concurrency is the number of workers. Passes serialize on the engine
	// lock anyway, so the default is 1.
	Concurrency int
	Queue       string
	Logger      logrus.FieldLogger
}

func NewProcessor(redisOpt asynq.RedisClientOpt, store journal.Store, runner PassRunner, cfg ProcessorConfig) *Processor {
	con := cfg.Concurrency
	if con <= 0 {
		con = 1
	}
	q := cfg.Queue
	if q == "" {
		q = DefaultQueue
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "processor")
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: con,
		Queues:      map[string]int{q: 1},
		Logger:      log,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			id, _ := asynq.GetTaskID(ctx)
			log.WithFields(logrus.Fields{"pass_id": id, "type": t.Type()}).Errorf("pass failed: %v", err)
		}),
	})
	return &Processor{server: server, store: store, runner: runner, log: log, now: time.Now}
}

// outcome carries what the handler learned back to the lifecycle wrapper.
type outcome struct {
	report  *string
	skipped bool
}

type outcomeKey struct{}

func outcomeFrom(ctx context.Context) *outcome {
	out, _ := ctx.Value(outcomeKey{}).(*outcome)
	return out
}

// lifecycleMiddleware marks journal rows in_progress, then completed,
// skipped or failed.
func (p *Processor) lifecycleMiddleware(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		id, ok := asynq.GetTaskID(ctx)
		if !ok {
			return next.ProcessTask(ctx, t)
		}
		return p.track(ctx, id, func(ctx context.Context) error {
			return next.ProcessTask(ctx, t)
		})
	})
}

func (p *Processor) track(ctx context.Context, id string, run func(context.Context) error) error {
	out := &outcome{}
	ctx = context.WithValue(ctx, outcomeKey{}, out)
	l := p.log.WithField("pass_id", id)
	if p.store != nil {
		if err := p.store.MarkStarted(ctx, id, p.now().UTC()); err != nil {
			l.Warnf("journal mark started: %v", err)
		}
	}
	err := run(ctx)
	if p.store == nil {
		return err
	}
	finished := p.now().UTC()
	var jerr error
	switch {
	case err != nil:
		jerr = p.store.MarkFailed(ctx, id, err.Error(), finished)
	case out.skipped:
		jerr = p.store.MarkSkipped(ctx, id, finished)
	default:
		jerr = p.store.MarkCompleted(ctx, id, out.report, finished)
	}
	if jerr != nil {
		l.Warnf("journal mark finished: %v", jerr)
	}
	return err
}

// HandlePass is the asynq handler for TypePass.
func (p *Processor) HandlePass(ctx context.Context, t *asynq.Task) error {
	var payload PassPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode pass payload: %v: %w", err, asynq.SkipRetry)
	}
	_, err := p.run(ctx, payload.Trigger)
	return err
}

func (p *Processor) run(ctx context.Context, trigger string) (reminder.Report, error) {
	l := p.log.WithField("trigger", trigger)
	rep, err := p.runner.RunPass(ctx)
	out := outcomeFrom(ctx)
	if errors.Is(err, reminder.ErrPassInProgress) {
		l.Info("pass skipped: another pass is running")
		if out != nil {
			out.skipped = true
		}
		return rep, nil
	}
	if err != nil {
		return rep, err
	}
	if out != nil {
		if data, err := json.Marshal(rep); err == nil {
			s := string(data)
			out.report = &s
		}
	}
	return rep, nil
}

// RunNow runs a pass in the calling goroutine, bypassing the queue. The
// journal row gets a fresh uuid. It returns reminder.ErrPassInProgress if
// the engine was busy.
func (p *Processor) RunNow(ctx context.Context, trigger string) (reminder.Report, error) {
	id := uuid.NewString()
	if p.store != nil {
		rec := journal.PassRecord{ID: id, Trigger: trigger, Queue: "direct", CreatedAt: p.now().UTC()}
		if err := p.store.InsertCreated(ctx, rec); err != nil {
			p.log.WithField("pass_id", id).Warnf("journal insert: %v", err)
		}
	}
	var rep reminder.Report
	var skipped bool
	err := p.track(ctx, id, func(ctx context.Context) error {
		var err error
		rep, err = p.run(ctx, trigger)
		skipped = outcomeFrom(ctx).skipped
		return err
	})
	if err == nil && skipped {
		err = reminder.ErrPassInProgress
	}
	return rep, err
}

// Start begins processing in the background.
func (p *Processor) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePass, p.HandlePass)
	return p.server.Start(p.lifecycleMiddleware(mux))
}

func (p *Processor) Shutdown() { p.server.Shutdown() }
