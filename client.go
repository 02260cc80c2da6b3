package remindx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/mohans/remindx/journal"
	"github.com/mohans/remindx/reminder"
)

// TypePass is the asynq task type of a reminder pass.
const TypePass = "reminder:pass"

const DefaultQueue = "reminders"

// Pass triggers.
const (
	TriggerCron     = "cron"
	TriggerInterval = "interval"
	TriggerManual   = "manual"
	TriggerStartup  = "startup"
)

// PassPayload is the JSON payload of a pass task.
type PassPayload struct {
	Trigger string `json:"trigger"`
}

// Client enqueues reminder passes and records them in the journal.
type Client struct {
	client *asynq.Client
	store  journal.Store
	queue  string
	unique time.Duration
	log    logrus.FieldLogger
}

type ClientOptions struct {
	Queue string
	// UniqueFor collapses passes with the same trigger enqueued within this
	// window while one is still pending. Default 10m.
	UniqueFor time.Duration
	Logger    logrus.FieldLogger
}

func NewClient(redisOpt asynq.RedisClientOpt, store journal.Store, opts ClientOptions) *Client {
	q := opts.Queue
	if q == "" {
		q = DefaultQueue
	}
	unique := opts.UniqueFor
	if unique <= 0 {
		unique = 10 * time.Minute
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		client: asynq.NewClient(redisOpt),
		store:  store,
		queue:  q,
		unique: unique,
		log:    log.WithField("component", "queue"),
	}
}

// EnqueuePass queues a reminder pass and returns its task id. It returns
// reminder.ErrPassQueued if a pass with the same trigger is still pending.
func (c *Client) EnqueuePass(ctx context.Context, trigger string) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("nil asynq client")
	}
	payload, err := json.Marshal(PassPayload{Trigger: trigger})
	if err != nil {
		return "", err
	}
	t := asynq.NewTask(TypePass, payload)
	info, err := c.client.EnqueueContext(ctx, t,
		asynq.Queue(c.queue),
		asynq.Unique(c.unique),
		asynq.MaxRetry(2),
		asynq.Timeout(30*time.Minute),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return "", fmt.Errorf("%w (trigger=%s)", reminder.ErrPassQueued, trigger)
	}
	if err != nil {
		return "", fmt.Errorf("enqueue pass: %w", err)
	}
	if c.store != nil {
		rec := journal.PassRecord{ID: info.ID, Trigger: trigger, Queue: info.Queue, CreatedAt: time.Now().UTC()}
		if err := c.store.InsertCreated(ctx, rec); err != nil {
			c.log.WithField("pass_id", info.ID).Warnf("journal insert: %v", err)
		}
	}
	return info.ID, nil
}

func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
