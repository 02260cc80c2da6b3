package remindx

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	_ "modernc.org/sqlite"

	"github.com/mohans/remindx/journal"
	"github.com/mohans/remindx/logging"
	"github.com/mohans/remindx/reminder"
)

func openJournal(t *testing.T, name string) *journal.SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := journal.NewSQLStore(db)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func startMiniRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func pollUntil(t *testing.T, timeout time.Duration, f func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := f()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("timeout")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func waitForStatus(t *testing.T, store journal.Store, id string, want journal.Status) *journal.PassRecord {
	t.Helper()
	var rec *journal.PassRecord
	err := pollUntil(t, 5*time.Second, func() (bool, error) {
		r, err := store.GetByID(context.Background(), id)
		if err != nil {
			return false, nil
		}
		rec = r
		return r.Status == want, nil
	})
	if err != nil {
		t.Fatalf("pass %s did not reach %s (last=%#v): %v", id, want, rec, err)
	}
	return rec
}

// scriptedRunner returns the queued results in order, then empty reports.
type scriptedRunner struct {
	calls   atomic.Int32
	results []error
}

func (r *scriptedRunner) RunPass(context.Context) (reminder.Report, error) {
	n := int(r.calls.Add(1)) - 1
	if n < len(r.results) && r.results[n] != nil {
		return reminder.Report{}, r.results[n]
	}
	return reminder.Report{Considered: 1, Fired: 1, Tasks: []reminder.TaskResult{
		{TaskID: "T1", Stage: "deadline", Outcome: reminder.OutcomeFired, Recipients: 2, Delivered: 2},
	}}, nil
}

func TestProcessor_Integration_Lifecycle(t *testing.T) {
	s := startMiniRedis(t)
	store := openJournal(t, "remindx_it")
	redis := asynq.RedisClientOpt{Addr: s.Addr()}

	runner := &scriptedRunner{results: []error{nil, reminder.ErrPassInProgress, errors.New("boom")}}
	processor := NewProcessor(redis, store, runner, ProcessorConfig{Logger: logging.Discard()})
	if err := processor.Start(); err != nil {
		t.Fatalf("start processor: %v", err)
	}
	defer processor.Shutdown()

	client := NewClient(redis, store, ClientOptions{Logger: logging.Discard()})
	defer client.Close()
	ctx := context.Background()

	okID, err := client.EnqueuePass(ctx, TriggerCron)
	if err != nil {
		t.Fatalf("enqueue cron pass: %v", err)
	}
	rec := waitForStatus(t, store, okID, journal.StatusCompleted)
	if rec.Trigger != TriggerCron || rec.Queue != DefaultQueue {
		t.Fatalf("unexpected record: %#v", rec)
	}
	if rec.ReportJSON == nil {
		t.Fatal("expected report json")
	}
	var rep reminder.Report
	if err := json.Unmarshal([]byte(*rec.ReportJSON), &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.Fired != 1 || len(rep.Tasks) != 1 || rep.Tasks[0].TaskID != "T1" {
		t.Fatalf("unexpected report: %#v", rep)
	}

	skipID, err := client.EnqueuePass(ctx, TriggerManual)
	if err != nil {
		t.Fatalf("enqueue manual pass: %v", err)
	}
	waitForStatus(t, store, skipID, journal.StatusSkipped)

	failID, err := client.EnqueuePass(ctx, TriggerInterval)
	if err != nil {
		t.Fatalf("enqueue interval pass: %v", err)
	}
	failed := waitForStatus(t, store, failID, journal.StatusFailed)
	if failed.ErrorMsg == nil || *failed.ErrorMsg != "boom" {
		t.Fatalf("unexpected error msg: %#v", failed.ErrorMsg)
	}
}

func TestClient_DuplicatePassCollapses(t *testing.T) {
	s := startMiniRedis(t)
	store := openJournal(t, "remindx_dup")
	client := NewClient(asynq.RedisClientOpt{Addr: s.Addr()}, store, ClientOptions{Logger: logging.Discard()})
	defer client.Close()
	ctx := context.Background()

	first, err := client.EnqueuePass(ctx, TriggerCron)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := client.EnqueuePass(ctx, TriggerCron); !errors.Is(err, reminder.ErrPassQueued) {
		t.Fatalf("expected ErrPassQueued, got %v", err)
	}
	if _, err := client.EnqueuePass(ctx, TriggerManual); err != nil {
		t.Fatalf("a different trigger is not a duplicate: %v", err)
	}

	rec, err := store.GetByID(ctx, first)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rec.Status != journal.StatusCreated {
		t.Fatalf("want created, got %s", rec.Status)
	}
}
