package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohans/remindx/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestClient(t *testing.T, url string, clock *fakeClock) *Client {
	t.Helper()
	return NewClient(Options{
		BaseURL:        url,
		CacheTTL:       5 * time.Minute,
		Timeout:        2 * time.Second,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Now:            clock.Now,
		Logger:         logging.Discard(),
	})
}

func TestReadTableCoercesAndCaches(t *testing.T) {
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "members", r.URL.Query().Get("sheet"))
		gets.Add(1)
		_, _ = w.Write([]byte(`{"rows":[["chat_id","name"],[341781615,"Sara"],[null,true]]}`))
	}))
	defer srv.Close()

	clock := &fakeClock{now: time.Date(2025, 10, 15, 9, 0, 0, 0, time.UTC)}
	c := newTestClient(t, srv.URL, clock)
	ctx := context.Background()

	rows := c.ReadTable(ctx, "members")
	require.Len(t, rows, 3)
	assert.Equal(t, Row{"341781615", "Sara"}, rows[1])
	assert.Equal(t, Row{"", "true"}, rows[2])
	assert.Equal(t, "", rows[1].Cell(7))

	clock.Advance(4 * time.Minute)
	c.ReadTable(ctx, "members")
	assert.EqualValues(t, 1, gets.Load(), "served from cache within TTL")

	clock.Advance(2 * time.Minute)
	c.ReadTable(ctx, "members")
	assert.EqualValues(t, 2, gets.Load(), "TTL expired")
}

func TestWriteCellInvalidatesCache(t *testing.T) {
	var gets atomic.Int32
	var mu sync.Mutex
	var writes []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
			_, _ = w.Write([]byte(`{"rows":[["TaskID"],["T1"]]}`))
			return
		}
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		writes = append(writes, body)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &fakeClock{now: time.Now()})
	ctx := context.Background()

	c.ReadTable(ctx, "Tasks")
	c.ReadTable(ctx, "Tasks")
	require.EqualValues(t, 1, gets.Load())

	require.True(t, c.WriteCell(ctx, "Tasks", 2, 10, "Done"))
	c.ReadTable(ctx, "Tasks")
	assert.EqualValues(t, 2, gets.Load(), "write must force the next read to origin")

	require.Len(t, writes, 1)
	assert.Equal(t, "update_cell", writes[0]["action"])
	assert.Equal(t, "Tasks", writes[0]["sheet"])
	assert.EqualValues(t, 2, writes[0]["row"])
	assert.EqualValues(t, 10, writes[0]["col"])
	assert.Equal(t, "Done", writes[0]["value"])
}

func TestWriteToOtherTableKeepsCache(t *testing.T) {
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
			_, _ = w.Write([]byte(`{"rows":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &fakeClock{now: time.Now()})
	ctx := context.Background()
	c.ReadTable(ctx, "Tasks")
	require.True(t, c.AppendRow(ctx, "members", []string{"1", "Ali"}))
	c.ReadTable(ctx, "Tasks")
	assert.EqualValues(t, 1, gets.Load())
}

func TestReadRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"rows":[["a"]]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &fakeClock{now: time.Now()})
	rows := c.ReadTable(context.Background(), "Tasks")
	assert.Len(t, rows, 1)
	assert.EqualValues(t, 3, calls.Load())
}

func TestWriteGivesUpAfterThreeAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &fakeClock{now: time.Now()})
	assert.False(t, c.WriteCell(context.Background(), "Tasks", 2, 1, "x"))
	assert.EqualValues(t, 3, calls.Load())
}

func TestMalformedResponsesAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"rows":"nope"}`))
			return
		}
		_, _ = w.Write([]byte(`<html>quota exceeded</html>`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &fakeClock{now: time.Now()})
	ctx := context.Background()
	assert.Empty(t, c.ReadTable(ctx, "Tasks"))
	assert.False(t, c.WriteCell(ctx, "Tasks", 2, 1, "x"))
	assert.EqualValues(t, 2, calls.Load())
}

func TestRefusedWriteReturnsFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error":"sheet not found"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &fakeClock{now: time.Now()})
	assert.False(t, c.AppendRow(context.Background(), "nope", []string{"x"}))
}

func TestRefusedWritesKeepBreakerClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"rows":[["TaskID"],["T1"]]}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":false,"error":"protected range"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &fakeClock{now: time.Now()})
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		assert.False(t, c.WriteCell(ctx, TasksTable, 2, 1, "x"))
	}
	assert.Equal(t, gobreaker.StateClosed, c.breaker.State())
	assert.Len(t, c.ReadTable(ctx, TasksTable), 2)
}

func TestSyncTasksInvalidatesTasks(t *testing.T) {
	var gets atomic.Int32
	var action atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
			_, _ = w.Write([]byte(`{"rows":[]}`))
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		action.Store(body["action"])
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &fakeClock{now: time.Now()})
	ctx := context.Background()
	c.ReadTable(ctx, TasksTable)
	require.True(t, c.SyncTasks(ctx))
	c.ReadTable(ctx, TasksTable)
	assert.Equal(t, "sync_tasks", action.Load())
	assert.EqualValues(t, 2, gets.Load())
}

func TestMissingBaseURL(t *testing.T) {
	c := NewClient(Options{Logger: logging.Discard()})
	assert.Nil(t, c.ReadTable(context.Background(), "Tasks"))
	assert.False(t, c.WriteCell(context.Background(), "Tasks", 1, 1, "x"))
}
