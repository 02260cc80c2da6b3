// Package sheets talks to the spreadsheet proxy that fronts the task,
// member and message tables. Reads are cached per table for a bounded time;
// every write invalidates the cached copy of the table it touched.
//
// The client never returns transport errors to its callers: a failed read
// is an empty result and a failed write is false. Failures are logged.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/spf13/cast"
)

// TasksTable is rebuilt by the proxy on SyncTasks.
const TasksTable = "Tasks"

const cacheSize = 200

// Row is one sheet row with every cell coerced to a string.
type Row []string

// Cell returns the i-th cell or "" when the row is shorter.
func (r Row) Cell(i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return r[i]
}

// Options configures a Client. Zero values take the defaults noted below.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	Timeout        time.Duration // per attempt, default 25s
	SyncTimeout    time.Duration // per sync attempt, default 40s
	CacheTTL       time.Duration // default 300s; negative disables caching
	MaxAttempts    int           // default 3
	InitialBackoff time.Duration // default 1s
	MaxBackoff     time.Duration // default 8s
	Now            func() time.Time
	Logger         logrus.FieldLogger
}

type cacheEntry struct {
	rows    []Row
	fetched time.Time
}

// Client is safe for concurrent use.
type Client struct {
	base        string
	http        *http.Client
	timeout     time.Duration
	syncTimeout time.Duration
	ttl         time.Duration
	attempts    int
	initial     time.Duration
	max         time.Duration
	now         func() time.Time
	log         logrus.FieldLogger
	cache       *lru.Cache[string, cacheEntry]
	breaker     *gobreaker.CircuitBreaker
}

func NewClient(opts Options) *Client {
	c := &Client{
		base:        opts.BaseURL,
		http:        opts.HTTPClient,
		timeout:     opts.Timeout,
		syncTimeout: opts.SyncTimeout,
		ttl:         opts.CacheTTL,
		attempts:    opts.MaxAttempts,
		initial:     opts.InitialBackoff,
		max:         opts.MaxBackoff,
		now:         opts.Now,
		log:         opts.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = 25 * time.Second
	}
	if c.syncTimeout <= 0 {
		c.syncTimeout = 40 * time.Second
	}
	if c.ttl == 0 {
		c.ttl = 300 * time.Second
	}
	if c.attempts <= 0 {
		c.attempts = 3
	}
	if c.initial <= 0 {
		c.initial = time.Second
	}
	if c.max <= 0 {
		c.max = 8 * time.Second
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	c.log = c.log.WithField("component", "sheets")
	c.cache, _ = lru.New[string, cacheEntry](cacheSize)
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "sheets-proxy",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// a refusal or malformed reply means the proxy is up
		IsSuccessful: func(err error) bool {
			var perm *backoff.PermanentError
			return err == nil || errors.As(err, &perm)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warnf("circuit breaker %s changed from %s to %s", name, from, to)
		},
	})
	return c
}

// ReadTable returns the rows of the named table, header row included.
// The returned rows are shared with the cache and must not be modified.
func (c *Client) ReadTable(ctx context.Context, name string) []Row {
	if c.ttl > 0 {
		if e, ok := c.cache.Get(cacheKey(name)); ok && c.now().Sub(e.fetched) < c.ttl {
			return e.rows
		}
	}
	if c.base == "" {
		c.log.Error("store URL not set")
		return nil
	}

	var rows []Row
	err := c.retry(ctx, "read "+name, c.timeout, func(ctx context.Context) error {
		var err error
		rows, err = c.fetch(ctx, name)
		return err
	})
	if err != nil {
		c.log.WithField("table", name).Errorf("read table failed: %v", err)
		return nil
	}
	if c.ttl > 0 {
		c.cache.Add(cacheKey(name), cacheEntry{rows: rows, fetched: c.now()})
	}
	return rows
}

// WriteCell sets one cell; row and col are 1-based sheet coordinates.
func (c *Client) WriteCell(ctx context.Context, table string, row, col int, value string) bool {
	if row < 1 || col < 1 {
		c.log.WithField("table", table).Errorf("write outside the sheet: row=%d col=%d", row, col)
		return false
	}
	return c.post(ctx, table, c.timeout, map[string]any{
		"action": "update_cell",
		"sheet":  table,
		"row":    row,
		"col":    col,
		"value":  value,
	})
}

// AppendRow adds a row at the end of the table.
func (c *Client) AppendRow(ctx context.Context, table string, row []string) bool {
	return c.post(ctx, table, c.timeout, map[string]any{
		"action": "append_row",
		"sheet":  table,
		"row":    row,
	})
}

// SyncTasks asks the proxy to rebuild the Tasks table from its sources.
func (c *Client) SyncTasks(ctx context.Context) bool {
	return c.post(ctx, TasksTable, c.syncTimeout, map[string]any{"action": "sync_tasks"})
}

// Invalidate drops the cached copy of a table so the next read goes to origin.
func (c *Client) Invalidate(table string) {
	c.cache.Remove(cacheKey(table))
}

func (c *Client) post(ctx context.Context, table string, timeout time.Duration, payload map[string]any) bool {
	if c.base == "" {
		c.log.Error("store URL not set")
		return false
	}
	body, err := json.Marshal(payload)
	if err != nil {
		c.log.WithField("table", table).Errorf("encode %v: %v", payload["action"], err)
		return false
	}
	op := fmt.Sprintf("%v %s", payload["action"], table)
	err = c.retry(ctx, op, timeout, func(ctx context.Context) error {
		return c.send(ctx, body)
	})
	if err != nil {
		c.log.WithField("table", table).Errorf("%s failed: %v", op, err)
		return false
	}
	c.Invalidate(table)
	return true
}

type response struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error"`
	Rows  json.RawMessage `json:"rows"`
}

func (c *Client) fetch(ctx context.Context, name string) ([]Row, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("parse store URL: %w", err))
	}
	q := u.Query()
	q.Set("sheet", name)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := c.roundTrip(req)
	if err != nil {
		return nil, err
	}
	var raw []any
	if err := json.Unmarshal(resp.Rows, &raw); err != nil || raw == nil {
		return nil, backoff.Permanent(fmt.Errorf("bad sheet response for %s: %s", name, truncate(string(resp.Rows), 200)))
	}
	rows := make([]Row, 0, len(raw))
	for _, r := range raw {
		cells, ok := r.([]any)
		if !ok {
			rows = append(rows, Row{})
			continue
		}
		row := make(Row, len(cells))
		for i, cell := range cells {
			row[i] = cast.ToString(cell)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *Client) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.roundTrip(req)
	if err != nil {
		return err
	}
	if !resp.OK {
		return backoff.Permanent(fmt.Errorf("proxy refused write: %s", blankAs(resp.Error, "ok=false")))
	}
	return nil
}

// roundTrip performs the request and decodes the JSON envelope. 5xx and
// transport errors are retryable; anything else is permanent.
func (c *Client) roundTrip(req *http.Request) (response, error) {
	res, err := c.http.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return response{}, fmt.Errorf("read body: %w", err)
	}
	if res.StatusCode >= 500 {
		return response{}, fmt.Errorf("proxy status=%d body=%s", res.StatusCode, truncate(string(body), 200))
	}
	if res.StatusCode >= 300 {
		return response{}, backoff.Permanent(fmt.Errorf("proxy status=%d body=%s", res.StatusCode, truncate(string(body), 200)))
	}
	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		return response{}, backoff.Permanent(fmt.Errorf("non-json response: %s", truncate(string(body), 200)))
	}
	return out, nil
}

func (c *Client) retry(ctx context.Context, op string, timeout time.Duration, fn func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	b.MaxInterval = c.max
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.attempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			actx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return nil, fn(actx)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		c.log.Warnf("%s: %v; retrying in %s", op, err, wait.Round(time.Millisecond))
	})
}

func cacheKey(table string) string { return "sheet::" + table }

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func blankAs(v, d string) string {
	if v == "" {
		return d
	}
	return v
}
