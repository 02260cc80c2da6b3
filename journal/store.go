// Package journal keeps an audit trail of reminder passes in a SQL database.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by GetByID for an unknown pass id.
var ErrNotFound = errors.New("journal: pass not found")

// Store records pass lifecycle events. Implementations must be safe for
// concurrent use.
type Store interface {
	InsertCreated(ctx context.Context, rec PassRecord) error
	MarkStarted(ctx context.Context, id string, startedAt time.Time) error
	MarkCompleted(ctx context.Context, id string, reportJSON *string, finishedAt time.Time) error
	MarkSkipped(ctx context.Context, id string, finishedAt time.Time) error
	MarkFailed(ctx context.Context, id string, errorMsg string, finishedAt time.Time) error
	GetByID(ctx context.Context, id string) (*PassRecord, error)
	Recent(ctx context.Context, limit int) ([]PassRecord, error)
}

var schema = []string{`
CREATE TABLE IF NOT EXISTS reminder_passes (
    id          VARCHAR(64) PRIMARY KEY,
    source      VARCHAR(32) NOT NULL,
    queue       VARCHAR(64) NOT NULL,
    status      VARCHAR(32) NOT NULL,
    error_msg   TEXT        NULL,
    report_json TEXT        NULL,
    created_at  DATETIME    NOT NULL,
    updated_at  DATETIME    NULL,
    started_at  DATETIME    NULL,
    finished_at DATETIME    NULL
)`,
	`CREATE INDEX IF NOT EXISTS reminder_passes_created_at ON reminder_passes (created_at)`,
}

// SQLStore implements Store on database/sql. Queries use "?" placeholders;
// it is run against modernc.org/sqlite.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates the journal table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) InsertCreated(ctx context.Context, rec PassRecord) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	q := `INSERT INTO reminder_passes (id, source, queue, status, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, rec.ID, rec.Trigger, rec.Queue, string(StatusCreated), created.UTC())
	return err
}

func (s *SQLStore) MarkStarted(ctx context.Context, id string, startedAt time.Time) error {
	q := `UPDATE reminder_passes SET status = ?, started_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	return s.update(ctx, q, string(StatusInProgress), startedAt.UTC(), id)
}

func (s *SQLStore) MarkCompleted(ctx context.Context, id string, reportJSON *string, finishedAt time.Time) error {
	q := `UPDATE reminder_passes SET status = ?, report_json = ?, finished_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	return s.update(ctx, q, string(StatusCompleted), reportJSON, finishedAt.UTC(), id)
}

func (s *SQLStore) MarkSkipped(ctx context.Context, id string, finishedAt time.Time) error {
	q := `UPDATE reminder_passes SET status = ?, finished_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	return s.update(ctx, q, string(StatusSkipped), finishedAt.UTC(), id)
}

func (s *SQLStore) MarkFailed(ctx context.Context, id string, errorMsg string, finishedAt time.Time) error {
	q := `UPDATE reminder_passes SET status = ?, error_msg = ?, finished_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	return s.update(ctx, q, string(StatusFailed), errorMsg, finishedAt.UTC(), id)
}

func (s *SQLStore) update(ctx context.Context, q string, args ...any) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectColumns = `SELECT id, source, queue, status, error_msg, report_json, created_at, started_at, finished_at FROM reminder_passes`

func (s *SQLStore) GetByID(ctx context.Context, id string) (*PassRecord, error) {
	if s.db == nil {
		return nil, errors.New("nil db")
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Recent returns the newest passes first.
func (s *SQLStore) Recent(ctx context.Context, limit int) ([]PassRecord, error) {
	if s.db == nil {
		return nil, errors.New("nil db")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PassRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (PassRecord, error) {
	var rec PassRecord
	var status string
	var errorMsg, reportJSON sql.NullString
	var startedAt, finishedAt sql.NullTime
	if err := row.Scan(&rec.ID, &rec.Trigger, &rec.Queue, &status, &errorMsg, &reportJSON, &rec.CreatedAt, &startedAt, &finishedAt); err != nil {
		return PassRecord{}, err
	}
	rec.Status = Status(status)
	if errorMsg.Valid {
		v := errorMsg.String
		rec.ErrorMsg = &v
	}
	if reportJSON.Valid {
		v := reportJSON.String
		rec.ReportJSON = &v
	}
	if startedAt.Valid {
		t := startedAt.Time
		rec.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		rec.FinishedAt = &t
	}
	return rec, nil
}
