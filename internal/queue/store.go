package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rmoura-dev/docflow/constants"
	"github.com/rmoura-dev/docflow/internal/entity"
)

// Store persists jobs in SQLite so the queue survives restarts.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the queue database and applies migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure queue directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) applyMigrations(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id           TEXT PRIMARY KEY,
    type         TEXT NOT NULL,
    payload      TEXT NOT NULL DEFAULT '{}',
    priority     INTEGER NOT NULL DEFAULT 0,
    state        TEXT NOT NULL DEFAULT 'queued',
    attempts     INTEGER NOT NULL DEFAULT 0,
    max_attempts INTEGER NOT NULL DEFAULT 3,
    last_error   TEXT NOT NULL DEFAULT '',
    run_after    TEXT NOT NULL,
    created_at   TEXT NOT NULL,
    updated_at   TEXT NOT NULL,
    finished_at  TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs (type, state, run_after, priority);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Enqueue inserts a job. The job ID is the idempotency key: a duplicate ID
// leaves the existing row untouched and reports inserted=false.
func (s *Store) Enqueue(ctx context.Context, job *entity.Job) (bool, error) {
	now := time.Now().UTC()
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 3
	}
	if job.Payload == nil {
		job.Payload = json.RawMessage("{}")
	}
	runAfter := job.RunAfter
	if runAfter.IsZero() {
		runAfter = now
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, type, payload, priority, state, attempts, max_attempts, last_error, run_after, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, 0, ?, '', ?, ?, ?)
         ON CONFLICT (id) DO NOTHING`,
		job.ID,
		string(job.Type),
		string(job.Payload),
		job.Priority,
		string(constants.JobStateQueued),
		job.MaxAttempts,
		runAfter.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return n > 0, nil
}

// Claim atomically takes the next runnable job of the given type: queued,
// past its run_after, highest priority first, oldest first within a
// priority. Returns nil when nothing is runnable.
func (s *Store) Claim(ctx context.Context, jobType constants.JobType) (*entity.Job, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT id FROM jobs
         WHERE type = ? AND state = ? AND run_after <= ?
         ORDER BY priority DESC, created_at ASC
         LIMIT 1`,
		string(jobType), string(constants.JobStateQueued), now)

	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("claim scan: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET state = ?, attempts = attempts + 1, updated_at = ? WHERE id = ?`,
		string(constants.JobStateActive), now, id); err != nil {
		return nil, fmt.Errorf("claim update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim commit: %w", err)
	}
	return s.GetByID(ctx, id)
}

// Complete marks an active job done.
func (s *Store) Complete(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, updated_at = ?, finished_at = ? WHERE id = ?`,
		string(constants.JobStateCompleted), now, now, id)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return nil
}

// Fail records a failed attempt. Jobs under their attempt budget go back to
// queued with exponential backoff; exhausted jobs become terminally failed.
// The returned flag reports whether the job is exhausted.
func (s *Store) Fail(ctx context.Context, id string, jobErr error, backoffBase time.Duration) (bool, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, fmt.Errorf("fail job %s: not found", id)
	}

	now := time.Now().UTC()
	message := ""
	if jobErr != nil {
		message = jobErr.Error()
	}

	if job.Attempts >= job.MaxAttempts {
		_, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET state = ?, last_error = ?, updated_at = ?, finished_at = ? WHERE id = ?`,
			string(constants.JobStateFailed), message,
			now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), id)
		if err != nil {
			return false, fmt.Errorf("fail job %s: %w", id, err)
		}
		return true, nil
	}

	// attempt N failed: wait base * 2^(N-1) before the next one
	delay := backoffBase * (1 << (job.Attempts - 1))
	_, err = s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
		string(constants.JobStateQueued), message,
		now.Add(delay).Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), id)
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", id, err)
	}
	return false, nil
}

// GetByID fetches one job, nil when absent.
func (s *Store) GetByID(ctx context.Context, id string) (*entity.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, type, payload, priority, state, attempts, max_attempts, last_error, run_after, created_at, updated_at, finished_at
         FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// Stats counts jobs per state for one type.
func (s *Store) Stats(ctx context.Context, jobType constants.JobType) (map[constants.JobState]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM jobs WHERE type = ? GROUP BY state`, string(jobType))
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := map[constants.JobState]int{}
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("queue stats scan: %w", err)
		}
		stats[constants.JobState(state)] = count
	}
	return stats, rows.Err()
}

// Prune removes finished jobs past their retention windows.
func (s *Store) Prune(ctx context.Context, completedRetention, failedRetention time.Duration) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs
         WHERE (state = ? AND finished_at <= ?)
            OR (state = ? AND finished_at <= ?)`,
		string(constants.JobStateCompleted), now.Add(-completedRetention).Format(time.RFC3339Nano),
		string(constants.JobStateFailed), now.Add(-failedRetention).Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return res.RowsAffected()
}

// RequeueStalled returns active jobs older than the threshold to the queue.
// Used on startup to recover work orphaned by a crash.
func (s *Store) RequeueStalled(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, run_after = ?, updated_at = ?
         WHERE state = ? AND updated_at <= ?`,
		string(constants.JobStateQueued),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		string(constants.JobStateActive),
		now.Add(-olderThan).Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("requeue stalled: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.Job, error) {
	var (
		job        entity.Job
		jobType    string
		payload    string
		state      string
		runAfter   string
		createdAt  string
		updatedAt  string
		finishedAt sql.NullString
	)
	err := row.Scan(&job.ID, &jobType, &payload, &job.Priority, &state,
		&job.Attempts, &job.MaxAttempts, &job.LastError, &runAfter, &createdAt, &updatedAt, &finishedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.Type = constants.JobType(jobType)
	job.Payload = json.RawMessage(payload)
	job.State = constants.JobState(state)
	job.RunAfter = parseTime(runAfter)
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		job.FinishedAt = &t
	}
	return &job, nil
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
