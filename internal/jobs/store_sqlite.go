package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"indiistudio/internal/store"
)

var jobSchema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id                 TEXT PRIMARY KEY,
		user_id            TEXT NOT NULL,
		kind               TEXT NOT NULL,
		status             TEXT NOT NULL,
		progress           INTEGER NOT NULL DEFAULT 0,
		prompt             TEXT NOT NULL DEFAULT '',
		total_duration_sec INTEGER NOT NULL DEFAULT 0,
		segments           TEXT NOT NULL DEFAULT '[]',
		output_url         TEXT NOT NULL DEFAULT '',
		error              TEXT NOT NULL DEFAULT '',
		created_at         DATETIME NOT NULL,
		updated_at         DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs(user_id, created_at)`,
}

var jobMigrations = []store.Migration{
	{Table: "jobs", Column: "aspect_ratio", Def: "TEXT NOT NULL DEFAULT ''"},
}

// SQLiteStore persists jobs in SQLite. Segments are stored as a JSON column.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the jobs table if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if err := store.EnsureSchema(db, jobSchema, jobMigrations); err != nil {
		return nil, fmt.Errorf("job store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Create implements Store.
func (s *SQLiteStore) Create(ctx context.Context, job *Job) error {
	segs, err := json.Marshal(job.Segments)
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, user_id, kind, status, progress, prompt, total_duration_sec,
		                   aspect_ratio, segments, output_url, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.UserID, string(job.Kind), string(job.Status), job.Progress, job.Prompt,
		job.TotalDurationSec, job.AspectRatio, string(segs), job.OutputURL, job.Error,
		job.CreatedAt.UTC(), job.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, job *Job) error {
	segs, err := json.Marshal(job.Segments)
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, progress = ?, segments = ?, output_url = ?, error = ?, updated_at = ?
		  WHERE id = ?`,
		string(job.Status), job.Progress, string(segs), job.OutputURL, job.Error, job.UpdatedAt.UTC(), job.ID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	return nil
}

const jobColumns = `id, user_id, kind, status, progress, prompt, total_duration_sec,
	aspect_ratio, segments, output_url, error, created_at, updated_at`

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, err
}

// List implements Store. An empty userID lists every job. Newest first.
func (s *SQLiteStore) List(ctx context.Context, userID string) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*Job, error) {
	var (
		job                  Job
		kind, status, segs   string
		createdAt, updatedAt time.Time
	)
	err := sc.Scan(&job.ID, &job.UserID, &kind, &status, &job.Progress, &job.Prompt,
		&job.TotalDurationSec, &job.AspectRatio, &segs, &job.OutputURL, &job.Error,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	job.Kind = Kind(kind)
	job.Status = Status(status)
	job.CreatedAt = createdAt
	job.UpdatedAt = updatedAt
	if err := json.Unmarshal([]byte(segs), &job.Segments); err != nil {
		return nil, fmt.Errorf("decode segments for %s: %w", job.ID, err)
	}
	return &job, nil
}
