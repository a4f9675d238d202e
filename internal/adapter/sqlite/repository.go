package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/cwygoda/songbridge/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS completions (
    job_id         TEXT PRIMARY KEY,
    status         TEXT NOT NULL DEFAULT 'pending',
    audio_url      TEXT,
    image_url      TEXT,
    title          TEXT,
    failure_reason TEXT,
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_completions_status ON completions(status);
`

const selectColumns = `job_id, status, COALESCE(audio_url, ''), COALESCE(image_url, ''),
	COALESCE(title, ''), COALESCE(failure_reason, ''), created_at, updated_at`

// Repository implements domain.CompletionStore using SQLite.
//
// Terminal transitions are single upserts guarded by status = 'pending',
// so the first terminal write wins even across processes sharing the file.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new SQLite repository, initializing the schema if needed.
func New(dbPath string) (*Repository, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	// One connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Repository{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Track inserts a pending job if it is not known yet.
func (r *Repository) Track(ctx context.Context, id string) error {
	now := r.now().UnixNano()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO completions (job_id, status, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(job_id) DO NOTHING`,
		id, domain.StatusPending, now, now,
	)
	return err
}

// Get retrieves a job by ID.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM completions WHERE job_id = ?`, id,
	)
	return scanJob(row)
}

// Complete marks a job complete unless it is already terminal.
func (r *Repository) Complete(ctx context.Context, id string, res domain.Result) error {
	if res.Title == "" {
		res.Title = domain.DefaultTitle
	}
	now := r.now().UnixNano()
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO completions (job_id, status, audio_url, image_url, title, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET
		     status = excluded.status,
		     audio_url = excluded.audio_url,
		     image_url = excluded.image_url,
		     title = excluded.title,
		     updated_at = excluded.updated_at
		 WHERE completions.status = ?`,
		id, domain.StatusComplete, res.AudioURL, res.ImageURL, res.Title, now, now,
		domain.StatusPending,
	)
	return terminalResult(result, err)
}

// Fail marks a job failed unless it is already terminal.
func (r *Repository) Fail(ctx context.Context, id string, reason string) error {
	now := r.now().UnixNano()
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO completions (job_id, status, failure_reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET
		     status = excluded.status,
		     failure_reason = excluded.failure_reason,
		     updated_at = excluded.updated_at
		 WHERE completions.status = ?`,
		id, domain.StatusFailed, reason, now, now,
		domain.StatusPending,
	)
	return terminalResult(result, err)
}

func terminalResult(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrAlreadyTerminal
	}
	return nil
}

// ListPending returns pending jobs up to limit, newest first.
func (r *Repository) ListPending(ctx context.Context, limit int) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM completions WHERE status = ? ORDER BY created_at DESC LIMIT ?`,
		domain.StatusPending, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Prune deletes terminal jobs updated before terminalBefore and pending
// jobs created before pendingBefore.
func (r *Repository) Prune(ctx context.Context, terminalBefore, pendingBefore time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM completions
		 WHERE (status != ? AND updated_at < ?) OR (status = ? AND created_at < ?)`,
		domain.StatusPending, terminalBefore.UnixNano(),
		domain.StatusPending, pendingBefore.UnixNano(),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var (
		job                domain.Job
		status             string
		audio, image, name string
		created, updated   int64
	)
	err := row.Scan(&job.ID, &status, &audio, &image, &name, &job.FailureReason, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	if job.Status == domain.StatusComplete {
		job.Result = &domain.Result{AudioURL: audio, ImageURL: image, Title: name}
	}
	job.CreatedAt = time.Unix(0, created)
	job.UpdatedAt = time.Unix(0, updated)
	return &job, nil
}

var _ domain.CompletionStore = (*Repository)(nil)
