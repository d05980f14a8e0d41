package job

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	ErrNotFound = errors.New("job not found")

	// ErrConflict is returned when a conditional status update matches no
	// row, i.e. the job is not in the state the transition requires. The
	// conditional updates double as the atomic claim a multi-worker
	// deployment would need.
	ErrConflict = errors.New("job not in expected state")
)

// Store is the durable sqlite-backed job record. It is the only resource
// shared between the request path and the worker loop; all access goes
// through its atomic create/read/update operations.
type Store struct {
	conn   *sql.DB
	logger *zap.Logger
}

func NewStore(dbPath string, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			return nil, fmt.Errorf("executing %s: %w", pragma, err)
		}
	}

	s := &Store{conn: conn, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	migrations, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}

	for _, m := range migrations {
		if m.IsDir() {
			continue
		}
		name := m.Name()
		if s.isMigrationApplied(name) {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.conn.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.conn.Exec("INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		s.logger.Info("applied migration", zap.String("name", name))
	}
	return nil
}

func (s *Store) isMigrationApplied(name string) bool {
	var exists int
	err := s.conn.QueryRow("SELECT 1 FROM sqlite_master WHERE type='table' AND name='_migrations'").Scan(&exists)
	if err != nil {
		return false
	}

	var applied int
	err = s.conn.QueryRow("SELECT 1 FROM _migrations WHERE name = ?", name).Scan(&applied)
	return err == nil && applied == 1
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Create inserts j as a pending job, filling in its status and timestamps.
func (s *Store) Create(ctx context.Context, j *Job) error {
	audio, err := json.Marshal(j.Spec.AudioURLs)
	if err != nil {
		return fmt.Errorf("encoding audio urls: %w", err)
	}
	bg, err := json.Marshal(j.Spec.BackgroundURLs)
	if err != nil {
		return fmt.Errorf("encoding background urls: %w", err)
	}

	ts := now()
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO jobs (id, status, created_at, updated_at, audio_urls, background_source, background_urls, quality)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, StatusPending, ts, ts, string(audio), j.Spec.BackgroundSource, string(bg), j.Spec.Quality,
	)
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}

	j.Status = StatusPending
	j.CreatedAt, _ = time.Parse(time.RFC3339, ts)
	j.UpdatedAt = j.CreatedAt
	return nil
}

const jobColumns = `id, status, created_at, updated_at, audio_urls, background_source, background_urls, quality,
	COALESCE(error_message, ''), result_url, duration_seconds, processing_time`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var (
		j            Job
		created      string
		updated      string
		audio        string
		bg           string
		resultURL    sql.NullString
		duration     sql.NullFloat64
		processingTS sql.NullFloat64
	)
	err := row.Scan(&j.ID, &j.Status, &created, &updated, &audio, &j.Spec.BackgroundSource,
		&bg, &j.Spec.Quality, &j.Error, &resultURL, &duration, &processingTS)
	if err != nil {
		return nil, err
	}

	j.CreatedAt, _ = time.Parse(time.RFC3339, created)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	if err := json.Unmarshal([]byte(audio), &j.Spec.AudioURLs); err != nil {
		return nil, fmt.Errorf("decoding audio urls: %w", err)
	}
	if err := json.Unmarshal([]byte(bg), &j.Spec.BackgroundURLs); err != nil {
		return nil, fmt.Errorf("decoding background urls: %w", err)
	}
	if resultURL.Valid {
		j.Result = &Result{
			URL:            resultURL.String,
			Duration:       duration.Float64,
			ProcessingTime: processingTS.Float64,
		}
	}
	return &j, nil
}

// Get retrieves a job by id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.conn.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading job %s: %w", id, err)
	}
	return j, nil
}

// ListPending returns up to limit pending jobs, oldest first.
func (s *Store) ListPending(ctx context.Context, limit int) ([]*Job, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE status = ? ORDER BY created_at ASC, rowid ASC LIMIT ?",
		StatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning pending job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// MarkProcessing claims a pending job. The condition on the current status
// makes the claim atomic; a second claimer gets ErrConflict.
func (s *Store) MarkProcessing(ctx context.Context, id string) error {
	return s.transition(ctx,
		"UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		StatusProcessing, now(), id, StatusPending)
}

// Complete moves a processing job to completed, recording its result.
// Terminal states never change again.
func (s *Store) Complete(ctx context.Context, id string, res Result) error {
	return s.transition(ctx, `
		UPDATE jobs SET status = ?, updated_at = ?, result_url = ?, duration_seconds = ?, processing_time = ?
		WHERE id = ? AND status = ?`,
		StatusCompleted, now(), res.URL, res.Duration, res.ProcessingTime, id, StatusProcessing)
}

// Fail moves a non-terminal job to failed with a bounded error message.
func (s *Store) Fail(ctx context.Context, id, errMsg string) error {
	return s.transition(ctx,
		"UPDATE jobs SET status = ?, updated_at = ?, error_message = ? WHERE id = ? AND status IN (?, ?)",
		StatusFailed, now(), truncateError(errMsg), id, StatusPending, StatusProcessing)
}

func (s *Store) transition(ctx context.Context, query string, args ...any) error {
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}
