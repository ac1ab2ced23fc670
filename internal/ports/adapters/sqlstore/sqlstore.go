package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/forPelevin/hlreel/internal/types"
)

const (
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		media_id TEXT NOT NULL,
		status TEXT NOT NULL,
		progress TEXT NOT NULL DEFAULT '{}',
		request TEXT NOT NULL,
		result TEXT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS jobs_created_at ON jobs (created_at)`,
	`CREATE INDEX IF NOT EXISTS jobs_status ON jobs (status)`,
}

// Store persists jobs in sqlite (a file path or "sqlite://" DSN) or postgres
// ("postgres://" DSN).
type Store struct {
	db     *sql.DB
	driver string
	log    zerolog.Logger
}

func Open(dsn string, log zerolog.Logger) (*Store, error) {
	driver, source := parseDSN(dsn)
	if source == "" {
		return nil, errors.New("store dsn is empty")
	}
	if driver == driverSQLite && source != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(source), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == driverSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if driver == driverSQLite {
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
		} {
			if _, err := db.Exec(pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("exec %s: %w", pragma, err)
			}
		}
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	log.Debug().Str("driver", driver).Msg("job store ready")
	return &Store{db: db, driver: driver, log: log}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func parseDSN(dsn string) (driver, source string) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return driverPostgres, dsn
	case strings.HasPrefix(dsn, "sqlite://"):
		return driverSQLite, strings.TrimPrefix(dsn, "sqlite://")
	default:
		return driverSQLite, dsn
	}
}

// rebind rewrites ? placeholders to $n for postgres.
func rebind(driver, query string) string {
	if driver != driverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) q(query string) string { return rebind(s.driver, query) }

const jobColumns = `id, media_id, status, progress, request, result, created_at, updated_at`

func (s *Store) CreateJob(ctx context.Context, job types.Job) error {
	if job.ID == "" {
		return errors.New("job id is empty")
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	if job.Status == "" {
		job.Status = types.StatusQueued
	}
	req, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	prog, err := json.Marshal(job.Progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	var res sql.NullString
	if job.Result != nil {
		b, err := json.Marshal(job.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		res = sql.NullString{String: string(b), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		job.ID, job.MediaID, string(job.Status), string(prog), string(req), res,
		job.CreatedAt.UnixMilli(), job.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (types.Job, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Job{}, fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
	}
	return job, err
}

// ListJobs returns the newest jobs first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]types.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *Store) SetStatus(ctx context.Context, id string, status types.Status) error {
	return s.update(ctx, id, `UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().UnixMilli(), id)
}

func (s *Store) SetProgress(ctx context.Context, id string, p types.Progress) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	return s.update(ctx, id, `UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ?`,
		string(b), time.Now().UTC().UnixMilli(), id)
}

// SaveResult stores the result and moves the job to the result's status.
// A job that already holds a terminal status is left alone and
// ErrJobFinished is returned.
func (s *Store) SaveResult(ctx context.Context, id string, res types.Result) error {
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	err = s.update(ctx, id, `UPDATE jobs SET status = ?, result = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		string(res.Status), string(b), time.Now().UTC().UnixMilli(), id,
		string(types.StatusQueued), string(types.StatusRunning))
	if !errors.Is(err, types.ErrJobNotFound) {
		return err
	}
	if _, getErr := s.GetJob(ctx, id); getErr != nil {
		return getErr
	}
	return fmt.Errorf("%w: %s", types.ErrJobFinished, id)
}

func (s *Store) update(ctx context.Context, id, query string, args ...any) error {
	r, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", types.ErrJobNotFound, id)
	}
	return nil
}

// MarkInterrupted fails every job left queued or running by a previous
// process. Call it once at startup, before any worker picks up jobs.
func (s *Store) MarkInterrupted(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id FROM jobs WHERE status IN (?, ?)`),
		string(types.StatusQueued), string(types.StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("find interrupted jobs: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		res := types.Result{
			JobID:  id,
			Status: types.StatusFailed,
			Error:  &types.ResultError{Code: "internal", Message: "interrupted by restart"},
		}
		if err := s.SaveResult(ctx, id, res); err != nil {
			return 0, err
		}
	}
	if len(ids) > 0 {
		s.log.Warn().Int("jobs", len(ids)).Msg("marked interrupted jobs as failed")
	}
	return len(ids), nil
}

// DeleteFinishedBefore removes terminal jobs last updated before the cutoff
// and returns their ids.
func (s *Store) DeleteFinishedBefore(ctx context.Context, before time.Time) ([]string, error) {
	terminal := []any{
		string(types.StatusSucceeded), string(types.StatusFailed),
		string(types.StatusCancelled), string(types.StatusTimedOut),
	}
	args := append(terminal, before.UTC().UnixMilli())
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id FROM jobs WHERE status IN (?, ?, ?, ?) AND updated_at < ?`), args...)
	if err != nil {
		return nil, fmt.Errorf("find expired jobs: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM jobs WHERE id = ?`), id); err != nil {
			return nil, fmt.Errorf("delete job %s: %w", id, err)
		}
	}
	return ids, nil
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (types.Job, error) {
	var (
		job              types.Job
		status           string
		prog, req        string
		res              sql.NullString
		created, updated int64
	)
	if err := row.Scan(&job.ID, &job.MediaID, &status, &prog, &req, &res, &created, &updated); err != nil {
		return types.Job{}, err
	}
	job.Status = types.Status(status)
	job.CreatedAt = time.UnixMilli(created).UTC()
	job.UpdatedAt = time.UnixMilli(updated).UTC()
	if err := json.Unmarshal([]byte(prog), &job.Progress); err != nil {
		return types.Job{}, fmt.Errorf("decode progress of %s: %w", job.ID, err)
	}
	if err := json.Unmarshal([]byte(req), &job.Request); err != nil {
		return types.Job{}, fmt.Errorf("decode request of %s: %w", job.ID, err)
	}
	if res.Valid && res.String != "" {
		var r types.Result
		if err := json.Unmarshal([]byte(res.String), &r); err != nil {
			return types.Job{}, fmt.Errorf("decode result of %s: %w", job.ID, err)
		}
		job.Result = &r
	}
	return job, nil
}
