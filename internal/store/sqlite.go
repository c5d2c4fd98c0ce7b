package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"cognispeech/internal/models"
)

// SQLite implements Store on an embedded SQLite database. It is the
// default durable backend.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens (and if needed creates) the database at dbPath.
func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// initSchema initializes the database schema
func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS analysis_jobs (
		id TEXT PRIMARY KEY,
		logical_id TEXT NOT NULL,
		subject_ref TEXT NOT NULL,
		idempotency_key TEXT,
		state TEXT NOT NULL DEFAULT 'PENDING',
		attempt INTEGER NOT NULL DEFAULT 1,
		result_json TEXT,
		failure_json TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(idempotency_key),
		UNIQUE(logical_id, attempt)
	);

	CREATE INDEX IF NOT EXISTS idx_analysis_jobs_state ON analysis_jobs(state);
	CREATE INDEX IF NOT EXISTS idx_analysis_jobs_logical_id ON analysis_jobs(logical_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

const jobColumns = `id, logical_id, subject_ref, idempotency_key, state, attempt,
	       result_json, failure_json, created_at, updated_at`

// CreateJob persists a new attempt record.
func (s *SQLite) CreateJob(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO analysis_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	// Empty string becomes NULL so keyless jobs never trip the UNIQUE
	// constraint; SQLite allows multiple NULLs but not multiple ''.
	var idempotencyKey interface{}
	if job.IdempotencyKey != "" {
		idempotencyKey = job.IdempotencyKey
	}

	resultJSON, failureJSON, err := marshalPayloads(job.Result, job.Failure)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.LogicalID,
		job.SubjectRef,
		idempotencyKey,
		job.State,
		job.Attempt,
		resultJSON,
		failureJSON,
		job.CreatedAt.UnixMilli(),
		job.UpdatedAt.UnixMilli(),
	)

	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJobByID retrieves a job by id.
func (s *SQLite) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE id = ?`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// GetJobByIdempotencyKey retrieves the job created under key, or
// (nil, nil) when no such submission exists.
func (s *SQLite) GetJobByIdempotencyKey(ctx context.Context, key string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE idempotency_key = ?`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// Transition atomically applies a compare-and-set state change. The
// conditional UPDATE is the linearization point: a row is only touched
// while its state still equals expected.
func (s *SQLite) Transition(ctx context.Context, id string, expected, next models.JobState, change Change) (*models.Job, error) {
	if err := ValidateTransition(expected, next, change); err != nil {
		return nil, err
	}

	resultJSON, failureJSON, err := marshalPayloads(change.Result, change.Failure)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE analysis_jobs
		SET state = ?, result_json = ?, failure_json = ?, updated_at = ?
		WHERE id = ? AND state = ?
	`

	res, err := s.db.ExecContext(ctx, query, next, resultJSON, failureJSON, time.Now().UTC().UnixMilli(), id, expected)
	if err != nil {
		return nil, fmt.Errorf("failed to transition job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		current, err := s.GetJobByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: job %s is %s, expected %s", ErrConflict, id, current.State, expected)
	}

	return s.GetJobByID(ctx, id)
}

// ListJobsByState returns jobs in the given state, oldest first.
func (s *SQLite) ListJobsByState(ctx context.Context, state models.JobState, limit int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE state = ? ORDER BY created_at ASC`
	args := []interface{}{state}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	return s.queryJobs(ctx, query, args...)
}

// ListJobsByLogicalID returns every attempt of a logical job in ascending
// attempt order.
func (s *SQLite) ListJobsByLogicalID(ctx context.Context, logicalID string) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE logical_id = ? ORDER BY attempt ASC`
	return s.queryJobs(ctx, query, logicalID)
}

// CountJobsByState returns the number of jobs per state.
func (s *SQLite) CountJobsByState(ctx context.Context) (map[models.JobState]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM analysis_jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobState]int64)
	for rows.Next() {
		var state models.JobState
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[state] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate counts: %w", err)
	}
	return counts, nil
}

func (s *SQLite) queryJobs(ctx context.Context, query string, args ...interface{}) ([]*models.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var idempotencyKey sql.NullString
	var resultJSON, failureJSON sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(
		&job.ID,
		&job.LogicalID,
		&job.SubjectRef,
		&idempotencyKey,
		&job.State,
		&job.Attempt,
		&resultJSON,
		&failureJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if idempotencyKey.Valid {
		job.IdempotencyKey = idempotencyKey.String
	}
	if resultJSON.Valid {
		var report models.AnalysisReport
		if err := json.Unmarshal([]byte(resultJSON.String), &report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		job.Result = &report
	}
	if failureJSON.Valid {
		var failure models.FailureRecord
		if err := json.Unmarshal([]byte(failureJSON.String), &failure); err != nil {
			return nil, fmt.Errorf("failed to unmarshal failure: %w", err)
		}
		job.Failure = &failure
	}

	job.CreatedAt = time.UnixMilli(createdAt).UTC()
	job.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	return &job, nil
}

func marshalPayloads(result *models.AnalysisReport, failure *models.FailureRecord) (interface{}, interface{}, error) {
	var resultJSON, failureJSON interface{}
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		resultJSON = string(b)
	}
	if failure != nil {
		b, err := json.Marshal(failure)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal failure: %w", err)
		}
		failureJSON = string(b)
	}
	return resultJSON, failureJSON, nil
}
