package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/plancheck/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS test_runs (
    run_id             TEXT PRIMARY KEY,
    plan_name          TEXT NOT NULL,
    persona            TEXT NOT NULL,
    provider           TEXT NOT NULL DEFAULT '',
    user_manager       TEXT NOT NULL DEFAULT '',
    passed             BOOLEAN NOT NULL,
    failed_stage       TEXT NOT NULL DEFAULT '',
    failure_message    TEXT NOT NULL DEFAULT '',
    error_dialog_title TEXT NOT NULL DEFAULT '',
    login_timed_out    BOOLEAN NOT NULL DEFAULT FALSE,
    artifacts          JSONB NOT NULL DEFAULT '[]',
    started_at         TIMESTAMPTZ NOT NULL,
    finished_at        TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS test_steps (
    run_id      TEXT NOT NULL REFERENCES test_runs (run_id) ON DELETE CASCADE,
    step_index  INTEGER NOT NULL,
    statement   TEXT NOT NULL,
    line        INTEGER NOT NULL,
    col         INTEGER NOT NULL,
    status      TEXT NOT NULL,
    value       TEXT NOT NULL DEFAULT '',
    failure     TEXT NOT NULL DEFAULT '',
    elapsed_ms  BIGINT NOT NULL,
    PRIMARY KEY (run_id, step_index)
);
`

const sqlInsertRun = `
        INSERT INTO test_runs (run_id, plan_name, persona, provider, user_manager, passed, failed_stage,
            failure_message, error_dialog_title, login_timed_out, artifacts, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        ON CONFLICT (run_id) DO UPDATE SET
            passed = EXCLUDED.passed,
            failed_stage = EXCLUDED.failed_stage,
            failure_message = EXCLUDED.failure_message,
            error_dialog_title = EXCLUDED.error_dialog_title,
            login_timed_out = EXCLUDED.login_timed_out,
            artifacts = EXCLUDED.artifacts,
            finished_at = EXCLUDED.finished_at;
    `

const sqlDeleteSteps = `DELETE FROM test_steps WHERE run_id = $1;`

const sqlInsertStep = `
        INSERT INTO test_steps (run_id, step_index, statement, line, col, status, value, failure, elapsed_ms)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
    `

const sqlRecentRuns = `
        SELECT run_id, plan_name, persona, passed, failed_stage, failure_message, started_at, finished_at
        FROM test_runs
        WHERE plan_name = $1
        ORDER BY started_at DESC
        LIMIT $2;
    `

// RunSummary is a persisted run without its steps.
type RunSummary struct {
	RunID          string
	PlanName       string
	Persona        string
	Passed         bool
	FailedStage    schemas.Stage
	FailureMessage string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Store persists test run results in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.ResultStore = (*Store)(nil)

// Connect opens a pool for url and wraps it in a Store. Close the returned
// pool when done.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("database pool cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the result tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveRun writes a run and its steps in one transaction. Saving the same run
// again replaces its steps.
func (s *Store) SaveRun(ctx context.Context, result *schemas.TestRunResult) error {
	if result == nil || result.RunID == "" {
		return errors.New("cannot persist a run without an id")
	}

	artifacts := result.Artifacts
	if artifacts == nil {
		artifacts = []string{}
	}
	artifactsJSON, err := json.Marshal(artifacts)
	if err != nil {
		return fmt.Errorf("failed to encode artifacts: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlInsertRun,
		result.RunID, result.PlanName, result.Persona, result.Provider, result.UserManager,
		result.Passed, string(result.FailedStage), result.FailureMessage, result.ErrorDialogTitle,
		result.LoginTimedOut, artifactsJSON, result.StartedAt.UTC(), result.FinishedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", result.RunID, err)
	}

	if _, err := tx.Exec(ctx, sqlDeleteSteps, result.RunID); err != nil {
		return fmt.Errorf("failed to clear steps of run %s: %w", result.RunID, err)
	}
	for _, step := range result.Steps {
		if _, err := tx.Exec(ctx, sqlInsertStep,
			result.RunID, step.Index, step.Statement, step.Position.Line, step.Position.Column,
			string(step.Status), step.Value, step.Failure, step.Elapsed.Milliseconds(),
		); err != nil {
			return fmt.Errorf("failed to insert step %d of run %s: %w", step.Index, result.RunID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Run persisted.", zap.String("run_id", result.RunID), zap.Int("steps", len(result.Steps)))
	return nil
}

// RecentRuns returns the latest runs of a plan, newest first.
func (s *Store) RecentRuns(ctx context.Context, planName string, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, sqlRecentRuns, planName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		var stage string
		if err := rows.Scan(&r.RunID, &r.PlanName, &r.Persona, &r.Passed, &stage, &r.FailureMessage, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		r.FailedStage = schemas.Stage(stage)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}
