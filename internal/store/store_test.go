package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/plancheck/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockStore(t *testing.T, logger *zap.Logger) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return s, mockPool
}

func sampleResult() *schemas.TestRunResult {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.FixedZone("CET", 3600))
	return &schemas.TestRunResult{
		RunID:          "run-1",
		PlanName:       "Smoke",
		Persona:        "User1",
		Provider:       "web",
		UserManager:    "browser",
		FailedStage:    schemas.StageSteps,
		FailureMessage: "X",
		Artifacts:      []string{"out/screenshot.png"},
		StartedAt:      start,
		FinishedAt:     start.Add(5 * time.Second),
		Steps: []schemas.StepResult{
			{Index: 0, Statement: `Assert(1 = 2, "X")`, Position: schemas.Position{Line: 3, Column: 5}, Status: schemas.StepFailed, Failure: "assertion failed: X", Elapsed: 15 * time.Millisecond},
			{Index: 1, Statement: "Select(Submit)", Position: schemas.Position{Line: 4, Column: 5}, Status: schemas.StepSkipped},
		},
	}
}

func expectRunInsert(mockPool pgxmock.PgxPoolIface, r *schemas.TestRunResult) *pgxmock.ExpectedExec {
	return mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertRun)).
		WithArgs(r.RunID, r.PlanName, r.Persona, r.Provider, r.UserManager, r.Passed, string(r.FailedStage),
			r.FailureMessage, r.ErrorDialogTitle, r.LoginTimedOut, []byte(`["out/screenshot.png"]`),
			r.StartedAt.UTC(), r.FinishedAt.UTC())
}

// -- Test Cases --

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should reject a nil pool", func(t *testing.T) {
		_, err := New(context.Background(), nil, zap.NewNop())
		assert.Error(t, err)
	})
}

func TestEnsureSchema(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS test_runs").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist a run and its steps without rollback errors", func(t *testing.T) {
		core, logs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newMockStore(t, zap.New(core))
		r := sampleResult()

		mockPool.ExpectBegin()
		expectRunInsert(mockPool, r).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlDeleteSteps)).WithArgs(r.RunID).WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertStep)).
			WithArgs("run-1", 0, `Assert(1 = 2, "X")`, 3, 5, "failed", "", "assertion failed: X", int64(15)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertStep)).
			WithArgs("run-1", 1, "Select(Submit)", 4, 5, "skipped", "", "", int64(0)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.SaveRun(ctx, r))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, logs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should roll back when a step insert fails", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		r := sampleResult()
		insertErr := errors.New("constraint violation")

		mockPool.ExpectBegin()
		expectRunInsert(mockPool, r).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlDeleteSteps)).WithArgs(r.RunID).WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertStep)).WillReturnError(insertErr)
		mockPool.ExpectRollback()

		err := s.SaveRun(ctx, r)
		require.ErrorIs(t, err, insertErr)
		assert.Contains(t, err.Error(), "failed to insert step 0 of run run-1")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fail when the transaction cannot begin", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

		err := s.SaveRun(ctx, sampleResult())
		assert.ErrorContains(t, err, "failed to begin transaction")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should reject a run without an id", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		assert.Error(t, s.SaveRun(ctx, &schemas.TestRunResult{}))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestRecentRuns(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	started := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	rows := mockPool.NewRows([]string{"run_id", "plan_name", "persona", "passed", "failed_stage", "failure_message", "started_at", "finished_at"}).
		AddRow("run-2", "Smoke", "User1", true, "", "", started.Add(time.Hour), started.Add(time.Hour+time.Minute)).
		AddRow("run-1", "Smoke", "User1", false, "login", "timed out", started, started.Add(time.Minute))
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlRecentRuns)).WithArgs("Smoke", 20).WillReturnRows(rows)

	runs, err := s.RecentRuns(context.Background(), "Smoke", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].Passed)
	assert.Equal(t, schemas.StageLogin, runs[1].FailedStage)
	assert.Equal(t, "timed out", runs[1].FailureMessage)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
