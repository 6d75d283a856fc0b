// internal/engine/engine_test.go
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/plancheck/api/schemas"
	"github.com/xkilldash9x/plancheck/internal/config"
	"github.com/xkilldash9x/plancheck/internal/mocks"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Test Helpers --

// fakeRunner records concurrency and start times.
type fakeRunner struct {
	delay    time.Duration
	fail     map[string]bool
	inFlight atomic.Int32
	peak     atomic.Int32

	mu     sync.Mutex
	starts []time.Time
}

func (f *fakeRunner) Run(ctx context.Context, plan *schemas.TestPlan) *schemas.TestRunResult {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	f.mu.Lock()
	f.starts = append(f.starts, time.Now())
	f.mu.Unlock()

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
	}
	r := &schemas.TestRunResult{PlanName: plan.Name}
	if f.fail[plan.Name] {
		r.Fail(schemas.StageSteps, fmt.Errorf("%s failed", plan.Name))
	}
	r.Finalize()
	return r
}

func engineConfig(concurrency int, interval time.Duration) *mocks.MockConfig {
	cfg := new(mocks.MockConfig)
	cfg.On("Engine").Return(config.EngineConfig{Concurrency: concurrency, LaunchInterval: interval})
	return cfg
}

func plans(n int) []*schemas.TestPlan {
	out := make([]*schemas.TestPlan, n)
	for i := range out {
		out[i] = &schemas.TestPlan{Name: fmt.Sprintf("plan-%d", i), Persona: "User1"}
	}
	return out
}

// -- Test Cases --

func TestNew_Validation(t *testing.T) {
	logger := zaptest.NewLogger(t)
	_, err := New(nil, logger, &fakeRunner{})
	assert.Error(t, err)
	_, err = New(engineConfig(1, 0), nil, &fakeRunner{})
	assert.Error(t, err)
	_, err = New(engineConfig(1, 0), logger, nil)
	assert.Error(t, err)
}

func TestRunAll_OrderAndConcurrency(t *testing.T) {
	runner := &fakeRunner{delay: 20 * time.Millisecond, fail: map[string]bool{"plan-3": true}}
	e, err := New(engineConfig(2, 0), zaptest.NewLogger(t), runner)
	require.NoError(t, err)

	results, err := e.RunAll(context.Background(), plans(6))
	require.NoError(t, err)

	require.Len(t, results, 6)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("plan-%d", i), r.PlanName, "results keep input order")
	}
	assert.LessOrEqual(t, runner.peak.Load(), int32(2))
	assert.Equal(t, Summary{Total: 6, Passed: 5, Failed: 1}, Summarize(results))
}

func TestRunAll_PacesLaunches(t *testing.T) {
	runner := &fakeRunner{}
	e, err := New(engineConfig(4, 30*time.Millisecond), zaptest.NewLogger(t), runner)
	require.NoError(t, err)

	_, err = e.RunAll(context.Background(), plans(3))
	require.NoError(t, err)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.starts, 3)
	first, last := runner.starts[0], runner.starts[0]
	for _, s := range runner.starts {
		if s.Before(first) {
			first = s
		}
		if s.After(last) {
			last = s
		}
	}
	assert.GreaterOrEqual(t, last.Sub(first), 50*time.Millisecond, "three launches need two intervals")
}

func TestRunAll_Cancelled(t *testing.T) {
	runner := &fakeRunner{delay: time.Second}
	e, err := New(engineConfig(1, time.Hour), zaptest.NewLogger(t), runner)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	results, err := e.RunAll(ctx, plans(3))

	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, results, 3)
	for _, r := range results[1:] {
		assert.False(t, r.Passed)
		assert.Equal(t, schemas.StageAcquireSession, r.FailedStage)
		assert.Contains(t, r.FailureMessage, "run not started")
	}
	assert.False(t, Summarize(results).OK())
}

func TestRunAll_RejectsReentry(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	runner := &blockingRunner{started: started, release: release}
	e, err := New(engineConfig(1, 0), zaptest.NewLogger(t), runner)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.RunAll(context.Background(), plans(1))
	}()
	<-started

	_, err = e.RunAll(context.Background(), plans(1))
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)
	<-done
}

type blockingRunner struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingRunner) Run(_ context.Context, plan *schemas.TestPlan) *schemas.TestRunResult {
	close(b.started)
	<-b.release
	return &schemas.TestRunResult{PlanName: plan.Name, Passed: true}
}
