// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/plancheck/api/schemas"
	"github.com/xkilldash9x/plancheck/internal/config"
)

// ErrAlreadyRunning is returned when RunAll is called while a batch is in flight.
var ErrAlreadyRunning = errors.New("engine is already running a batch")

// Runner executes a single plan. The orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, plan *schemas.TestPlan) *schemas.TestRunResult
}

// Engine runs a batch of plans on a bounded pool, pacing browser launches.
type Engine struct {
	cfg    config.Interface
	logger *zap.Logger
	runner Runner

	stateLock sync.Mutex
	isRunning bool
}

// Summary counts the outcome of a batch.
type Summary struct {
	Total  int
	Passed int
	Failed int
}

// OK reports whether every run passed.
func (s Summary) OK() bool { return s.Failed == 0 }

// New creates an Engine.
func New(cfg config.Interface, logger *zap.Logger, runner Runner) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if runner == nil {
		return nil, errors.New("runner cannot be nil")
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "run_engine")),
		runner: runner,
	}, nil
}

// RunAll executes plans and returns one result per plan, in input order.
// Plans that never started because ctx ended get a failed result; the
// returned error is then the context error.
func (e *Engine) RunAll(ctx context.Context, plans []*schemas.TestPlan) ([]*schemas.TestRunResult, error) {
	e.stateLock.Lock()
	if e.isRunning {
		e.stateLock.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.isRunning = true
	e.stateLock.Unlock()
	defer func() {
		e.stateLock.Lock()
		e.isRunning = false
		e.stateLock.Unlock()
	}()

	engineCfg := e.cfg.Engine()
	concurrency := engineCfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	limit := rate.Inf
	if engineCfg.LaunchInterval > 0 {
		limit = rate.Every(engineCfg.LaunchInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	e.logger.Info("Starting batch.", zap.Int("plans", len(plans)), zap.Int("concurrency", concurrency), zap.Duration("launch_interval", engineCfg.LaunchInterval))

	results := make([]*schemas.TestRunResult, len(plans))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, plan := range plans {
		i, plan := i, plan
		g.Go(func() error {
			if err := limiter.Wait(ctx); err != nil {
				results[i] = notStarted(plan, err)
				return nil
			}
			results[i] = e.runner.Run(ctx, plan)
			return nil
		})
	}
	_ = g.Wait()

	s := Summarize(results)
	e.logger.Info("Batch finished.", zap.Int("total", s.Total), zap.Int("passed", s.Passed), zap.Int("failed", s.Failed))
	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("batch interrupted: %w", err)
	}
	return results, nil
}

func notStarted(plan *schemas.TestPlan, err error) *schemas.TestRunResult {
	now := time.Now()
	r := &schemas.TestRunResult{
		PlanName:   plan.Name,
		Persona:    plan.Persona,
		StartedAt:  now,
		FinishedAt: now,
	}
	r.Fail(schemas.StageAcquireSession, fmt.Errorf("run not started: %w", err))
	r.Finalize()
	return r
}

// Summarize counts passed and failed results. Nil entries are ignored.
func Summarize(results []*schemas.TestRunResult) Summary {
	var s Summary
	for _, r := range results {
		if r == nil {
			continue
		}
		s.Total++
		if r.Passed {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	return s
}
