// Package pipeline executes the ordered steps of a test plan, one at a time,
// against the evaluator bound to the run's provider.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/plancheck/api/schemas"
	"github.com/xkilldash9x/plancheck/internal/formula"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Evaluator runs a single statement.
type Evaluator interface {
	Evaluate(ctx context.Context, statement string) (interface{}, error)
}

// Readiness is what the coordinator learned before steps may run.
type Readiness struct {
	FoundMatch bool
	MatchHost  string
}

// StepFailedError stops the pipeline. Err is the evaluator error of the step.
type StepFailedError struct {
	Step schemas.StepResult
	Err  error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %d (%s) %s: %v", e.Step.Index+1, e.Step.Position, e.Step.Status, e.Err)
}

func (e *StepFailedError) Unwrap() error { return e.Err }

// Pipeline runs steps sequentially.
type Pipeline struct {
	logger *zap.Logger
	eval   Evaluator
}

// New creates a Pipeline.
func New(logger *zap.Logger, eval Evaluator) (*Pipeline, error) {
	if eval == nil {
		return nil, errors.New("evaluator cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{logger: logger.Named("pipeline"), eval: eval}, nil
}

// ExecuteStep evaluates one step and records its outcome. A non-nil error is
// the evaluator failure, already reflected in the result status.
func (p *Pipeline) ExecuteStep(ctx context.Context, step schemas.TestStep) (schemas.StepResult, error) {
	res := schemas.StepResult{
		Index:     step.Index,
		Statement: step.Statement,
		Position:  step.Position,
	}
	start := time.Now()
	value, err := p.eval.Evaluate(ctx, step.Statement)
	res.Elapsed = time.Since(start)

	if err != nil {
		var ce *formula.ConfigError
		if errors.As(err, &ce) && ce.Statement == "" {
			ce.Statement = step.Statement
		}
		var ae *formula.AssertionError
		if errors.As(err, &ae) {
			res.Status = schemas.StepFailed
		} else {
			res.Status = schemas.StepErrored
		}
		res.Failure = err.Error()
		return res, err
	}

	res.Status = schemas.StepPassed
	if value != nil {
		if s, mErr := json.MarshalToString(value); mErr == nil {
			res.Value = s
		} else {
			res.Value = fmt.Sprintf("%v", value)
		}
	}
	return res, nil
}

// Run executes steps in order. The first failing step stops the pipeline and
// the remaining steps are reported as skipped. The returned error is nil when
// every step passed, a *StepFailedError otherwise, or a
// *schemas.NotReadyError when the application never became ready.
func (p *Pipeline) Run(ctx context.Context, readiness Readiness, steps []schemas.TestStep) ([]schemas.StepResult, error) {
	if !readiness.FoundMatch {
		return nil, &schemas.NotReadyError{Operation: "step execution"}
	}

	results := make([]schemas.StepResult, 0, len(steps))
	for i, step := range steps {
		if ctx.Err() != nil {
			results = append(results, skipped(steps[i:])...)
			return results, fmt.Errorf("step execution cancelled: %w", ctx.Err())
		}

		res, err := p.ExecuteStep(ctx, step)
		results = append(results, res)
		log := p.logger.With(zap.Int("step", step.Index+1), zap.String("position", step.Position.String()))
		if err == nil {
			log.Debug("Step passed.", zap.Duration("elapsed", res.Elapsed))
			continue
		}

		var ce *formula.ConfigError
		switch {
		case res.Status == schemas.StepFailed:
			log.Info("Assertion failed; skipping remaining steps.", zap.String("failure", res.Failure))
		case errors.As(err, &ce):
			log.Error("Invalid statement; aborting run.", zap.Error(err))
		default:
			log.Warn("Step errored; skipping remaining steps.", zap.Error(err))
		}
		results = append(results, skipped(steps[i+1:])...)
		return results, &StepFailedError{Step: res, Err: err}
	}
	return results, nil
}

func skipped(steps []schemas.TestStep) []schemas.StepResult {
	out := make([]schemas.StepResult, 0, len(steps))
	for _, s := range steps {
		out = append(out, schemas.StepResult{
			Index:     s.Index,
			Statement: s.Statement,
			Position:  s.Position,
			Status:    schemas.StepSkipped,
		})
	}
	return out
}
