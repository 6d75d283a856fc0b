package schemas

import (
	"context"
	"time"
)

// StepStatus is the outcome of a single step.
type StepStatus string

const (
	StepPassed  StepStatus = "passed"
	StepFailed  StepStatus = "failed"  // user-level assertion violation
	StepErrored StepStatus = "errored" // evaluator or browser failure
	StepSkipped StepStatus = "skipped" // a previous step stopped the pipeline
)

// IsFailure reports whether the status fails the run.
func (s StepStatus) IsFailure() bool {
	return s == StepFailed || s == StepErrored
}

// Stage names a coordinator stage. A failed run records the stage that stopped it.
type Stage string

const (
	StageAcquireSession     Stage = "acquire_session"
	StageResolveUserManager Stage = "resolve_user_manager"
	StageResolveProvider    Stage = "resolve_provider"
	StageResolveModules     Stage = "resolve_modules"
	StageLogin              Stage = "login"
	StageReadiness          Stage = "readiness"
	StageNetworkMocks       Stage = "network_mocks"
	StageSteps              Stage = "steps"
	StageArtifacts          Stage = "artifacts"
)

// StepResult records the execution of one TestStep.
type StepResult struct {
	Index     int           `json:"index"`
	Statement string        `json:"statement"`
	Position  Position      `json:"position"`
	Status    StepStatus    `json:"status"`
	Value     string        `json:"value,omitempty"`
	Failure   string        `json:"failure,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// TestRunResult is the outcome of one run of a TestPlan.
type TestRunResult struct {
	RunID            string       `json:"runId"`
	PlanName         string       `json:"planName"`
	Persona          string       `json:"persona"`
	Provider         string       `json:"provider,omitempty"`
	UserManager      string       `json:"userManager,omitempty"`
	Steps            []StepResult `json:"steps"`
	Passed           bool         `json:"passed"`
	FailedStage      Stage        `json:"failedStage,omitempty"`
	FailureMessage   string       `json:"failureMessage,omitempty"`
	ErrorDialogTitle string       `json:"errorDialogTitle,omitempty"`
	LoginTimedOut    bool         `json:"loginTimedOut,omitempty"`
	Artifacts        []string     `json:"artifacts,omitempty"`
	StartedAt        time.Time    `json:"startedAt"`
	FinishedAt       time.Time    `json:"finishedAt"`
}

// Finalize derives Passed from the recorded outcome: a run fails iff a step
// carries a failure, the login timed out, or any stage failed.
func (r *TestRunResult) Finalize() {
	failed := r.LoginTimedOut || r.FailedStage != ""
	for _, s := range r.Steps {
		if s.Status.IsFailure() {
			failed = true
			break
		}
	}
	r.Passed = !failed
}

// Fail records a stage failure. Only the first recorded stage is kept.
func (r *TestRunResult) Fail(stage Stage, err error) {
	if r.FailedStage != "" {
		return
	}
	r.FailedStage = stage
	if err != nil {
		r.FailureMessage = err.Error()
	}
}

// Duration is the wall time of the run.
func (r *TestRunResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ResultStore persists finished runs.
type ResultStore interface {
	SaveRun(ctx context.Context, result *TestRunResult) error
}
