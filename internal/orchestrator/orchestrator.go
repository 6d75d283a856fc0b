// File: internal/orchestrator/orchestrator.go
// Description: Sequences one test run. Browser, login, provider readiness,
// network mocks, steps and artifacts are driven in order; the first failing
// stage stops the run and is recorded in the result.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/plancheck/api/schemas"
	"github.com/xkilldash9x/plancheck/internal/config"
	"github.com/xkilldash9x/plancheck/internal/formula"
	"github.com/xkilldash9x/plancheck/internal/login"
	"github.com/xkilldash9x/plancheck/internal/observability"
	"github.com/xkilldash9x/plancheck/internal/pipeline"
	"github.com/xkilldash9x/plancheck/internal/registry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	debugInfoFile  = "debug.json"
	cleanupTimeout = 30 * time.Second
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ProfileStore hands out persisted browser profiles, one holder per persona.
type ProfileStore interface {
	Acquire(ctx context.Context, persona string) (dir string, release func(), err error)
}

// Dependencies are the collaborators of the Orchestrator. Store, FS and Env are optional.
type Dependencies struct {
	Registry *registry.Registry
	Browser  schemas.BrowserManager
	Profiles ProfileStore
	Store    schemas.ResultStore
	FS       afero.Fs
	// Env resolves persona credential keys. Defaults to the process environment.
	Env schemas.EnvLookup
}

// Orchestrator runs test plans.
type Orchestrator struct {
	cfg    config.Interface
	logger *zap.Logger
	deps   Dependencies
}

// ReadinessError reports a provider that never became idle within the budget.
type ReadinessError struct {
	Provider string
	Budget   time.Duration
	Err      error
}

func (e *ReadinessError) Error() string {
	return fmt.Sprintf("provider %q did not become ready within %s: %v", e.Provider, e.Budget, e.Err)
}

func (e *ReadinessError) Unwrap() error { return e.Err }

// UnhandledMockError reports a network mock no enabled module would install.
type UnhandledMockError struct {
	RequestURL string
}

func (e *UnhandledMockError) Error() string {
	return fmt.Sprintf("no extension module handles the network mock %q", e.RequestURL)
}

var errNotIdle = errors.New("application is not idle yet")

// New creates an Orchestrator.
func New(cfg config.Interface, logger *zap.Logger, deps Dependencies) (*Orchestrator, error) {
	if cfg == nil ||
		logger == nil ||
		deps.Registry == nil ||
		deps.Browser == nil ||
		deps.Profiles == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if deps.FS == nil {
		deps.FS = afero.NewOsFs()
	}
	if deps.Env == nil {
		deps.Env = os.LookupEnv
	}
	return &Orchestrator{cfg: cfg, logger: logger.Named("orchestrator"), deps: deps}, nil
}

// runState is everything a single run accumulates while its stages execute.
type runState struct {
	plan     *schemas.TestPlan
	result   *schemas.TestRunResult
	run      *schemas.RunContext
	logger   *zap.Logger
	budget   time.Duration
	interval time.Duration

	user        schemas.UserConfiguration
	umDesc      schemas.UserManagerDescriptor
	provDesc    schemas.ProviderDescriptor
	modules     []schemas.Module
	session     schemas.Session
	provider    schemas.Provider
	desiredURL  string
	readiness   pipeline.Readiness
	evaluator   *formula.Evaluator
	objectModel map[string]schemas.ControlRecord
}

// Run executes plan and returns its result. Failures are reported in the
// result, never as an error.
func (o *Orchestrator) Run(ctx context.Context, plan *schemas.TestPlan) *schemas.TestRunResult {
	runCfg := o.cfg.Run()
	runID := uuid.New().String()

	st := &runState{
		plan: plan,
		result: &schemas.TestRunResult{
			RunID:     runID,
			PlanName:  plan.Name,
			Persona:   plan.Persona,
			StartedAt: time.Now(),
		},
		logger:   observability.ForRun(o.logger, runID, plan.Name, plan.Persona),
		budget:   plan.Settings.Timeout,
		interval: runCfg.PollInterval,
	}
	if st.budget <= 0 {
		st.budget = runCfg.Timeout
	}
	st.run = &schemas.RunContext{
		RunID: runID,
		Plan:  plan,
		Target: schemas.TargetInfo{
			Domain:         runCfg.Domain,
			AppLogicalName: plan.AppLogicalName,
			EnvironmentID:  runCfg.EnvironmentID,
			TenantID:       runCfg.TenantID,
		},
		Logger:    st.logger,
		Settings:  schemas.NewSettingsMap(),
		FS:        o.deps.FS,
		OutputDir: filepath.Join(runCfg.OutputDirectory, outputName(plan.Name, runID)),
	}

	st.logger.Info("Test run starting.", zap.Duration("budget", st.budget))
	o.execute(ctx, st)
	o.finish(ctx, st)
	return st.result
}

func outputName(planName, runID string) string {
	name := unsafeName.ReplaceAllString(planName, "_")
	if name == "" {
		name = "plan"
	}
	return name + "-" + runID[:8]
}

// stage runs fn and records its failure. It reports whether the run may continue.
func (st *runState) stage(stage schemas.Stage, fn func() error) bool {
	if err := fn(); err != nil {
		st.result.Fail(stage, err)
		st.logger.Error("Stage failed.", zap.String("stage", string(stage)), zap.Error(err))
		return false
	}
	return true
}

func (o *Orchestrator) execute(ctx context.Context, st *runState) {
	// Configuration problems surface before a browser is launched.
	if !st.stage(schemas.StageResolveUserManager, func() error { return o.resolveUserManager(st) }) ||
		!st.stage(schemas.StageResolveProvider, func() error { return o.resolveProvider(st) }) ||
		!st.stage(schemas.StageResolveModules, func() error { return o.resolveModules(st) }) {
		return
	}

	var release func()
	defer func() {
		if release != nil {
			release()
		}
	}()
	if !st.stage(schemas.StageAcquireSession, func() error {
		var err error
		release, err = o.acquireSession(ctx, st)
		return err
	}) {
		return
	}
	defer o.closeSession(ctx, st)

	_ = st.stage(schemas.StageResolveProvider, func() error { return o.startProvider(st) }) &&
		st.stage(schemas.StageNetworkMocks, func() error { return o.installMocks(ctx, st) }) &&
		st.stage(schemas.StageLogin, func() error { return o.login(ctx, st) }) &&
		st.stage(schemas.StageReadiness, func() error { return o.awaitReadiness(ctx, st) }) &&
		st.stage(schemas.StageSteps, func() error { return o.runSteps(ctx, st) })

	o.collectArtifacts(ctx, st)
}

// -- Resolution --

func (o *Orchestrator) resolveUserManager(st *runState) error {
	user, err := st.plan.User()
	if err != nil {
		return err
	}
	st.user = user

	name := o.cfg.Run().UserAuth
	if name == "" {
		name = st.plan.Settings.UserAuth
	}
	d, err := o.deps.Registry.ResolveUserManager(name)
	if err != nil {
		return err
	}
	st.umDesc = d
	st.result.UserManager = d.Name
	return nil
}

func (o *Orchestrator) resolveProvider(st *runState) error {
	d, err := o.deps.Registry.ResolveProvider(o.cfg.Run().Provider)
	if err != nil {
		return err
	}
	st.provDesc = d
	st.result.Provider = d.Name
	return nil
}

func (o *Orchestrator) resolveModules(st *runState) error {
	descs, err := o.deps.Registry.Modules(st.plan.Settings.ExtensionModules)
	if err != nil {
		return err
	}
	for _, d := range descs {
		st.modules = append(st.modules, d.New())
	}
	return nil
}

// -- Browser --

func (o *Orchestrator) acquireSession(ctx context.Context, st *runState) (func(), error) {
	settings := st.plan.Settings
	opts := schemas.SessionOptions{
		Headless: o.cfg.Browser().ResolveHeadless(settings.Headless),
		Browser:  settings.PrimaryBrowser(),
		Locale:   settings.Locale,
	}
	if settings.RecordVideo {
		opts.VideoDir = filepath.Join(st.run.OutputDir, "video")
	}

	var release func()
	if st.umDesc.UsesStaticContext {
		dir, rel, err := o.deps.Profiles.Acquire(ctx, st.plan.Persona)
		if err != nil {
			return nil, fmt.Errorf("acquiring browser profile: %w", err)
		}
		opts.ProfileDir, release = dir, rel
	}

	for _, m := range st.modules {
		m.ExtendBrowserContextOptions(&opts, settings)
	}

	session, err := o.deps.Browser.NewSession(ctx, opts)
	if err != nil {
		if release != nil {
			release()
		}
		return nil, fmt.Errorf("starting browser session: %w", err)
	}
	st.session = session
	st.run.Page = session.Page()
	st.logger.Debug("Browser session acquired.", zap.String("session_id", session.ID()), zap.String("profile_dir", opts.ProfileDir))
	return release, nil
}

func (o *Orchestrator) closeSession(ctx context.Context, st *runState) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := st.session.Close(closeCtx); err != nil {
		st.logger.Warn("Failed to close browser session.", zap.Error(err))
	}
}

// startProvider instantiates the provider against the live page and derives
// the URL the login has to reach.
func (o *Orchestrator) startProvider(st *runState) error {
	p, err := st.provDesc.New(schemas.ProviderDeps{Page: st.session.Page(), Target: st.run.Target, Run: st.run})
	if err != nil {
		return fmt.Errorf("creating provider %q: %w", st.provDesc.Name, err)
	}
	st.provider = p

	if !st.provDesc.Supports(schemas.CapGenerateTestURL) {
		if st.run.Target.Domain == "" {
			return fmt.Errorf("provider %q cannot build a test URL and no domain is configured", st.provDesc.Name)
		}
		st.desiredURL = st.run.Target.Domain
		return nil
	}
	u, err := p.GenerateTestURL(st.run.Target.Domain, "")
	if err != nil {
		return fmt.Errorf("generating test URL: %w", err)
	}
	st.desiredURL = u
	return nil
}

// installMocks offers each mock to the modules in order; the first to accept it wins.
func (o *Orchestrator) installMocks(ctx context.Context, st *runState) error {
	for _, mock := range st.plan.NetworkMocks {
		handled := false
		for _, m := range st.modules {
			ok, err := m.RegisterNetworkRoute(ctx, st.run, st.session, mock)
			if err != nil {
				return err
			}
			if ok {
				handled = true
				break
			}
		}
		if !handled {
			return &UnhandledMockError{RequestURL: mock.RequestURL}
		}
	}
	return nil
}

// -- Login and readiness --

func (o *Orchestrator) login(ctx context.Context, st *runState) error {
	machine, err := login.NewMachine(st.logger, &login.PageProbes{Page: st.session.Page()}, st.interval)
	if err != nil {
		return err
	}

	var observed *login.State
	req := &schemas.LoginRequest{
		DesiredURL: st.desiredURL,
		Session:    st.session,
		Run:        st.run,
		User:       st.user,
		Env:        o.deps.Env,
		CommonLogin: machine.CommonLogin(st.desiredURL, st.run.Settings, st.budget, func(s *login.State) {
			observed = s
		}),
		Budget:       st.budget,
		PollInterval: st.interval,
	}

	st.logger.Info("Logging in.", zap.String("user_manager", st.umDesc.Name), zap.String("url", st.desiredURL))
	err = st.umDesc.New().LoginAsUser(ctx, req)

	st.result.ErrorDialogTitle = st.run.Settings.GetString(schemas.DialogTitleKey)
	var timeout *login.LoginTimeoutError
	if errors.As(err, &timeout) {
		st.result.LoginTimedOut = true
	}
	if err != nil {
		return err
	}

	if observed != nil {
		st.readiness = pipeline.Readiness{FoundMatch: observed.FoundMatch, MatchHost: observed.MatchHost}
	}
	return nil
}

// awaitReadiness polls the provider's idle check with the login budget, then
// loads the object model.
func (o *Orchestrator) awaitReadiness(ctx context.Context, st *runState) error {
	if st.provDesc.Supports(schemas.CapCheckIsIdle) {
		readyCtx, cancel := context.WithTimeout(ctx, st.budget)
		defer cancel()

		attempts := 0
		op := func() error {
			attempts++
			idle, err := st.provider.CheckIsIdle(readyCtx)
			if errors.Is(err, schemas.ErrCapabilityNotSupported) {
				return backoff.Permanent(err)
			}
			if err != nil {
				st.logger.Debug("Readiness probe failed.", zap.Error(err))
				return err
			}
			if !idle {
				return errNotIdle
			}
			return nil
		}
		b := backoff.WithContext(backoff.NewConstantBackOff(st.interval), readyCtx)
		if err := backoff.Retry(op, b); err != nil {
			return &ReadinessError{Provider: st.provDesc.Name, Budget: st.budget, Err: err}
		}
		st.logger.Debug("Provider is ready.", zap.Int("attempts", attempts))
	}

	if st.provDesc.Supports(schemas.CapLoadObjectModel) {
		model, err := st.provider.LoadObjectModel(ctx)
		if err != nil {
			return fmt.Errorf("loading object model: %w", err)
		}
		st.objectModel = model
		st.logger.Debug("Object model loaded.", zap.Int("controls", len(model)))
	}
	return nil
}

// -- Steps --

func (o *Orchestrator) newEvaluator(st *runState) (*formula.Evaluator, error) {
	cfg := formula.Config{
		Logger:         st.logger,
		ActiveProvider: st.provDesc.Name,
		RouteNamespace: func(ns string) (string, error) {
			d, err := o.deps.Registry.RouteFunctionNamespace(ns)
			return d.Name, err
		},
	}
	if st.provDesc.Supports(schemas.CapGetProperty) {
		cfg.ReadProperty = st.provider.GetProperty
	}
	eval := formula.New(cfg)

	if err := eval.BindControls(st.objectModel); err != nil {
		return nil, err
	}
	if err := pipeline.RegisterCoreFunctions(eval, pipeline.CoreOptions{
		Provider:     st.provider,
		Descriptor:   st.provDesc,
		Variables:    eval,
		WaitTimeout:  st.budget,
		WaitInterval: st.interval,
	}); err != nil {
		return nil, err
	}
	if err := st.provider.RegisterFunctions(eval); err != nil {
		return nil, fmt.Errorf("registering %s functions: %w", st.provDesc.Name, err)
	}
	for _, m := range st.modules {
		if err := m.RegisterFunctions(eval, st.run); err != nil {
			return nil, fmt.Errorf("registering module functions: %w", err)
		}
	}
	return eval, nil
}

func (o *Orchestrator) runSteps(ctx context.Context, st *runState) error {
	eval, err := o.newEvaluator(st)
	if err != nil {
		return err
	}
	st.evaluator = eval

	p, err := pipeline.New(st.logger, eval)
	if err != nil {
		return err
	}
	results, err := p.Run(ctx, st.readiness, st.plan.Steps)
	st.result.Steps = results

	var assertion *formula.AssertionError
	if errors.As(err, &assertion) {
		// The user-authored message is the failure message.
		st.result.Fail(schemas.StageSteps, nil)
		st.result.FailureMessage = assertion.Message
		return nil
	}
	return err
}

// -- Artifacts --

// collectArtifacts runs after any stage outcome. Its own failures are logged
// and never change the verdict.
func (o *Orchestrator) collectArtifacts(ctx context.Context, st *runState) {
	artCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	paths, err := st.session.CollectArtifacts(artCtx, st.run.OutputDir)
	if err != nil {
		st.logger.Warn("Artifact collection failed.", zap.Error(err))
	}
	st.result.Artifacts = append(st.result.Artifacts, paths...)

	if p, err := o.writeDebugInfo(artCtx, st); err != nil {
		st.logger.Warn("Could not write debug info.", zap.Error(err))
	} else {
		st.result.Artifacts = append(st.result.Artifacts, p)
	}
}

func (o *Orchestrator) writeDebugInfo(ctx context.Context, st *runState) (string, error) {
	info := map[string]interface{}{
		"runId":      st.run.RunID,
		"desiredUrl": st.desiredURL,
		"matchHost":  st.readiness.MatchHost,
		"settings":   st.run.Settings.Snapshot(),
	}
	if st.provider != nil && st.provDesc.Supports(schemas.CapDebugInfo) {
		providerInfo, err := st.provider.DebugInfo(ctx)
		if err != nil {
			st.logger.Debug("Provider debug info incomplete.", zap.Error(err))
		}
		info["provider"] = providerInfo
	}
	if st.evaluator != nil {
		info["variables"] = st.evaluator.Variables()
		info["functions"] = st.evaluator.Functions()
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", err
	}
	if err := o.deps.FS.MkdirAll(st.run.OutputDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(st.run.OutputDir, debugInfoFile)
	return path, afero.WriteFile(o.deps.FS, path, data, 0o644)
}

// finish stamps the verdict and persists the result.
func (o *Orchestrator) finish(ctx context.Context, st *runState) {
	st.result.FinishedAt = time.Now()
	st.result.Finalize()

	fields := []zap.Field{
		zap.Bool("passed", st.result.Passed),
		zap.Duration("duration", st.result.Duration()),
		zap.Int("steps", len(st.result.Steps)),
	}
	if st.result.Passed {
		st.logger.Info("Test run passed.", fields...)
	} else {
		fields = append(fields, zap.String("stage", string(st.result.FailedStage)), zap.String("failure", st.result.FailureMessage))
		st.logger.Warn("Test run failed.", fields...)
	}

	if o.deps.Store == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := o.deps.Store.SaveRun(saveCtx, st.result); err != nil {
		st.logger.Error("Failed to persist run result.", zap.Error(err))
	}
}
