// File: cmd/root_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/plancheck/api/schemas"
	"github.com/xkilldash9x/plancheck/internal/config"
	"github.com/xkilldash9x/plancheck/internal/engine"
	"github.com/xkilldash9x/plancheck/internal/service"
)

// -- Test Helpers --

type fakeRunner struct {
	failing map[string]bool
}

func (f *fakeRunner) Run(_ context.Context, plan *schemas.TestPlan) *schemas.TestRunResult {
	r := &schemas.TestRunResult{RunID: "run-" + plan.Name, PlanName: plan.Name, Persona: plan.Persona}
	if f.failing[plan.Name] {
		r.Fail(schemas.StageSteps, errors.New("X"))
	}
	r.Finalize()
	return r
}

type fakeFactory struct {
	runner  engine.Runner
	history service.RunHistory
	err     error
	cfg     config.Interface
}

func (f *fakeFactory) Create(_ context.Context, cfg config.Interface, logger *zap.Logger) (*service.Components, error) {
	f.cfg = cfg
	if f.err != nil {
		return nil, f.err
	}
	eng, err := engine.New(cfg, logger, f.runner)
	if err != nil {
		return nil, err
	}
	return &service.Components{Engine: eng, History: f.history}, nil
}

func newTestApp(factory service.ComponentFactory) *app {
	v := viper.New()
	v.Set("logger.log_file", "")
	v.Set("logger.level", "error")
	return &app{v: v, factory: factory, fs: afero.NewMemMapFs()}
}

func execute(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// -- Test Cases --

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := execute(t, newTestApp(&fakeFactory{}), "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "plancheck version dev")
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, newTestApp(&fakeFactory{}), "version")
	require.NoError(t, err)
	assert.Equal(t, "plancheck version dev\n", out)
}

func TestRootCmd_NoArgs(t *testing.T) {
	out, err := execute(t, newTestApp(&fakeFactory{}))
	require.NoError(t, err)
	assert.Contains(t, out, "plancheck runs browser test plans")
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	a := newTestApp(&fakeFactory{})
	a.v.Set("engine.concurrency", 0)
	_, err := execute(t, a, "version")
	assert.ErrorContains(t, err, "engine.concurrency must be a positive integer")
}

func TestPluginsCmd(t *testing.T) {
	out, err := execute(t, newTestApp(&fakeFactory{}), "plugins")
	require.NoError(t, err)
	for _, name := range []string{"web", "portal", "browser", "environment", "none", "netmock", "utility"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "Portal")
}
