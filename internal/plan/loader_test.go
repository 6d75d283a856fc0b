// internal/plan/loader_test.go
package plan

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/plancheck/api/schemas"
)

const samplePlan = `test:
  name: Account smoke
  description: Creates an account
  persona: User1
  appLogicalName: contoso_app
  networkRequestMocks:
    - requestURL: "https://*.example.com/api/*"
      method: GET
      responseDataFile: mocks/accounts.json
  testSteps: |
    Set(count, 1);
    Assert(count = 1, "count; should be one")
    Select(Submit)
testSettings:
  recordVideo: true
  timeout: 30000
  userAuth: environment
  extensionModules: [netmock]
  extraHeaders:
    X-Test-Run: smoke
  browserConfigurations:
    - browser: chromium
      screenWidth: 1920
      screenHeight: 1080
environmentVariables:
  users:
    - personaName: User1
      emailKey: user1Email
      passwordKey: user1Password
`

func TestParse(t *testing.T) {
	plan, err := Parse(strings.NewReader(samplePlan), "/plans/smoke.yaml")
	require.NoError(t, err)

	assert.Equal(t, "Account smoke", plan.Name)
	assert.Equal(t, "User1", plan.Persona)
	assert.Equal(t, "contoso_app", plan.AppLogicalName)
	assert.Equal(t, "/plans/smoke.yaml", plan.SourcePath)

	wantSettings := schemas.TestSettings{
		Headless:         true,
		RecordVideo:      true,
		Timeout:          30 * time.Second,
		UserAuth:         "environment",
		ExtensionModules: []string{"netmock"},
		ExtraHeaders:     map[string]string{"X-Test-Run": "smoke"},
		BrowserConfigurations: []schemas.BrowserConfiguration{
			{Browser: "chromium", ScreenWidth: 1920, ScreenHeight: 1080},
		},
	}
	if diff := cmp.Diff(wantSettings, plan.Settings); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, plan.NetworkMocks, 1)
	assert.Equal(t, "GET", plan.NetworkMocks[0].Method)
	assert.Equal(t, "mocks/accounts.json", plan.NetworkMocks[0].ResponseDataFile)

	user, err := plan.User()
	require.NoError(t, err)
	assert.Equal(t, "user1Password", user.PasswordKey)

	wantSteps := []schemas.TestStep{
		{Index: 0, Statement: "Set(count, 1)", Position: schemas.Position{Line: 11, Column: 5}},
		{Index: 1, Statement: `Assert(count = 1, "count; should be one")`, Position: schemas.Position{Line: 12, Column: 5}},
		{Index: 2, Statement: "Select(Submit)", Position: schemas.Position{Line: 13, Column: 5}},
	}
	if diff := cmp.Diff(wantSteps, plan.Steps); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_StepList(t *testing.T) {
	doc := `test:
  name: list
  persona: P
  testSteps:
    - Set(a, 1)
    - "Assert(a = 1, \"ok\"); Set(b, 2)"
`
	plan, err := Parse(strings.NewReader(doc), "list.yaml")
	require.NoError(t, err)

	require.Len(t, plan.Steps, 3)
	assert.Equal(t, schemas.Position{Line: 5, Column: 7}, plan.Steps[0].Position)
	assert.Equal(t, `Assert(a = 1, "ok")`, plan.Steps[1].Statement)
	assert.Equal(t, 2, plan.Steps[2].Index)
	assert.Equal(t, "Set(b, 2)", plan.Steps[2].Statement)
}

func TestParse_HeadlessCanBeDisabled(t *testing.T) {
	doc := "test:\n  name: n\n  persona: p\ntestSettings:\n  headless: false\n"
	plan, err := Parse(strings.NewReader(doc), "h.yaml")
	require.NoError(t, err)
	assert.False(t, plan.Settings.Headless)
	assert.Zero(t, plan.Settings.Timeout)
	assert.Empty(t, plan.Steps)
}

func TestParse_Invalid(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", "", "document is empty"},
		{"malformed", "test: [", "malformed yaml"},
		{"unknown field", "test:\n  name: n\n  persona: p\n  nmae: typo\n", "malformed yaml"},
		{"missing name", "test:\n  persona: p\n", "test.name is required"},
		{"missing persona", "test:\n  name: n\n", "test.persona is required"},
		{"negative timeout", "test:\n  name: n\n  persona: p\ntestSettings:\n  timeout: -1\n", "timeout must not be negative"},
		{"mock without url", "test:\n  name: n\n  persona: p\n  networkRequestMocks:\n    - method: GET\n", "requestURL is required"},
		{"unbalanced steps", "test:\n  name: n\n  persona: p\n  testSteps: \"Set(a, 1))\"\n", "unbalanced"},
		{"nested step list", "test:\n  name: n\n  persona: p\n  testSteps:\n    - [a]\n", "each step must be a string"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.doc), "bad.yaml")
			require.Error(t, err)
			var pe *Error
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, "bad.yaml", pe.Path)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoader(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/plans/smoke.yaml", []byte(samplePlan), 0o644))

	l := NewLoader(fs)
	plans, err := l.LoadAll([]string{"/plans/smoke.yaml"})
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "/plans/smoke.yaml", plans[0].SourcePath)

	_, err = l.LoadAll([]string{"/plans/smoke.yaml", "/plans/missing.yaml"})
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "/plans/missing.yaml", pe.Path)
	assert.Contains(t, err.Error(), "cannot read file")
}
