// internal/reporting/reporter_test.go
package reporting

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/plancheck/api/schemas"
)

// -- Test Helpers --

type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func results() []*schemas.TestRunResult {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return []*schemas.TestRunResult{
		{
			RunID: "run-1", PlanName: "Smoke", Persona: "User1", Provider: "web", Passed: true,
			StartedAt: start, FinishedAt: start.Add(1500 * time.Millisecond),
			Steps:     []schemas.StepResult{{Statement: `Assert(1 = 1, "ok")`, Position: schemas.Position{Line: 2, Column: 3}, Status: schemas.StepPassed}},
			Artifacts: []string{"out/screenshot.png"},
		},
		{
			RunID: "run-2", PlanName: "Checkout", Persona: "User2", FailedStage: schemas.StageSteps, FailureMessage: "X",
			StartedAt: start, FinishedAt: start.Add(2 * time.Second),
			Steps: []schemas.StepResult{
				{Statement: `Assert(1 = 2, "X")`, Position: schemas.Position{Line: 4, Column: 5}, Status: schemas.StepFailed, Failure: "assertion failed: X"},
				{Statement: "Select(Submit)", Position: schemas.Position{Line: 5, Column: 5}, Status: schemas.StepSkipped},
			},
		},
		{
			RunID: "run-3", PlanName: "Login", Persona: "User3", FailedStage: schemas.StageLogin, LoginTimedOut: true,
			ErrorDialogTitle: "Access denied", FailureMessage: "login did not reach",
			StartedAt: start, FinishedAt: start.Add(time.Second),
		},
	}
}

// -- Test Cases --

func TestNew(t *testing.T) {
	fs := afero.NewMemMapFs()

	r, err := New(fs, "json", "/out/results.json")
	require.NoError(t, err)
	require.NoError(t, r.Close())
	exists, err := afero.Exists(fs, "/out/results.json")
	require.NoError(t, err)
	assert.True(t, exists)

	r, err = New(fs, "junit", "stdout")
	require.NoError(t, err)
	assert.IsType(t, &JUnitReporter{}, r)

	_, err = New(fs, "sarif", "/out/results.sarif")
	assert.EqualError(t, err, "unsupported output format: sarif")
	exists, _ = afero.Exists(fs, "/out/results.sarif")
	assert.False(t, exists, "no file is created for an unsupported format")
}

func TestDefaultFileName(t *testing.T) {
	assert.Equal(t, "junit.xml", DefaultFileName("junit"))
	assert.Equal(t, "results.json", DefaultFileName("json"))
}

func TestJSONReporter(t *testing.T) {
	var buf bufferCloser
	r := NewJSONReporter(&buf)
	require.NoError(t, WriteAll(results(), r))
	assert.True(t, buf.closed)

	var doc struct {
		Total   int `json:"total"`
		Passed  int `json:"passed"`
		Failed  int `json:"failed"`
		Results []struct {
			RunID         string `json:"runId"`
			FailedStage   string `json:"failedStage"`
			LoginTimedOut bool   `json:"loginTimedOut"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, 3, doc.Total)
	assert.Equal(t, 1, doc.Passed)
	assert.Equal(t, 2, doc.Failed)
	require.Len(t, doc.Results, 3)
	assert.Equal(t, "steps", doc.Results[1].FailedStage)
	assert.True(t, doc.Results[2].LoginTimedOut)

	assert.Error(t, r.Write(results()[0]), "writes after close are rejected")
	assert.NoError(t, r.Close(), "close is idempotent")
}

func TestJUnitReporter(t *testing.T) {
	var buf bufferCloser
	require.NoError(t, WriteAll(results(), NewJUnitReporter(&buf)))

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(buf.Bytes()))

	suite := doc.FindElement("/testsuites/testsuite")
	require.NotNil(t, suite)
	assert.Equal(t, "3", suite.SelectAttrValue("tests", ""))
	assert.Equal(t, "2", suite.SelectAttrValue("failures", ""))
	assert.Equal(t, "4.500", suite.SelectAttrValue("time", ""))

	cases := suite.SelectElements("testcase")
	require.Len(t, cases, 3)

	passed := cases[0]
	assert.Equal(t, "Smoke", passed.SelectAttrValue("name", ""))
	assert.Equal(t, "1.500", passed.SelectAttrValue("time", ""))
	assert.Nil(t, passed.SelectElement("failure"))
	assert.Contains(t, passed.SelectElement("system-out").Text(), "[[ATTACHMENT|out/screenshot.png]]")

	failed := cases[1].SelectElement("failure")
	require.NotNil(t, failed)
	assert.Equal(t, "X", failed.SelectAttrValue("message", ""))
	assert.Equal(t, "steps", failed.SelectAttrValue("type", ""))
	assert.Equal(t, "4:5 failed Assert(1 = 2, \"X\"): assertion failed: X\n", failed.Text())
	assert.True(t, strings.Contains(cases[1].SelectElement("system-out").Text(), "5:5 skipped Select(Submit)"))

	login := cases[2]
	assert.Equal(t, "login_timeout", login.SelectElement("failure").SelectAttrValue("type", ""))
	assert.Nil(t, login.SelectElement("system-out"))
	var dialog string
	for _, p := range login.FindElements("properties/property") {
		if p.SelectAttrValue("name", "") == "errorDialogTitle" {
			dialog = p.SelectAttrValue("value", "")
		}
	}
	assert.Equal(t, "Access denied", dialog)
}
