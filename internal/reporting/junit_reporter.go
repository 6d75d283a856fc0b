// internal/reporting/junit_reporter.go
package reporting

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/plancheck/api/schemas"
)

const junitSuiteName = "plancheck"

// JUnitReporter renders results as a JUnit XML document on Close, one
// testcase per run. It is thread safe.
type JUnitReporter struct {
	writer  io.WriteCloser
	mu      sync.Mutex
	results []*schemas.TestRunResult
	closed  bool
}

// NewJUnitReporter takes ownership of writer.
func NewJUnitReporter(writer io.WriteCloser) *JUnitReporter {
	return &JUnitReporter{writer: writer}
}

func (r *JUnitReporter) Write(result *schemas.TestRunResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("junit reporter is closed")
	}
	r.results = append(r.results, result)
	return nil
}

func (r *JUnitReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	doc := buildJUnit(r.results)
	doc.Indent(2)
	_, writeErr := doc.WriteTo(r.writer)
	closeErr := r.writer.Close()
	if writeErr != nil {
		return fmt.Errorf("failed to write junit report: %w", writeErr)
	}
	return closeErr
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func buildJUnit(results []*schemas.TestRunResult) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	var total time.Duration
	failures := 0
	for _, res := range results {
		total += res.Duration()
		if !res.Passed {
			failures++
		}
	}

	suites := doc.CreateElement("testsuites")
	suites.CreateAttr("name", junitSuiteName)
	suites.CreateAttr("tests", strconv.Itoa(len(results)))
	suites.CreateAttr("failures", strconv.Itoa(failures))
	suites.CreateAttr("time", seconds(total))

	suite := suites.CreateElement("testsuite")
	suite.CreateAttr("name", junitSuiteName)
	suite.CreateAttr("tests", strconv.Itoa(len(results)))
	suite.CreateAttr("failures", strconv.Itoa(failures))
	suite.CreateAttr("errors", "0")
	suite.CreateAttr("time", seconds(total))
	if len(results) > 0 {
		suite.CreateAttr("timestamp", results[0].StartedAt.UTC().Format(time.RFC3339))
	}

	for _, res := range results {
		tc := suite.CreateElement("testcase")
		tc.CreateAttr("name", res.PlanName)
		tc.CreateAttr("classname", res.Persona)
		tc.CreateAttr("time", seconds(res.Duration()))

		props := tc.CreateElement("properties")
		for _, kv := range [][2]string{
			{"runId", res.RunID},
			{"provider", res.Provider},
			{"userManager", res.UserManager},
			{"errorDialogTitle", res.ErrorDialogTitle},
		} {
			if kv[1] == "" {
				continue
			}
			p := props.CreateElement("property")
			p.CreateAttr("name", kv[0])
			p.CreateAttr("value", kv[1])
		}
		if len(props.ChildElements()) == 0 {
			tc.RemoveChild(props)
		}

		if !res.Passed {
			f := tc.CreateElement("failure")
			f.CreateAttr("message", res.FailureMessage)
			kind := string(res.FailedStage)
			if res.LoginTimedOut {
				kind = "login_timeout"
			}
			if kind == "" {
				kind = string(schemas.StageSteps)
			}
			f.CreateAttr("type", kind)
			f.SetText(stepLog(res.Steps, true))
		}

		out := stepLog(res.Steps, false)
		for _, a := range res.Artifacts {
			// Attachment convention understood by Jenkins and Azure Pipelines.
			out += "[[ATTACHMENT|" + a + "]]\n"
		}
		if out != "" {
			tc.CreateElement("system-out").SetText(out)
		}
	}
	return doc
}

// stepLog lists steps one per line; failedOnly keeps the failing ones.
func stepLog(steps []schemas.StepResult, failedOnly bool) string {
	var b strings.Builder
	for _, s := range steps {
		if failedOnly && !s.Status.IsFailure() {
			continue
		}
		fmt.Fprintf(&b, "%s %s %s", s.Position, s.Status, s.Statement)
		if s.Failure != "" {
			fmt.Fprintf(&b, ": %s", s.Failure)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
