// internal/reporting/json_reporter.go
package reporting

import (
	"fmt"
	"io"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/plancheck/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonReport is the document written by the JSONReporter.
type jsonReport struct {
	Total   int                      `json:"total"`
	Passed  int                      `json:"passed"`
	Failed  int                      `json:"failed"`
	Results []*schemas.TestRunResult `json:"results"`
}

// JSONReporter buffers results and writes them as one document on Close. It is thread safe.
type JSONReporter struct {
	writer io.WriteCloser
	mu     sync.Mutex
	report jsonReport
	closed bool
}

// NewJSONReporter takes ownership of writer.
func NewJSONReporter(writer io.WriteCloser) *JSONReporter {
	return &JSONReporter{writer: writer, report: jsonReport{Results: []*schemas.TestRunResult{}}}
}

func (r *JSONReporter) Write(result *schemas.TestRunResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("json reporter is closed")
	}
	r.report.Total++
	if result.Passed {
		r.report.Passed++
	} else {
		r.report.Failed++
	}
	r.report.Results = append(r.report.Results, result)
	return nil
}

func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	enc := json.NewEncoder(r.writer)
	enc.SetIndent("", "  ")
	encodeErr := enc.Encode(r.report)
	closeErr := r.writer.Close()
	if encodeErr != nil {
		return fmt.Errorf("failed to encode json report: %w", encodeErr)
	}
	return closeErr
}
