// internal/reporting/reporter.go
package reporting

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/xkilldash9x/plancheck/api/schemas"
)

// Reporter defines the interface for writing run results to an output.
type Reporter interface {
	// Write adds a single run result.
	Write(result *schemas.TestRunResult) error
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// DefaultFileName is the report file written for each format inside the output directory.
func DefaultFileName(format string) string {
	switch format {
	case "junit":
		return "junit.xml"
	default:
		return "results." + format
	}
}

// New creates a new reporter based on the specified format and output path.
// An empty path or "stdout" writes to standard output.
func New(fs afero.Fs, format, outputPath string) (Reporter, error) {
	if format != "json" && format != "junit" {
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		if fs == nil {
			fs = afero.NewOsFs()
		}
		if err := fs.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create report directory: %w", err)
		}
		f, err := fs.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	if format == "junit" {
		return NewJUnitReporter(writer), nil
	}
	return NewJSONReporter(writer), nil
}

// WriteAll writes results to every reporter and closes them. All errors are returned together.
func WriteAll(results []*schemas.TestRunResult, reporters ...Reporter) error {
	var errs []error
	for _, r := range reporters {
		for _, res := range results {
			if res == nil {
				continue
			}
			if err := r.Write(res); err != nil {
				errs = append(errs, err)
				break
			}
		}
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
