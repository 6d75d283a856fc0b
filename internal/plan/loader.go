// internal/plan/loader.go
package plan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/plancheck/api/schemas"
)

// document mirrors the plan file layout.
type document struct {
	Test                 testSection                  `yaml:"test"`
	TestSettings         settingsSection              `yaml:"testSettings"`
	EnvironmentVariables schemas.EnvironmentVariables `yaml:"environmentVariables"`
}

type testSection struct {
	Name           string                `yaml:"name"`
	Description    string                `yaml:"description"`
	Persona        string                `yaml:"persona"`
	AppLogicalName string                `yaml:"appLogicalName"`
	NetworkMocks   []schemas.NetworkMock `yaml:"networkRequestMocks"`
	TestSteps      yaml.Node             `yaml:"testSteps"`
}

type settingsSection struct {
	Headless              *bool                          `yaml:"headless"`
	RecordVideo           bool                           `yaml:"recordVideo"`
	Timeout               int64                          `yaml:"timeout"`
	Locale                string                         `yaml:"locale"`
	UserAuth              string                         `yaml:"userAuth"`
	ExtensionModules      []string                       `yaml:"extensionModules"`
	ExtraHeaders          map[string]string              `yaml:"extraHeaders"`
	BrowserConfigurations []schemas.BrowserConfiguration `yaml:"browserConfigurations"`
}

// Error reports an invalid plan document.
type Error struct {
	Path   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("invalid test plan %s: %s", e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Loader reads plan documents from a filesystem.
type Loader struct {
	fs afero.Fs
}

// NewLoader returns a Loader over fs, or the OS filesystem when fs is nil.
func NewLoader(fs afero.Fs) *Loader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Loader{fs: fs}
}

// Load reads and parses the plan at path.
func (l *Loader) Load(path string) (*schemas.TestPlan, error) {
	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, &Error{Path: path, Reason: "cannot read file", Err: err}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return Parse(bytes.NewReader(data), abs)
}

// LoadAll loads every path, stopping at the first invalid plan.
func (l *Loader) LoadAll(paths []string) ([]*schemas.TestPlan, error) {
	plans := make([]*schemas.TestPlan, 0, len(paths))
	for _, p := range paths {
		plan, err := l.Load(p)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// Parse decodes a plan document. sourcePath is recorded on the plan and used
// to resolve relative mock response files.
func Parse(r io.Reader, sourcePath string) (*schemas.TestPlan, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &Error{Path: sourcePath, Reason: "cannot read document", Err: err}
	}
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &Error{Path: sourcePath, Reason: "document is empty"}
		}
		return nil, &Error{Path: sourcePath, Reason: "malformed yaml", Err: err}
	}

	t := doc.Test
	if strings.TrimSpace(t.Name) == "" {
		return nil, &Error{Path: sourcePath, Reason: "test.name is required"}
	}
	if strings.TrimSpace(t.Persona) == "" {
		return nil, &Error{Path: sourcePath, Reason: "test.persona is required"}
	}
	if doc.TestSettings.Timeout < 0 {
		return nil, &Error{Path: sourcePath, Reason: "testSettings.timeout must not be negative"}
	}
	for i, m := range t.NetworkMocks {
		if strings.TrimSpace(m.RequestURL) == "" {
			return nil, &Error{Path: sourcePath, Reason: fmt.Sprintf("networkRequestMocks[%d].requestURL is required", i)}
		}
	}

	steps, err := stepsFromNode(&t.TestSteps, strings.Split(string(data), "\n"))
	if err != nil {
		return nil, &Error{Path: sourcePath, Reason: "testSteps", Err: err}
	}

	s := doc.TestSettings
	headless := true
	if s.Headless != nil {
		headless = *s.Headless
	}

	return &schemas.TestPlan{
		Name:           t.Name,
		Description:    t.Description,
		Persona:        t.Persona,
		AppLogicalName: t.AppLogicalName,
		NetworkMocks:   t.NetworkMocks,
		Steps:          steps,
		Settings: schemas.TestSettings{
			Headless:              headless,
			RecordVideo:           s.RecordVideo,
			Timeout:               time.Duration(s.Timeout) * time.Millisecond,
			Locale:                s.Locale,
			UserAuth:              s.UserAuth,
			ExtensionModules:      s.ExtensionModules,
			ExtraHeaders:          s.ExtraHeaders,
			BrowserConfigurations: s.BrowserConfigurations,
		},
		Environment: doc.EnvironmentVariables,
		SourcePath:  sourcePath,
	}, nil
}

// stepsFromNode accepts testSteps either as one block of text or as a list of
// statements. Positions are relative to the plan file, whose lines are given.
func stepsFromNode(n *yaml.Node, lines []string) ([]schemas.TestStep, error) {
	switch n.Kind {
	case 0:
		return nil, nil
	case yaml.ScalarNode:
		return SplitSteps(n.Value, scalarOrigin(n, lines))
	case yaml.SequenceNode:
		var steps []schemas.TestStep
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: each step must be a string", item.Line)
			}
			split, err := SplitSteps(item.Value, scalarOrigin(item, lines))
			if err != nil {
				return nil, err
			}
			for _, s := range split {
				s.Index = len(steps)
				steps = append(steps, s)
			}
		}
		return steps, nil
	default:
		return nil, fmt.Errorf("line %d: expected a string or a list of strings", n.Line)
	}
}

// scalarOrigin is the file position of the first character of a scalar's value.
func scalarOrigin(n *yaml.Node, lines []string) schemas.Position {
	switch n.Style {
	case yaml.LiteralStyle, yaml.FoldedStyle:
		// Block content starts on the line after the indicator, at the block indentation.
		pos := schemas.Position{Line: n.Line + 1, Column: 1}
		if n.Line < len(lines) {
			body := lines[n.Line]
			pos.Column = len(body) - len(strings.TrimLeft(body, " ")) + 1
		}
		return pos
	case yaml.DoubleQuotedStyle, yaml.SingleQuotedStyle:
		return schemas.Position{Line: n.Line, Column: n.Column + 1}
	default:
		return schemas.Position{Line: n.Line, Column: n.Column}
	}
}
