// Package netmock turns the network mocks of a plan into browser route rules.
package netmock

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/plancheck/api/schemas"
)

// InvalidMockError reports a mock that cannot be installed. It is a
// configuration error and is never retried.
type InvalidMockError struct {
	RequestURL string
	Reason     string
	Err        error
}

func (e *InvalidMockError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid network mock %q: %s: %v", e.RequestURL, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid network mock %q: %s", e.RequestURL, e.Reason)
}

func (e *InvalidMockError) Unwrap() error { return e.Err }

// HitKey is the settings key holding the hit count of the mock for method and
// requestURL. An empty method matches any method and is keyed as "*".
func HitKey(method, requestURL string) string {
	if method == "" {
		method = "*"
	}
	return schemas.MockHitKeyPrefix + strings.ToUpper(method) + " " + requestURL
}

// Registrar validates mocks and installs them on a session.
type Registrar struct {
	logger *zap.Logger
}

// NewRegistrar creates a registrar.
func NewRegistrar(logger *zap.Logger) *Registrar {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registrar{logger: logger.Named("netmock")}
}

// compiled is a validated mock with its response body loaded.
type compiled struct {
	spec    schemas.NetworkMock
	pattern glob.Glob
	method  string
	resp    schemas.RouteResponse
}

// compile validates mock and loads its response file through run.FS. Relative
// paths resolve against the directory of the plan file.
func (r *Registrar) compile(run *schemas.RunContext, mock schemas.NetworkMock) (*compiled, error) {
	if strings.TrimSpace(mock.RequestURL) == "" {
		return nil, &InvalidMockError{RequestURL: mock.RequestURL, Reason: "requestURL is empty"}
	}
	pattern, err := glob.Compile(mock.RequestURL)
	if err != nil {
		return nil, &InvalidMockError{RequestURL: mock.RequestURL, Reason: "requestURL is not a valid pattern", Err: err}
	}
	if mock.ResponseDataFile == "" {
		return nil, &InvalidMockError{RequestURL: mock.RequestURL, Reason: "responseDataFile is empty"}
	}

	fs := run.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	path := mock.ResponseDataFile
	if !filepath.IsAbs(path) && run.Plan != nil && run.Plan.SourcePath != "" {
		path = filepath.Join(filepath.Dir(run.Plan.SourcePath), path)
	}
	body, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, &InvalidMockError{RequestURL: mock.RequestURL, Reason: "responseDataFile is not readable", Err: err}
	}

	status := mock.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	if status < 100 || status > 599 {
		return nil, &InvalidMockError{RequestURL: mock.RequestURL, Reason: fmt.Sprintf("statusCode %d is out of range", status)}
	}

	headers := make(map[string]string, len(mock.Headers)+1)
	for k, v := range mock.Headers {
		headers[k] = v
	}
	if !hasHeader(headers, "Content-Type") {
		if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
			headers["Content-Type"] = ct
		}
	}

	return &compiled{
		spec:    mock,
		pattern: pattern,
		method:  strings.ToUpper(strings.TrimSpace(mock.Method)),
		resp:    schemas.RouteResponse{Status: status, Headers: headers, Body: body},
	}, nil
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

// Rule builds the route rule for mock without installing it.
func (r *Registrar) Rule(run *schemas.RunContext, mock schemas.NetworkMock) (schemas.RouteRule, error) {
	c, err := r.compile(run, mock)
	if err != nil {
		return schemas.RouteRule{}, err
	}
	logger := r.logger
	if run.Logger != nil {
		logger = run.Logger.Named("netmock")
	}
	key := HitKey(mock.Method, mock.RequestURL)

	return schemas.RouteRule{
		Name: mock.RequestURL,
		Match: func(req schemas.RouteRequest) bool {
			if c.method != "" && !strings.EqualFold(req.Method, c.method) {
				return false
			}
			return c.pattern.Match(req.URL)
		},
		Fulfill: func(req schemas.RouteRequest) (*schemas.RouteResponse, error) {
			hits := run.Settings.Increment(key)
			logger.Debug("Network mock hit.", zap.String("mock", mock.RequestURL), zap.String("url", req.URL), zap.Int("hits", hits))
			resp := c.resp
			return &resp, nil
		},
	}, nil
}

// Register validates mock and installs it on session. The hit counter starts
// at zero so steps can tell an unused mock from an unknown one.
func (r *Registrar) Register(ctx context.Context, run *schemas.RunContext, session schemas.Session, mock schemas.NetworkMock) error {
	rule, err := r.Rule(run, mock)
	if err != nil {
		return err
	}
	// Seeded before the route goes live so an early hit is not reset.
	run.Settings.Set(HitKey(mock.Method, mock.RequestURL), 0)
	if err := session.Route(ctx, rule); err != nil {
		return fmt.Errorf("failed to install network mock %q: %w", mock.RequestURL, err)
	}
	r.logger.Info("Network mock installed.", zap.String("mock", mock.RequestURL), zap.String("method", mock.Method))
	return nil
}
