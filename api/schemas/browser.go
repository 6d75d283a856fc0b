package schemas

import (
	"context"
)

// BlankPageURL is the URL a fresh tab reports before its first navigation.
const BlankPageURL = "about:blank"

// -- Browser Collaborator Contracts --

// Page is the live document of a browser session. Implementations must be safe
// for use by one caller at a time; the coordinator never issues concurrent calls.
type Page interface {
	// URL returns the current document URL.
	URL(ctx context.Context) (string, error)
	// Navigate loads url and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// Evaluate runs a JavaScript expression and unmarshals its JSON result into res (may be nil).
	Evaluate(ctx context.Context, script string, res interface{}) error
	// Fill replaces the value of the first element matching selector.
	Fill(ctx context.Context, selector, value string) error
	// Click clicks the first visible element matching selector.
	Click(ctx context.Context, selector string) error
	// IsVisible reports whether an element matching selector is rendered and visible.
	IsVisible(ctx context.Context, selector string) (bool, error)
	// Screenshot captures the viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
}

// RouteRequest is the view of an intercepted request handed to route rules.
type RouteRequest struct {
	URL     string
	Method  string
	Headers map[string]string
}

// RouteResponse is a fulfilled response for an intercepted request.
type RouteResponse struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// RouteRule fulfils matching requests. Match and Fulfill are called from the
// browser event goroutine, concurrently with step execution.
type RouteRule struct {
	Name    string
	Match   func(req RouteRequest) bool
	Fulfill func(req RouteRequest) (*RouteResponse, error)
}

// SessionOptions configure a new browser session.
type SessionOptions struct {
	Headless bool
	Browser  BrowserConfiguration
	Locale   string
	// ProfileDir, when set, is a persisted user data directory reused across runs.
	ProfileDir string
	// VideoDir, when set, receives screencast frames for the session.
	VideoDir     string
	Args         []string
	ExtraHeaders map[string]string
}

// Session is an isolated browser context with a single page.
type Session interface {
	ID() string
	Page() Page
	// Route installs an interception rule. Rules must be installed before the
	// navigation whose requests they should see.
	Route(ctx context.Context, rule RouteRule) error
	// CollectArtifacts writes the session artifacts into dir and returns their paths.
	CollectArtifacts(ctx context.Context, dir string) ([]string, error)
	Close(ctx context.Context) error
}

// BrowserManager creates browser sessions.
type BrowserManager interface {
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)
	Shutdown(ctx context.Context) error
}
