package schemas

import (
	"fmt"
	"time"
)

// -- Test Plan Schemas --

// Position locates a statement inside the plan document for diagnostics.
type Position struct {
	Line   int `json:"line" yaml:"line"`
	Column int `json:"column" yaml:"column"`
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// TestStep is one formula statement. Steps execute in slice order.
type TestStep struct {
	Index     int      `json:"index"`
	Statement string   `json:"statement"`
	Position  Position `json:"position"`
}

// NetworkMock describes one request-interception rule contributed by the plan.
type NetworkMock struct {
	// RequestURL is a glob matched against the full request URL.
	RequestURL       string            `json:"requestURL" yaml:"requestURL"`
	Method           string            `json:"method,omitempty" yaml:"method"`
	ResponseDataFile string            `json:"responseDataFile" yaml:"responseDataFile"`
	StatusCode       int               `json:"statusCode,omitempty" yaml:"statusCode"`
	Headers          map[string]string `json:"headers,omitempty" yaml:"headers"`
}

// BrowserConfiguration selects the browser and viewport for a run.
type BrowserConfiguration struct {
	Browser      string `json:"browser" yaml:"browser"`
	Device       string `json:"device,omitempty" yaml:"device"`
	ScreenWidth  int64  `json:"screenWidth,omitempty" yaml:"screenWidth"`
	ScreenHeight int64  `json:"screenHeight,omitempty" yaml:"screenHeight"`
}

// TestSettings controls how a plan is executed.
type TestSettings struct {
	Headless              bool                   `json:"headless" yaml:"headless"`
	RecordVideo           bool                   `json:"recordVideo" yaml:"recordVideo"`
	Timeout               time.Duration          `json:"timeout" yaml:"-"`
	Locale                string                 `json:"locale,omitempty" yaml:"locale"`
	UserAuth              string                 `json:"userAuth,omitempty" yaml:"userAuth"`
	ExtensionModules      []string               `json:"extensionModules,omitempty" yaml:"extensionModules"`
	// ExtraHeaders are sent with every request of the session.
	ExtraHeaders          map[string]string      `json:"extraHeaders,omitempty" yaml:"extraHeaders"`
	BrowserConfigurations []BrowserConfiguration `json:"browserConfigurations" yaml:"browserConfigurations"`
}

// PrimaryBrowser returns the first configured browser, or a chromium default.
func (s TestSettings) PrimaryBrowser() BrowserConfiguration {
	if len(s.BrowserConfigurations) > 0 {
		return s.BrowserConfigurations[0]
	}
	return BrowserConfiguration{Browser: "chromium"}
}

// UserConfiguration maps a persona to the names of the environment variables
// that hold its credentials. It never holds the secrets themselves.
type UserConfiguration struct {
	PersonaName string `json:"personaName" yaml:"personaName"`
	EmailKey    string `json:"emailKey" yaml:"emailKey"`
	PasswordKey string `json:"passwordKey" yaml:"passwordKey"`
}

// EnvironmentVariables holds the persona credential mapping of a plan.
type EnvironmentVariables struct {
	Users []UserConfiguration `json:"users" yaml:"users"`
}

// TestPlan is a loaded, immutable test document.
type TestPlan struct {
	Name           string               `json:"name"`
	Description    string               `json:"description,omitempty"`
	Persona        string               `json:"persona"`
	AppLogicalName string               `json:"appLogicalName"`
	NetworkMocks   []NetworkMock        `json:"networkRequestMocks,omitempty"`
	Steps          []TestStep           `json:"steps"`
	Settings       TestSettings         `json:"testSettings"`
	Environment    EnvironmentVariables `json:"environmentVariables"`
	// SourcePath is the file the plan was loaded from; relative mock files resolve against its directory.
	SourcePath string `json:"sourcePath,omitempty"`
}

// User returns the configuration for the plan's persona.
func (p *TestPlan) User() (UserConfiguration, error) {
	for _, u := range p.Environment.Users {
		if u.PersonaName == p.Persona {
			return u, nil
		}
	}
	return UserConfiguration{}, &MissingPersonaError{Persona: p.Persona}
}

// MissingPersonaError reports a plan persona with no matching user configuration.
type MissingPersonaError struct {
	Persona string
}

func (e *MissingPersonaError) Error() string {
	return fmt.Sprintf("persona %q has no user configuration", e.Persona)
}

// MissingCredentialError reports a credential key that resolved to nothing.
type MissingCredentialError struct {
	Persona string
	Key     string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("credential key %q for persona %q is not set", e.Key, e.Persona)
}
