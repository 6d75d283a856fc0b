package schemas

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCapabilityNotSupported is returned by providers for operations they do not declare.
var ErrCapabilityNotSupported = errors.New("capability not supported by provider")

// Capability names an operation a provider declares support for.
type Capability string

const (
	CapCheckIsIdle      Capability = "CheckIsIdle"
	CapLoadObjectModel  Capability = "LoadObjectModel"
	CapSelectControl    Capability = "SelectControl"
	CapSetProperty      Capability = "SetProperty"
	CapGetProperty      Capability = "GetProperty"
	CapGenerateTestURL  Capability = "GenerateTestURL"
	CapDebugInfo        Capability = "DebugInfo"
)

// -- Formula Function Registration --

// Function is a formula function exposed to test steps.
type Function struct {
	Name string
	// RefArgs is the number of leading arguments passed by reference: the
	// evaluator hands the callee the argument's source text (a variable name or
	// a Control.Property path) instead of its value.
	RefArgs int
	Call    func(ctx context.Context, args []interface{}) (interface{}, error)
}

// FunctionRegistrar receives function registrations from providers and modules.
type FunctionRegistrar interface {
	RegisterFunction(fn Function) error
	RegisterNamespaceFunction(namespace string, fn Function) error
	// BindControls exposes model to later statements. Called from a function
	// while a statement runs, it takes effect when that statement ends.
	BindControls(model map[string]ControlRecord) error
}

// -- Provider Contract --

// ItemPath addresses a control, optionally one of its properties.
type ItemPath struct {
	Control  string `json:"control"`
	Property string `json:"property,omitempty"`
}

// ParseItemPath splits "Control.Property" into an ItemPath.
func ParseItemPath(ref string) ItemPath {
	ref = strings.TrimSpace(ref)
	if i := strings.Index(ref, "."); i >= 0 {
		return ItemPath{Control: ref[:i], Property: ref[i+1:]}
	}
	return ItemPath{Control: ref}
}

func (p ItemPath) String() string {
	if p.Property == "" {
		return p.Control
	}
	return p.Control + "." + p.Property
}

// ControlRecord describes one control discovered in the application's object model.
type ControlRecord struct {
	Name       string   `json:"name"`
	Type       string   `json:"type,omitempty"`
	Selector   string   `json:"selector"`
	Properties []string `json:"properties,omitempty"`
}

// TargetInfo identifies the application under test.
type TargetInfo struct {
	Domain         string
	AppLogicalName string
	EnvironmentID  string
	TenantID       string
}

// Provider translates generic test operations into application-specific automation.
type Provider interface {
	CheckIsIdle(ctx context.Context) (bool, error)
	LoadObjectModel(ctx context.Context) (map[string]ControlRecord, error)
	SelectControl(ctx context.Context, path ItemPath) error
	SetProperty(ctx context.Context, path ItemPath, value interface{}) error
	GetProperty(ctx context.Context, path ItemPath) (interface{}, error)
	GenerateTestURL(domain, extraParams string) (string, error)
	DebugInfo(ctx context.Context) (map[string]interface{}, error)
	// RegisterFunctions adds the provider's namespaced functions.
	RegisterFunctions(reg FunctionRegistrar) error
}

// ProviderDeps are handed to a provider factory once per run.
type ProviderDeps struct {
	Page   Page
	Target TargetInfo
	Run    *RunContext
}

// UnimplementedProvider supplies no-op defaults. Providers embed it and
// override the capabilities they declare.
type UnimplementedProvider struct{}

func (UnimplementedProvider) CheckIsIdle(context.Context) (bool, error) {
	return false, ErrCapabilityNotSupported
}
func (UnimplementedProvider) LoadObjectModel(context.Context) (map[string]ControlRecord, error) {
	return nil, ErrCapabilityNotSupported
}
func (UnimplementedProvider) SelectControl(context.Context, ItemPath) error {
	return ErrCapabilityNotSupported
}
func (UnimplementedProvider) SetProperty(context.Context, ItemPath, interface{}) error {
	return ErrCapabilityNotSupported
}
func (UnimplementedProvider) GetProperty(context.Context, ItemPath) (interface{}, error) {
	return nil, ErrCapabilityNotSupported
}
func (UnimplementedProvider) GenerateTestURL(string, string) (string, error) {
	return "", ErrCapabilityNotSupported
}
func (UnimplementedProvider) DebugInfo(context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}
func (UnimplementedProvider) RegisterFunctions(FunctionRegistrar) error { return nil }

// -- User Manager Contract --

// EnvLookup resolves an environment (secret) key.
type EnvLookup func(key string) (string, bool)

// CommonLoginOptions tune the shared login state machine.
type CommonLoginOptions struct {
	// Email, when non-empty, is typed into the first visible email field.
	Email string
}

// CommonLoginFunc drives the shared login state machine until the desired URL
// is reached, a blocking dialog appears, or the run's budget elapses.
type CommonLoginFunc func(ctx context.Context, opts CommonLoginOptions) error

// LoginRequest carries everything a user manager needs for one login.
type LoginRequest struct {
	DesiredURL  string
	Session     Session
	Run         *RunContext
	User        UserConfiguration
	Env         EnvLookup
	CommonLogin CommonLoginFunc
	// Budget bounds the whole login; PollInterval paces any polling the manager does itself.
	Budget       time.Duration
	PollInterval time.Duration
}

// Credential resolves a key through Env, failing with MissingCredentialError.
func (r *LoginRequest) Credential(key string) (string, error) {
	if key == "" || r.Env == nil {
		return "", &MissingCredentialError{Persona: r.User.PersonaName, Key: key}
	}
	v, ok := r.Env(key)
	if !ok || v == "" {
		return "", &MissingCredentialError{Persona: r.User.PersonaName, Key: key}
	}
	return v, nil
}

// UserManager establishes an authenticated browser session for a persona.
type UserManager interface {
	LoginAsUser(ctx context.Context, req *LoginRequest) error
}

// -- Module Contract --

// Module extends a run with browser options, functions and network routes.
type Module interface {
	ExtendBrowserContextOptions(opts *SessionOptions, settings TestSettings)
	RegisterFunctions(reg FunctionRegistrar, run *RunContext) error
	// RegisterNetworkRoute installs mock if the module handles it and reports whether it did.
	RegisterNetworkRoute(ctx context.Context, run *RunContext, session Session, mock NetworkMock) (bool, error)
}

// -- Descriptors --

// ProviderDescriptor is the registration metadata of a provider.
type ProviderDescriptor struct {
	Name         string
	Namespaces   []string
	Capabilities []Capability
	New          func(deps ProviderDeps) (Provider, error)
}

// Supports reports whether the provider declared c.
func (d ProviderDescriptor) Supports(c Capability) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// UserManagerDescriptor is the registration metadata of a user manager.
type UserManagerDescriptor struct {
	Name string
	// Priority orders managers when the plan names none; higher wins.
	Priority int
	// UsesStaticContext requests a persisted per-persona browser profile.
	UsesStaticContext bool
	New               func() UserManager
}

// ModuleDescriptor is the registration metadata of an extension module.
type ModuleDescriptor struct {
	Name string
	New  func() Module
}

// NotReadyError reports an operation attempted before the application became ready.
type NotReadyError struct {
	Operation string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%s requires the application to be ready, but readiness was not confirmed", e.Operation)
}
