// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/plancheck/api/schemas"
	"github.com/xkilldash9x/plancheck/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

func (m *MockConfig) Logger() config.LoggerConfig {
	return m.Called().Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	return m.Called().Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	return m.Called().Get(0).(config.EngineConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	return m.Called().Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Run() config.RunConfig {
	return m.Called().Get(0).(config.RunConfig)
}

func (m *MockConfig) Report() config.ReportConfig {
	return m.Called().Get(0).(config.ReportConfig)
}

func (m *MockConfig) SetRunTarget(environmentID, tenantID, domain string) {
	m.Called(environmentID, tenantID, domain)
}
func (m *MockConfig) SetRunOutputDirectory(dir string) { m.Called(dir) }
func (m *MockConfig) SetRunProvider(name string)       { m.Called(name) }
func (m *MockConfig) SetRunUserAuth(name string)       { m.Called(name) }
func (m *MockConfig) SetBrowserHeadless(b bool)        { m.Called(b) }

// -- Page Mock --

// MockPage mocks schemas.Page.
type MockPage struct {
	mock.Mock
}

var _ schemas.Page = (*MockPage)(nil)

func (m *MockPage) URL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPage) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

// Evaluate records the call. When the first return value is a func(res interface{}),
// it is invoked so tests can populate the result.
func (m *MockPage) Evaluate(ctx context.Context, script string, res interface{}) error {
	args := m.Called(ctx, script, res)
	if fill, ok := args.Get(0).(func(res interface{})); ok && res != nil {
		fill(res)
	}
	return args.Error(1)
}

func (m *MockPage) Fill(ctx context.Context, selector, value string) error {
	return m.Called(ctx, selector, value).Error(0)
}

func (m *MockPage) Click(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}

func (m *MockPage) IsVisible(ctx context.Context, selector string) (bool, error) {
	args := m.Called(ctx, selector)
	return args.Bool(0), args.Error(1)
}

func (m *MockPage) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

// -- Session Mock --

// MockSession mocks schemas.Session.
type MockSession struct {
	mock.Mock
}

var _ schemas.Session = (*MockSession)(nil)

func (m *MockSession) ID() string { return m.Called().String(0) }

func (m *MockSession) Page() schemas.Page {
	return m.Called().Get(0).(schemas.Page)
}

func (m *MockSession) Route(ctx context.Context, rule schemas.RouteRule) error {
	return m.Called(ctx, rule).Error(0)
}

func (m *MockSession) CollectArtifacts(ctx context.Context, dir string) ([]string, error) {
	args := m.Called(ctx, dir)
	paths, _ := args.Get(0).([]string)
	return paths, args.Error(1)
}

func (m *MockSession) Close(ctx context.Context) error { return m.Called(ctx).Error(0) }

// -- Browser Manager Mock --

// MockBrowserManager mocks schemas.BrowserManager.
type MockBrowserManager struct {
	mock.Mock
}

var _ schemas.BrowserManager = (*MockBrowserManager)(nil)

func (m *MockBrowserManager) NewSession(ctx context.Context, opts schemas.SessionOptions) (schemas.Session, error) {
	args := m.Called(ctx, opts)
	s, _ := args.Get(0).(schemas.Session)
	return s, args.Error(1)
}

func (m *MockBrowserManager) Shutdown(ctx context.Context) error { return m.Called(ctx).Error(0) }

// -- Provider Mock --

// MockProvider mocks schemas.Provider.
type MockProvider struct {
	mock.Mock
}

var _ schemas.Provider = (*MockProvider)(nil)

func (m *MockProvider) CheckIsIdle(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockProvider) LoadObjectModel(ctx context.Context) (map[string]schemas.ControlRecord, error) {
	args := m.Called(ctx)
	model, _ := args.Get(0).(map[string]schemas.ControlRecord)
	return model, args.Error(1)
}

func (m *MockProvider) SelectControl(ctx context.Context, path schemas.ItemPath) error {
	return m.Called(ctx, path).Error(0)
}

func (m *MockProvider) SetProperty(ctx context.Context, path schemas.ItemPath, value interface{}) error {
	return m.Called(ctx, path, value).Error(0)
}

func (m *MockProvider) GetProperty(ctx context.Context, path schemas.ItemPath) (interface{}, error) {
	args := m.Called(ctx, path)
	return args.Get(0), args.Error(1)
}

func (m *MockProvider) GenerateTestURL(domain, extraParams string) (string, error) {
	args := m.Called(domain, extraParams)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) DebugInfo(ctx context.Context) (map[string]interface{}, error) {
	args := m.Called(ctx)
	info, _ := args.Get(0).(map[string]interface{})
	return info, args.Error(1)
}

func (m *MockProvider) RegisterFunctions(reg schemas.FunctionRegistrar) error {
	return m.Called(reg).Error(0)
}

// -- User Manager Mock --

// MockUserManager mocks schemas.UserManager.
type MockUserManager struct {
	mock.Mock
}

var _ schemas.UserManager = (*MockUserManager)(nil)

func (m *MockUserManager) LoginAsUser(ctx context.Context, req *schemas.LoginRequest) error {
	return m.Called(ctx, req).Error(0)
}

// -- Module Mock --

// MockModule mocks schemas.Module.
type MockModule struct {
	mock.Mock
}

var _ schemas.Module = (*MockModule)(nil)

func (m *MockModule) ExtendBrowserContextOptions(opts *schemas.SessionOptions, settings schemas.TestSettings) {
	m.Called(opts, settings)
}

func (m *MockModule) RegisterFunctions(reg schemas.FunctionRegistrar, run *schemas.RunContext) error {
	return m.Called(reg, run).Error(0)
}

func (m *MockModule) RegisterNetworkRoute(ctx context.Context, run *schemas.RunContext, session schemas.Session, mockSpec schemas.NetworkMock) (bool, error) {
	args := m.Called(ctx, run, session, mockSpec)
	return args.Bool(0), args.Error(1)
}

// -- Store Mock --

// MockStore mocks schemas.ResultStore.
type MockStore struct {
	mock.Mock
}

var _ schemas.ResultStore = (*MockStore)(nil)

func (m *MockStore) SaveRun(ctx context.Context, result *schemas.TestRunResult) error {
	return m.Called(ctx, result).Error(0)
}
