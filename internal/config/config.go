// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Engine() EngineConfig
	Browser() BrowserConfig
	Run() RunConfig
	Report() ReportConfig

	// Run Setters, populated from CLI flags.
	SetRunTarget(environmentID, tenantID, domain string)
	SetRunOutputDirectory(dir string)
	SetRunProvider(name string)
	SetRunUserAuth(name string)

	// Browser Setters
	SetBrowserHeadless(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	EngineCfg   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	RunCfg      RunConfig      `mapstructure:"run" yaml:"run"`
	ReportCfg   ReportConfig   `mapstructure:"report" yaml:"report"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Engine() EngineConfig     { return c.EngineCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Run() RunConfig           { return c.RunCfg }
func (c *Config) Report() ReportConfig     { return c.ReportCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetRunTarget(environmentID, tenantID, domain string) {
	c.RunCfg.EnvironmentID = environmentID
	c.RunCfg.TenantID = tenantID
	c.RunCfg.Domain = domain
}
func (c *Config) SetRunOutputDirectory(dir string) { c.RunCfg.OutputDirectory = dir }
func (c *Config) SetRunProvider(name string)       { c.RunCfg.Provider = name }
func (c *Config) SetRunUserAuth(name string)       { c.RunCfg.UserAuth = name }
func (c *Config) SetBrowserHeadless(b bool)        { c.BrowserCfg.Headless = &b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL disables
// result persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// EngineConfig configures the batch run engine.
type EngineConfig struct {
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	// LaunchInterval is the minimum gap between two browser launches.
	LaunchInterval time.Duration `mapstructure:"launch_interval" yaml:"launch_interval"`
}

// BrowserConfig holds settings for the browser instances.
type BrowserConfig struct {
	// Headless overrides the plan's testSettings.headless when set.
	Headless    *bool    `mapstructure:"headless" yaml:"headless"`
	ExecPath    string   `mapstructure:"exec_path" yaml:"exec_path"`
	Debug       bool     `mapstructure:"debug" yaml:"debug"`
	Args        []string `mapstructure:"args" yaml:"args"`
	ProfilesDir string   `mapstructure:"profiles_dir" yaml:"profiles_dir"`
	// NavigationTimeout bounds a single page load.
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// ResolveHeadless returns the explicit headless setting, or planHeadless when
// none was configured.
func (b BrowserConfig) ResolveHeadless(planHeadless bool) bool {
	if b.Headless != nil {
		return *b.Headless
	}
	return planHeadless
}

// RunConfig holds the settings of a test run. The target fields come from CLI flags.
type RunConfig struct {
	// Timeout is the login and readiness budget used when a plan does not set one.
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	OutputDirectory string        `mapstructure:"output_directory" yaml:"output_directory"`
	EnvironmentID   string        `mapstructure:"environment_id" yaml:"environment_id"`
	TenantID        string        `mapstructure:"tenant_id" yaml:"tenant_id"`
	Domain          string        `mapstructure:"domain" yaml:"domain"`
	Provider        string        `mapstructure:"provider" yaml:"provider"`
	UserAuth        string        `mapstructure:"user_auth" yaml:"user_auth"`
}

// ReportConfig selects the report writers.
type ReportConfig struct {
	Formats []string `mapstructure:"formats" yaml:"formats"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "plancheck")
	v.SetDefault("logger.log_file", "plancheck.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Engine --
	v.SetDefault("engine.concurrency", 2)
	v.SetDefault("engine.launch_interval", "500ms")

	// -- Browser --
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.profiles_dir", "~/.plancheck/profiles")
	v.SetDefault("browser.navigation_timeout", "60s")

	// -- Run --
	v.SetDefault("run.timeout", "2m")
	v.SetDefault("run.poll_interval", "1s")
	v.SetDefault("run.output_directory", "TestOutput")
	v.SetDefault("run.provider", "web")

	// -- Report --
	v.SetDefault("report.formats", []string{"json", "junit"})
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The connection string usually carries a password; keep it out of files.
	_ = v.BindEnv("database.url", "PLANCHECK_DATABASE_URL")
	// No default, so Unmarshal only sees the key when it is bound.
	_ = v.BindEnv("browser.headless", "PLANCHECK_BROWSER_HEADLESS")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	expanded, err := homedir.Expand(cfg.BrowserCfg.ProfilesDir)
	if err != nil {
		return nil, fmt.Errorf("could not expand browser.profiles_dir: %w", err)
	}
	cfg.BrowserCfg.ProfilesDir = expanded

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.EngineCfg.Concurrency <= 0 {
		return fmt.Errorf("engine.concurrency must be a positive integer")
	}
	if c.EngineCfg.LaunchInterval < 0 {
		return fmt.Errorf("engine.launch_interval must not be negative")
	}
	if err := c.RunCfg.Validate(); err != nil {
		return fmt.Errorf("run configuration invalid: %w", err)
	}
	for _, f := range c.ReportCfg.Formats {
		if f != "json" && f != "junit" {
			return fmt.Errorf("report.formats: unsupported format %q", f)
		}
	}
	return nil
}

// Validate checks the RunConfig settings.
func (r *RunConfig) Validate() error {
	if r.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	if r.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if r.PollInterval > r.Timeout {
		return fmt.Errorf("poll_interval must not exceed timeout")
	}
	return nil
}
