// File: internal/config/config_test.go
package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "plancheck", cfg.Logger().ServiceName)
	assert.Equal(t, 2, cfg.Engine().Concurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine().LaunchInterval)
	assert.Nil(t, cfg.Browser().Headless, "headless is left to the plan unless configured")
	assert.Equal(t, 2*time.Minute, cfg.Run().Timeout)
	assert.Equal(t, time.Second, cfg.Run().PollInterval)
	assert.Equal(t, "TestOutput", cfg.Run().OutputDirectory)
	assert.ElementsMatch(t, []string{"json", "junit"}, cfg.Report().Formats)
	assert.Empty(t, cfg.Database().URL)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		assert.NoError(t, cfg.Validate(), "A valid config should not produce a validation error")

		cfgInvalidEngine := *cfg
		cfgInvalidEngine.EngineCfg.Concurrency = 0
		err := cfgInvalidEngine.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "engine.concurrency must be a positive integer")

		cfgInvalidReport := *cfg
		cfgInvalidReport.ReportCfg.Formats = []string{"html"}
		err = cfgInvalidReport.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unsupported format "html"`)
	})

	t.Run("Run Validation", func(t *testing.T) {
		valid := RunConfig{Timeout: 30 * time.Second, PollInterval: time.Second}
		assert.NoError(t, valid.Validate())

		noTimeout := valid
		noTimeout.Timeout = 0
		err := noTimeout.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout must be a positive duration")

		slowPoll := valid
		slowPoll.PollInterval = time.Minute
		err = slowPoll.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "poll_interval must not exceed timeout")
	})
}

// -- Setter Tests --

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetRunTarget("env-1", "tenant-1", "contoso.example")
	cfg.SetRunOutputDirectory("out")
	cfg.SetRunProvider("portal")
	cfg.SetRunUserAuth("none")
	cfg.SetBrowserHeadless(false)

	run := cfg.Run()
	assert.Equal(t, "env-1", run.EnvironmentID)
	assert.Equal(t, "tenant-1", run.TenantID)
	assert.Equal(t, "contoso.example", run.Domain)
	assert.Equal(t, "out", run.OutputDirectory)
	assert.Equal(t, "portal", run.Provider)
	assert.Equal(t, "none", run.UserAuth)
	require.NotNil(t, cfg.Browser().Headless)
	assert.False(t, *cfg.Browser().Headless)
}

func TestResolveHeadless(t *testing.T) {
	on, off := true, false
	tests := []struct {
		name     string
		cfg      *bool
		plan     bool
		expected bool
	}{
		{"unset follows plan headless", nil, true, true},
		{"unset follows plan headed", nil, false, false},
		{"explicit headed wins", &off, true, false},
		{"explicit headless wins", &on, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := BrowserConfig{Headless: tt.cfg}
			assert.Equal(t, tt.expected, b.ResolveHeadless(tt.plan))
		})
	}
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
engine:
  concurrency: 4
run:
  timeout: 45s
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, 4, cfg.Engine().Concurrency)
		assert.Equal(t, 45*time.Second, cfg.Run().Timeout)
		assert.Equal(t, "info", cfg.Logger().Level)
	})

	t.Run("Explicit Headless", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBufferString("browser:\n  headless: false\n")))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		require.NotNil(t, cfg.Browser().Headless)
		assert.False(t, cfg.Browser().ResolveHeadless(true))
	})

	t.Run("Headless From Environment", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		t.Setenv("PLANCHECK_BROWSER_HEADLESS", "false")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		require.NotNil(t, cfg.Browser().Headless)
		assert.False(t, *cfg.Browser().Headless)
	})

	t.Run("Profiles Dir Expansion", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		home, err := homedir.Dir()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, ".plancheck", "profiles"), cfg.Browser().ProfilesDir)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("engine.concurrency", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "engine.concurrency must be a positive integer")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)

		yamlConfig := []byte(`
database:
  url: "postgres://configfile/db"
`)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

		testDBURL := "postgres://envvar/db"
		t.Setenv("PLANCHECK_DATABASE_URL", testDBURL)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, testDBURL, cfg.Database().URL)
	})
}
