package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/plancheck/api/schemas"
	"github.com/xkilldash9x/plancheck/internal/config"
)

func TestAllocatorFlags(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{}, schemas.SessionOptions{Headless: true})

		assert.Equal(t, true, flags["headless"])
		assert.Equal(t, true, flags["no-sandbox"])
		assert.Equal(t, "1280,800", flags["window-size"])
		assert.NotContains(t, flags, "user-data-dir")
		assert.NotContains(t, flags, "lang")
	})

	t.Run("HeadedRemovesDefaultHeadless", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{}, schemas.SessionOptions{Headless: false})
		assert.Equal(t, false, flags["headless"])
	})

	t.Run("SessionSettings", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{}, schemas.SessionOptions{
			Browser:    schemas.BrowserConfiguration{Browser: "chromium", ScreenWidth: 1920, ScreenHeight: 1080},
			Locale:     "de-DE",
			ProfileDir: "/profiles/User1",
		})

		assert.Equal(t, "1920,1080", flags["window-size"])
		assert.Equal(t, "de-DE", flags["lang"])
		assert.Equal(t, "/profiles/User1", flags["user-data-dir"])
	})

	t.Run("ArgsWithAndWithoutDashes", func(t *testing.T) {
		cfg := config.BrowserConfig{Args: []string{"--no-zygote", "proxy-server=http://proxy:8080", "--lang=en-US"}}
		flags := allocatorFlags(cfg, schemas.SessionOptions{Args: []string{"--lang=fr-FR", "--"}})

		assert.Equal(t, true, flags["no-zygote"])
		assert.Equal(t, "http://proxy:8080", flags["proxy-server"])
		assert.Equal(t, "fr-FR", flags["lang"], "session args override config args")
		assert.NotContains(t, flags, "")
	})
}

func TestAllocatorOptions_IncludesDefaults(t *testing.T) {
	withExec := allocatorOptions(config.BrowserConfig{ExecPath: "/usr/bin/chromium"}, schemas.SessionOptions{})
	without := allocatorOptions(config.BrowserConfig{}, schemas.SessionOptions{})

	assert.Len(t, withExec, len(without)+1)
	assert.Greater(t, len(without), len(allocatorFlags(config.BrowserConfig{}, schemas.SessionOptions{})))
}
