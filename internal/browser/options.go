// internal/browser/options.go
package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/plancheck/api/schemas"
	"github.com/xkilldash9x/plancheck/internal/config"
)

const (
	defaultWindowWidth  = 1280
	defaultWindowHeight = 800
)

// allocatorFlags computes the command line flags for one session. Keys carry no
// leading dashes; a false value removes a flag set by the chromedp defaults.
func allocatorFlags(cfg config.BrowserConfig, opts schemas.SessionOptions) map[string]interface{} {
	flags := map[string]interface{}{
		// Sandboxing fails on hardened hosts and in most containers.
		"no-sandbox":            true,
		"disable-dev-shm-usage": true,
		"headless":              opts.Headless,
	}

	width, height := int64(defaultWindowWidth), int64(defaultWindowHeight)
	if b := opts.Browser; b.ScreenWidth > 0 && b.ScreenHeight > 0 {
		width, height = b.ScreenWidth, b.ScreenHeight
	}
	flags["window-size"] = fmt.Sprintf("%d,%d", width, height)

	if opts.Locale != "" {
		flags["lang"] = opts.Locale
	}
	if opts.ProfileDir != "" {
		flags["user-data-dir"] = opts.ProfileDir
	}

	// Config args first so per-run args win.
	for _, arg := range append(append([]string{}, cfg.Args...), opts.Args...) {
		key, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if key == "" {
			continue
		}
		if !hasValue {
			flags[key] = true
			continue
		}
		flags[key] = value
	}
	return flags
}

// allocatorOptions turns the session flags into chromedp allocator options on
// top of chromedp's defaults.
func allocatorOptions(cfg config.BrowserConfig, opts schemas.SessionOptions) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if cfg.ExecPath != "" {
		out = append(out, chromedp.ExecPath(cfg.ExecPath))
	}
	for key, value := range allocatorFlags(cfg, opts) {
		out = append(out, chromedp.Flag(key, value))
	}
	return out
}
