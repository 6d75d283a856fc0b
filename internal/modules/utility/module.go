// Package utility is the extension module with general purpose step
// functions and device presets.
package utility

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/plancheck/api/schemas"
)

const Name = "utility"

// maxPause bounds Pause so a typo cannot stall a run.
const maxPause = 5 * time.Minute

type viewport struct{ width, height int64 }

var devices = map[string]viewport{
	"desktop": {1920, 1080},
	"laptop":  {1366, 768},
	"tablet":  {768, 1024},
	"mobile":  {390, 844},
}

// Descriptor returns the registration metadata of the module.
func Descriptor() schemas.ModuleDescriptor {
	return schemas.ModuleDescriptor{Name: Name, New: func() schemas.Module { return &Module{} }}
}

// Module provides Pause, Screenshot and Navigate.
type Module struct{}

var _ schemas.Module = (*Module)(nil)

// ExtendBrowserContextOptions applies the plan locale and extra headers and the
// device preset of the primary browser. Headers already on opts are kept.
func (m *Module) ExtendBrowserContextOptions(opts *schemas.SessionOptions, settings schemas.TestSettings) {
	if opts.Locale == "" && settings.Locale != "" {
		opts.Locale = settings.Locale
	}
	for k, v := range settings.ExtraHeaders {
		if opts.ExtraHeaders == nil {
			opts.ExtraHeaders = make(map[string]string, len(settings.ExtraHeaders))
		}
		if _, set := opts.ExtraHeaders[k]; !set {
			opts.ExtraHeaders[k] = v
		}
	}
	if opts.Browser.ScreenWidth > 0 && opts.Browser.ScreenHeight > 0 {
		return
	}
	if vp, ok := devices[strings.ToLower(opts.Browser.Device)]; ok {
		opts.Browser.ScreenWidth, opts.Browser.ScreenHeight = vp.width, vp.height
	}
}

func (m *Module) RegisterFunctions(reg schemas.FunctionRegistrar, run *schemas.RunContext) error {
	f := &functions{run: run}
	for _, fn := range []schemas.Function{
		{Name: "Pause", Call: f.pause},
		{Name: "Screenshot", Call: f.screenshot},
		{Name: "Navigate", Call: f.navigate},
	} {
		if err := reg.RegisterFunction(fn); err != nil {
			return err
		}
	}
	return nil
}

// RegisterNetworkRoute declines every mock.
func (m *Module) RegisterNetworkRoute(context.Context, *schemas.RunContext, schemas.Session, schemas.NetworkMock) (bool, error) {
	return false, nil
}

type functions struct {
	run *schemas.RunContext
}

func (f *functions) logger() *zap.Logger {
	if f.run.Logger == nil {
		return zap.NewNop()
	}
	return f.run.Logger.Named("utility")
}

func (f *functions) page() (schemas.Page, error) {
	if f.run.Page == nil {
		return nil, fmt.Errorf("no browser page is attached to the run")
	}
	return f.run.Page, nil
}

// pause sleeps for args[0] milliseconds.
func (f *functions) pause(ctx context.Context, args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("Pause expects a duration in milliseconds")
	}
	ms, ok := args[0].(int64)
	if !ok {
		fl, isFloat := args[0].(float64)
		if !isFloat {
			return nil, fmt.Errorf("Pause expects a number, got %T", args[0])
		}
		ms = int64(fl)
	}
	d := time.Duration(ms) * time.Millisecond
	if d < 0 || d > maxPause {
		return nil, fmt.Errorf("Pause duration must be between 0 and %s", maxPause)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return true, nil
	}
}

// screenshot writes a PNG into the run's output directory and returns its path.
func (f *functions) screenshot(ctx context.Context, args []interface{}) (interface{}, error) {
	page, err := f.page()
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("step-%d.png", time.Now().UnixNano())
	if len(args) > 0 && args[0] != nil {
		name = filepath.Base(fmt.Sprint(args[0]))
	}
	if filepath.Ext(name) == "" {
		name += ".png"
	}

	shot, err := page.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}
	fs := f.run.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(f.run.OutputDir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(f.run.OutputDir, name)
	if err := afero.WriteFile(fs, path, shot, 0o644); err != nil {
		return nil, fmt.Errorf("writing screenshot: %w", err)
	}
	f.logger().Info("Screenshot saved.", zap.String("path", path))
	return path, nil
}

func (f *functions) navigate(ctx context.Context, args []interface{}) (interface{}, error) {
	page, err := f.page()
	if err != nil {
		return nil, err
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("Navigate expects a URL")
	}
	target := fmt.Sprint(args[0])
	if err := page.Navigate(ctx, target); err != nil {
		return nil, err
	}
	return target, nil
}
