// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/plancheck/internal/browser"
	"github.com/xkilldash9x/plancheck/internal/browser/profiles"
	"github.com/xkilldash9x/plancheck/internal/config"
	"github.com/xkilldash9x/plancheck/internal/engine"
	"github.com/xkilldash9x/plancheck/internal/orchestrator"
	"github.com/xkilldash9x/plancheck/internal/plugins"
	"github.com/xkilldash9x/plancheck/internal/store"
)

// ComponentFactory builds the Components for a batch. The run command
// depends on this interface so it can be tested without a browser.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct {
	fs afero.Fs
}

// NewComponentFactory creates a factory backed by the OS filesystem.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{fs: afero.NewOsFs()}
}

// Create wires the registry, browser manager, profile store, optional result
// store, orchestrator and engine. On error, whatever was already built is
// shut down.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (c *Components, err error) {
	if cfg == nil || logger == nil {
		return nil, fmt.Errorf("config and logger are required")
	}
	c = &Components{logger: logger.Named("service")}
	defer func() {
		if err != nil {
			c.Shutdown()
			c = nil
		}
	}()

	reg, err := plugins.NewRegistry(logger)
	if err != nil {
		return c, fmt.Errorf("failed to build plugin registry: %w", err)
	}
	c.Registry = reg

	profileStore, err := profiles.NewStore(cfg.Browser().ProfilesDir, f.fs)
	if err != nil {
		return c, fmt.Errorf("failed to initialize profile store: %w", err)
	}

	bm, err := browser.NewManager(cfg.Browser(), f.fs, logger)
	if err != nil {
		return c, fmt.Errorf("failed to initialize browser manager: %w", err)
	}
	c.BrowserManager = bm

	deps := orchestrator.Dependencies{
		Registry: reg,
		Browser:  bm,
		Profiles: profileStore,
		FS:       f.fs,
	}

	if url := cfg.Database().URL; url != "" {
		s, pool, err := store.Connect(ctx, url, logger)
		if err != nil {
			return c, fmt.Errorf("failed to connect to result database: %w", err)
		}
		c.DBPool = pool
		if err := s.EnsureSchema(ctx); err != nil {
			return c, err
		}
		c.Store = s
		c.History = s
		deps.Store = s
	} else {
		logger.Debug("No database configured; results will not be persisted.")
	}

	orch, err := orchestrator.New(cfg, logger, deps)
	if err != nil {
		return c, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	c.Orchestrator = orch

	eng, err := engine.New(cfg, logger, orch)
	if err != nil {
		return c, fmt.Errorf("failed to create run engine: %w", err)
	}
	c.Engine = eng

	return c, nil
}
