// File: internal/service/components.go
package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/plancheck/api/schemas"
	"github.com/xkilldash9x/plancheck/internal/engine"
	"github.com/xkilldash9x/plancheck/internal/orchestrator"
	"github.com/xkilldash9x/plancheck/internal/registry"
	"github.com/xkilldash9x/plancheck/internal/store"
)

const shutdownTimeout = 30 * time.Second

// RunHistory reads persisted runs back.
type RunHistory interface {
	RecentRuns(ctx context.Context, planName string, limit int) ([]store.RunSummary, error)
}

// Components holds everything a batch of test runs needs and owns their lifecycle.
type Components struct {
	Registry       *registry.Registry
	BrowserManager schemas.BrowserManager
	Orchestrator   *orchestrator.Orchestrator
	Engine         *engine.Engine
	// Store is nil when persistence is disabled.
	Store schemas.ResultStore
	// History is nil when persistence is disabled.
	History RunHistory
	DBPool  *pgxpool.Pool

	logger *zap.Logger
}

// Shutdown releases resources in reverse order of creation. It is safe on a
// partially built Components.
func (c *Components) Shutdown() {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Beginning components shutdown sequence.")

	if c.BrowserManager != nil {
		// The caller's context may already be cancelled.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := c.BrowserManager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser manager shutdown.", zap.Error(err))
		} else {
			logger.Debug("Browser manager shut down.")
		}
	}

	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down.")
}
