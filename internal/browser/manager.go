// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/plancheck/api/schemas"
	"github.com/xkilldash9x/plancheck/internal/config"
)

// ErrManagerClosed is returned by NewSession after Shutdown.
var ErrManagerClosed = errors.New("browser manager is shut down")

const shutdownGracePeriod = 15 * time.Second

// Manager launches one browser process per session. Sessions differ in profile
// directory, headless mode and window size, which are all process flags.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig
	fs     afero.Fs

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

var _ schemas.BrowserManager = (*Manager)(nil)

// NewManager creates a browser manager. Artifacts are written through fs; nil
// means the OS filesystem.
func NewManager(cfg config.BrowserConfig, fs afero.Fs, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Manager{
		logger:   logger.Named("browser_manager"),
		cfg:      cfg,
		fs:       fs,
		sessions: make(map[string]*Session),
	}, nil
}

// NewSession launches a browser for opts. ctx bounds the launch only; the
// session lives until Close or Shutdown.
func (m *Manager) NewSession(ctx context.Context, opts schemas.SessionOptions) (schemas.Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	m.wg.Add(1)
	m.mu.Unlock()

	allocCtx, allocCancel := chromedp.NewExecAllocator(Detach(ctx), allocatorOptions(m.cfg, opts)...)

	sugar := m.logger.Sugar()
	ctxOpts := []chromedp.ContextOption{chromedp.WithLogf(sugar.Debugf), chromedp.WithErrorf(sugar.Debugf)}
	if m.cfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(sugar.Debugf))
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, ctxOpts...)
	cancel := func() {
		tabCancel()
		allocCancel()
	}

	var s *Session
	s = newSession(tabCtx, cancel, m.fs, m.cfg.NavigationTimeout, m.logger, func() {
		m.mu.Lock()
		delete(m.sessions, s.ID())
		m.mu.Unlock()
		m.wg.Done()
	})

	if err := s.start(ctx, opts); err != nil {
		cancel()
		m.wg.Done()
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.logger.Info("Browser session started.",
		zap.String("session_id", s.ID()),
		zap.Bool("headless", opts.Headless),
		zap.String("profile_dir", opts.ProfileDir))
	return s, nil
}

// Shutdown closes every open session and waits for them, bounded by ctx and a
// grace period.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGracePeriod)
	defer cancel()

	for _, s := range open {
		_ = s.Close(shutdownCtx)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("Browser manager shut down.", zap.Int("closed_sessions", len(open)))
		return nil
	case <-shutdownCtx.Done():
		return fmt.Errorf("timed out waiting for browser sessions to close: %w", shutdownCtx.Err())
	}
}
