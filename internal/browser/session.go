// internal/browser/session.go
package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/plancheck/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	screenshotFile = "screenshot.png"
	domFile        = "page.html"
	framePattern   = "frame-%05d.jpg"
)

// Session is one browser tab and implements both schemas.Session and schemas.Page.
type Session struct {
	id         string
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *zap.Logger
	fs         afero.Fs
	navTimeout time.Duration

	routesMu     sync.RWMutex
	routes       []schemas.RouteRule
	fetchEnabled bool

	videoDir   string
	frameCount atomic.Int64

	onClose func()

	mu       sync.Mutex
	isClosed bool
}

var (
	_ schemas.Session = (*Session)(nil)
	_ schemas.Page    = (*Session)(nil)
)

func newSession(ctx context.Context, cancel context.CancelFunc, fs afero.Fs, navTimeout time.Duration, logger *zap.Logger, onClose func()) *Session {
	id := uuid.New().String()
	return &Session{
		id:         id,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger.With(zap.String("session_id", id)),
		fs:         fs,
		navTimeout: navTimeout,
		onClose:    onClose,
	}
}

// start allocates the browser and applies the per-session emulation settings.
func (s *Session) start(ctx context.Context, opts schemas.SessionOptions) error {
	// The first Run on a tab context launches the browser. It must run on the
	// session context itself, or the browser dies with the caller's deadline.
	launched := make(chan error, 1)
	go func() { launched <- chromedp.Run(s.ctx) }()
	select {
	case err := <-launched:
		if err != nil {
			return fmt.Errorf("failed to launch browser: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	chromedp.ListenTarget(s.ctx, s.handleEvent)

	var tasks chromedp.Tasks
	if len(opts.ExtraHeaders) > 0 {
		headers := make(network.Headers, len(opts.ExtraHeaders))
		for k, v := range opts.ExtraHeaders {
			headers[k] = v
		}
		tasks = append(tasks, network.Enable(), network.SetExtraHTTPHeaders(headers))
	}
	if opts.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(opts.Locale))
	}
	if b := opts.Browser; b.ScreenWidth > 0 && b.ScreenHeight > 0 {
		tasks = append(tasks, chromedp.EmulateViewport(b.ScreenWidth, b.ScreenHeight))
	}
	if opts.VideoDir != "" {
		if err := s.fs.MkdirAll(opts.VideoDir, 0o755); err != nil {
			return fmt.Errorf("failed to create video directory: %w", err)
		}
		s.videoDir = opts.VideoDir
		tasks = append(tasks, page.StartScreencast().WithFormat(page.ScreencastFormatJpeg).WithQuality(60))
	}

	if err := s.runActions(ctx, tasks); err != nil {
		return fmt.Errorf("failed to run session initialization tasks: %w", err)
	}
	return nil
}

// ID returns the unique identifier for the session.
func (s *Session) ID() string { return s.id }

// Page returns the session's single page.
func (s *Session) Page() schemas.Page { return s }

// -- Page --

func (s *Session) URL(ctx context.Context) (string, error) {
	var u string
	if err := s.runActions(ctx, chromedp.Location(&u)); err != nil {
		return "", err
	}
	return u, nil
}

// Navigate loads url and waits for the body to be ready, bounded by the
// navigation timeout.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if s.navTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.navTimeout)
		defer cancel()
	}
	s.logger.Debug("Navigating.", zap.String("url", url))
	if err := s.runActions(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (s *Session) Evaluate(ctx context.Context, script string, res interface{}) error {
	return s.runActions(ctx, chromedp.Evaluate(script, res))
}

func (s *Session) Fill(ctx context.Context, selector, value string) error {
	return s.runActions(ctx,
		chromedp.WaitReady(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (s *Session) Click(ctx context.Context, selector string) error {
	return s.runActions(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

const visibilityScript = `(function(sel) {
	const el = document.querySelector(sel);
	if (!el) { return false; }
	const style = window.getComputedStyle(el);
	if (style.display === 'none' || style.visibility === 'hidden') { return false; }
	const rect = el.getBoundingClientRect();
	return rect.width > 0 && rect.height > 0;
})(%s)`

// IsVisible checks the element without waiting for it, unlike the chromedp query actions.
func (s *Session) IsVisible(ctx context.Context, selector string) (bool, error) {
	quoted, err := json.MarshalToString(selector)
	if err != nil {
		return false, err
	}
	var visible bool
	if err := s.Evaluate(ctx, fmt.Sprintf(visibilityScript, quoted), &visible); err != nil {
		return false, err
	}
	return visible, nil
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.runActions(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// -- Interception --

// Route installs rule. Fetch interception is enabled on the first call.
func (s *Session) Route(ctx context.Context, rule schemas.RouteRule) error {
	if rule.Match == nil || rule.Fulfill == nil {
		return fmt.Errorf("route rule %q needs both Match and Fulfill", rule.Name)
	}

	s.routesMu.Lock()
	s.routes = append(s.routes, rule)
	enable := !s.fetchEnabled
	s.fetchEnabled = true
	s.routesMu.Unlock()

	if enable {
		if err := s.runActions(ctx, fetch.Enable()); err != nil {
			s.routesMu.Lock()
			s.fetchEnabled = false
			s.routesMu.Unlock()
			return fmt.Errorf("failed to enable request interception: %w", err)
		}
	}
	s.logger.Debug("Route installed.", zap.String("rule", rule.Name))
	return nil
}

// handleEvent runs on the chromedp event goroutine and must not block.
func (s *Session) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *fetch.EventRequestPaused:
		go s.handlePaused(e)
	case *page.EventScreencastFrame:
		go s.handleFrame(e)
	}
}

func (s *Session) handlePaused(ev *fetch.EventRequestPaused) {
	execCtx := s.executorContext()
	if execCtx == nil {
		return
	}

	req := schemas.RouteRequest{URL: ev.Request.URL, Method: ev.Request.Method, Headers: map[string]string{}}
	for k, v := range ev.Request.Headers {
		req.Headers[k] = fmt.Sprint(v)
	}

	rule, ok := s.matchRoute(req)
	if !ok {
		if err := fetch.ContinueRequest(ev.RequestID).Do(execCtx); err != nil {
			s.logger.Debug("Could not continue intercepted request.", zap.String("url", req.URL), zap.Error(err))
		}
		return
	}

	resp, err := rule.Fulfill(req)
	if err != nil {
		s.logger.Warn("Route failed to produce a response.", zap.String("rule", rule.Name), zap.String("url", req.URL), zap.Error(err))
		_ = fetch.FailRequest(ev.RequestID, network.ErrorReasonFailed).Do(execCtx)
		return
	}

	headers := make([]*fetch.HeaderEntry, 0, len(resp.Headers))
	for k, v := range resp.Headers {
		headers = append(headers, &fetch.HeaderEntry{Name: k, Value: v})
	}
	err = fetch.FulfillRequest(ev.RequestID, int64(resp.Status)).
		WithResponseHeaders(headers).
		WithBody(base64.StdEncoding.EncodeToString(resp.Body)).
		Do(execCtx)
	if err != nil {
		s.logger.Debug("Could not fulfill intercepted request.", zap.String("url", req.URL), zap.Error(err))
	}
}

func (s *Session) matchRoute(req schemas.RouteRequest) (schemas.RouteRule, bool) {
	s.routesMu.RLock()
	defer s.routesMu.RUnlock()
	for _, rule := range s.routes {
		if rule.Match(req) {
			return rule, true
		}
	}
	return schemas.RouteRule{}, false
}

// -- Video --

func (s *Session) handleFrame(ev *page.EventScreencastFrame) {
	execCtx := s.executorContext()
	if execCtx == nil {
		return
	}
	if err := page.ScreencastFrameAck(ev.SessionID).Do(execCtx); err != nil {
		s.logger.Debug("Could not acknowledge screencast frame.", zap.Error(err))
	}

	data, err := base64.StdEncoding.DecodeString(ev.Data)
	if err != nil {
		return
	}
	n := s.frameCount.Add(1)
	name := filepath.Join(s.videoDir, fmt.Sprintf(framePattern, n))
	if err := afero.WriteFile(s.fs, name, data, 0o644); err != nil {
		s.logger.Debug("Could not write screencast frame.", zap.Error(err))
	}
}

// executorContext returns a context bound to the tab for CDP calls made from
// event handlers, or nil once the session is closed.
func (s *Session) executorContext() context.Context {
	if s.closed() {
		return nil
	}
	c := chromedp.FromContext(s.ctx)
	if c == nil || c.Target == nil {
		return nil
	}
	return cdp.WithExecutor(s.ctx, c.Target)
}

// -- Artifacts and lifecycle --

// CollectArtifacts writes a screenshot and the DOM into dir. When video is on,
// the frame directory is returned as well.
func (s *Session) CollectArtifacts(ctx context.Context, dir string) ([]string, error) {
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	var paths []string
	var errs []error

	if shot, err := s.Screenshot(ctx); err != nil {
		errs = append(errs, fmt.Errorf("screenshot: %w", err))
	} else {
		p := filepath.Join(dir, screenshotFile)
		if err := afero.WriteFile(s.fs, p, shot, 0o644); err != nil {
			errs = append(errs, err)
		} else {
			paths = append(paths, p)
		}
	}

	var dom string
	if err := s.runActions(ctx, chromedp.OuterHTML("html", &dom, chromedp.ByQuery)); err != nil {
		errs = append(errs, fmt.Errorf("dom: %w", err))
	} else {
		p := filepath.Join(dir, domFile)
		if err := afero.WriteFile(s.fs, p, []byte(dom), 0o644); err != nil {
			errs = append(errs, err)
		} else {
			paths = append(paths, p)
		}
	}

	if s.videoDir != "" {
		if err := s.runActions(ctx, page.StopScreencast()); err != nil {
			s.logger.Debug("Could not stop screencast.", zap.Error(err))
		}
		if s.frameCount.Load() > 0 {
			paths = append(paths, s.videoDir)
		}
	}

	if len(errs) > 0 {
		s.logger.Warn("Could not fully collect browser artifacts.", zap.Errors("errors", errs))
		if len(paths) == 0 {
			return nil, errs[0]
		}
	}
	return paths, nil
}

func (s *Session) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isClosed
}

// Close terminates the tab and its browser process.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(s.ctx) }()
	select {
	case err := <-done:
		if err != nil && s.ctx.Err() == nil {
			s.logger.Debug("Browser did not close cleanly.", zap.Error(err))
		}
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for the browser to exit.")
	}

	if s.cancel != nil {
		s.cancel()
	}
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

// runActions executes chromedp actions bound to both the session lifetime (s.ctx)
// and the caller's context.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	return chromedp.Run(runCtx, actions...)
}
