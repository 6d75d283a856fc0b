package login

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/plancheck/api/schemas"
)

const (
	emailFieldSelector = `input[type="email"], input[name="loginfmt"]`
	submitSelector     = `input[type="submit"], button[type="submit"]`
)

// dialogTitleScript returns the trimmed title of the first visible blocking
// error dialog, or an empty string.
const dialogTitleScript = `(() => {
  const candidates = document.querySelectorAll(
    '[role="alertdialog"], [role="dialog"][aria-modal="true"], .app-error-dialog');
  for (const el of candidates) {
    const r = el.getBoundingClientRect();
    if (r.width === 0 || r.height === 0) continue;
    const t = el.querySelector('[id$="title"], [class*="title"], h1, h2');
    const text = ((t && t.textContent) || el.getAttribute('aria-label') || '').trim();
    if (text) return text;
  }
  return '';
})()`

const readyStateScript = `document.readyState === "complete"`

// PageProbes observes a live page.
type PageProbes struct {
	Page schemas.Page
	// Idle overrides the default document readiness check.
	Idle func(ctx context.Context) (bool, error)
}

var _ Probes = (*PageProbes)(nil)

func (p *PageProbes) CurrentURL(ctx context.Context) (string, error) {
	return p.Page.URL(ctx)
}

func (p *PageProbes) DialogTitle(ctx context.Context) (string, error) {
	var title string
	if err := p.Page.Evaluate(ctx, dialogTitleScript, &title); err != nil {
		return "", fmt.Errorf("evaluating dialog probe: %w", err)
	}
	return title, nil
}

func (p *PageProbes) IsIdle(ctx context.Context) (bool, error) {
	if p.Idle != nil {
		return p.Idle(ctx)
	}
	var complete bool
	if err := p.Page.Evaluate(ctx, readyStateScript, &complete); err != nil {
		return false, fmt.Errorf("evaluating ready state: %w", err)
	}
	return complete, nil
}

func (p *PageProbes) FillEmail(ctx context.Context, email string) (bool, error) {
	visible, err := p.Page.IsVisible(ctx, emailFieldSelector)
	if err != nil || !visible {
		return false, err
	}
	if err := p.Page.Fill(ctx, emailFieldSelector, email); err != nil {
		return false, fmt.Errorf("filling email field: %w", err)
	}
	if err := p.Page.Click(ctx, submitSelector); err != nil {
		return false, fmt.Errorf("submitting email: %w", err)
	}
	return true, nil
}
