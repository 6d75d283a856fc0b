package usermanagers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/plancheck/api/schemas"
	"github.com/xkilldash9x/plancheck/internal/login"
)

const (
	emailSelector    = `input[type="email"], input[name="loginfmt"], input[name="username"]`
	passwordSelector = `input[type="password"]`
	submitSelector   = `input[type="submit"], button[type="submit"]`

	defaultPollInterval = 500 * time.Millisecond
)

// Environment signs in with the email and password named by the persona's
// credential keys, then hands over to the common flow to wait for the app.
type Environment struct{}

func (*Environment) LoginAsUser(ctx context.Context, req *schemas.LoginRequest) error {
	email, err := req.Credential(req.User.EmailKey)
	if err != nil {
		return err
	}
	password, err := req.Credential(req.User.PasswordKey)
	if err != nil {
		return err
	}
	if err := navigate(ctx, req); err != nil {
		return err
	}
	if err := submitCredentials(ctx, req, email, password); err != nil {
		return err
	}
	return req.CommonLogin(ctx, schemas.CommonLoginOptions{Email: email})
}

// submitCredentials answers the email and password prompts in order. It stops
// early when the page is already on the desired URL.
func submitCredentials(ctx context.Context, req *schemas.LoginRequest, email, password string) error {
	page := req.Session.Page()
	logger := zap.NewNop()
	if req.Run != nil && req.Run.Logger != nil {
		logger = req.Run.Logger.Named("environment_login")
	}
	interval := req.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	budget := req.Budget
	if budget <= 0 {
		budget = 30 * time.Second
	}
	deadline := time.Now().Add(budget)

	emailDone := false
	lastURL := ""
	for time.Now().Before(deadline) {
		if current, err := page.URL(ctx); err == nil {
			lastURL = current
			if login.MatchesDesired(current, req.DesiredURL) {
				logger.Debug("Already on the desired URL; skipping credential prompts.")
				return nil
			}
		}

		if visible, err := page.IsVisible(ctx, passwordSelector); err == nil && visible {
			if err := fillAndSubmit(ctx, page, passwordSelector, password); err != nil {
				return fmt.Errorf("submitting password: %w", err)
			}
			logger.Debug("Password submitted.")
			return nil
		}

		if !emailDone {
			if visible, err := page.IsVisible(ctx, emailSelector); err == nil && visible {
				if err := fillAndSubmit(ctx, page, emailSelector, email); err != nil {
					return fmt.Errorf("submitting email: %w", err)
				}
				emailDone = true
				logger.Debug("Email submitted.")
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	phase := login.PhaseEmailPrompt
	if emailDone {
		phase = login.PhaseCredentialPrompt
	}
	return &login.LoginTimeoutError{Budget: budget, DesiredURL: req.DesiredURL, LastURL: lastURL, Phase: phase}
}

func fillAndSubmit(ctx context.Context, page schemas.Page, selector, value string) error {
	if err := page.Fill(ctx, selector, value); err != nil {
		return err
	}
	return page.Click(ctx, submitSelector)
}
