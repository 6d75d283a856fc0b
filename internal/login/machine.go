package login

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/plancheck/api/schemas"
)

// Probes are the observations the machine makes of the live page. Errors are
// treated as "no signal" by the machine, never as failures.
type Probes interface {
	CurrentURL(ctx context.Context) (string, error)
	// DialogTitle returns the title of a visible blocking error dialog, or "".
	DialogTitle(ctx context.Context) (string, error)
	// IsIdle reports whether the application has settled.
	IsIdle(ctx context.Context) (bool, error)
	// FillEmail types email into a visible email field and submits it. It
	// reports false when no such field is visible.
	FillEmail(ctx context.Context, email string) (bool, error)
}

// Machine advances login States using a set of Probes.
type Machine struct {
	logger   *zap.Logger
	probes   Probes
	interval time.Duration
}

// NewMachine creates a Machine that polls every interval.
func NewMachine(logger *zap.Logger, probes Probes, interval time.Duration) (*Machine, error) {
	if probes == nil {
		return nil, errors.New("login probes cannot be nil")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", interval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		logger:   logger.Named("login"),
		probes:   probes,
		interval: interval,
	}, nil
}

// Advance performs one iteration of the state machine.
func (m *Machine) Advance(ctx context.Context, st *State) {
	if st.Phase.Terminal() {
		return
	}

	current, err := m.probes.CurrentURL(ctx)
	if err != nil {
		m.logger.Debug("URL probe failed.", zap.Error(err))
		current = ""
	}
	if current != "" {
		st.LastURL = current
	}
	matched := MatchesDesired(current, st.DesiredURL)

	// A dialog wins over a URL match observed in the same tick.
	title, err := m.probes.DialogTitle(ctx)
	if err != nil {
		m.logger.Debug("Dialog probe failed.", zap.Error(err))
		title = ""
	}
	if title != "" {
		st.IsError = true
		st.Settings.Set(schemas.DialogTitleKey, title)
		st.Phase = PhaseErrored
		m.logger.Warn("Error dialog detected during login.", zap.String("title", title), zap.String("url", current))
		if st.OnErrorFound != nil {
			st.OnErrorFound()
		}
	}

	if matched && !st.IsError {
		idle, err := m.probes.IsIdle(ctx)
		if err != nil {
			m.logger.Debug("Idle probe failed.", zap.Error(err))
			idle = false
		}
		if !idle {
			st.Phase = PhaseSettling
			return
		}
		st.FoundMatch = true
		st.MatchHost = hostOf(current)
		st.Phase = PhaseMatched
		m.logger.Info("Desired URL reached.", zap.String("url", current), zap.String("host", st.MatchHost))
		if st.OnDesiredURLFound != nil {
			st.OnDesiredURLFound(st.DesiredURL)
		}
		return
	}

	if !matched && !st.IsError && current != "" && current != schemas.BlankPageURL {
		m.handleEmail(ctx, st)
	}
}

func (m *Machine) handleEmail(ctx context.Context, st *State) {
	if st.EmailHandled {
		st.Phase = PhaseCredentialPrompt
		return
	}
	st.Phase = PhaseEmailPrompt
	if st.Email == "" {
		return
	}
	filled, err := m.probes.FillEmail(ctx, st.Email)
	if err != nil {
		// Retried on the next tick.
		m.logger.Debug("Email auto-fill failed.", zap.Error(err))
		return
	}
	if filled {
		st.EmailHandled = true
		st.Phase = PhaseCredentialPrompt
		m.logger.Debug("Email field filled.")
	}
}

// Wait calls Advance every interval until the desired URL is matched, a dialog
// appears, the budget elapses or ctx ends.
func (m *Machine) Wait(ctx context.Context, st *State, budget time.Duration) error {
	if budget <= 0 {
		return fmt.Errorf("login budget must be positive, got %s", budget)
	}
	deadline := time.Now().Add(budget)
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		m.Advance(ctx, st)
		if st.FoundMatch {
			return nil
		}
		if st.IsError {
			return &DialogError{Title: st.DialogTitle()}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			st.Phase = PhaseTimedOut
			return &LoginTimeoutError{Budget: budget, DesiredURL: st.DesiredURL, LastURL: st.LastURL, Phase: st.Phase}
		}
		sleep := m.interval
		if remaining < sleep {
			sleep = remaining
		}
		timer.Reset(sleep)
		select {
		case <-ctx.Done():
			return fmt.Errorf("login wait cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// CommonLogin returns the shared login flow handed to user managers. Each call
// drives a fresh State towards desiredURL. The budget runs from the moment
// CommonLogin is created, so whatever a user manager does before calling it
// counts against the same budget; a late call still gets one poll.
func (m *Machine) CommonLogin(desiredURL string, settings *schemas.SettingsMap, budget time.Duration, observe func(*State)) schemas.CommonLoginFunc {
	deadline := time.Now().Add(budget)
	return func(ctx context.Context, opts schemas.CommonLoginOptions) error {
		st := NewState(desiredURL, settings)
		st.Email = opts.Email
		remaining := time.Until(deadline)
		if remaining < m.interval {
			remaining = m.interval
		}
		err := m.Wait(ctx, st, remaining)
		if observe != nil {
			observe(st)
		}
		return err
	}
}
