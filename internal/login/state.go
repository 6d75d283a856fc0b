// Package login drives a browser session through an application sign-in flow
// until the desired page is reached and has settled, or a blocking error
// dialog appears, or the time budget runs out.
package login

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/xkilldash9x/plancheck/api/schemas"
)

// Phase is the coarse position of a login attempt.
type Phase string

const (
	PhaseNavigating       Phase = "navigating"
	PhaseEmailPrompt      Phase = "email_prompt"
	PhaseCredentialPrompt Phase = "credential_prompt"
	PhaseSettling         Phase = "settling"
	PhaseMatched          Phase = "matched"
	PhaseErrored          Phase = "errored"
	PhaseTimedOut         Phase = "timed_out"
)

// Terminal reports whether no further transitions happen from p.
func (p Phase) Terminal() bool {
	return p == PhaseMatched || p == PhaseErrored || p == PhaseTimedOut
}

// State is the mutable record of one login attempt. It is owned by a single
// run and only touched by the goroutine driving the machine.
type State struct {
	DesiredURL string
	// Email, when set, is typed into the first visible email field once.
	Email string

	IsError      bool
	FoundMatch   bool
	EmailHandled bool
	// MatchHost is the host of the page URL at the moment of the match.
	MatchHost string
	Phase     Phase
	// Settings is the run's shared map; the dialog title lands under schemas.DialogTitleKey.
	Settings *schemas.SettingsMap

	OnDesiredURLFound func(desiredURL string)
	OnErrorFound      func()

	// LastURL is the most recent page URL observed.
	LastURL string
}

// NewState returns a State for reaching desiredURL.
func NewState(desiredURL string, settings *schemas.SettingsMap) *State {
	if settings == nil {
		settings = schemas.NewSettingsMap()
	}
	return &State{
		DesiredURL: desiredURL,
		Phase:      PhaseNavigating,
		Settings:   settings,
	}
}

// DialogTitle returns the captured error dialog title, if any.
func (s *State) DialogTitle() string {
	return s.Settings.GetString(schemas.DialogTitleKey)
}

var (
	cloudRedirectSuffix = regexp.MustCompile(`(?i)\.mcas\.ms`)
	homeSegment         = regexp.MustCompile(`(?i)/home([/?#]|$)`)
)

// NormalizeURL removes the cloud-app-security redirect suffix and the "/home"
// path segment, both case-insensitively, so landing pages compare equal to the
// URL the provider generated.
func NormalizeURL(raw string) string {
	out := cloudRedirectSuffix.ReplaceAllString(raw, "")
	return homeSegment.ReplaceAllString(out, "$1")
}

// MatchesDesired reports whether the normalized current URL contains desired.
func MatchesDesired(current, desired string) bool {
	if desired == "" {
		return false
	}
	return strings.Contains(NormalizeURL(current), desired)
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

// DialogError reports a blocking error dialog surfaced during login.
type DialogError struct {
	Title string
}

func (e *DialogError) Error() string {
	return fmt.Sprintf("application reported an error dialog: %q", e.Title)
}

// LoginTimeoutError reports that neither the desired page nor an error dialog
// was observed within the budget.
type LoginTimeoutError struct {
	Budget     time.Duration
	DesiredURL string
	LastURL    string
	Phase      Phase
}

func (e *LoginTimeoutError) Error() string {
	return fmt.Sprintf("login did not reach %q within %s (last url %q, phase %s)", e.DesiredURL, e.Budget, e.LastURL, e.Phase)
}
