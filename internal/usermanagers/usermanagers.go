// Package usermanagers holds the built-in login strategies.
package usermanagers

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/plancheck/api/schemas"
)

const (
	BrowserName     = "browser"
	EnvironmentName = "environment"
	NoneName        = "none"
)

// Descriptors returns the built-in user managers.
func Descriptors() []schemas.UserManagerDescriptor {
	return []schemas.UserManagerDescriptor{
		{Name: BrowserName, Priority: 100, UsesStaticContext: true, New: func() schemas.UserManager { return &Browser{} }},
		{Name: EnvironmentName, Priority: 50, New: func() schemas.UserManager { return &Environment{} }},
		{Name: NoneName, Priority: 0, New: func() schemas.UserManager { return &None{} }},
	}
}

func navigate(ctx context.Context, req *schemas.LoginRequest) error {
	if req.Session == nil {
		return fmt.Errorf("login requires a browser session")
	}
	if req.CommonLogin == nil {
		return fmt.Errorf("login requires the common login flow")
	}
	if err := req.Session.Page().Navigate(ctx, req.DesiredURL); err != nil {
		return fmt.Errorf("opening %s: %w", req.DesiredURL, err)
	}
	return nil
}

// None opens the desired URL and waits for the application without signing in.
type None struct{}

func (*None) LoginAsUser(ctx context.Context, req *schemas.LoginRequest) error {
	if err := navigate(ctx, req); err != nil {
		return err
	}
	return req.CommonLogin(ctx, schemas.CommonLoginOptions{})
}

// Browser relies on a persisted browser profile. A signed-in profile lands on
// the desired URL directly; otherwise the account picker or email prompt is
// answered with the persona's email when one is configured.
type Browser struct{}

func (*Browser) LoginAsUser(ctx context.Context, req *schemas.LoginRequest) error {
	var email string
	if req.User.EmailKey != "" {
		var err error
		if email, err = req.Credential(req.User.EmailKey); err != nil {
			return err
		}
	}
	if err := navigate(ctx, req); err != nil {
		return err
	}
	return req.CommonLogin(ctx, schemas.CommonLoginOptions{Email: email})
}
