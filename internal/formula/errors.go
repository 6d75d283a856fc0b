package formula

import (
	"fmt"
)

// ConfigError reports a statement that can never succeed as written: a syntax
// error, an unknown name or an unclaimed function namespace. It is fatal for the
// run and never retried.
type ConfigError struct {
	Statement string
	Reason    string
	Err       error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid statement %q: %s: %v", e.Statement, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid statement %q: %s", e.Statement, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// AssertionError is raised by Assert when its condition does not hold.
type AssertionError struct {
	Message string
}

func (e *AssertionError) Error() string {
	if e.Message == "" {
		return "assertion failed"
	}
	return "assertion failed: " + e.Message
}
