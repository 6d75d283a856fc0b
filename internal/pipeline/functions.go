package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/xkilldash9x/plancheck/api/schemas"
	"github.com/xkilldash9x/plancheck/internal/formula"
)

// VariableSetter stores run variables.
type VariableSetter interface {
	SetVariable(name string, value interface{}) error
}

// CoreOptions bind the core functions to a run.
type CoreOptions struct {
	Provider   schemas.Provider
	Descriptor schemas.ProviderDescriptor
	Variables  VariableSetter
	// WaitTimeout bounds Wait; WaitInterval is its polling period.
	WaitTimeout  time.Duration
	WaitInterval time.Duration
}

// RegisterCoreFunctions binds Set, Assert, Select, SetProperty and Wait.
func RegisterCoreFunctions(reg schemas.FunctionRegistrar, opts CoreOptions) error {
	if opts.WaitInterval <= 0 {
		opts.WaitInterval = 250 * time.Millisecond
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 30 * time.Second
	}
	c := &core{opts: opts}
	for _, fn := range []schemas.Function{
		{Name: "Set", RefArgs: 1, Call: c.set},
		{Name: "Assert", Call: c.assert},
		{Name: "Select", RefArgs: 1, Call: c.selectControl},
		{Name: "SetProperty", RefArgs: 1, Call: c.setProperty},
		{Name: "Wait", RefArgs: 1, Call: c.wait},
	} {
		if err := reg.RegisterFunction(fn); err != nil {
			return fmt.Errorf("registering core function %s: %w", fn.Name, err)
		}
	}
	return nil
}

type core struct {
	opts CoreOptions
}

func arity(name string, args []interface{}, min int) error {
	if len(args) < min {
		return &formula.ConfigError{Reason: fmt.Sprintf("%s expects at least %d arguments, got %d", name, min, len(args))}
	}
	return nil
}

func refArg(name string, args []interface{}) (string, error) {
	ref, ok := args[0].(string)
	if !ok || ref == "" {
		return "", &formula.ConfigError{Reason: fmt.Sprintf("%s expects a name as its first argument", name)}
	}
	return ref, nil
}

func (c *core) require(capability schemas.Capability) error {
	if c.opts.Provider == nil || !c.opts.Descriptor.Supports(capability) {
		return &formula.ConfigError{
			Reason: fmt.Sprintf("provider %q does not support %s", c.opts.Descriptor.Name, capability),
			Err:    schemas.ErrCapabilityNotSupported,
		}
	}
	return nil
}

// set assigns a variable, or a control property when the name is dotted.
func (c *core) set(ctx context.Context, args []interface{}) (interface{}, error) {
	if err := arity("Set", args, 2); err != nil {
		return nil, err
	}
	ref, err := refArg("Set", args)
	if err != nil {
		return nil, err
	}
	path := schemas.ParseItemPath(ref)
	if path.Property != "" {
		return c.setProperty(ctx, args)
	}
	if c.opts.Variables == nil {
		return nil, fmt.Errorf("no variable environment for Set(%s)", ref)
	}
	if err := c.opts.Variables.SetVariable(ref, args[1]); err != nil {
		return nil, &formula.ConfigError{Reason: "invalid assignment", Err: err}
	}
	return true, nil
}

func (c *core) assert(_ context.Context, args []interface{}) (interface{}, error) {
	if err := arity("Assert", args, 1); err != nil {
		return nil, err
	}
	if truthy(args[0]) {
		return true, nil
	}
	msg := ""
	if len(args) > 1 && args[1] != nil {
		msg = fmt.Sprint(args[1])
	}
	return nil, &formula.AssertionError{Message: msg}
}

func (c *core) selectControl(ctx context.Context, args []interface{}) (interface{}, error) {
	if err := arity("Select", args, 1); err != nil {
		return nil, err
	}
	ref, err := refArg("Select", args)
	if err != nil {
		return nil, err
	}
	if err := c.require(schemas.CapSelectControl); err != nil {
		return nil, err
	}
	if err := c.opts.Provider.SelectControl(ctx, schemas.ParseItemPath(ref)); err != nil {
		return nil, fmt.Errorf("selecting %s: %w", ref, err)
	}
	return true, nil
}

func (c *core) setProperty(ctx context.Context, args []interface{}) (interface{}, error) {
	if err := arity("SetProperty", args, 2); err != nil {
		return nil, err
	}
	ref, err := refArg("SetProperty", args)
	if err != nil {
		return nil, err
	}
	path := schemas.ParseItemPath(ref)
	if path.Property == "" {
		return nil, &formula.ConfigError{Reason: fmt.Sprintf("SetProperty expects Control.Property, got %q", ref)}
	}
	if err := c.require(schemas.CapSetProperty); err != nil {
		return nil, err
	}
	if err := c.opts.Provider.SetProperty(ctx, path, args[1]); err != nil {
		return nil, fmt.Errorf("setting %s: %w", path, err)
	}
	return true, nil
}

// wait polls Control.Property until it equals the expected value.
func (c *core) wait(ctx context.Context, args []interface{}) (interface{}, error) {
	if err := arity("Wait", args, 3); err != nil {
		return nil, err
	}
	ref, err := refArg("Wait", args)
	if err != nil {
		return nil, err
	}
	if err := c.require(schemas.CapGetProperty); err != nil {
		return nil, err
	}
	path := schemas.ItemPath{Control: ref, Property: fmt.Sprint(args[1])}
	want := args[2]

	deadline := time.Now().Add(c.opts.WaitTimeout)
	var last interface{}
	for {
		got, err := c.opts.Provider.GetProperty(ctx, path)
		if err == nil {
			last = got
			if looselyEqual(got, want) {
				return true, nil
			}
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("waited %s for %s to become %v, last value %v", c.opts.WaitTimeout, path, want, last)
		}
		sleep := c.opts.WaitInterval
		if remaining < sleep {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int64:
		return x != 0
	case float64:
		return x != 0
	default:
		return true
	}
}

// looselyEqual compares values the way formula equality does: numbers by
// value, everything else by its string form.
func looselyEqual(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	return 0, false
}
