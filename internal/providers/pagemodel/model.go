// Package pagemodel implements control discovery and property access on a live
// page for providers whose controls are plain DOM elements.
package pagemodel

import (
	"context"
	"fmt"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/plancheck/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StandardProperties are readable on every discovered control.
var StandardProperties = []string{"Text", "Value", "Visible", "Disabled", "Checked"}

// ControlNotFoundError reports a control missing from the object model or the page.
type ControlNotFoundError struct {
	Name string
}

func (e *ControlNotFoundError) Error() string {
	return fmt.Sprintf("control %q was not found on the page", e.Name)
}

// discovered is the shape returned by a discovery script.
type discovered struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Selector string `json:"selector"`
}

// Model caches the controls of the current page.
type Model struct {
	page     schemas.Page
	discover string

	mu       sync.Mutex
	controls map[string]schemas.ControlRecord
}

// New creates a model. discoverScript must evaluate to an array of
// {name, type, selector} objects.
func New(page schemas.Page, discoverScript string) *Model {
	return &Model{page: page, discover: discoverScript, controls: map[string]schemas.ControlRecord{}}
}

// Load rediscovers the controls of the page.
func (m *Model) Load(ctx context.Context) (map[string]schemas.ControlRecord, error) {
	var found []discovered
	if err := m.page.Evaluate(ctx, m.discover, &found); err != nil {
		return nil, fmt.Errorf("discovering controls: %w", err)
	}

	controls := make(map[string]schemas.ControlRecord, len(found))
	for _, d := range found {
		if d.Name == "" || d.Selector == "" {
			continue
		}
		// First occurrence wins for duplicated names.
		if _, dup := controls[d.Name]; dup {
			continue
		}
		controls[d.Name] = schemas.ControlRecord{
			Name:       d.Name,
			Type:       d.Type,
			Selector:   d.Selector,
			Properties: StandardProperties,
		}
	}

	m.mu.Lock()
	m.controls = controls
	m.mu.Unlock()

	out := make(map[string]schemas.ControlRecord, len(controls))
	for k, v := range controls {
		out[k] = v
	}
	return out, nil
}

// Lookup returns the named control, reloading the model once when it is unknown.
func (m *Model) Lookup(ctx context.Context, name string) (schemas.ControlRecord, error) {
	m.mu.Lock()
	rec, ok := m.controls[name]
	m.mu.Unlock()
	if ok {
		return rec, nil
	}
	controls, err := m.Load(ctx)
	if err != nil {
		return schemas.ControlRecord{}, err
	}
	if rec, ok := controls[name]; ok {
		return rec, nil
	}
	return schemas.ControlRecord{}, &ControlNotFoundError{Name: name}
}

// Count reports the number of cached controls.
func (m *Model) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.controls)
}

// Select clicks the control.
func (m *Model) Select(ctx context.Context, path schemas.ItemPath) error {
	rec, err := m.Lookup(ctx, path.Control)
	if err != nil {
		return err
	}
	return m.page.Click(ctx, rec.Selector)
}

const getScript = `(function(sel, prop) {
	const el = document.querySelector(sel);
	if (!el) { return {found: false}; }
	switch (prop) {
	case 'Text': return {found: true, value: (el.innerText || el.textContent || '').trim()};
	case 'Value': return {found: true, value: ('value' in el) ? el.value : el.getAttribute('value')};
	case 'Visible': {
		const r = el.getBoundingClientRect();
		const s = window.getComputedStyle(el);
		return {found: true, value: r.width > 0 && r.height > 0 && s.visibility !== 'hidden' && s.display !== 'none'};
	}
	case 'Disabled': return {found: true, value: !!el.disabled || el.getAttribute('aria-disabled') === 'true'};
	case 'Checked': return {found: true, value: !!el.checked || el.getAttribute('aria-checked') === 'true'};
	default: return {found: true, value: el.getAttribute(prop)};
	}
})(%s, %s)`

const setScript = `(function(sel, prop, value) {
	const el = document.querySelector(sel);
	if (!el) { return false; }
	if (prop === 'Checked') {
		if (!!el.checked !== !!value) { el.click(); }
		return true;
	}
	if (prop === 'Disabled') { el.disabled = !!value; return true; }
	el.setAttribute(prop, String(value));
	return true;
})(%s, %s, %s)`

type getResult struct {
	Found bool        `json:"found"`
	Value interface{} `json:"value"`
}

// Get reads a property. An empty property reads Text.
func (m *Model) Get(ctx context.Context, path schemas.ItemPath) (interface{}, error) {
	rec, err := m.Lookup(ctx, path.Control)
	if err != nil {
		return nil, err
	}
	prop := path.Property
	if prop == "" {
		prop = "Text"
	}
	script, err := call(getScript, rec.Selector, prop)
	if err != nil {
		return nil, err
	}
	var res getResult
	if err := m.page.Evaluate(ctx, script, &res); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if !res.Found {
		return nil, &ControlNotFoundError{Name: path.Control}
	}
	return res.Value, nil
}

// Set writes a property. Text and Value are typed into the element so the
// page sees real input events.
func (m *Model) Set(ctx context.Context, path schemas.ItemPath, value interface{}) error {
	rec, err := m.Lookup(ctx, path.Control)
	if err != nil {
		return err
	}
	switch strings.ToLower(path.Property) {
	case "", "text", "value":
		return m.page.Fill(ctx, rec.Selector, fmt.Sprint(value))
	}
	script, err := call(setScript, rec.Selector, path.Property, value)
	if err != nil {
		return err
	}
	var ok bool
	if err := m.page.Evaluate(ctx, script, &ok); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if !ok {
		return &ControlNotFoundError{Name: path.Control}
	}
	return nil
}

// call formats a script with JSON-encoded arguments.
func call(format string, args ...interface{}) (string, error) {
	encoded := make([]interface{}, len(args))
	for i, a := range args {
		s, err := json.MarshalToString(a)
		if err != nil {
			return "", fmt.Errorf("encoding script argument: %w", err)
		}
		encoded[i] = s
	}
	return fmt.Sprintf(format, encoded...), nil
}
