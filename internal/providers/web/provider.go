// Package web is the generic provider for plain web applications. Controls are
// elements carrying an id or a data-test-id attribute.
package web

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/plancheck/api/schemas"
	"github.com/xkilldash9x/plancheck/internal/providers/pagemodel"
)

// Name is the registration name of the provider.
const Name = "web"

// Namespace is the formula namespace claimed by the provider.
const Namespace = "Web"

const discoverScript = `(() => {
  const out = [];
  for (const el of document.querySelectorAll('[data-test-id], [id]')) {
    const testId = el.getAttribute('data-test-id');
    const name = testId || el.id;
    if (!name) continue;
    const attr = testId ? 'data-test-id' : 'id';
    out.push({name: name, type: el.tagName.toLowerCase(), selector: '[' + attr + '="' + CSS.escape(name) + '"]'});
  }
  return out;
})()`

const idleScript = `document.readyState === "complete"`

// Descriptor returns the registration metadata of the provider.
func Descriptor() schemas.ProviderDescriptor {
	return schemas.ProviderDescriptor{
		Name:       Name,
		Namespaces: []string{Namespace},
		Capabilities: []schemas.Capability{
			schemas.CapCheckIsIdle,
			schemas.CapLoadObjectModel,
			schemas.CapSelectControl,
			schemas.CapSetProperty,
			schemas.CapGetProperty,
			schemas.CapGenerateTestURL,
			schemas.CapDebugInfo,
		},
		New: New,
	}
}

// Provider drives a plain web page.
type Provider struct {
	schemas.UnimplementedProvider
	page   schemas.Page
	target schemas.TargetInfo
	model  *pagemodel.Model
}

var _ schemas.Provider = (*Provider)(nil)

// New creates the provider for one run.
func New(deps schemas.ProviderDeps) (schemas.Provider, error) {
	if deps.Page == nil {
		return nil, fmt.Errorf("web provider requires a page")
	}
	return &Provider{
		page:   deps.Page,
		target: deps.Target,
		model:  pagemodel.New(deps.Page, discoverScript),
	}, nil
}

func (p *Provider) CheckIsIdle(ctx context.Context) (bool, error) {
	var idle bool
	if err := p.page.Evaluate(ctx, idleScript, &idle); err != nil {
		return false, err
	}
	return idle, nil
}

func (p *Provider) LoadObjectModel(ctx context.Context) (map[string]schemas.ControlRecord, error) {
	return p.model.Load(ctx)
}

func (p *Provider) SelectControl(ctx context.Context, path schemas.ItemPath) error {
	return p.model.Select(ctx, path)
}

func (p *Provider) SetProperty(ctx context.Context, path schemas.ItemPath, value interface{}) error {
	return p.model.Set(ctx, path, value)
}

func (p *Provider) GetProperty(ctx context.Context, path schemas.ItemPath) (interface{}, error) {
	return p.model.Get(ctx, path)
}

// GenerateTestURL returns the application root with extraParams appended.
func (p *Provider) GenerateTestURL(domain, extraParams string) (string, error) {
	return pagemodel.BuildURL(domain, "", nil, extraParams)
}

func (p *Provider) DebugInfo(ctx context.Context) (map[string]interface{}, error) {
	info := map[string]interface{}{
		"provider": Name,
		"controls": p.model.Count(),
	}
	if u, err := p.page.URL(ctx); err == nil {
		info["url"] = u
	}
	var title string
	if err := p.page.Evaluate(ctx, "document.title", &title); err == nil {
		info["title"] = title
	}
	return info, nil
}

// RegisterFunctions adds Web.Url(), Web.Title() and Web.Exists(selector).
func (p *Provider) RegisterFunctions(reg schemas.FunctionRegistrar) error {
	fns := []schemas.Function{
		{Name: "Url", Call: func(ctx context.Context, _ []interface{}) (interface{}, error) {
			return p.page.URL(ctx)
		}},
		{Name: "Title", Call: func(ctx context.Context, _ []interface{}) (interface{}, error) {
			var title string
			err := p.page.Evaluate(ctx, "document.title", &title)
			return title, err
		}},
		{Name: "Exists", Call: func(ctx context.Context, args []interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("Web.Exists expects a selector")
			}
			return p.page.IsVisible(ctx, fmt.Sprint(args[0]))
		}},
	}
	for _, fn := range fns {
		if err := reg.RegisterNamespaceFunction(Namespace, fn); err != nil {
			return err
		}
	}
	return nil
}
