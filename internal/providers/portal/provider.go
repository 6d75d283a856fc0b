// Package portal is the provider for model-driven portal applications. The
// portal shell renders a loading overlay until the app is interactive, and
// each control is tagged with data-control-name.
package portal

import (
	"context"
	"fmt"
	"net/url"

	"github.com/xkilldash9x/plancheck/api/schemas"
	"github.com/xkilldash9x/plancheck/internal/providers/pagemodel"
)

const (
	Name      = "portal"
	Namespace = "Portal"
)

const discoverScript = `(() => {
  const out = [];
  for (const el of document.querySelectorAll('[data-control-name]')) {
    const name = el.getAttribute('data-control-name');
    out.push({
      name: name,
      type: el.getAttribute('data-control-type') || el.tagName.toLowerCase(),
      selector: '[data-control-name="' + CSS.escape(name) + '"]'
    });
  }
  return out;
})()`

// idleScript is true once the document is loaded, the loading shell is gone
// and the app has not flagged pending work.
const idleScript = `(() => {
  if (document.readyState !== "complete") return false;
  const shell = document.querySelector('#portal-loading-shell, .portal-loading');
  if (shell && shell.getBoundingClientRect().height > 0) return false;
  return !(window.portalApp && window.portalApp.busy === true);
})()`

const sessionScript = `(() => ({
  appId: (window.portalApp && window.portalApp.id) || '',
  sessionId: (window.portalApp && window.portalApp.sessionId) || '',
  version: (window.portalApp && window.portalApp.version) || ''
}))()`

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

// Provider drives a portal application.
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
		return nil, fmt.Errorf("portal provider requires a page")
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

// GenerateTestURL addresses the app by logical name inside the target
// environment and tenant.
func (p *Provider) GenerateTestURL(domain, extraParams string) (string, error) {
	if p.target.AppLogicalName == "" {
		return "", fmt.Errorf("portal provider requires an app logical name")
	}
	params := url.Values{}
	if p.target.EnvironmentID != "" {
		params.Set("environment-id", p.target.EnvironmentID)
	}
	if p.target.TenantID != "" {
		params.Set("tenant-id", p.target.TenantID)
	}
	return pagemodel.BuildURL(domain, "play/"+url.PathEscape(p.target.AppLogicalName), params, extraParams)
}

type sessionInfo struct {
	AppID     string `json:"appId"`
	SessionID string `json:"sessionId"`
	Version   string `json:"version"`
}

func (p *Provider) DebugInfo(ctx context.Context) (map[string]interface{}, error) {
	info := map[string]interface{}{
		"provider":       Name,
		"appLogicalName": p.target.AppLogicalName,
		"environmentId":  p.target.EnvironmentID,
		"tenantId":       p.target.TenantID,
		"controls":       p.model.Count(),
	}
	var s sessionInfo
	if err := p.page.Evaluate(ctx, sessionScript, &s); err != nil {
		return info, fmt.Errorf("reading portal session: %w", err)
	}
	info["appId"] = s.AppID
	info["sessionId"] = s.SessionID
	info["version"] = s.Version
	return info, nil
}

// RegisterFunctions adds Portal.AppName(), Portal.Environment() and
// Portal.Refresh(), which rediscovers the controls and binds them for the
// following steps.
func (p *Provider) RegisterFunctions(reg schemas.FunctionRegistrar) error {
	fns := []schemas.Function{
		{Name: "AppName", Call: func(context.Context, []interface{}) (interface{}, error) {
			return p.target.AppLogicalName, nil
		}},
		{Name: "Environment", Call: func(context.Context, []interface{}) (interface{}, error) {
			return p.target.EnvironmentID, nil
		}},
		{Name: "Refresh", Call: func(ctx context.Context, _ []interface{}) (interface{}, error) {
			model, err := p.model.Load(ctx)
			if err != nil {
				return nil, err
			}
			if err := reg.BindControls(model); err != nil {
				return nil, fmt.Errorf("binding refreshed controls: %w", err)
			}
			return p.model.Count(), nil
		}},
	}
	for _, fn := range fns {
		if err := reg.RegisterNamespaceFunction(Namespace, fn); err != nil {
			return err
		}
	}
	return nil
}
