// Package registry indexes the providers, user managers and extension modules
// known to the host and resolves them per run. A Registry is immutable once
// built and safe for concurrent reads.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/plancheck/api/schemas"
)

// ProviderNotFoundError reports a provider name that matches no registration.
type ProviderNotFoundError struct {
	Name  string
	Known []string
}

func (e *ProviderNotFoundError) Error() string {
	return fmt.Sprintf("provider %q is not registered (known: %s)", e.Name, strings.Join(e.Known, ", "))
}

// UserManagerNotFoundError reports a user manager name that matches no registration.
type UserManagerNotFoundError struct {
	Name  string
	Known []string
}

func (e *UserManagerNotFoundError) Error() string {
	if e.Name == "" {
		return "no user manager is registered"
	}
	return fmt.Sprintf("user manager %q is not registered (known: %s)", e.Name, strings.Join(e.Known, ", "))
}

// NamespaceNotClaimedError reports a formula namespace no provider claims.
type NamespaceNotClaimedError struct {
	Namespace string
}

func (e *NamespaceNotClaimedError) Error() string {
	return fmt.Sprintf("function namespace %q is not claimed by any provider", e.Namespace)
}

// ModuleNotFoundError reports an allow-listed module that is not registered.
type ModuleNotFoundError struct {
	Name string
}

func (e *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("extension module %q is not registered", e.Name)
}

// Builder collects registrations before the registry is frozen. Registering the
// same name twice is a programming error and panics.
type Builder struct {
	logger       *zap.Logger
	providers    []schemas.ProviderDescriptor
	userManagers []schemas.UserManagerDescriptor
	modules      []schemas.ModuleDescriptor
	seen         map[string]struct{}
}

// NewBuilder returns an empty Builder.
func NewBuilder(logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		logger: logger.Named("registry"),
		seen:   make(map[string]struct{}),
	}
}

func (b *Builder) claim(kind, name string) {
	key := kind + "/" + strings.ToLower(name)
	if _, exists := b.seen[key]; exists {
		panic(fmt.Sprintf("%s with name '%s' already registered", kind, name))
	}
	b.seen[key] = struct{}{}
}

// RegisterProvider adds a provider descriptor.
func (b *Builder) RegisterProvider(d schemas.ProviderDescriptor) {
	b.claim("provider", d.Name)
	b.logger.Debug("Registering provider.", zap.String("name", d.Name), zap.Strings("namespaces", d.Namespaces))
	b.providers = append(b.providers, d)
}

// RegisterUserManager adds a user manager descriptor.
func (b *Builder) RegisterUserManager(d schemas.UserManagerDescriptor) {
	b.claim("user manager", d.Name)
	b.logger.Debug("Registering user manager.", zap.String("name", d.Name), zap.Int("priority", d.Priority))
	b.userManagers = append(b.userManagers, d)
}

// RegisterModule adds an extension module descriptor.
func (b *Builder) RegisterModule(d schemas.ModuleDescriptor) {
	b.claim("module", d.Name)
	b.logger.Debug("Registering module.", zap.String("name", d.Name))
	b.modules = append(b.modules, d)
}

// Build validates the registrations and freezes them into a Registry. All
// problems are reported together.
func (b *Builder) Build() (*Registry, error) {
	var errs []error
	namespaces := make(map[string]int)

	for i, p := range b.providers {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("provider #%d has no name", i))
		}
		if p.New == nil {
			errs = append(errs, fmt.Errorf("provider '%s' has no factory", p.Name))
		}
		for _, ns := range p.Namespaces {
			key := strings.ToLower(ns)
			if owner, taken := namespaces[key]; taken {
				errs = append(errs, fmt.Errorf("namespace '%s' is claimed by both '%s' and '%s'", ns, b.providers[owner].Name, p.Name))
				continue
			}
			namespaces[key] = i
		}
	}
	for i, m := range b.userManagers {
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("user manager #%d has no name", i))
		}
		if m.New == nil {
			errs = append(errs, fmt.Errorf("user manager '%s' has no factory", m.Name))
		}
	}
	for i, m := range b.modules {
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("module #%d has no name", i))
		}
		if m.New == nil {
			errs = append(errs, fmt.Errorf("module '%s' has no factory", m.Name))
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("registry validation failed: %w", errors.Join(errs...))
	}

	r := &Registry{
		providers:    append([]schemas.ProviderDescriptor(nil), b.providers...),
		userManagers: append([]schemas.UserManagerDescriptor(nil), b.userManagers...),
		modules:      append([]schemas.ModuleDescriptor(nil), b.modules...),
		namespaces:   namespaces,
	}
	b.logger.Info("Plugin registry built.",
		zap.Int("providers", len(r.providers)),
		zap.Int("user_managers", len(r.userManagers)),
		zap.Int("modules", len(r.modules)),
	)
	return r, nil
}

// Registry is the frozen set of registrations.
type Registry struct {
	providers    []schemas.ProviderDescriptor
	userManagers []schemas.UserManagerDescriptor
	modules      []schemas.ModuleDescriptor
	// namespaces maps a lower-cased namespace to an index into providers.
	namespaces map[string]int
}

// ResolveProvider finds a provider by name, ignoring case.
func (r *Registry) ResolveProvider(name string) (schemas.ProviderDescriptor, error) {
	for _, p := range r.providers {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return schemas.ProviderDescriptor{}, &ProviderNotFoundError{Name: name, Known: r.ProviderNames()}
}

// ResolveUserManager finds a user manager by name, ignoring case. An empty name
// selects the highest priority manager; ties go to the earliest registration.
func (r *Registry) ResolveUserManager(name string) (schemas.UserManagerDescriptor, error) {
	if strings.TrimSpace(name) == "" {
		best := -1
		for i, m := range r.userManagers {
			if best < 0 || m.Priority > r.userManagers[best].Priority {
				best = i
			}
		}
		if best < 0 {
			return schemas.UserManagerDescriptor{}, &UserManagerNotFoundError{}
		}
		return r.userManagers[best], nil
	}
	for _, m := range r.userManagers {
		if strings.EqualFold(m.Name, name) {
			return m, nil
		}
	}
	return schemas.UserManagerDescriptor{}, &UserManagerNotFoundError{Name: name, Known: r.UserManagerNames()}
}

// RouteFunctionNamespace returns the provider claiming ns, ignoring case.
func (r *Registry) RouteFunctionNamespace(ns string) (schemas.ProviderDescriptor, error) {
	i, ok := r.namespaces[strings.ToLower(ns)]
	if !ok {
		return schemas.ProviderDescriptor{}, &NamespaceNotClaimedError{Namespace: ns}
	}
	return r.providers[i], nil
}

// Modules returns the registered modules in registration order. A non-empty
// allow list restricts the result to the named modules.
func (r *Registry) Modules(allow []string) ([]schemas.ModuleDescriptor, error) {
	if len(allow) == 0 {
		return append([]schemas.ModuleDescriptor(nil), r.modules...), nil
	}
	wanted := make(map[string]bool, len(allow))
	for _, name := range allow {
		wanted[strings.ToLower(name)] = false
	}
	var out []schemas.ModuleDescriptor
	for _, m := range r.modules {
		key := strings.ToLower(m.Name)
		if _, ok := wanted[key]; ok {
			wanted[key] = true
			out = append(out, m)
		}
	}
	for _, name := range allow {
		if !wanted[strings.ToLower(name)] {
			return nil, &ModuleNotFoundError{Name: name}
		}
	}
	return out, nil
}

// Providers returns all provider descriptors in registration order.
func (r *Registry) Providers() []schemas.ProviderDescriptor {
	return append([]schemas.ProviderDescriptor(nil), r.providers...)
}

// UserManagers returns all user manager descriptors, highest priority first.
func (r *Registry) UserManagers() []schemas.UserManagerDescriptor {
	out := append([]schemas.UserManagerDescriptor(nil), r.userManagers...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// ProviderNames lists provider names in registration order.
func (r *Registry) ProviderNames() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name)
	}
	return names
}

// UserManagerNames lists user manager names in registration order.
func (r *Registry) UserManagerNames() []string {
	names := make([]string, 0, len(r.userManagers))
	for _, m := range r.userManagers {
		names = append(names, m.Name)
	}
	return names
}
