// Package plugins is the registration table of the built-in providers, user
// managers and modules.
package plugins

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/plancheck/internal/modules/networkmocks"
	"github.com/xkilldash9x/plancheck/internal/modules/utility"
	"github.com/xkilldash9x/plancheck/internal/providers/portal"
	"github.com/xkilldash9x/plancheck/internal/providers/web"
	"github.com/xkilldash9x/plancheck/internal/registry"
	"github.com/xkilldash9x/plancheck/internal/usermanagers"
)

// Register adds every built-in plugin to b.
func Register(b *registry.Builder, logger *zap.Logger) {
	b.RegisterProvider(web.Descriptor())
	b.RegisterProvider(portal.Descriptor())

	for _, d := range usermanagers.Descriptors() {
		b.RegisterUserManager(d)
	}

	b.RegisterModule(networkmocks.Descriptor(logger))
	b.RegisterModule(utility.Descriptor())
}

// NewRegistry builds a registry holding only the built-ins.
func NewRegistry(logger *zap.Logger) (*registry.Registry, error) {
	b := registry.NewBuilder(logger)
	Register(b, logger)
	return b.Build()
}
