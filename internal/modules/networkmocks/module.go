// Package networkmocks is the extension module that installs the network mocks
// of a plan and lets steps inspect how often they were hit.
package networkmocks

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/plancheck/api/schemas"
	"github.com/xkilldash9x/plancheck/internal/netmock"
)

const Name = "netmock"

// Descriptor returns the registration metadata of the module.
func Descriptor(logger *zap.Logger) schemas.ModuleDescriptor {
	return schemas.ModuleDescriptor{
		Name: Name,
		New: func() schemas.Module {
			return &Module{registrar: netmock.NewRegistrar(logger)}
		},
	}
}

// Module adapts the netmock Registrar to the module contract.
type Module struct {
	registrar *netmock.Registrar
}

var _ schemas.Module = (*Module)(nil)

func (m *Module) ExtendBrowserContextOptions(*schemas.SessionOptions, schemas.TestSettings) {}

// RegisterFunctions adds MockHits(requestURL[, method]), the number of requests
// the mocks with that pattern have answered. Without a method the counts of
// every method registered for the pattern are summed.
func (m *Module) RegisterFunctions(reg schemas.FunctionRegistrar, run *schemas.RunContext) error {
	return reg.RegisterFunction(schemas.Function{
		Name: "MockHits",
		Call: func(_ context.Context, args []interface{}) (interface{}, error) {
			if len(args) < 1 || len(args) > 2 {
				return nil, fmt.Errorf("MockHits expects the requestURL of a mock and an optional method")
			}
			requestURL := fmt.Sprint(args[0])
			if len(args) == 2 {
				v, ok := run.Settings.Get(netmock.HitKey(fmt.Sprint(args[1]), requestURL))
				if !ok {
					return nil, fmt.Errorf("no %v network mock is registered for %q", args[1], requestURL)
				}
				return v, nil
			}

			total, found := 0, false
			for _, key := range run.Settings.Keys() {
				rest, ok := strings.CutPrefix(key, schemas.MockHitKeyPrefix)
				if !ok {
					continue
				}
				if _, u, _ := strings.Cut(rest, " "); u != requestURL {
					continue
				}
				v, _ := run.Settings.Get(key)
				n, _ := v.(int)
				total += n
				found = true
			}
			if !found {
				return nil, fmt.Errorf("no network mock is registered for %q", requestURL)
			}
			return total, nil
		},
	})
}

// RegisterNetworkRoute installs every mock it is offered.
func (m *Module) RegisterNetworkRoute(ctx context.Context, run *schemas.RunContext, session schemas.Session, mock schemas.NetworkMock) (bool, error) {
	if err := m.registrar.Register(ctx, run, session, mock); err != nil {
		return false, err
	}
	return true, nil
}
