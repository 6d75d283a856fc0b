package portal

import (
	"context"
	"errors"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/plancheck/api/schemas"
	"github.com/xkilldash9x/plancheck/internal/formula"
	"github.com/xkilldash9x/plancheck/internal/mocks"
)

func target() schemas.TargetInfo {
	return schemas.TargetInfo{Domain: "apps.example", AppLogicalName: "sales_hub", EnvironmentID: "env-1", TenantID: "tenant-1"}
}

func TestProvider_GenerateTestURL(t *testing.T) {
	p, err := New(schemas.ProviderDeps{Page: new(mocks.MockPage), Target: target()})
	require.NoError(t, err)

	u, err := p.GenerateTestURL("apps.example", "&debug=1")
	require.NoError(t, err)
	assert.Equal(t, "https://apps.example/play/sales_hub?debug=1&environment-id=env-1&tenant-id=tenant-1", u)

	noApp, err := New(schemas.ProviderDeps{Page: new(mocks.MockPage)})
	require.NoError(t, err)
	_, err = noApp.GenerateTestURL("apps.example", "")
	assert.ErrorContains(t, err, "app logical name")
}

func TestProvider_DebugInfo(t *testing.T) {
	t.Run("includes the portal session", func(t *testing.T) {
		page := new(mocks.MockPage)
		page.On("Evaluate", mock.Anything, sessionScript, mock.Anything).Return(func(res interface{}) {
			*res.(*sessionInfo) = sessionInfo{AppID: "a1", SessionID: "s1", Version: "9.2"}
		}, nil)

		p, err := New(schemas.ProviderDeps{Page: page, Target: target()})
		require.NoError(t, err)

		info, err := p.DebugInfo(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "s1", info["sessionId"])
		assert.Equal(t, "sales_hub", info["appLogicalName"])
	})

	t.Run("keeps the target info when the page cannot answer", func(t *testing.T) {
		page := new(mocks.MockPage)
		page.On("Evaluate", mock.Anything, sessionScript, mock.Anything).Return(nil, errors.New("detached"))

		p, err := New(schemas.ProviderDeps{Page: page, Target: target()})
		require.NoError(t, err)

		info, err := p.DebugInfo(context.Background())
		assert.Error(t, err)
		assert.Equal(t, "env-1", info["environmentId"])
	})
}

func TestProvider_FunctionsThroughEvaluator(t *testing.T) {
	p, err := New(schemas.ProviderDeps{Page: new(mocks.MockPage), Target: target()})
	require.NoError(t, err)

	eval := formula.New(formula.Config{ActiveProvider: Name})
	require.NoError(t, p.RegisterFunctions(eval))

	v, err := eval.Evaluate(context.Background(), `Portal.AppName() = "sales_hub"`)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestProvider_RefreshBindsNewControls(t *testing.T) {
	page := new(mocks.MockPage)
	page.On("Evaluate", mock.Anything, discoverScript, mock.Anything).Return(func(res interface{}) {
		doc := `[{"name":"Grid","type":"div","selector":"[data-control-name='Grid']"}]`
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(doc, res); err != nil {
			panic(err)
		}
	}, nil)

	p, err := New(schemas.ProviderDeps{Page: page, Target: target()})
	require.NoError(t, err)

	var read []schemas.ItemPath
	eval := formula.New(formula.Config{
		ActiveProvider: Name,
		ReadProperty: func(_ context.Context, path schemas.ItemPath) (interface{}, error) {
			read = append(read, path)
			return "ready", nil
		},
	})
	require.NoError(t, p.RegisterFunctions(eval))

	_, err = eval.Evaluate(context.Background(), `Grid.Text`)
	var ce *formula.ConfigError
	require.ErrorAs(t, err, &ce, "Grid is unknown before the refresh")

	v, err := eval.Evaluate(context.Background(), `Portal.Refresh()`)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)

	v, err = eval.Evaluate(context.Background(), `Grid.Text`)
	require.NoError(t, err)
	assert.Equal(t, "ready", v)
	assert.Equal(t, []schemas.ItemPath{{Control: "Grid", Property: "Text"}}, read)
}
