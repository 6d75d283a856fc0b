package web

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/plancheck/api/schemas"
	"github.com/xkilldash9x/plancheck/internal/formula"
	"github.com/xkilldash9x/plancheck/internal/mocks"
)

func TestDescriptor(t *testing.T) {
	d := Descriptor()
	assert.Equal(t, "web", d.Name)
	assert.Equal(t, []string{"Web"}, d.Namespaces)
	assert.True(t, d.Supports(schemas.CapGenerateTestURL))
	assert.True(t, d.Supports(schemas.CapCheckIsIdle))

	_, err := d.New(schemas.ProviderDeps{})
	assert.Error(t, err, "a page is required")
}

func TestProvider_CheckIsIdle(t *testing.T) {
	page := new(mocks.MockPage)
	page.On("Evaluate", mock.Anything, idleScript, mock.Anything).
		Return(func(res interface{}) { *res.(*bool) = true }, nil).Once()
	page.On("Evaluate", mock.Anything, idleScript, mock.Anything).
		Return(nil, errors.New("navigating")).Once()

	p, err := New(schemas.ProviderDeps{Page: page})
	require.NoError(t, err)

	idle, err := p.CheckIsIdle(context.Background())
	require.NoError(t, err)
	assert.True(t, idle)

	idle, err = p.CheckIsIdle(context.Background())
	assert.Error(t, err)
	assert.False(t, idle)
}

func TestProvider_GenerateTestURL(t *testing.T) {
	p, err := New(schemas.ProviderDeps{Page: new(mocks.MockPage)})
	require.NoError(t, err)

	u, err := p.GenerateTestURL("shop.example", "lang=en")
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example?lang=en", u)
}

func TestProvider_DebugInfo(t *testing.T) {
	page := new(mocks.MockPage)
	page.On("URL", mock.Anything).Return("https://shop.example/cart", nil)
	page.On("Evaluate", mock.Anything, "document.title", mock.Anything).
		Return(func(res interface{}) { *res.(*string) = "Cart" }, nil)

	p, err := New(schemas.ProviderDeps{Page: page})
	require.NoError(t, err)

	info, err := p.DebugInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example/cart", info["url"])
	assert.Equal(t, "Cart", info["title"])
	assert.Equal(t, "web", info["provider"])
}

func TestProvider_FunctionsThroughEvaluator(t *testing.T) {
	page := new(mocks.MockPage)
	page.On("URL", mock.Anything).Return("https://shop.example/", nil)
	page.On("IsVisible", mock.Anything, "#basket").Return(true, nil)

	p, err := New(schemas.ProviderDeps{Page: page})
	require.NoError(t, err)

	eval := formula.New(formula.Config{ActiveProvider: Name})
	require.NoError(t, p.RegisterFunctions(eval))

	v, err := eval.Evaluate(context.Background(), `Web.Url()`)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example/", v)

	v, err = eval.Evaluate(context.Background(), `Web.Exists("#basket")`)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}
