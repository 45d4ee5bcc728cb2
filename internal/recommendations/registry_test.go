package recommendations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/veloramed/telehealth-backend/pkg/errors"
)

func TestRegistryRecommend(t *testing.T) {
	registry := NewRegistry(DefaultFuncs())
	ctx := context.Background()

	result, err := registry.Recommend(ctx, "hair-loss", Request{
		Responses: map[string]any{"scalp_condition": false},
	})
	require.NoError(t, err)
	assert.True(t, result.CanPurchase)

	result, err = registry.Recommend(ctx, "Hair-Loss", Request{
		Responses: map[string]any{"scalp_condition": "yes"},
	})
	require.NoError(t, err)
	assert.False(t, result.CanPurchase)
	assert.Equal(t, "/consult/dermatology", result.RedirectPath)

	_, err = registry.Recommend(ctx, "dentistry", Request{})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestRegistryIsImmutable(t *testing.T) {
	funcs := map[string]Func{
		"hair-loss": func(Request) Result { return Result{CanPurchase: true} },
	}
	registry := NewRegistry(funcs)

	// Mutating the seed map after construction changes nothing.
	funcs["smuggled"] = func(Request) Result { return Result{} }
	delete(funcs, "hair-loss")

	assert.Equal(t, []string{"hair-loss"}, registry.Verticals())

	_, err := registry.Recommend(context.Background(), "smuggled", Request{})
	require.Error(t, err)
}
