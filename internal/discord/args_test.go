package discord

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
	"github.com/oatsaysai/general-store-in-discord/internal/models"
)

func TestParseItemArg(t *testing.T) {
	ref, err := parseItemArg("`core:torch`")
	require.NoError(t, err)
	assert.Equal(t, models.ItemRef{PackID: "core", ItemID: "torch"}, ref)

	_, err = parseItemArg("torch")
	assert.True(t, errors.Is(err, apperr.ErrInvalidItem))
}

func TestQuantityAt(t *testing.T) {
	args := []string{"!buy", "core:torch", "4"}

	qty, err := quantityAt(args, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, qty)

	qty, err = quantityAt(args, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, qty)

	for _, bad := range []string{"0", "-2", "many"} {
		_, err = quantityAt([]string{bad}, 0, 1)
		assert.True(t, errors.Is(err, apperr.ErrInvalidQuantity), bad)
	}
}

func TestParseGold(t *testing.T) {
	tests := []struct {
		in   []string
		want float64
	}{
		{[]string{"2"}, 2},
		{[]string{"1.5gp"}, 1.5},
		{[]string{"3", "sp"}, 0.3},
		{[]string{"1", "gp", "5", "cp"}, 1.05},
	}
	for _, tt := range tests {
		got, err := parseGold(tt.in)
		require.NoError(t, err, tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, tt.in)
	}

	_, err := parseGold([]string{"lots"})
	assert.True(t, errors.Is(err, apperr.ErrBadRequest))
	_, err = parseGold([]string{"0"})
	assert.Error(t, err)
}

func TestParseFilters(t *testing.T) {
	f, err := parseFilters(models.CatalogFilters{Traits: []string{"magical"}}, []string{"level", "1-5", "rarity", "common,rare"})
	require.NoError(t, err)
	require.NotNil(t, f.MinLevel)
	require.NotNil(t, f.MaxLevel)
	assert.Equal(t, 1, *f.MinLevel)
	assert.Equal(t, 5, *f.MaxLevel)
	assert.Equal(t, []string{"common", "rare"}, f.Rarities)
	assert.Equal(t, []string{"magical"}, f.Traits, "unnamed keys keep their value")

	f, err = parseFilters(f, []string{"maxlevel", "*", "traits", "*"})
	require.NoError(t, err)
	assert.Nil(t, f.MaxLevel)
	assert.Nil(t, f.Traits)
	assert.Equal(t, 1, *f.MinLevel)

	f, err = parseFilters(models.CatalogFilters{}, []string{"level", "3"})
	require.NoError(t, err)
	assert.Equal(t, 3, *f.MinLevel)
	assert.Equal(t, 3, *f.MaxLevel)
}

func TestParseFilters_Rejects(t *testing.T) {
	for _, args := range [][]string{
		{"level"},
		{"colour", "red"},
		{"level", "5-1"},
		{"minlevel", "x"},
	} {
		_, err := parseFilters(models.CatalogFilters{}, args)
		assert.True(t, errors.Is(err, apperr.ErrBadRequest), args)
	}
}

func TestOverlayLink(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/ws?token=abc", overlayLink("ws://localhost:8080/ws", "abc"))
	assert.Equal(t, "https://shop.example/ws?room=1&token=abc", overlayLink("https://shop.example/ws?room=1", "abc"))
	assert.Equal(t, "token=abc", overlayLink("", "abc"))
}
