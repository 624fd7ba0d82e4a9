package version

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/screenhub/internal/model"
)

func TestContentHash_KeyOrderInsensitive(t *testing.T) {
	a, err := ContentHash(doc(map[string]any{"x": 1, "y": map[string]any{"b": true, "a": nil}}))
	require.NoError(t, err)
	b, err := ContentHash(doc(map[string]any{"y": map[string]any{"a": nil, "b": true}, "x": 1}))
	require.NoError(t, err)
	c, err := ContentHash(doc(map[string]any{"x": 2}))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestDiff(t *testing.T) {
	oldDoc := doc(map[string]any{
		"title":  "Lobby",
		"theme":  map[string]any{"color": "blue", "font": "sans"},
		"items":  []any{"a", "b", "c"},
		"legacy": true,
		"layout": map[string]any{"cols": 2},
	})
	newDoc := doc(map[string]any{
		"title":   "Lobby",
		"theme":   map[string]any{"color": "red", "font": "sans", "size": 12},
		"items":   []any{"a", "x"},
		"layout":  "grid",
		"enabled": true,
	})

	entries := Diff(oldDoc, newDoc)

	type flat struct {
		typ  model.DiffType
		path string
	}
	got := make([]flat, len(entries))
	for i, e := range entries {
		got[i] = flat{e.Type, e.Path}
	}

	assert.Equal(t, []flat{
		{model.DiffAdded, "enabled"},
		{model.DiffModified, "items.1"},
		{model.DiffRemoved, "items.2"},
		{model.DiffModified, "layout"},
		{model.DiffRemoved, "legacy"},
		{model.DiffModified, "theme.color"},
		{model.DiffAdded, "theme.size"},
	}, got)

	color := entries[5]
	assert.Equal(t, "blue", color.OldValue.AsString())
	assert.Equal(t, "red", color.NewValue.AsString())

	assert.Empty(t, Diff(oldDoc, oldDoc.Clone()))
}

func TestDiff_Symmetry(t *testing.T) {
	a := doc(map[string]any{"k1": 1, "shared": map[string]any{"x": "old"}, "list": []any{1}})
	b := doc(map[string]any{"k2": 2, "shared": map[string]any{"x": "new"}, "list": []any{1, 2}})

	forward := Diff(a, b)
	backward := Diff(b, a)
	require.Len(t, backward, len(forward))

	byPath := make(map[string]model.DiffEntry)
	for _, e := range backward {
		byPath[e.Path] = e
	}

	for _, f := range forward {
		r, ok := byPath[f.Path]
		require.True(t, ok, f.Path)
		switch f.Type {
		case model.DiffAdded:
			assert.Equal(t, model.DiffRemoved, r.Type)
			assert.True(t, f.NewValue.Equal(*r.OldValue))
		case model.DiffRemoved:
			assert.Equal(t, model.DiffAdded, r.Type)
			assert.True(t, f.OldValue.Equal(*r.NewValue))
		case model.DiffModified:
			assert.Equal(t, model.DiffModified, r.Type)
			assert.True(t, f.OldValue.Equal(*r.NewValue))
			assert.True(t, f.NewValue.Equal(*r.OldValue))
		}
	}
}

func TestCompare(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 10)

	v1, _, err := s.CreateVersion(ctx, "lobby", doc(map[string]any{"a": 1}), model.VersionMetadata{})
	require.NoError(t, err)
	v2, _, err := s.CreateVersion(ctx, "lobby", doc(map[string]any{"a": 2, "b": 1}), model.VersionMetadata{})
	require.NoError(t, err)

	entries, err := s.Compare(ctx, "lobby", v1.ID, v2.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.DiffModified, entries[0].Type)
	assert.Equal(t, model.DiffAdded, entries[1].Type)

	_, err = s.Compare(ctx, "lobby", v1.ID, "missing")
	assert.Error(t, err)
}
