package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDocument_MarshalJSONSortsKeys(t *testing.T) {
	a := MustFromAny(map[string]any{"b": 1, "a": map[string]any{"z": true, "y": nil}})
	b := MustFromAny(map[string]any{"a": map[string]any{"y": nil, "z": true}, "b": 1.0})

	ja, err := json.Marshal(a)
	require.NoError(t, err)
	jb, err := json.Marshal(b)
	require.NoError(t, err)

	assert.Equal(t, `{"a":{"y":null,"z":true},"b":1}`, string(ja))
	assert.Equal(t, ja, jb)
}

func TestDocument_JSONRoundTrip(t *testing.T) {
	input := `{"title":"Home","items":[1,"two",{"three":3}],"enabled":false,"extra":null}`

	var doc Document
	require.NoError(t, json.Unmarshal([]byte(input), &doc))
	assert.Equal(t, KindMap, doc.Kind())

	items, ok := doc.Get("items")
	require.True(t, ok)
	assert.Equal(t, 3, items.Len())

	out, err := json.Marshal(doc)
	require.NoError(t, err)

	var again Document
	require.NoError(t, json.Unmarshal(out, &again))
	assert.True(t, doc.Equal(again))
}

func TestDocument_UnmarshalYAML(t *testing.T) {
	input := `
title: Home
layout:
  columns: 3
  widgets: [clock, weather]
`
	var doc Document
	require.NoError(t, yaml.Unmarshal([]byte(input), &doc))

	layout, ok := doc.Get("layout")
	require.True(t, ok)
	cols, _ := layout.Get("columns")
	assert.Equal(t, float64(3), cols.AsNumber())
	widgets, _ := layout.Get("widgets")
	first, _ := widgets.Index(0)
	assert.Equal(t, "clock", first.AsString())
}

func TestDocument_CloneIsDeep(t *testing.T) {
	orig := MustFromAny(map[string]any{"nested": map[string]any{"k": "v"}})
	clone := orig.Clone()

	clone.Fields()["nested"].Fields()["k"] = String("changed")

	nested, _ := orig.Get("nested")
	v, _ := nested.Get("k")
	assert.Equal(t, "v", v.AsString())
}

func TestDocument_Equal(t *testing.T) {
	tests := []struct {
		name  string
		a, b  Document
		equal bool
	}{
		{"null", Null(), Null(), true},
		{"kind mismatch", Number(1), String("1"), false},
		{"array order matters", Array(Number(1), Number(2)), Array(Number(2), Number(1)), false},
		{"map order irrelevant", MustFromAny(map[string]any{"a": 1, "b": 2}), MustFromAny(map[string]any{"b": 2, "a": 1}), true},
		{"missing key", MustFromAny(map[string]any{"a": 1}), MustFromAny(map[string]any{"b": 1}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, tt.a.Equal(tt.b))
		})
	}
}

func TestDocument_Depth(t *testing.T) {
	assert.Equal(t, 1, String("x").Depth())
	assert.Equal(t, 1, Map(nil).Depth())
	assert.Equal(t, 3, MustFromAny(map[string]any{"a": []any{1}}).Depth())
}

func TestDocument_Proto(t *testing.T) {
	doc := MustFromAny(map[string]any{"name": "lobby", "count": 2, "tags": []any{"a", "b"}})

	pv, err := doc.ToProto()
	require.NoError(t, err)

	back, err := FromProto(pv)
	require.NoError(t, err)
	assert.True(t, doc.Equal(back))
}

func TestFromAny_Unsupported(t *testing.T) {
	_, err := FromAny(struct{}{})
	assert.Error(t, err)
}

func TestThreshold_Level(t *testing.T) {
	above := Threshold{Warning: 70, Critical: 90}
	below := Threshold{Warning: 0.8, Critical: 0.5, Inverse: true}

	assert.Equal(t, AlertLevel(""), above.Level(70))
	assert.Equal(t, AlertWarning, above.Level(71))
	assert.Equal(t, AlertCritical, above.Level(95))

	assert.Equal(t, AlertLevel(""), below.Level(0.9))
	assert.Equal(t, AlertWarning, below.Level(0.6))
	assert.Equal(t, AlertCritical, below.Level(0.4))
}
