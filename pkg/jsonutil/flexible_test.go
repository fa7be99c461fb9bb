package jsonutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexibleStringValue(t *testing.T) {
	tests := []struct {
		name  string
		input json.RawMessage
		want  string
	}{
		{"string value", json.RawMessage(`"fast"`), "fast"},
		{"padded string", json.RawMessage(`" small-genomes "`), "small-genomes"},
		{"integer value", json.RawMessage(`125`), "125"},
		{"float value", json.RawMessage(`0.2`), "0.2"},
		{"boolean", json.RawMessage(`true`), "true"},
		{"null", json.RawMessage(`null`), ""},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FlexibleStringValue(tt.input))
		})
	}
}

func TestFlexibleInt(t *testing.T) {
	v, ok, err := FlexibleInt(json.RawMessage(`"16"`))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 16, v)

	v, ok, err = FlexibleInt(json.RawMessage(`3000`))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3000, v)

	_, ok, err = FlexibleInt(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = FlexibleInt(json.RawMessage(`2.5`))
	assert.True(t, ok)
	assert.Error(t, err)

	_, _, err = FlexibleInt(json.RawMessage(`"abc"`))
	assert.Error(t, err)
}

func TestFlexibleFloat(t *testing.T) {
	v, ok, err := FlexibleFloat(json.RawMessage(`"0.25"`))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 0.25, v, 1e-12)

	_, ok, err = FlexibleFloat(json.RawMessage(`""`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = FlexibleFloat(json.RawMessage(`"NaN"`))
	assert.Error(t, err)
}

func TestFlexibleBool(t *testing.T) {
	for raw, want := range map[string]bool{`true`: true, `"on"`: true, `1`: true, `false`: false, `"off"`: false} {
		v, ok, err := FlexibleBool(json.RawMessage(raw))
		require.NoError(t, err, raw)
		assert.True(t, ok)
		assert.Equal(t, want, v, raw)
	}

	_, ok, err := FlexibleBool(nil)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = FlexibleBool(json.RawMessage(`"maybe"`))
	assert.Error(t, err)
}
