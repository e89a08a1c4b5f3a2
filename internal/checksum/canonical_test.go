package checksum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{
		"zebra": 1,
		"alpha": 2,
		"mike":  3,
	})
	require.NoError(t, err)
	require.Equal(t, `{"alpha":2,"mike":3,"zebra":1}`, string(got))
}

func TestMarshalCanonical_InsertionOrderIrrelevant(t *testing.T) {
	a := map[string]any{}
	a["x"] = "1"
	a["y"] = []any{"a", "b"}
	a["z"] = map[string]any{"inner": true}

	b := map[string]any{}
	b["z"] = map[string]any{"inner": true}
	b["y"] = []any{"a", "b"}
	b["x"] = "1"

	encA, err := MarshalCanonical(a)
	require.NoError(t, err)
	encB, err := MarshalCanonical(b)
	require.NoError(t, err)
	require.Equal(t, string(encA), string(encB))
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	got, err := MarshalCanonical("<tag> & 'quote'")
	require.NoError(t, err)
	require.Equal(t, `"<tag> & 'quote'"`, string(got))
}

func TestMarshalCanonical_UnicodeNormalization(t *testing.T) {
	// "é" composed (U+00E9) versus decomposed (e + U+0301) must encode
	// identically, otherwise visually identical configs would hash apart.
	composed, err := MarshalCanonical("café")
	require.NoError(t, err)
	decomposed, err := MarshalCanonical("café")
	require.NoError(t, err)
	require.Equal(t, string(composed), string(decomposed))
}

func TestMarshalCanonical_StringSlice(t *testing.T) {
	got, err := MarshalCanonical([]string{"b", "a"})
	require.NoError(t, err)
	// Slice order is the caller's responsibility; encoding preserves it.
	require.Equal(t, `["b","a"]`, string(got))
}

func TestMarshalCanonical_RejectsFloats(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"ratio": 0.5})
	require.Error(t, err)
	require.Contains(t, err.Error(), "float")
}

func TestMarshalCanonical_RejectsNull(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"gone": nil})
	require.Error(t, err)
	require.Contains(t, err.Error(), "null")
}

func TestMarshalCanonical_Ints(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{"n": int64(-42), "m": 7})
	require.NoError(t, err)
	require.Equal(t, `{"m":7,"n":-42}`, string(got))
}
