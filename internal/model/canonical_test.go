package model

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{
		"surname": "Okafor",
		"age":     int64(12),
		"Active":  true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"Active":true,"age":12,"surname":"Okafor"}`, string(got))
}

func TestMarshalCanonical_NestedValues(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{
		"guardians": []any{"g1", "g2"},
		"address":   map[string]any{"city": "Lubumbashi", "zip": nil},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"address":{"city":"Lubumbashi","zip":null},"guardians":["g1","g2"]}`, string(got))
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	got, err := MarshalCanonical("<b>&</b>")
	require.NoError(t, err)
	assert.Equal(t, `"<b>&</b>"`, string(got))
}

func TestMarshalCanonical_LineSeparatorsLiteral(t *testing.T) {
	got, err := MarshalCanonical("a\u2028b\u2029c")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(got))
}

func TestMarshalCanonical_ControlCharacters(t *testing.T) {
	got, err := MarshalCanonical("tab\there\x01")
	require.NoError(t, err)
	assert.Equal(t, `"tab\there\u0001"`, string(got))
}

func TestMarshalCanonical_NFCNormalization(t *testing.T) {
	decomposed := "Jose\u0301"
	composed := "Jos\u00e9"

	a, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	b, err := MarshalCanonical(composed)
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
	assert.Equal(t, "\"Jos\u00e9\"", string(a))
}

func TestMarshalCanonical_Numbers(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"int", 7, "7"},
		{"integral float", float64(18), "18"},
		{"fraction", 15.5, "15.5"},
		{"json number int", json.Number("42"), "42"},
		{"json number float", json.Number("3.25"), "3.25"},
		{"negative", int64(-3), "-3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshalCanonical_RejectsNonFinite(t *testing.T) {
	_, err := MarshalCanonical(math.NaN())
	assert.Error(t, err)

	_, err = MarshalCanonical(map[string]any{"x": math.Inf(1)})
	assert.Error(t, err)
}

func TestMarshalCanonical_RejectsUnsupported(t *testing.T) {
	_, err := MarshalCanonical(struct{}{})
	assert.Error(t, err)
}

func TestMarshalCanonical_Time(t *testing.T) {
	ts := time.Date(2026, 3, 1, 8, 30, 0, 0, time.FixedZone("CAT", 2*3600))
	got, err := MarshalCanonical(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2026-03-01T06:30:00Z"`, string(got))
}

func TestMarshalCanonical_Deterministic(t *testing.T) {
	obj := map[string]any{"b": 1, "a": 2, "c": []any{"x", map[string]any{"z": 1, "y": 2}}}
	first, err := MarshalCanonical(obj)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := MarshalCanonical(obj)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestPayloadHash_DomainSeparated(t *testing.T) {
	payload := []byte(`{"id":"s1"}`)
	h1 := PayloadHash(payload)
	h2 := PayloadHash(payload)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.NotEqual(t, h1, PayloadHash([]byte(`{"id":"s2"}`)))
}

func TestDecodeObject_PreservesLargeIntegers(t *testing.T) {
	obj, err := DecodeObject([]byte(`{"n": 9007199254740993}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("9007199254740993"), obj["n"])
}

func TestDecodeObject_Empty(t *testing.T) {
	obj, err := DecodeObject(nil)
	require.NoError(t, err)
	assert.Empty(t, obj)
}
