// Copyright New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package flatten

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenScalarsPassThrough(t *testing.T) {
	out, err := Flatten(map[string]interface{}{
		"n": 42,
		"s": "hello",
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 42, out["n"])
	assert.Equal(t, "hello", out["s"])
}

func TestFlattenBooleans(t *testing.T) {
	out, err := Flatten(map[string]interface{}{"a": true, "b": false}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, out["a"])
	assert.Equal(t, 0, out["b"])
}

func TestFlattenBigInt(t *testing.T) {
	big, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	out, err := Flatten(map[string]interface{}{"big": big}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901234567890", out["big"])
}

func TestFlattenDropsNil(t *testing.T) {
	out, err := Flatten(map[string]interface{}{"present": "x", "absent": nil}, Options{})
	require.NoError(t, err)
	_, ok := out["absent"]
	assert.False(t, ok)
	assert.Equal(t, "x", out["present"])
}

func TestFlattenTruncatesLongStrings(t *testing.T) {
	long := strings.Repeat("a", 200)
	out, err := Flatten(map[string]interface{}{"note": long}, Options{})
	require.NoError(t, err)
	assert.Len(t, out["note"], DefaultMaxStringLength)
	assert.True(t, strings.HasSuffix(out["note"].(string), "..."))
}

func TestFlattenErrorFieldsGetWiderBudget(t *testing.T) {
	long := strings.Repeat("b", 1600)
	out, err := Flatten(map[string]interface{}{"errorMessage": long}, Options{})
	require.NoError(t, err)
	assert.Len(t, out["errorMessage"], DefaultErrorMetricMaxStringLength)
}

func TestFlattenNestedMapsUseUnderscorePrefix(t *testing.T) {
	out, err := Flatten(map[string]interface{}{
		"request": map[string]interface{}{"method": "GET", "path": "/x"},
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "GET", out["request_method"])
	assert.Equal(t, "/x", out["request_path"])
}

func TestFlattenNonStringKeysDropped(t *testing.T) {
	m := map[int]interface{}{1: "a", 2: "b"}
	out, err := Flatten(map[string]interface{}{"weird": m}, Options{})
	require.NoError(t, err)
	// non-string-keyed map becomes an empty nested map, contributing no keys.
	for k := range out {
		assert.NotContains(t, k, "weird_")
	}
}

func TestFlattenErrorValueCoercion(t *testing.T) {
	out, err := Flatten(map[string]interface{}{"err": errors.New("boom")}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "boom", out["err_message"])
	assert.NotEmpty(t, out["err_name"])
	_, hasStack := out["err_stack"]
	assert.False(t, hasStack)
}

func TestFlattenIntSliceCollapsesToMean(t *testing.T) {
	out, err := Flatten(map[string]interface{}{"samples": []int{1, 2, 3}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2.0, out["samples_mean"])
}

func TestFlattenOtherSliceCollapsesToItem(t *testing.T) {
	out, err := Flatten(map[string]interface{}{"tags": []string{"x", "y"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "x", out["tags_item"])
}

func TestFlattenUnsupportedPropertyFails(t *testing.T) {
	_, err := Flatten(map[string]interface{}{"fn": func() {}}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedProperty)
}

func TestFlattenEmptyEventYieldsNoExtraKeys(t *testing.T) {
	out, err := Flatten(map[string]interface{}{}, Options{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestOptionsFromEnvOverride(t *testing.T) {
	t.Setenv("NEW_RELIC_ERROR_METRIC_MAX_STRING_LENGTH", "50")
	opts := OptionsFromEnv()
	assert.Equal(t, 50, opts.ErrorMetricMaxStringLength)
	assert.Equal(t, DefaultMaxStringLength, opts.MaxStringLength)
}

// TestFlattenTotalFunction exercises every branch of the spec's value
// taxonomy in a single structure (S8 in SPEC_FULL.md §8).
func TestFlattenTotalFunction(t *testing.T) {
	big, _ := new(big.Int).SetString("99999999999999999999", 10)
	event := map[string]interface{}{
		"eventType": "custom",
		"timestamp": int64(1000),
		"nested":    map[string]interface{}{"a": 1, "b": true},
		"ints":      []int{2, 4, 6},
		"strs":      []string{"p", "q"},
		"err":       errors.New("nope"),
		"flag":      false,
		"huge":      big,
		"gone":      nil,
	}

	out, err := Flatten(event, Options{})
	require.NoError(t, err)

	assert.Equal(t, "custom", out["eventType"])
	assert.Equal(t, int64(1000), out["timestamp"])
	assert.Equal(t, 1, out["nested_a"])
	assert.Equal(t, 1, out["nested_b"])
	assert.Equal(t, 4.0, out["ints_mean"])
	assert.Equal(t, "p", out["strs_item"])
	assert.Equal(t, "nope", out["err_message"])
	assert.Equal(t, 0, out["flag"])
	assert.Equal(t, "99999999999999999999", out["huge"])
	_, ok := out["gone"]
	assert.False(t, ok)
}
