// Copyright New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package flatten implements the pure transformation from a nested event
// object to a flat string-keyed mapping of scalars, per the wire schema
// the ingest endpoint expects (numbers and strings only, booleans coerced
// to 0/1, nested keys joined with "_"). The schema's 255-key limit is not
// enforced here.
//
// The non-generic rules (truncation, bool/bigint coercion, nil-drop, error
// and slice/set collapsing) are implemented here; the purely structural
// "nested map of scalars -> single flat map" mechanics are delegated to
// github.com/jeremywohl/flatten, the same library
// other_examples/aba72e87_mandagill-nrinsights wires for shaping New
// Relic Insights events.
package flatten

import (
	"fmt"
	"math/big"
	"os"
	"reflect"
	"strconv"

	"github.com/jeremywohl/flatten"
	"github.com/pkg/errors"
)

const (
	// DefaultMaxStringLength is the truncation bound for ordinary string values.
	DefaultMaxStringLength = 100

	// DefaultErrorMetricMaxStringLength is the truncation bound applied to
	// message/errorMessage/error fields, overridable via
	// NEW_RELIC_ERROR_METRIC_MAX_STRING_LENGTH.
	DefaultErrorMetricMaxStringLength = 1500

	truncationSuffix = "..."
)

// errorFieldNames get the wider truncation bound.
var errorFieldNames = map[string]bool{
	"message":      true,
	"errorMessage": true,
	"error":        true,
}

// ErrUnsupportedProperty is returned when flatten is asked to serialize a
// function, channel, or other non-serializable value.
var ErrUnsupportedProperty = errors.New("flatten: UnsupportedProperty")

// Options configures truncation bounds. A zero Options uses the defaults.
type Options struct {
	MaxStringLength            int
	ErrorMetricMaxStringLength int
}

// OptionsFromEnv builds Options honoring
// NEW_RELIC_ERROR_METRIC_MAX_STRING_LENGTH, falling back to defaults.
func OptionsFromEnv() Options {
	opts := Options{
		MaxStringLength:            DefaultMaxStringLength,
		ErrorMetricMaxStringLength: DefaultErrorMetricMaxStringLength,
	}
	if raw := os.Getenv("NEW_RELIC_ERROR_METRIC_MAX_STRING_LENGTH"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			opts.ErrorMetricMaxStringLength = n
		}
	}
	return opts
}

func (o Options) normalized() Options {
	if o.MaxStringLength <= 0 {
		o.MaxStringLength = DefaultMaxStringLength
	}
	if o.ErrorMetricMaxStringLength <= 0 {
		o.ErrorMetricMaxStringLength = DefaultErrorMetricMaxStringLength
	}
	return o
}

// Flatten transforms a nested event into a flat map of strings, numbers,
// and 0/1-coerced booleans. It is total over the value kinds listed in the
// package doc, and returns ErrUnsupportedProperty for function/channel
// values.
func Flatten(event map[string]interface{}, opts Options) (map[string]interface{}, error) {
	opts = opts.normalized()

	sanitized, err := sanitizeMap(event, opts)
	if err != nil {
		return nil, err
	}

	flat, err := flatten.Flatten(sanitized, "", flatten.UnderscoreStyle)
	if err != nil {
		return nil, errors.Wrap(err, "flatten: structural join failed")
	}
	return flat, nil
}

// sanitizeMap applies the non-generic rules to every value of a mapping,
// recursing into nested maps so the result contains only maps, strings,
// and numbers (booleans already coerced to 0/1) — the shape
// github.com/jeremywohl/flatten expects.
func sanitizeMap(m map[string]interface{}, opts Options) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		sv, keep, err := sanitizeValue(k, v, opts)
		if err != nil {
			return nil, err
		}
		if keep {
			out[k] = sv
		}
	}
	return out, nil
}

func sanitizeValue(key string, v interface{}, opts Options) (interface{}, bool, error) {
	if v == nil {
		return nil, false, nil
	}

	switch val := v.(type) {
	case string:
		return truncate(key, val, opts), true, nil
	case bool:
		if val {
			return 1, true, nil
		}
		return 0, true, nil
	case *big.Int:
		return val.String(), true, nil
	case error:
		return sanitizeError(val), true, nil
	case map[string]interface{}:
		nested, err := sanitizeMap(val, opts)
		if err != nil {
			return nil, false, err
		}
		return nested, true, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return v, true, nil
	case reflect.Map:
		nested, err := sanitizeGenericMap(rv, opts)
		if err != nil {
			return nil, false, err
		}
		return nested, true, nil
	case reflect.Slice, reflect.Array:
		collapsed, err := collapseSequence(rv, opts)
		return collapsed, true, err
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil, false, errors.Wrapf(ErrUnsupportedProperty, "key %q", key)
	default:
		return fmt.Sprintf("%v", v), true, nil
	}
}

// sanitizeGenericMap drops non-string keys, matching the spec's rule for
// mappings whose keys are not strings.
func sanitizeGenericMap(rv reflect.Value, opts Options) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	iter := rv.MapRange()
	for iter.Next() {
		k := iter.Key()
		if k.Kind() != reflect.String {
			continue
		}
		sv, keep, err := sanitizeValue(k.String(), iter.Value().Interface(), opts)
		if err != nil {
			return nil, err
		}
		if keep {
			out[k.String()] = sv
		}
	}
	return out, nil
}

// collapseSequence implements the slice/set collapsing rule: an ordered
// sequence of integers collapses to {mean}; any other sequence collapses
// to {item: first}. An empty sequence, or one whose first element is
// dropped (nil), collapses to an empty map and contributes no keys.
func collapseSequence(rv reflect.Value, opts Options) (map[string]interface{}, error) {
	n := rv.Len()
	if n == 0 {
		return map[string]interface{}{}, nil
	}

	if allInts(rv) {
		var sum float64
		for i := 0; i < n; i++ {
			sum += toFloat64(rv.Index(i))
		}
		return map[string]interface{}{"mean": sum / float64(n)}, nil
	}

	first, keep, err := sanitizeValue("item", rv.Index(0).Interface(), opts)
	if err != nil {
		return nil, err
	}
	if !keep {
		return map[string]interface{}{}, nil
	}
	return map[string]interface{}{"item": first}, nil
}

func allInts(rv reflect.Value) bool {
	for i := 0; i < rv.Len(); i++ {
		switch rv.Index(i).Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		default:
			return false
		}
	}
	return true
}

func toFloat64(v reflect.Value) float64 {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint())
	default:
		return 0
	}
}

// sanitizeError coerces an error value to {name, message, code}, per spec
// deliberately omitting any stack trace.
func sanitizeError(err error) map[string]interface{} {
	out := map[string]interface{}{
		"message": err.Error(),
		"name":    fmt.Sprintf("%T", err),
	}
	type coder interface{ Code() int }
	if c, ok := err.(coder); ok {
		out["code"] = c.Code()
	}
	return out
}

func truncate(key, s string, opts Options) string {
	limit := opts.MaxStringLength
	if errorFieldNames[key] {
		limit = opts.ErrorMetricMaxStringLength
	}
	if len(s) <= limit {
		return s
	}
	cut := limit - len(truncationSuffix)
	if cut < 0 {
		cut = 0
	}
	return s[:cut] + truncationSuffix
}
