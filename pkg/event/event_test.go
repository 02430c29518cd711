// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSetsEventTypeAndTimestamp(t *testing.T) {
	e := New("http")
	assert.Equal(t, "http", e[EventTypeField])
	assert.NotZero(t, e[TimestampField])
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   map[string]interface{}
		wantErr bool
	}{
		{"valid", map[string]interface{}{EventTypeField: "http"}, false},
		{"missing eventType", map[string]interface{}{"foo": "bar"}, true},
		{"blank eventType", map[string]interface{}{EventTypeField: ""}, true},
		{"wrong type", map[string]interface{}{EventTypeField: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.event)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMissingEventType)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestMergeCallerWins(t *testing.T) {
	base := map[string]interface{}{EventTypeField: "http", "a": 1}
	defaults := map[string]interface{}{"a": 2, "b": 3}
	caller := map[string]interface{}{"b": 4, "c": 5}

	out := Merge(base, defaults, caller)

	assert.Equal(t, "http", out[EventTypeField])
	assert.Equal(t, 2, out["a"])
	assert.Equal(t, 4, out["b"])
	assert.Equal(t, 5, out["c"])
}
