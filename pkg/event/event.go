// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package event defines the shape of a metric event as it travels from a
// producer call (agent.Send, the HTTP probe) through to the send queue:
// a string-keyed map carrying at minimum an eventType and a timestamp.
package event

import (
	"errors"
	"time"
)

// EventTypeField is the mandatory key naming the kind of event.
const EventTypeField = "eventType"

// TimestampField is the mandatory key carrying milliseconds-since-epoch.
const TimestampField = "timestamp"

// ErrMissingEventType is returned by Validate when eventType is absent or blank.
var ErrMissingEventType = errors.New("event: eventType is required and must be non-empty")

// New builds an Event shell with eventType and timestamp set, ready to be
// merged with defaults and caller-supplied fields.
func New(eventType string) map[string]interface{} {
	return map[string]interface{}{
		EventTypeField: eventType,
		TimestampField: time.Now().UnixMilli(),
	}
}

// Validate enforces the invariant from the data model: every event placed
// on the send queue must carry a non-empty eventType.
func Validate(e map[string]interface{}) error {
	t, ok := e[EventTypeField].(string)
	if !ok || t == "" {
		return ErrMissingEventType
	}
	return nil
}

// Merge layers maps in priority order: later maps win over earlier ones for
// any shared key. Used to combine {eventType,timestamp} < defaultMetrics <
// caller-supplied event, per the Agent façade's Send contract.
func Merge(layers ...map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}
