// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
// agent domain features
package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithComponent(t *testing.T) {
	var output bytes.Buffer
	SetOutput(&output)

	WithComponent("HttpTracer").Warn("socket could not be obtained")

	written := output.String()
	assert.Contains(t, written, "socket could not be obtained")
	assert.Contains(t, written, "component")
	assert.Contains(t, written, "HttpTracer")
}

func TestEntry_WithComponent(t *testing.T) {
	var output bytes.Buffer
	SetOutput(&output)

	WithField("requester", "probe").WithComponent("sendqueue").Warn("batch discarded")

	written := output.String()
	assert.Contains(t, written, "component")
	assert.Contains(t, written, "sendqueue")
	assert.Contains(t, written, "requester")
	assert.Contains(t, written, "probe")
}
