// Copyright 2020 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
// agent domain features
package log

import (
	"github.com/sirupsen/logrus"
)

// WithComponent decorates log context with component name
func WithComponent(name string) Entry {
	return func() *logrus.Entry {
		return w.l.WithField("component", name)
	}
}

// WithComponent decorates entry context with component name
func (e Entry) WithComponent(name string) Entry {
	return func() *logrus.Entry {
		return e().WithField("component", name)
	}
}
