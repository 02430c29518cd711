// Copyright New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"net/http"
	"sync"
)

var (
	installMu sync.Mutex
	installed bool
	original  http.RoundTripper
	ingestUA  string
	currentCb func(Record)
)

// Install replaces http.DefaultTransport with an instrumented transport so
// every outgoing request made through it (the transport net/http's zero
// Client uses) produces one Record per request, passed to cb. Re-entry is
// a no-op: first caller wins, matching the source's start() contract.
// ingestUserAgent requests carrying that exact User-Agent are skipped
// (loop-breaker).
func Install(ingestUserAgent string, cb func(Record)) {
	installMu.Lock()
	defer installMu.Unlock()

	if installed {
		return
	}
	original = http.DefaultTransport
	ingestUA = ingestUserAgent
	currentCb = cb
	http.DefaultTransport = NewTransport(original, ingestUserAgent, cb)
	installed = true
}

// Uninstall restores the original http.DefaultTransport. Idempotent; does
// not abort records already in flight — listeners already attached
// continue to run and still emit.
func Uninstall() {
	installMu.Lock()
	defer installMu.Unlock()

	if !installed {
		return
	}
	http.DefaultTransport = original
	original = nil
	currentCb = nil
	installed = false
}

// WrapClient instruments a specific *http.Client instead of the process
// default — the Go-native equivalent of the source's interception of both
// the plaintext and TLS client stacks, for callers that construct their
// own client rather than using net/http's zero-value Client.
func WrapClient(c *http.Client) {
	installMu.Lock()
	ua, cb := ingestUA, currentCb
	installMu.Unlock()

	inner := c.Transport
	if inner == nil {
		inner = http.DefaultTransport
	}
	c.Transport = NewTransport(inner, ua, cb)
}
