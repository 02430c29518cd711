// Copyright New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package actxt binds the running activation's Agent to a context.Context so
// code that only has access to a request's context.Context (the probe's
// http.RoundTripper, most notably) can recover which activation's queue it
// should feed. The source's runtime propagates this implicitly via
// continuation-local storage; Go has no equivalent, so the scope is carried
// explicitly on the context.Context the way the teacher's internal/agent
// request-scoped code threads values through context.WithValue.
package actxt

import "context"

// Agent is the subset of nragent.Agent that internal/probe needs, kept here
// to avoid a circular import between nragent and internal/actxt.
type Agent interface {
	Send(eventType string, attrs map[string]interface{})
}

type ctxKey struct{}

// Open returns a context derived from ctx with agent bound. Each call
// produces an independent derivation, so concurrent activations sharing a
// parent context (there normally isn't one, but tests may construct this)
// never observe each other's Agent.
func Open(ctx context.Context, agent Agent) context.Context {
	return context.WithValue(ctx, ctxKey{}, agent)
}

// Get reads the Agent bound by Open. ok is false when ctx carries no bound
// Agent — callers must treat that as "the probe fired outside any tracked
// activation" and drop the record rather than panic.
func Get(ctx context.Context) (Agent, bool) {
	agent, ok := ctx.Value(ctxKey{}).(Agent)
	return agent, ok
}
