// Copyright New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package nragent is the per-activation metrics agent: it constructs a
// default-metrics bag from the activation's identity, arms a deadline timer
// that guarantees a timeout event before the platform kills the activation,
// and forwards Send calls to internal/sendqueue. Instrument installs the
// HTTP probe once per process and opens an activation scope around a
// caller-supplied main, mirroring the source's `instrument`/`Agent`
// contract; construction, deadline arithmetic, and the façade surface are
// grounded on the teacher's internal/agent.Context "one object holds
// everything the runtime needs" shape.
package nragent

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/tevino/abool"

	"github.com/newrelic/openwhisk-activation-metrics/internal/actxt"
	"github.com/newrelic/openwhisk-activation-metrics/internal/activation"
	"github.com/newrelic/openwhisk-activation-metrics/internal/probe"
	"github.com/newrelic/openwhisk-activation-metrics/internal/sendqueue"
	"github.com/newrelic/openwhisk-activation-metrics/pkg/event"
	"github.com/newrelic/openwhisk-activation-metrics/pkg/log"
)

var alog = log.WithComponent("nragent")

// deadlineBuffer is subtracted from the time remaining before the
// activation deadline so the timeout event has a chance to ship before the
// platform kills the process.
const deadlineBuffer = 5000 * time.Millisecond

// defaultSendInterval is the production flush period; Options.SendInterval
// overrides it.
const defaultSendInterval = 10 * time.Second

// Options configures Agent construction. URL and APIKey are required; an
// Agent built with either blank enters the disabled state instead of
// failing construction.
type Options struct {
	URL    string
	APIKey string

	// SendInterval overrides the default flush period. Zero uses
	// defaultSendInterval.
	SendInterval time.Duration

	// DisableActionTimeout skips arming the deadline timer even when the
	// runtime advertises one.
	DisableActionTimeout bool

	// ActionTimeoutMetricsCb, if set, supplies the event bag for the
	// timeout event instead of the default {duration: ...}. Returning a
	// non-empty "eventType" key overrides the default "timeout" type.
	ActionTimeoutMetricsCb func() map[string]interface{}
}

// Agent is the per-activation façade: construct one, pass it to Instrument
// (which binds it to the scope opened around the wrapped main), call Send
// for custom events, and rely on the deadline timer for an automatic
// timeout event. NewAgent itself does not register with any scope.
type Agent struct {
	opts     Options
	disabled *abool.AtomicBool

	mu             sync.Mutex
	defaultMetrics map[string]interface{}

	deadlineTimer *time.Timer
	timerOnce     sync.Once
}

// NewAgent builds an Agent, merging the activation's environment-derived
// identity under defaultMetrics, starting the send queue, and arming the
// deadline timer. It never returns an error: a disabled Agent (blank
// URL/APIKey) is the failure mode, logged once here, with Send becoming a
// no-op.
func NewAgent(opts Options, defaultMetrics map[string]interface{}) *Agent {
	merged := event.Merge(activation.ReadIdentity().ToMetrics(), defaultMetrics)

	a := &Agent{
		opts:           opts,
		disabled:       abool.New(),
		defaultMetrics: merged,
	}

	if opts.URL == "" || opts.APIKey == "" {
		a.disabled.Set()
		alog.Warn("agent disabled: url and apiKey are required")
		return a
	}

	interval := opts.SendInterval
	if interval <= 0 {
		interval = defaultSendInterval
	}
	sendqueue.Start(opts.URL, opts.APIKey, interval)

	if !opts.DisableActionTimeout && os.Getenv("DISABLE_ACTION_TIMEOUT_METRIC") == "" {
		a.armDeadlineTimer()
	}

	return a
}

func (a *Agent) armDeadlineTimer() {
	remaining, ok := activation.ReadDeadline().TimeUntilTimeout()
	if !ok {
		return
	}
	fireIn := remaining - deadlineBuffer
	if fireIn < 0 {
		fireIn = 0
	}

	armedAt := time.Now()
	a.deadlineTimer = time.AfterFunc(fireIn, func() {
		a.fireTimeout(time.Since(armedAt))
	})
}

func (a *Agent) fireTimeout(elapsed time.Duration) {
	evtType := "timeout"
	bag := map[string]interface{}{"duration": elapsed.Milliseconds()}

	if a.opts.ActionTimeoutMetricsCb != nil {
		cb := a.opts.ActionTimeoutMetricsCb()
		if cb != nil {
			bag = cb
			if t, ok := bag["eventType"].(string); ok && t != "" {
				evtType = t
			}
		}
	}

	// SendImmediate forces a synchronous flush: the process is killed
	// deadlineBuffer after this fires, so the timeout event (and anything
	// still queued ahead of it) must ship now, not wait for the next tick.
	a.SendImmediate(evtType, bag)
}

// Send merges {eventType, timestamp}, then defaultMetrics, then the
// caller's event (caller wins on key conflicts), and forwards the result to
// the send queue. A disabled Agent makes this a no-op.
func (a *Agent) Send(eventType string, evt map[string]interface{}) {
	if a.disabled.IsSet() {
		return
	}

	a.mu.Lock()
	defaults := a.defaultMetrics
	a.mu.Unlock()

	merged := event.Merge(event.New(eventType), defaults, evt)
	sendqueue.Send(context.Background(), merged, false)
}

// SendImmediate behaves like Send but flushes synchronously, matching the
// source's send(type, event, immediate=true) call shape used for the
// deadline-timer's timeout event.
func (a *Agent) SendImmediate(eventType string, evt map[string]interface{}) {
	if a.disabled.IsSet() {
		return
	}

	a.mu.Lock()
	defaults := a.defaultMetrics
	a.mu.Unlock()

	merged := event.Merge(event.New(eventType), defaults, evt)
	sendqueue.Send(context.Background(), merged, true)
}

// Add merges partial into defaultMetrics, affecting every Send call made
// afterward.
func (a *Agent) Add(partial map[string]interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.defaultMetrics = event.Merge(a.defaultMetrics, partial)
}

// Get returns a snapshot copy of defaultMetrics.
func (a *Agent) Get() map[string]interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return event.Merge(a.defaultMetrics)
}

// ActivationFinished cancels the deadline timer. Idempotent: a second call
// after the timer already fired or was stopped is a no-op. It does not
// itself flush the send queue; the next tick (or process survival) ships
// whatever remains queued.
func (a *Agent) ActivationFinished() {
	a.timerOnce.Do(func() {
		if a.deadlineTimer != nil {
			a.deadlineTimer.Stop()
		}
	})
}

var (
	instrumentOnce sync.Once
)

// Instrument installs the HTTP probe (first call across the process wins)
// unless disabled via DISABLE_ALL_INSTRUMENTATION or
// DISABLE_HTTP_INSTRUMENTATION, then returns a wrapped main that opens an
// activation scope around the original before calling it, so the probe's
// RoundTripper can recover the active Agent from the request's context.
func Instrument(agent *Agent, main func(ctx context.Context) error) func(ctx context.Context) error {
	instrumentOnce.Do(func() {
		if os.Getenv("DISABLE_ALL_INSTRUMENTATION") != "" || os.Getenv("DISABLE_HTTP_INSTRUMENTATION") != "" {
			return
		}
		probe.Install(sendqueue.UserAgent, nil)
	})

	return func(ctx context.Context) error {
		scoped := actxt.Open(ctx, agent)
		return main(scoped)
	}
}

// StopInstrument uninstalls the HTTP probe, restoring the original
// http.DefaultTransport. Intended for tests; the production process never
// calls it.
func StopInstrument() {
	probe.Uninstall()
	instrumentOnce = sync.Once{}
}
