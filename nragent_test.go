// Copyright New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package nragent

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newrelic/openwhisk-activation-metrics/internal/actxt"
	"github.com/newrelic/openwhisk-activation-metrics/internal/sendqueue"
)

func decodeEvents(t *testing.T, r *http.Request) []map[string]interface{} {
	t.Helper()
	gz, err := gzip.NewReader(r.Body)
	require.NoError(t, err)
	raw, err := io.ReadAll(gz)
	require.NoError(t, err)
	var batch []map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &batch))
	return batch
}

type ingestCapture struct {
	mu     sync.Mutex
	events []map[string]interface{}
	server *httptest.Server
}

func newIngestCapture(t *testing.T) *ingestCapture {
	c := &ingestCapture{}
	c.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		batch := decodeEvents(t, r)
		c.mu.Lock()
		c.events = append(c.events, batch...)
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	return c
}

func (c *ingestCapture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// TestDisabledAgentSendIsNoop covers scenario S7: an Agent built without a
// url/apiKey never posts and never panics.
func TestDisabledAgentSendIsNoop(t *testing.T) {
	capture := newIngestCapture(t)
	defer capture.server.Close()

	agent := NewAgent(Options{}, nil)
	agent.Send("custom", map[string]interface{}{"a": 1})

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, capture.count())
}

func TestSendMergesDefaultsAndCallerWins(t *testing.T) {
	capture := newIngestCapture(t)
	defer capture.server.Close()
	defer sendqueue.Stop()

	agent := NewAgent(Options{URL: capture.server.URL, APIKey: "key", SendInterval: time.Hour}, map[string]interface{}{
		"region": "default-region",
	})

	agent.SendImmediate("custom", map[string]interface{}{"region": "caller-region"})

	require.Eventually(t, func() bool { return capture.count() == 1 }, time.Second, 5*time.Millisecond)

	capture.mu.Lock()
	defer capture.mu.Unlock()
	assert.Equal(t, "custom", capture.events[0]["eventType"])
	assert.Equal(t, "caller-region", capture.events[0]["region"])
}

func TestActivationFinishedCancelsDeadlineTimer(t *testing.T) {
	capture := newIngestCapture(t)
	defer capture.server.Close()
	defer sendqueue.Stop()

	agent := NewAgent(Options{URL: capture.server.URL, APIKey: "key", SendInterval: time.Hour}, nil)
	agent.deadlineTimer = time.AfterFunc(10*time.Millisecond, func() {
		agent.Send("timeout", map[string]interface{}{})
	})

	agent.ActivationFinished()
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 0, capture.count())
}

// setDeadlineIn sets __OW_DEADLINE so the deadline timer fires after in,
// accounting for the deadlineBuffer subtracted by armDeadlineTimer.
func setDeadlineIn(t *testing.T, in time.Duration) {
	t.Helper()
	deadline := time.Now().Add(deadlineBuffer + in)
	t.Setenv("__OW_DEADLINE", strconv.FormatInt(deadline.UnixMilli(), 10))
}

// TestDeadlineTimerFiresTimeoutAndFlushesImmediately covers scenario S3: the
// real armDeadlineTimer -> fireTimeout path (not a hand-substituted timer)
// ships a timeout event without waiting for the next periodic tick.
func TestDeadlineTimerFiresTimeoutAndFlushesImmediately(t *testing.T) {
	capture := newIngestCapture(t)
	defer capture.server.Close()
	defer sendqueue.Stop()

	setDeadlineIn(t, 50*time.Millisecond)

	// SendInterval is an hour: if fireTimeout used the non-immediate path,
	// the event would never arrive within the test's deadline.
	agent := NewAgent(Options{URL: capture.server.URL, APIKey: "key", SendInterval: time.Hour}, nil)
	defer agent.ActivationFinished()

	require.Eventually(t, func() bool { return capture.count() == 1 }, time.Second, 5*time.Millisecond)

	capture.mu.Lock()
	defer capture.mu.Unlock()
	require.Len(t, capture.events, 1)
	assert.Equal(t, "timeout", capture.events[0]["eventType"])
	assert.Contains(t, capture.events[0], "duration")
}

// TestDeadlineTimerHonorsActionTimeoutMetricsCb covers scenario S4: the
// caller-supplied ActionTimeoutMetricsCb overrides both the event bag and
// its eventType, and the override still ships immediately.
func TestDeadlineTimerHonorsActionTimeoutMetricsCb(t *testing.T) {
	capture := newIngestCapture(t)
	defer capture.server.Close()
	defer sendqueue.Stop()

	setDeadlineIn(t, 50*time.Millisecond)

	agent := NewAgent(Options{
		URL:          capture.server.URL,
		APIKey:       "key",
		SendInterval: time.Hour,
		ActionTimeoutMetricsCb: func() map[string]interface{} {
			return map[string]interface{}{"eventType": "actionTimeout", "reason": "custom"}
		},
	}, nil)
	defer agent.ActivationFinished()

	require.Eventually(t, func() bool { return capture.count() == 1 }, time.Second, 5*time.Millisecond)

	capture.mu.Lock()
	defer capture.mu.Unlock()
	require.Len(t, capture.events, 1)
	assert.Equal(t, "actionTimeout", capture.events[0]["eventType"])
	assert.Equal(t, "custom", capture.events[0]["reason"])
}

func TestGetReturnsSnapshotNotLiveView(t *testing.T) {
	agent := NewAgent(Options{}, map[string]interface{}{"k": "v"})
	snap := agent.Get()
	snap["k"] = "mutated"

	assert.Equal(t, "v", agent.Get()["k"])
}

func TestAddMergesIntoDefaultMetrics(t *testing.T) {
	agent := NewAgent(Options{}, map[string]interface{}{"a": 1})
	agent.Add(map[string]interface{}{"b": 2})

	got := agent.Get()
	assert.Equal(t, 1, got["a"])
	assert.Equal(t, 2, got["b"])
}

func TestInstrumentOpensScopeAroundMain(t *testing.T) {
	defer StopInstrument()

	agent := NewAgent(Options{}, nil)
	var sawAgent bool
	wrapped := Instrument(agent, func(ctx context.Context) error {
		_, sawAgent = actxt.Get(ctx)
		return nil
	})

	err := wrapped(context.Background())
	require.NoError(t, err)
	assert.True(t, sawAgent)
}
