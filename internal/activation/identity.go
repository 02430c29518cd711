// Copyright New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package activation reads the per-activation identity and deadline that
// the OpenWhisk-style runtime injects into the process environment, and
// computes how much wall-clock time remains before the platform kills the
// activation.
package activation

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/newrelic/openwhisk-activation-metrics/pkg/log"
)

var alog = log.WithComponent("Activation")

// env mirrors the variable table from the external interfaces: absence of
// a variable yields a zero value rather than an error, matching the
// source's "absence yields absent keys" contract.
type env struct {
	ActionName    string `envconfig:"__OW_ACTION_NAME"`
	Namespace     string `envconfig:"__OW_NAMESPACE"`
	ActivationID  string `envconfig:"__OW_ACTIVATION_ID"`
	TransactionID string `envconfig:"__OW_TRANSACTION_ID"`
	Region        string `envconfig:"__OW_REGION"`
	Cloud         string `envconfig:"__OW_CLOUD"`
	Hostname      string `envconfig:"HOSTNAME"`
	ContainerName string `envconfig:"MESOS_CONTAINER_NAME"`
}

// Identity carries the activation's identity fields, derived once at Agent
// construction time from the process environment.
type Identity struct {
	ActionName    string
	Package       string
	Namespace     string
	ActivationID  string
	TransactionID string
	Region        string
	Cloud         string
	Host          string
	ContainerName string

	ContainerMemorySize int64
	ContainerOS         string
	ContainerOSVersion  string
}

// ReadIdentity reads the activation's identity from the process environment.
// __OW_ACTION_NAME is a slash-separated path ".../namespace/package/action";
// the last segment is the action name, and when there are at least three
// segments the second-from-last is the package.
func ReadIdentity() Identity {
	var e env
	if err := envconfig.Process("", &e); err != nil {
		alog.WithError(err).Warn("could not fully read activation environment")
	}

	id := Identity{
		Namespace:     e.Namespace,
		ActivationID:  e.ActivationID,
		TransactionID: e.TransactionID,
		Region:        e.Region,
		Cloud:         e.Cloud,
		Host:          e.Hostname,
		ContainerName: e.ContainerName,
	}

	if e.ActionName != "" {
		segments := strings.Split(strings.Trim(e.ActionName, "/"), "/")
		id.ActionName = segments[len(segments)-1]
		if len(segments) >= 3 {
			id.Package = segments[len(segments)-2]
		}
	}

	readContainerInfo(&id)

	return id
}

// ToMetrics flattens the identity into the default-metrics keys merged
// into every outgoing event, omitting fields that were absent in the
// environment.
func (id Identity) ToMetrics() map[string]interface{} {
	m := map[string]interface{}{}
	add := func(key, value string) {
		if value != "" {
			m[key] = value
		}
	}
	add("actionName", id.ActionName)
	add("package", id.Package)
	add("namespace", id.Namespace)
	add("activationId", id.ActivationID)
	add("transactionId", id.TransactionID)
	add("region", id.Region)
	add("cloud", id.Cloud)
	add("activationHost", id.Host)
	add("activationContainerName", id.ContainerName)
	add("containerOS", id.ContainerOS)
	add("containerOSVersion", id.ContainerOSVersion)
	if id.ContainerMemorySize > 0 {
		m["containerMemorySize"] = id.ContainerMemorySize
	}
	return m
}

// Deadline is the absolute platform-imposed activation deadline, read from
// __OW_DEADLINE (milliseconds since the Unix epoch). The zero value means
// no deadline was advertised.
type Deadline struct {
	at time.Time
	ok bool
}

// ReadDeadline reads __OW_DEADLINE from the process environment.
func ReadDeadline() Deadline {
	raw, ok := os.LookupEnv("__OW_DEADLINE")
	if !ok || raw == "" {
		return Deadline{}
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		alog.WithError(err).Warn("__OW_DEADLINE is not a valid integer, ignoring")
		return Deadline{}
	}
	return Deadline{at: time.UnixMilli(ms), ok: true}
}

// TimeUntilTimeout returns the duration remaining until the deadline, and
// false if no deadline was advertised by the runtime.
func (d Deadline) TimeUntilTimeout() (time.Duration, bool) {
	if !d.ok {
		return 0, false
	}
	return time.Until(d.at), true
}
